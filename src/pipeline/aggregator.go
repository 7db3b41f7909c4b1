package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bits-and-blooms/bloom/v3"

	"geo-contacts/src/lookup"
	"geo-contacts/src/records"
)

// Policy controls substitution and accumulation.
type Policy struct {
	// Sentinel is the text of a missing endpoint. A lookup value equal to any sentinel
	// spelling counts as a miss too.
	Sentinel string
	// DropUnresolved excludes every edge with a missing endpoint before accumulation.
	DropUnresolved bool
	// ProgressEvery logs progress every N records; 0 disables it.
	ProgressEvery int
	// MissCapacity sizes the Bloom filter that estimates distinct unresolved identifiers.
	MissCapacity uint
}

// Counters are diagnostics of one run. The four match counters are disjoint and add up to
// Records.
type Counters struct {
	Records        int64
	MatchedMatched int64
	MatchedMissing int64
	MissingMatched int64
	MissingMissing int64
	Filtered       int64
	Skipped        int64
	DistinctMisses int64
}

// Add sums c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		Records:        c.Records + o.Records,
		MatchedMatched: c.MatchedMatched + o.MatchedMatched,
		MatchedMissing: c.MatchedMissing + o.MatchedMissing,
		MissingMatched: c.MissingMatched + o.MissingMatched,
		MissingMissing: c.MissingMissing + o.MissingMissing,
		Filtered:       c.Filtered + o.Filtered,
		Skipped:        c.Skipped + o.Skipped,
		DistinctMisses: c.DistinctMisses + o.DistinctMisses,
	}
}

// LogValue renders the counters as a slog group.
func (c Counters) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("records", c.Records),
		slog.Int64("matched_matched", c.MatchedMatched),
		slog.Int64("matched_missing", c.MatchedMissing),
		slog.Int64("missing_matched", c.MissingMatched),
		slog.Int64("missing_missing", c.MissingMissing),
		slog.Int64("filtered", c.Filtered),
		slog.Int64("skipped", c.Skipped),
		slog.Int64("distinct_misses", c.DistinctMisses),
	)
}

// Aggregator substitutes edge endpoints through a resolver and accumulates weights per
// substituted pair. It is not safe for concurrent use; run one per shard instead.
type Aggregator struct {
	resolver lookup.Resolver
	policy   Policy
	table    *Table
	counters Counters
	misses   *bloom.BloomFilter
	logger   *slog.Logger
}

// NewAggregator creates an aggregator for edges with the given number of weight columns.
func NewAggregator(resolver lookup.Resolver, columns int, policy Policy, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	capacity := policy.MissCapacity
	if capacity == 0 {
		capacity = 1_000_000
	}
	return &Aggregator{
		resolver: resolver,
		policy:   policy,
		table:    NewTable(columns),
		misses:   bloom.NewWithEstimates(capacity, 0.01),
		logger:   logger,
	}
}

func (a *Aggregator) resolve(raw string) records.Endpoint {
	v, ok := a.resolver.Resolve(raw)
	if !ok || records.IsSentinel(v, a.policy.Sentinel) {
		if !a.misses.TestOrAddString(raw) {
			a.counters.DistinctMisses++
		}
		return records.Missing()
	}
	return records.Resolved(v)
}

// Substitute resolves both endpoints of e and updates the match counters. keep is false
// when the edge is filtered out by the policy.
func (a *Aggregator) Substitute(e records.Edge) (p Pair, keep bool) {
	a.counters.Records++
	p = Pair{Source: a.resolve(e.Source), Destination: a.resolve(e.Destination)}

	switch {
	case p.Source.Known && p.Destination.Known:
		a.counters.MatchedMatched++
	case p.Source.Known:
		a.counters.MatchedMissing++
	case p.Destination.Known:
		a.counters.MissingMatched++
	default:
		a.counters.MissingMissing++
	}

	if a.policy.ProgressEvery > 0 && a.counters.Records%int64(a.policy.ProgressEvery) == 0 {
		a.logger.Info("Aggregation progress", "records", a.counters.Records, "pairs", a.table.Len())
	}

	if a.policy.DropUnresolved && !(p.Source.Known && p.Destination.Known) {
		a.counters.Filtered++
		return p, false
	}
	return p, true
}

// Add substitutes e and accumulates it.
func (a *Aggregator) Add(e records.Edge) error {
	p, keep := a.Substitute(e)
	if !keep {
		return nil
	}
	return a.table.Add(p, e.Weights)
}

// Run consumes src until io.EOF.
func (a *Aggregator) Run(ctx context.Context, src EdgeSource) error {
	return a.consume(ctx, src, a.Add)
}

// Stream substitutes every edge of src and writes it straight to w in stream order, without
// accumulation.
func (a *Aggregator) Stream(ctx context.Context, src EdgeSource, w *ResultWriter) error {
	return a.consume(ctx, src, func(e records.Edge) error {
		p, keep := a.Substitute(e)
		if !keep {
			return nil
		}
		return w.WriteEntry(Entry{Pair: p, Weights: e.Weights})
	})
}

func (a *Aggregator) consume(ctx context.Context, src EdgeSource, fn func(records.Edge) error) error {
	defer func() {
		if s, ok := src.(interface{ Skipped() int }); ok {
			a.counters.Skipped += int64(s.Skipped())
		}
	}()
	for {
		e, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(e.Weights) != a.table.Columns() {
			return fmt.Errorf("edge has %d weights, aggregator expects %d", len(e.Weights), a.table.Columns())
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

// Table returns the accumulated table.
func (a *Aggregator) Table() *Table { return a.table }

// Counters returns the diagnostics so far.
func (a *Aggregator) Counters() Counters { return a.counters }
