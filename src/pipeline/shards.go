package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"geo-contacts/src/lookup"
)

// AggregateShards aggregates independent input shards concurrently against one shared,
// read-only resolver and merges the per-shard tables in shard order. The totals equal a
// sequential run over the concatenated input. DistinctMisses is summed per shard and
// over-counts identifiers that miss in several shards.
func AggregateShards(ctx context.Context, sources []EdgeSource, resolver lookup.Resolver, columns int, policy Policy, limit int, logger *slog.Logger) (*Table, Counters, error) {
	if logger == nil {
		logger = slog.Default()
	}
	aggs := make([]*Aggregator, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, src := range sources {
		i, src := i, src
		aggs[i] = NewAggregator(resolver, columns, policy, logger.With("shard", i))
		g.Go(func() error {
			if err := aggs[i].Run(gctx, src); err != nil {
				return fmt.Errorf("shard %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, Counters{}, err
	}

	table := NewTable(columns)
	var counters Counters
	for _, a := range aggs {
		if err := table.Merge(a.Table()); err != nil {
			return nil, Counters{}, err
		}
		counters = counters.Add(a.Counters())
	}
	return table, counters, nil
}
