package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"geo-contacts/src/categories"
	"geo-contacts/src/filter"
	"geo-contacts/src/geo"
	"geo-contacts/src/graph"
	"geo-contacts/src/lookup"
	"geo-contacts/src/pipeline"
	"geo-contacts/src/records"
	"geo-contacts/src/render"
	"geo-contacts/src/users"
)

// runSummary is the outcome of one mode, printed at the end and appended to runs.csv.
type runSummary struct {
	Records int64
	Written int64
	Skipped int64
}

type modeFunc func(ctx context.Context, cfg *Config) (runSummary, error)

var modeFuncs = map[string]modeFunc{
	"extract-users":     runExtractUsers,
	"replace-locations": runReplaceLocations,
	"aggregate":         runAggregate,
	"degree":            runDegree,
	"first-filter":      runFirstFilter,
	"split-categories":  runSplitCategories,
	"geocode":           runGeocode,
	"render-map":        runRenderMap,
	"render-graph":      runRenderGraph,
	"count-rows":        runCountRows,
	"publish-edges":     runPublishEdges,
}

// openInput opens path, decompressing .gz, and returns a single closer.
func openInput(path string) (io.Reader, func(), error) {
	r, closers, err := pipeline.OpenInput(path)
	if err != nil {
		return nil, nil, err
	}
	return r, func() {
		for _, c := range closers {
			c.Close()
		}
	}, nil
}

// createOutput creates path and its directory.
func createOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	return f, nil
}

func runExtractUsers(ctx context.Context, cfg *Config) (runSummary, error) {
	in, done, err := openInput(cfg.Users.Input)
	if err != nil {
		return runSummary{}, err
	}
	defer done()
	out, err := createOutput(cfg.Users.Output)
	if err != nil {
		return runSummary{}, err
	}

	fmt.Println("######## EXTRACTING USERS ########")
	w := bufio.NewWriter(out)
	stats, err := users.Extract(ctx, in, w, users.ExtractOptions{QuoteDates: cfg.Users.QuoteDates})
	err = errors.Join(err, w.Flush(), out.Close())
	slog.Info("Users extracted", "lines", stats.Lines, "written", stats.Written, "skipped", stats.Skipped, "no_date", stats.NoDate)
	fmt.Printf("Skipped: %d\n", stats.Skipped)
	if cfg.Users.QuoteDates {
		fmt.Printf("Lines without a date: %d\n", stats.NoDate)
	}
	return runSummary{Records: int64(stats.Lines), Written: int64(stats.Written), Skipped: int64(stats.Skipped)}, err
}

// buildLookup loads the lookup table named by cfg.
func buildLookup(cfg LookupConfig) (*lookup.Table, error) {
	var opts lookup.Options
	if cfg.Stoplist != "" {
		sl, err := filter.LoadStoplist(cfg.Stoplist)
		if err != nil {
			return nil, err
		}
		opts.Stoplist = sl
	}

	var (
		table *lookup.Table
		err   error
	)
	switch cfg.Kind {
	case "aligned":
		keys, doneKeys, kerr := openInput(cfg.Keys)
		if kerr != nil {
			return nil, kerr
		}
		defer doneKeys()
		values, doneValues, verr := openInput(cfg.Values)
		if verr != nil {
			return nil, verr
		}
		defer doneValues()
		table, err = lookup.FromAligned(keys, values, opts)
	case "paired":
		in, done, oerr := openInput(cfg.File)
		if oerr != nil {
			return nil, oerr
		}
		defer done()
		table, err = lookup.FromPairedLines(in, opts)
	case "inline":
		table = lookup.FromMap(cfg.Entries, opts)
	case "columns":
		in, done, oerr := openInput(cfg.File)
		if oerr != nil {
			return nil, oerr
		}
		defer done()
		table, err = lookup.FromColumns(in, lookup.ColumnSpec{
			KeyColumn:   cfg.KeyColumn,
			ValueColumn: cfg.ValueColumn,
			Fields:      cfg.Fields,
		}, opts)
	default:
		return nil, fmt.Errorf("unknown lookup kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("build lookup: %w", err)
	}
	slog.Info("Lookup built", "kind", cfg.Kind, "entries", table.Len(), "duplicates", table.Duplicates(),
		"stopped", table.Stopped(), "skipped", table.Skipped())
	return table, nil
}

// buildResolver returns the resolver the aggregate mode substitutes endpoints with.
func buildResolver(cfg *Config) (lookup.Resolver, error) {
	var base lookup.Resolver = lookup.Identity{Sentinel: cfg.Sentinel}
	if cfg.Lookup.Kind != "none" {
		table, err := buildLookup(cfg.Lookup)
		if err != nil {
			return nil, err
		}
		base = table
	}
	if cfg.Lookup.CountryCode {
		return lookup.Chain(base, lookup.CountryCode{}), nil
	}
	return base, nil
}

func runReplaceLocations(ctx context.Context, cfg *Config) (runSummary, error) {
	places, err := buildLookup(cfg.Lookup)
	if err != nil {
		return runSummary{}, err
	}
	in, done, err := openInput(cfg.Replace.Users)
	if err != nil {
		return runSummary{}, err
	}
	defer done()
	out, err := createOutput(cfg.Replace.Output)
	if err != nil {
		return runSummary{}, err
	}

	fmt.Println("######## READING THE USER FILE AND REPLACING LOCATION ########")
	w := bufio.NewWriter(out)
	rp, err := users.ReplaceLocations(ctx, in, places, cfg.Sentinel, w)
	err = errors.Join(err, w.Flush(), out.Close())
	if err != nil {
		return runSummary{}, err
	}
	stats := rp.Stats()
	fmt.Printf("No. Of Data: %d\nNo. of Match: %d\nNo. of No Match: %d\n", stats.Users, stats.Matched, stats.Missed)
	slog.Info("Locations replaced", "users", stats.Users, "matched", stats.Matched, "missed", stats.Missed, "skipped", stats.Skipped)

	if cfg.Replace.Unresolved != "" {
		f, err := createOutput(cfg.Replace.Unresolved)
		if err != nil {
			return runSummary{}, err
		}
		if err := errors.Join(rp.WriteUnresolved(f), f.Close()); err != nil {
			return runSummary{}, err
		}
	}
	return runSummary{Records: int64(stats.Users), Written: int64(stats.Users), Skipped: int64(stats.Skipped)}, nil
}

// openEdgeSources opens one source per edge file, or the RabbitMQ stream.
func openEdgeSources(cfg *Config) ([]pipeline.EdgeSource, func(), error) {
	rc := cfg.Edges.reader()
	if cfg.Edges.Source == "amqp" {
		mq, err := NewRabbitMQ(cfg.rabbitMQConfig())
		if err != nil {
			return nil, nil, err
		}
		src, err := mq.EdgeSource(rc)
		if err != nil {
			mq.Close()
			return nil, nil, err
		}
		slog.Info("Consuming edges from RabbitMQ", "queue", cfg.MQ.Queue)
		return []pipeline.EdgeSource{src}, func() { mq.Close() }, nil
	}

	var (
		sources []pipeline.EdgeSource
		readers []*pipeline.EdgeReader
	)
	closeAll := func() {
		for _, r := range readers {
			r.Close()
		}
	}
	for _, path := range cfg.Edges.Files {
		er, err := pipeline.OpenEdgeFile(path, rc)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		readers = append(readers, er)
		sources = append(sources, er)
	}
	return sources, closeAll, nil
}

func writerConfig(cfg *Config) pipeline.WriterConfig {
	header := cfg.Output.Header
	if len(header) == 0 {
		header = pipeline.DefaultHeader(cfg.Edges.WeightFields)
		if len(cfg.Edges.WeightFields) == 1 {
			header = pipeline.DefaultHeader(nil)
		}
	}
	return pipeline.WriterConfig{
		Header:     header,
		Mode:       pipeline.OutputMode(cfg.Output.Mode),
		FlushEvery: cfg.Output.FlushEvery,
		Sentinel:   cfg.Sentinel,
	}
}

func runAggregate(ctx context.Context, cfg *Config) (runSummary, error) {
	resolver, err := buildResolver(cfg)
	if err != nil {
		return runSummary{}, err
	}
	sources, done, err := openEdgeSources(cfg)
	if err != nil {
		return runSummary{}, err
	}
	defer done()

	wc := writerConfig(cfg)
	if len(wc.Header) != 2+len(cfg.Edges.WeightFields) {
		return runSummary{}, fmt.Errorf("%w: output header %v does not fit %d weights", records.ErrSchemaMismatch, wc.Header, len(cfg.Edges.WeightFields))
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Output.Path), 0755); err != nil {
		return runSummary{}, fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := pipeline.CreateResultFile(cfg.Output.Path, wc)
	if err != nil {
		return runSummary{}, err
	}

	policy := pipeline.Policy{
		Sentinel:       cfg.Sentinel,
		DropUnresolved: cfg.Aggregate.DropUnresolved,
		ProgressEvery:  cfg.Aggregate.ProgressEvery,
		MissCapacity:   cfg.Aggregate.MissCapacity,
	}
	columns := len(cfg.Edges.WeightFields)

	fmt.Println("######## AGGREGATING EDGES ########")
	var (
		counters pipeline.Counters
		table    *pipeline.Table
	)
	switch {
	case cfg.Aggregate.Passthrough:
		agg := pipeline.NewAggregator(resolver, columns, policy, slog.Default())
		for _, src := range sources {
			if err = agg.Stream(ctx, src, out); err != nil {
				break
			}
		}
		counters = agg.Counters()
	case len(sources) > 1:
		table, counters, err = pipeline.AggregateShards(ctx, sources, resolver, columns, policy, cfg.Aggregate.Parallel, slog.Default())
	default:
		agg := pipeline.NewAggregator(resolver, columns, policy, slog.Default())
		err = agg.Run(ctx, sources[0])
		table, counters = agg.Table(), agg.Counters()
	}
	if err == nil && table != nil {
		err = out.WriteTable(table, cfg.Output.Sorted)
	}
	if err == nil && table != nil && cfg.Aggregate.StateFile != "" {
		err = table.SaveToFile(cfg.Aggregate.StateFile)
	}
	err = errors.Join(err, out.Close())
	if err != nil {
		return runSummary{}, err
	}

	slog.Info("Aggregation finished", "counters", counters, "rows", out.Written())
	printCounters(counters, out.Written())
	return runSummary{Records: counters.Records, Written: int64(out.Written()), Skipped: counters.Skipped}, nil
}

func printCounters(c pipeline.Counters, written int) {
	fmt.Printf("\n--- Aggregation Stats ---\n")
	fmt.Printf("Records read: %d\n", c.Records)
	fmt.Printf("Matched/matched: %d\n", c.MatchedMatched)
	fmt.Printf("Matched/missing: %d\n", c.MatchedMissing)
	fmt.Printf("Missing/matched: %d\n", c.MissingMatched)
	fmt.Printf("Missing/missing: %d\n", c.MissingMissing)
	fmt.Printf("Filtered: %d\n", c.Filtered)
	fmt.Printf("Skipped rows: %d\n", c.Skipped)
	fmt.Printf("Distinct unresolved (approx.): %d\n", c.DistinctMisses)
	fmt.Printf("Rows written: %d\n", written)
	fmt.Printf("-------------------------\n")
}

func runDegree(ctx context.Context, cfg *Config) (runSummary, error) {
	sources, done, err := openEdgeSources(cfg)
	if err != nil {
		return runSummary{}, err
	}
	defer done()

	d, err := graph.BuildDirected(ctx, sources...)
	if err != nil {
		return runSummary{}, err
	}
	var skipped int64
	for _, src := range sources {
		if s, ok := src.(interface{ Skipped() int }); ok {
			skipped += int64(s.Skipped())
		}
	}

	var degrees []graph.NodeDegree
	switch cfg.Degree.Kind {
	case "in":
		degrees = d.InDegrees()
	case "out":
		degrees = d.OutDegrees()
	default:
		degrees = d.Degrees()
	}

	out, err := createOutput(cfg.Degree.Output)
	if err != nil {
		return runSummary{}, err
	}
	if err := errors.Join(graph.WriteDegrees(out, degrees), out.Close()); err != nil {
		return runSummary{}, err
	}

	hist := graph.Histogram(degrees, cfg.Degree.Bins)
	fmt.Printf("Nodes: %d, edges: %d\n", d.Nodes(), d.Edges())
	graph.WriteHistogram(os.Stdout, hist, 60)
	if cfg.Degree.Histogram != "" {
		f, err := createOutput(cfg.Degree.Histogram)
		if err != nil {
			return runSummary{}, err
		}
		err = render.DegreeBars(f, hist, render.BarsConfig{Title: cfg.Degree.Kind + "-degree"})
		if err := errors.Join(err, f.Close()); err != nil {
			return runSummary{}, err
		}
	}
	slog.Info("Degrees written", "kind", cfg.Degree.Kind, "nodes", d.Nodes(), "edges", d.Edges())
	return runSummary{Records: int64(d.Edges()), Written: int64(len(degrees)), Skipped: skipped}, nil
}

func runFirstFilter(ctx context.Context, cfg *Config) (runSummary, error) {
	in, done, err := openInput(cfg.Categories.Input)
	if err != nil {
		return runSummary{}, err
	}
	defer done()
	out, err := createOutput(cfg.Categories.Filtered)
	if err != nil {
		return runSummary{}, err
	}
	fmt.Println("######## FILTERING THE DATA ########")
	stats, err := categories.FirstFilter(ctx, in, out)
	if err := errors.Join(err, out.Close()); err != nil {
		return runSummary{}, err
	}
	fmt.Printf("Number of Rows in new Filtered File: %d\n", stats.Kept)
	slog.Info("First filter finished", "rows", stats.Rows, "kept", stats.Kept, "dropped", stats.Dropped, "skipped", stats.Skipped)
	return runSummary{Records: int64(stats.Rows), Written: int64(stats.Kept), Skipped: int64(stats.Skipped)}, nil
}

func runSplitCategories(ctx context.Context, cfg *Config) (runSummary, error) {
	in, done, err := openInput(cfg.Categories.Filtered)
	if err != nil {
		return runSummary{}, err
	}
	defer done()
	if err := os.MkdirAll(cfg.Categories.OutputDir, 0755); err != nil {
		return runSummary{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	selections := make([]categories.Selection, len(cfg.Categories.Selections))
	for i, s := range cfg.Categories.Selections {
		selections[i] = categories.Selection(s)
	}
	mode := pipeline.Truncate
	if cfg.Categories.Mode == string(pipeline.Append) {
		mode = pipeline.Append
	}
	splitter, err := categories.NewSplitter(cfg.Categories.OutputDir, selections, pipeline.WriterConfig{Mode: mode, FlushEvery: 1000})
	if err != nil {
		return runSummary{}, err
	}
	stats, err := categories.Split(ctx, in, splitter)
	if err := errors.Join(err, splitter.Close()); err != nil {
		return runSummary{}, err
	}

	var written int64
	for name, n := range splitter.Written() {
		slog.Info("Category output", "name", name, "rows", n)
		written += int64(n)
	}
	fmt.Printf("Rows: %d, outputs: %d, rows written: %d\n", stats.Kept, len(selections)*(categories.Count+1), written)
	return runSummary{Records: int64(stats.Rows), Written: written, Skipped: int64(stats.Skipped)}, nil
}

// readResultTable reads an aggregate result CSV, or a gob snapshot written by
// aggregate.state_file when path ends in .gob.
func readResultTable(path, sentinel string) (*pipeline.Table, error) {
	if strings.HasSuffix(path, ".gob") {
		return pipeline.LoadTable(path)
	}
	in, done, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer done()
	t, err := pipeline.ReadTable(in, sentinel)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

func runGeocode(ctx context.Context, cfg *Config) (runSummary, error) {
	table, err := readResultTable(cfg.Geocode.Input, cfg.Sentinel)
	if err != nil {
		return runSummary{}, err
	}
	n := geo.NewNominatim(geo.NominatimConfig{
		BaseURL:   cfg.Geocode.BaseURL,
		UserAgent: cfg.Geocode.UserAgent,
		Delay:     time.Duration(cfg.Geocode.DelayMS) * time.Millisecond,
	})
	places, stats, err := geo.GeocodeTable(ctx, table, n, geo.TableConfig{
		MinCount:  cfg.Geocode.MinCount,
		Overrides: cfg.Geocode.Overrides,
	})
	if err != nil {
		return runSummary{}, err
	}
	out, err := createOutput(cfg.Geocode.Output)
	if err != nil {
		return runSummary{}, err
	}
	if err := errors.Join(geo.WritePlaces(out, places), out.Close()); err != nil {
		return runSummary{}, err
	}
	slog.Info("Geocoding finished", "rows", stats.Rows, "kept", stats.Kept, "geocoded", stats.Geocoded,
		"overridden", stats.Overridden, "failed", stats.Failed)
	fmt.Printf("Geocoded %d places, %d failed\n", len(places), stats.Failed)
	return runSummary{Records: int64(stats.Kept), Written: int64(len(places)), Skipped: int64(stats.Failed)}, nil
}

func runRenderMap(ctx context.Context, cfg *Config) (runSummary, error) {
	in, done, err := openInput(cfg.Render.Places)
	if err != nil {
		return runSummary{}, err
	}
	defer done()
	places, err := geo.ReadPlaces(in)
	if err != nil {
		return runSummary{}, err
	}
	out, err := createOutput(cfg.Render.MapOutput)
	if err != nil {
		return runSummary{}, err
	}
	err = render.BubbleMap(out, places, render.MapConfig{
		Width:    cfg.Render.Width,
		Height:   cfg.Render.Height,
		FontPath: cfg.Render.FontPath,
	})
	if err := errors.Join(err, out.Close()); err != nil {
		return runSummary{}, err
	}
	slog.Info("Map rendered", "places", len(places), "output", cfg.Render.MapOutput)
	return runSummary{Records: int64(len(places)), Written: int64(len(places))}, nil
}

func runRenderGraph(ctx context.Context, cfg *Config) (runSummary, error) {
	table, err := readResultTable(cfg.Render.Table, cfg.Sentinel)
	if err != nil {
		return runSummary{}, err
	}
	gc := render.GraphConfig{
		TopN:           cfg.Render.TopN,
		Format:         cfg.Render.Format,
		IncludeMissing: cfg.Render.IncludeMissing,
		Sentinel:       cfg.Sentinel,
		SelfLoops:      cfg.Render.SelfLoops,
	}
	out, err := createOutput(cfg.Render.GraphOutput)
	if err != nil {
		return runSummary{}, err
	}
	if err := errors.Join(render.LocationGraph(out, table, gc), out.Close()); err != nil {
		return runSummary{}, err
	}
	edges := len(render.TopEdges(table, gc))
	slog.Info("Graph rendered", "edges", edges, "output", cfg.Render.GraphOutput)
	return runSummary{Records: int64(table.Len()), Written: int64(edges)}, nil
}

// countRows returns the number of non-empty lines of path, excluding a header line.
func countRows(path string, header bool) (int64, error) {
	in, done, err := openInput(path)
	if err != nil {
		return 0, err
	}
	defer done()
	scanner := bufio.NewScanner(records.StripNUL(in))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var n int64
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	if header && n > 0 {
		n--
	}
	return n, nil
}

func runCountRows(ctx context.Context, cfg *Config) (runSummary, error) {
	var total int64
	for _, path := range cfg.Count.Files {
		if err := ctx.Err(); err != nil {
			return runSummary{}, err
		}
		n, err := countRows(path, cfg.Count.Header)
		if err != nil {
			return runSummary{}, err
		}
		fmt.Printf("Number of Rows in %s: %d\n", path, n)
		slog.Info("Rows counted", "file", path, "rows", n)
		total += n
	}
	return runSummary{Records: total}, nil
}

func runPublishEdges(ctx context.Context, cfg *Config) (runSummary, error) {
	mq, err := NewRabbitMQ(cfg.rabbitMQConfig())
	if err != nil {
		return runSummary{}, err
	}
	defer mq.Close()

	var sent int64
	for i, path := range cfg.Edges.Files {
		in, done, err := openInput(path)
		if err != nil {
			return runSummary{Written: sent}, err
		}
		n, err := mq.PublishLines(ctx, in, cfg.Edges.Header, i == 0)
		done()
		sent += int64(n)
		if err != nil {
			return runSummary{Written: sent}, fmt.Errorf("%s: %w", path, err)
		}
		slog.Info("Published edge file", "file", path, "messages", n)
	}
	if err := mq.EndStream(ctx); err != nil {
		return runSummary{Written: sent}, err
	}
	if info, err := mq.GetQueueInfo(); err == nil {
		slog.Info("Queue state", "queue", info["name"], "messages", info["messages"], "consumers", info["consumers"])
	}
	fmt.Printf("Published %d messages to %s\n", sent, cfg.MQ.Queue)
	return runSummary{Written: sent}, nil
}
