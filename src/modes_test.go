package main

import (
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// TestRunAggregateEndToEnd runs the aggregate mode over two gzip shards against a users file.
//
// Rationale: this is the production path: userId -> location from the replaced users file,
// reduced to country codes, summed per country pair across shards.
func TestRunAggregateEndToEnd(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "users.csv", "createdAt,followers,favourites,location,userId\n"+
		"d,1,1,\"['us', 'united states', 'tx', 'austin', '']\",u1\n"+
		"d,1,1,\"['us', 'united states', 'ny', 'nyc', '']\",u2\n"+
		"d,1,1,\"['ca', 'canada', '', '', '']\",u3\n"+
		"d,1,1,\"['none', 'none', 'none', 'none', 'none']\",u4\n")

	shard := func(name, content string) string {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		if err != nil {
			t.Fatal(err)
		}
		gz := gzip.NewWriter(f)
		gz.Write([]byte(content))
		gz.Close()
		f.Close()
		return path
	}
	header := "user_id,target_id,contacts\n"
	files := []string{
		shard("e0.csv.gz", header+"u1,u2,5\nu3,u9,1\n"),
		shard("e1.csv.gz", header+"u1,u2,3\nu4,u1,2\nbroken\n"),
	}

	cfg := &Config{
		Mode:     "aggregate",
		LogDir:   dir,
		Sentinel: "NONE",
		Lookup: LookupConfig{
			Kind:        "columns",
			File:        filepath.Join(dir, "users.csv"),
			KeyColumn:   "userId",
			ValueColumn: "location",
			CountryCode: true,
		},
		Edges: EdgesConfig{
			Source:           "file",
			Files:            files,
			Header:           true,
			SourceField:      "user_id",
			DestinationField: "target_id",
			WeightFields:     []string{"contacts"},
		},
		Output:    OutputConfig{Path: filepath.Join(dir, "out", "countries.csv"), Mode: "truncate", Sorted: true},
		Aggregate: AggregateConfig{Parallel: 2, StateFile: filepath.Join(dir, "state.gob")},
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("config invalid: %v", err)
	}
	summary, err := runAggregate(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runAggregate failed: %v", err)
	}
	want := "i,j,count\nNONE,us,2\nca,NONE,1\nus,us,8\n"
	if got := readFile(t, cfg.Output.Path); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
	if summary.Records != 4 || summary.Written != 3 || summary.Skipped != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}
	if _, err := os.Stat(cfg.Aggregate.StateFile); err != nil {
		t.Fatalf("state file not written: %v", err)
	}

	// The snapshot feeds render-graph directly.
	cfg.Render = RenderConfig{Table: cfg.Aggregate.StateFile, GraphOutput: filepath.Join(dir, "graph.dot"), Format: "dot", TopN: 10, IncludeMissing: true, SelfLoops: true}
	summary, err = runRenderGraph(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runRenderGraph from snapshot failed: %v", err)
	}
	if summary.Records != 3 || summary.Written != 3 {
		t.Errorf("unexpected render summary %+v", summary)
	}
	if dot := readFile(t, cfg.Render.GraphOutput); !strings.Contains(dot, "NONE") || !strings.Contains(dot, "ca") {
		t.Errorf("Expected both endpoints of the snapshot in the graph, got %q", dot)
	}
}

func TestBuildResolverInline(t *testing.T) {
	cfg := &Config{
		Sentinel: "NONE",
		Lookup: LookupConfig{
			Kind:        "inline",
			Entries:     map[string]string{"U1": "['no', 'norway', '', 'oslo', '']"},
			CountryCode: true,
		},
	}
	resolver, err := buildResolver(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := resolver.Resolve("u1"); !ok || v != "no" {
		t.Errorf("Resolve(u1) = %q, %v; want no, true", v, ok)
	}
	if _, ok := resolver.Resolve("u2"); ok {
		t.Error("Expected u2 to be a miss")
	}
}

func TestRunAggregatePassthroughAppend(t *testing.T) {
	dir := t.TempDir()
	edges := writeFile(t, dir, "edges.csv", "i,j,n\nus,us,5\nNONE,us,1\n")
	cfg := &Config{
		Mode:      "aggregate",
		LogDir:    dir,
		Sentinel:  "NONE",
		Lookup:    LookupConfig{Kind: "none"},
		Edges:     EdgesConfig{Source: "file", Files: []string{edges}, Header: true, SourceField: "i", DestinationField: "j", WeightFields: []string{"n"}},
		Output:    OutputConfig{Path: filepath.Join(dir, "out.csv"), Mode: "append", Header: []string{"i", "j", "contacts"}},
		Aggregate: AggregateConfig{Passthrough: true, DropUnresolved: true},
	}
	for i := 0; i < 2; i++ {
		if _, err := runAggregate(context.Background(), cfg); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}
	if got := readFile(t, cfg.Output.Path); got != "i,j,contacts\nus,us,5\nus,us,5\n" {
		t.Errorf("unexpected output %q", got)
	}
}

func TestRunExtractAndReplace(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		LogDir:   dir,
		Sentinel: "NONE",
		Users: UsersConfig{
			Input:  writeFile(t, dir, "users.json", `{"createdAt":"d","followers":1,"favourites":2,"location":"Austin","userId":"u1"}`+"\n{broken\n"),
			Output: filepath.Join(dir, "users.csv"),
		},
		Lookup: LookupConfig{
			Kind:   "aligned",
			Keys:   writeFile(t, dir, "places.txt", "austin\nparis\n"),
			Values: writeFile(t, dir, "places.txt.resolved", "['us', 'united states', 'texas', 'austin', '']\n['fr', 'france', '', 'paris', '']\n"),
		},
		Replace: ReplaceConfig{
			Output:     filepath.Join(dir, "replaced.csv"),
			Unresolved: filepath.Join(dir, "unresolved.csv"),
		},
	}
	cfg.Replace.Users = cfg.Users.Output

	summary, err := runExtractUsers(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runExtractUsers failed: %v", err)
	}
	if summary.Skipped != 1 || summary.Written != 1 {
		t.Errorf("unexpected extract summary %+v", summary)
	}
	if _, err := runReplaceLocations(context.Background(), cfg); err != nil {
		t.Fatalf("runReplaceLocations failed: %v", err)
	}
	got := readFile(t, cfg.Replace.Output)
	if !strings.Contains(got, "\"['us', 'united states', 'texas', 'austin', '']\",u1") {
		t.Errorf("location not replaced: %q", got)
	}
	if readFile(t, cfg.Replace.Unresolved) != "count,location\n" {
		t.Errorf("Expected no unresolved locations")
	}
}

func TestRunCategories(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		LogDir: dir,
		Categories: CategoriesConfig{
			Input:      writeFile(t, dir, "labeled.csv", "i,j,contacts,types\n1,2,4,[]\n1,3,2,[3,14]\n"),
			Filtered:   filepath.Join(dir, "filtered.csv"),
			OutputDir:  filepath.Join(dir, "cats"),
			Selections: []string{"only_3"},
		},
	}
	if _, err := runFirstFilter(context.Background(), cfg); err != nil {
		t.Fatalf("runFirstFilter failed: %v", err)
	}
	summary, err := runSplitCategories(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runSplitCategories failed: %v", err)
	}
	if summary.Records != 1 || summary.Written != 3 {
		t.Errorf("unexpected split summary %+v", summary)
	}
	if got := readFile(t, filepath.Join(dir, "cats", "cat_all_only_3.csv")); got != "i,j,contacts\n1,3,2\n" {
		t.Errorf("unexpected all output %q", got)
	}
}

func TestRunDegree(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		LogDir: dir,
		Edges: EdgesConfig{
			Source:           "file",
			Files:            []string{writeFile(t, dir, "e.csv", "a,b,1\nb,c,1\na,b,4\n")},
			Fields:           []string{"i", "j", "contacts"},
			SourceField:      "i",
			DestinationField: "j",
			WeightFields:     []string{"contacts"},
		},
		Degree: DegreeConfig{Kind: "in", Output: filepath.Join(dir, "degree_in.csv"), Bins: 3},
	}
	if _, err := runDegree(context.Background(), cfg); err != nil {
		t.Fatalf("runDegree failed: %v", err)
	}
	if got := readFile(t, cfg.Degree.Output); got != "a,0\nb,1\nc,1\n" {
		t.Errorf("unexpected degrees %q", got)
	}
}

func TestRunGeocodeAndCount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") == "us" {
			w.Write([]byte(`[{"lat":"39.78","lon":"-100.45"}]`))
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := &Config{
		LogDir:   dir,
		Sentinel: "NONE",
		Geocode: GeocodeConfig{
			Input:    writeFile(t, dir, "countries.csv", "i,j,count\nus,us,5000\nzz,zz,4000\nus,ca,99\n"),
			Output:   filepath.Join(dir, "places.csv"),
			BaseURL:  srv.URL,
			DelayMS:  1,
			MinCount: 1000,
		},
		Count: CountConfig{Header: true},
	}
	summary, err := runGeocode(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runGeocode failed: %v", err)
	}
	if summary.Written != 1 || summary.Skipped != 1 {
		t.Errorf("unexpected geocode summary %+v", summary)
	}
	if got := readFile(t, cfg.Geocode.Output); got != "code,count,lat,lon\nus,5000,39.78,-100.45\n" {
		t.Errorf("unexpected places %q", got)
	}

	cfg.Count.Files = []string{cfg.Geocode.Input, cfg.Geocode.Output}
	summary, err = runCountRows(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Records != 4 {
		t.Errorf("Expected 4 rows over both files, got %d", summary.Records)
	}
}

func TestAppendRunStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.csv")
	appendRunStats(path, "aggregate", 0, runSummary{Records: 3}, nil)
	appendRunStats(path, "geocode", 0, runSummary{}, os.ErrNotExist)
	lines := strings.Split(strings.TrimSpace(readFile(t, path)), "\n")
	if len(lines) != 3 || !strings.HasPrefix(lines[0], "timestamp,mode") {
		t.Fatalf("unexpected runs file %q", lines)
	}
	if !strings.Contains(lines[1], ",aggregate,0,3,0,0,") || !strings.Contains(lines[2], "file does not exist") {
		t.Errorf("unexpected rows %q", lines[1:])
	}
}
