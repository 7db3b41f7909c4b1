package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"geo-contacts/src/records"
)

// TestLoadConfigValid tests loading a valid configuration file.
//
// Rationale: This is the happy path test that ensures the basic configuration loading
// functionality works correctly with a well-formed config file.
func TestLoadConfigValid(t *testing.T) {
	validConfig := `
mode: aggregate
log_dir: ../logs
sentinel: NONE
lookup:
  kind: aligned
  keys: keys.txt
  values: values.txt
edges:
  files: [edges.csv]
  header: true
  source_field: i
  destination_field: j
  weight_fields: [contacts, mentions]
output:
  path: out.csv
  mode: append
geocode:
  overrides:
    ps: {lat: 31.5, lon: 34.75}
`
	tmpFile := createTempConfigFile(t, validConfig)

	cfg, err := loadConfig(tmpFile)
	if err != nil {
		t.Fatalf("Expected no error loading valid config, got: %v", err)
	}
	if cfg.Mode != "aggregate" {
		t.Errorf("Expected Mode to be 'aggregate', got '%s'", cfg.Mode)
	}
	if cfg.LogDir != "../logs" {
		t.Errorf("Expected LogDir to be '../logs', got '%s'", cfg.LogDir)
	}
	if cfg.Sentinel != "NONE" {
		t.Errorf("Expected Sentinel to be 'NONE', got '%s'", cfg.Sentinel)
	}
	if len(cfg.Edges.WeightFields) != 2 || cfg.Edges.WeightFields[1] != "mentions" {
		t.Errorf("Unexpected weight fields %v", cfg.Edges.WeightFields)
	}
	if cfg.Edges.Source != "file" {
		t.Errorf("Expected default edge source 'file', got '%s'", cfg.Edges.Source)
	}
	if cfg.Geocode.Overrides["ps"].Lat != 31.5 {
		t.Errorf("Unexpected overrides %v", cfg.Geocode.Overrides)
	}
	if err := cfg.validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

// TestLoadConfigDefaults checks the defaults applied to an almost empty file.
func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(createTempConfigFile(t, "mode: count-rows\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Sentinel != records.LegacySentinel {
		t.Errorf("Expected legacy sentinel, got %q", cfg.Sentinel)
	}
	if cfg.MQ.Port != 5672 || cfg.MQ.Username != "guest" {
		t.Errorf("Unexpected MQ defaults %+v", cfg.MQ)
	}
	if cfg.Output.Mode != "truncate" || cfg.Degree.Kind != "all" {
		t.Errorf("Unexpected defaults %+v %+v", cfg.Output, cfg.Degree)
	}
	if len(cfg.Categories.Selections) != 2 {
		t.Errorf("Unexpected default selections %v", cfg.Categories.Selections)
	}
}

// TestValidateMissingLogDir tests that a config without log_dir is rejected.
//
// Rationale: The log_dir field is required and cannot be empty. The run must fail fast
// before any input is opened.
func TestValidateMissingLogDir(t *testing.T) {
	for _, content := range []string{"mode: count-rows\ncount:\n  files: [a]\n", "mode: count-rows\nlog_dir: \"\"\ncount:\n  files: [a]\n"} {
		cfg, err := loadConfig(createTempConfigFile(t, content))
		if err != nil {
			t.Fatalf("Expected no error loading config, got: %v", err)
		}
		err = cfg.validate()
		if err == nil || !strings.Contains(err.Error(), "log_dir") {
			t.Errorf("Expected log_dir error, got %v", err)
		}
	}
}

// TestValidateModes checks the per-mode requirements.
func TestValidateModes(t *testing.T) {
	edges := EdgesConfig{Source: "file", Files: []string{"e.csv"}, Header: true, SourceField: "i", DestinationField: "j", WeightFields: []string{"n"}}
	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"unknown mode", Config{Mode: "bogus"}, "unknown mode"},
		{"aggregate ok", Config{Mode: "aggregate", Lookup: LookupConfig{Kind: "none"}, Edges: edges, Output: OutputConfig{Path: "o", Mode: "truncate"}}, ""},
		{"aggregate bad output mode", Config{Mode: "aggregate", Lookup: LookupConfig{Kind: "none"}, Edges: edges, Output: OutputConfig{Path: "o", Mode: "overwrite"}}, "output.mode"},
		{"aggregate sorted passthrough", Config{Mode: "aggregate", Lookup: LookupConfig{Kind: "none"}, Edges: edges, Output: OutputConfig{Path: "o", Mode: "truncate", Sorted: true}, Aggregate: AggregateConfig{Passthrough: true}}, "passthrough"},
		{"aggregate unknown lookup", Config{Mode: "aggregate", Lookup: LookupConfig{Kind: "sqlite"}, Edges: edges, Output: OutputConfig{Path: "o", Mode: "truncate"}}, "lookup kind"},
		{"aggregate amqp without host", Config{Mode: "aggregate", Lookup: LookupConfig{Kind: "none"}, Edges: EdgesConfig{Source: "amqp", SourceField: "i", DestinationField: "j", WeightFields: []string{"n"}, Header: true}, Output: OutputConfig{Path: "o", Mode: "truncate"}}, "empty host"},
		{"inline lookup needs entries", Config{Mode: "aggregate", Lookup: LookupConfig{Kind: "inline"}, Edges: edges, Output: OutputConfig{Path: "o", Mode: "truncate"}}, "lookup.entries"},
		{"inline lookup ok", Config{Mode: "aggregate", Lookup: LookupConfig{Kind: "inline", Entries: map[string]string{"u1": "us"}}, Edges: edges, Output: OutputConfig{Path: "o", Mode: "truncate"}}, ""},
		{"replace needs lookup", Config{Mode: "replace-locations", Replace: ReplaceConfig{Users: "u", Output: "o"}, Lookup: LookupConfig{Kind: "none"}}, "needs a lookup"},
		{"headerless edges need fields", Config{Mode: "degree", Degree: DegreeConfig{Output: "d", Kind: "all"}, Edges: EdgesConfig{Source: "file", Files: []string{"e"}, SourceField: "i", DestinationField: "j", WeightFields: []string{"n"}}}, "edges.fields"},
		{"degree kind", Config{Mode: "degree", Degree: DegreeConfig{Output: "d", Kind: "both"}, Edges: edges}, "degree.kind"},
		{"split selection", Config{Mode: "split-categories", Categories: CategoriesConfig{Filtered: "f", OutputDir: "d", Selections: []string{"only_4"}}}, "only_4"},
		{"geocode output", Config{Mode: "geocode", Geocode: GeocodeConfig{Input: "i"}}, "geocode.output"},
		{"publish needs files", Config{Mode: "publish-edges", MQ: MQConfig{Host: "h", Port: 5672, Queue: "q"}}, "edges.files"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tc.cfg.LogDir = "logs"
			err := tc.cfg.validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}

// TestLoadConfigInvalidYAML tests that malformed YAML is reported.
func TestLoadConfigInvalidYAML(t *testing.T) {
	if _, err := loadConfig(createTempConfigFile(t, "mode: [unclosed\n")); err == nil {
		t.Error("Expected error for invalid YAML, got none")
	}
}

// TestLoadConfigNonexistentFile tests loading a file that does not exist.
func TestLoadConfigNonexistentFile(t *testing.T) {
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for nonexistent file, got none")
	}
}

// TestApplyEnv checks the .env file and GEO_* overrides.
//
// Rationale: credentials and the log directory are deployment settings that must not
// require editing the YAML file.
func TestApplyEnv(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("GEO_MQ_HOST=rabbit.example\nGEO_MQ_USER=dotenv-user\n"), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GEO_LOG_DIR", "/var/log/geo")
	t.Setenv("GEO_MQ_USER", "shell-user")
	t.Setenv("GEO_MQ_PORT", "5673")
	t.Cleanup(func() { os.Unsetenv("GEO_MQ_HOST") })

	cfg := &Config{LogDir: "logs"}
	if err := applyEnv(cfg, envFile); err != nil {
		t.Fatalf("applyEnv failed: %v", err)
	}
	if cfg.LogDir != "/var/log/geo" {
		t.Errorf("Expected GEO_LOG_DIR override, got %q", cfg.LogDir)
	}
	if cfg.MQ.Host != "rabbit.example" {
		t.Errorf("Expected host from .env, got %q", cfg.MQ.Host)
	}
	if cfg.MQ.Username != "shell-user" {
		t.Errorf("Expected the shell variable to win over .env, got %q", cfg.MQ.Username)
	}
	if cfg.MQ.Port != 5673 {
		t.Errorf("Expected port 5673, got %d", cfg.MQ.Port)
	}

	if err := applyEnv(&Config{}, filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("A missing .env file must be ignored, got %v", err)
	}
}

// createTempConfigFile writes content to a temporary YAML file and returns its path.
func createTempConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write temp file: %v", err)
	}
	return path
}
