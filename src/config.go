package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"geo-contacts/src/categories"
	"geo-contacts/src/geo"
	"geo-contacts/src/pipeline"
	"geo-contacts/src/records"
)

// Config struct for YAML config file. Each mode reads its own section.
type Config struct {
	Mode    string `yaml:"mode"`
	LogDir  string `yaml:"log_dir"`
	Verbose bool   `yaml:"verbose"`
	// Sentinel is written for unresolved endpoints and locations.
	Sentinel string `yaml:"sentinel"`

	Lookup     LookupConfig     `yaml:"lookup"`
	Edges      EdgesConfig      `yaml:"edges"`
	Output     OutputConfig     `yaml:"output"`
	Aggregate  AggregateConfig  `yaml:"aggregate"`
	Users      UsersConfig      `yaml:"users"`
	Replace    ReplaceConfig    `yaml:"replace"`
	Degree     DegreeConfig     `yaml:"degree"`
	Categories CategoriesConfig `yaml:"categories"`
	Geocode    GeocodeConfig    `yaml:"geocode"`
	Render     RenderConfig     `yaml:"render"`
	Count      CountConfig      `yaml:"count"`
	MQ         MQConfig         `yaml:"mq"`
}

// LookupConfig describes where the identifier -> value table comes from.
type LookupConfig struct {
	// Kind is aligned (two line files), paired (key and value lines alternate), columns
	// (a CSV file), inline (the entries map below) or none (endpoints are already values).
	Kind        string   `yaml:"kind"`
	Keys        string   `yaml:"keys"`
	Values      string   `yaml:"values"`
	File        string   `yaml:"file"`
	KeyColumn   string   `yaml:"key_column"`
	ValueColumn string   `yaml:"value_column"`
	Fields      []string `yaml:"fields"`
	Stoplist    string   `yaml:"stoplist"`
	// CountryCode reduces resolved location lists to their country code.
	CountryCode bool `yaml:"country_code"`
	// Entries is the raw -> value table of kind inline, for small hand-made mappings.
	Entries map[string]string `yaml:"entries"`
}

// EdgesConfig describes the edge input.
type EdgesConfig struct {
	// Source is file or amqp.
	Source           string   `yaml:"source"`
	Files            []string `yaml:"files"`
	Format           string   `yaml:"format"`
	Header           bool     `yaml:"header"`
	Fields           []string `yaml:"fields"`
	SourceField      string   `yaml:"source_field"`
	DestinationField string   `yaml:"destination_field"`
	WeightFields     []string `yaml:"weight_fields"`
}

// OutputConfig describes the aggregate result file.
type OutputConfig struct {
	Path       string   `yaml:"path"`
	Mode       string   `yaml:"mode"`
	FlushEvery int      `yaml:"flush_every"`
	Header     []string `yaml:"header"`
	Sorted     bool     `yaml:"sorted"`
}

// AggregateConfig controls the stream aggregator.
type AggregateConfig struct {
	// Passthrough writes substituted edges in stream order without accumulating them.
	Passthrough    bool   `yaml:"passthrough"`
	DropUnresolved bool   `yaml:"drop_unresolved"`
	ProgressEvery  int    `yaml:"progress_every"`
	Parallel       int    `yaml:"parallel"`
	MissCapacity   uint   `yaml:"miss_capacity"`
	StateFile      string `yaml:"state_file"`
}

type UsersConfig struct {
	Input  string `yaml:"input"`
	Output string `yaml:"output"`
	// QuoteDates quotes bare createdAt timestamps of a raw dump before parsing.
	QuoteDates bool `yaml:"quote_dates"`
}

type ReplaceConfig struct {
	Users      string `yaml:"users"`
	Output     string `yaml:"output"`
	Unresolved string `yaml:"unresolved"`
}

type DegreeConfig struct {
	// Kind is all, in or out.
	Kind      string `yaml:"kind"`
	Output    string `yaml:"output"`
	Bins      int    `yaml:"bins"`
	Histogram string `yaml:"histogram"`
}

type CategoriesConfig struct {
	Input      string   `yaml:"input"`
	Filtered   string   `yaml:"filtered"`
	OutputDir  string   `yaml:"output_dir"`
	Selections []string `yaml:"selections"`
	Mode       string   `yaml:"mode"`
}

type GeocodeConfig struct {
	Input     string               `yaml:"input"`
	Output    string               `yaml:"output"`
	BaseURL   string               `yaml:"base_url"`
	UserAgent string               `yaml:"user_agent"`
	DelayMS   int                  `yaml:"delay_ms"`
	MinCount  int64                `yaml:"min_count"`
	Overrides map[string]geo.Point `yaml:"overrides"`
}

type RenderConfig struct {
	Places         string `yaml:"places"`
	MapOutput      string `yaml:"map_output"`
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	FontPath       string `yaml:"font_path"`
	Table          string `yaml:"table"`
	GraphOutput    string `yaml:"graph_output"`
	Format         string `yaml:"format"`
	TopN           int    `yaml:"top_n"`
	IncludeMissing bool   `yaml:"include_missing"`
	SelfLoops      bool   `yaml:"self_loops"`
}

type CountConfig struct {
	Files  []string `yaml:"files"`
	Header bool     `yaml:"header"`
}

// MQConfig holds the RabbitMQ settings for amqp edge sources and publish-edges.
type MQConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Queue    string `yaml:"queue"`
}

// loadConfig loads the YAML config file into a Config struct.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Sentinel == "" {
		cfg.Sentinel = records.LegacySentinel
	}
	if cfg.Edges.Source == "" {
		cfg.Edges.Source = "file"
	}
	if cfg.Output.Mode == "" {
		cfg.Output.Mode = string(pipeline.Truncate)
	}
	if cfg.Degree.Kind == "" {
		cfg.Degree.Kind = "all"
	}
	if len(cfg.Categories.Selections) == 0 {
		cfg.Categories.Selections = []string{string(categories.Only3), string(categories.TwoOrThree)}
	}
	if cfg.MQ.Port == 0 {
		cfg.MQ.Port = 5672
	}
	if cfg.MQ.Username == "" {
		cfg.MQ.Username = "guest"
	}
	if cfg.MQ.Password == "" {
		cfg.MQ.Password = "guest"
	}
}

// applyEnv loads .env if present (set variables win) and applies the GEO_* overrides.
func applyEnv(cfg *Config, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}
	if v, ok := os.LookupEnv("GEO_LOG_DIR"); ok {
		cfg.LogDir = v
	}
	if v, ok := os.LookupEnv("GEO_MQ_HOST"); ok {
		cfg.MQ.Host = v
	}
	if v, ok := os.LookupEnv("GEO_MQ_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("GEO_MQ_PORT: %w", err)
		}
		cfg.MQ.Port = port
	}
	if v, ok := os.LookupEnv("GEO_MQ_USER"); ok {
		cfg.MQ.Username = v
	}
	if v, ok := os.LookupEnv("GEO_MQ_PASSWORD"); ok {
		cfg.MQ.Password = v
	}
	return nil
}

var modes = map[string]bool{
	"extract-users":     true,
	"replace-locations": true,
	"aggregate":         true,
	"degree":            true,
	"first-filter":      true,
	"split-categories":  true,
	"geocode":           true,
	"render-map":        true,
	"render-graph":      true,
	"count-rows":        true,
	"publish-edges":     true,
}

// validate checks everything the selected mode needs before any work starts.
func (cfg *Config) validate() error {
	if cfg.LogDir == "" {
		return errors.New("'log_dir' must be defined in the config file and cannot be empty")
	}
	if !modes[cfg.Mode] {
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
	need := func(value, name string) error {
		if value == "" {
			return fmt.Errorf("mode %s requires %s", cfg.Mode, name)
		}
		return nil
	}

	switch cfg.Mode {
	case "extract-users":
		return errors.Join(need(cfg.Users.Input, "users.input"), need(cfg.Users.Output, "users.output"))
	case "replace-locations":
		return errors.Join(need(cfg.Replace.Users, "replace.users"), need(cfg.Replace.Output, "replace.output"), cfg.Lookup.validate(true))
	case "aggregate":
		errs := []error{need(cfg.Output.Path, "output.path"), cfg.Lookup.validate(false), cfg.Edges.validate()}
		if cfg.Output.Mode != string(pipeline.Truncate) && cfg.Output.Mode != string(pipeline.Append) {
			errs = append(errs, fmt.Errorf("output.mode must be truncate or append, got %q", cfg.Output.Mode))
		}
		if cfg.Aggregate.Passthrough && cfg.Output.Sorted {
			errs = append(errs, errors.New("output.sorted cannot be combined with aggregate.passthrough"))
		}
		if cfg.Edges.Source == "amqp" {
			errs = append(errs, cfg.rabbitMQConfig().validate())
		}
		return errors.Join(errs...)
	case "degree":
		errs := []error{need(cfg.Degree.Output, "degree.output"), cfg.Edges.validate()}
		if cfg.Degree.Kind != "all" && cfg.Degree.Kind != "in" && cfg.Degree.Kind != "out" {
			errs = append(errs, fmt.Errorf("degree.kind must be all, in or out, got %q", cfg.Degree.Kind))
		}
		return errors.Join(errs...)
	case "first-filter":
		return errors.Join(need(cfg.Categories.Input, "categories.input"), need(cfg.Categories.Filtered, "categories.filtered"))
	case "split-categories":
		errs := []error{need(cfg.Categories.Filtered, "categories.filtered"), need(cfg.Categories.OutputDir, "categories.output_dir")}
		for _, s := range cfg.Categories.Selections {
			if !categories.Selection(s).Valid() {
				errs = append(errs, fmt.Errorf("unknown category selection %q", s))
			}
		}
		return errors.Join(errs...)
	case "geocode":
		return errors.Join(need(cfg.Geocode.Input, "geocode.input"), need(cfg.Geocode.Output, "geocode.output"))
	case "render-map":
		return errors.Join(need(cfg.Render.Places, "render.places"), need(cfg.Render.MapOutput, "render.map_output"))
	case "render-graph":
		return errors.Join(need(cfg.Render.Table, "render.table"), need(cfg.Render.GraphOutput, "render.graph_output"))
	case "count-rows":
		if len(cfg.Count.Files) == 0 {
			return errors.New("mode count-rows requires count.files")
		}
	case "publish-edges":
		errs := []error{cfg.rabbitMQConfig().validate()}
		if len(cfg.Edges.Files) == 0 {
			errs = append(errs, errors.New("mode publish-edges requires edges.files"))
		}
		return errors.Join(errs...)
	}
	return nil
}

func (l LookupConfig) validate(locations bool) error {
	switch l.Kind {
	case "aligned":
		if l.Keys == "" || l.Values == "" {
			return errors.New("lookup kind aligned requires lookup.keys and lookup.values")
		}
	case "paired":
		if l.File == "" {
			return errors.New("lookup kind paired requires lookup.file")
		}
	case "columns":
		if l.File == "" || l.KeyColumn == "" || l.ValueColumn == "" {
			return errors.New("lookup kind columns requires lookup.file, lookup.key_column and lookup.value_column")
		}
	case "inline":
		if len(l.Entries) == 0 {
			return errors.New("lookup kind inline requires lookup.entries")
		}
	case "none":
		if locations {
			return errors.New("replace-locations needs a lookup table")
		}
	default:
		return fmt.Errorf("unknown lookup kind %q", l.Kind)
	}
	return nil
}

func (e EdgesConfig) validate() error {
	if e.Source != "file" && e.Source != "amqp" {
		return fmt.Errorf("edges.source must be file or amqp, got %q", e.Source)
	}
	if e.Source == "file" && len(e.Files) == 0 {
		return errors.New("edges.files must name at least one file")
	}
	if e.SourceField == "" || e.DestinationField == "" || len(e.WeightFields) == 0 {
		return errors.New("edges requires source_field, destination_field and weight_fields")
	}
	if !e.Header && len(e.Fields) == 0 {
		return errors.New("edges.fields is required when edges.header is false")
	}
	return nil
}

func (e EdgesConfig) reader() pipeline.ReaderConfig {
	return pipeline.ReaderConfig{
		Format:           pipeline.Format(e.Format),
		Header:           e.Header,
		Fields:           e.Fields,
		SourceField:      e.SourceField,
		DestinationField: e.DestinationField,
		WeightFields:     e.WeightFields,
	}
}

func (cfg *Config) rabbitMQConfig() RabbitMQConfig {
	return RabbitMQConfig{
		Host:     cfg.MQ.Host,
		Port:     cfg.MQ.Port,
		Username: cfg.MQ.Username,
		Password: cfg.MQ.Password,
		Queue:    cfg.MQ.Queue,
	}
}
