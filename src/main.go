package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "Path to YAML config file")
	modeFlag := flag.String("mode", "", "Mode to run; overrides 'mode' in the config file")
	envFile := flag.String("env", ".env", "Optional .env file with GEO_* overrides")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("Failed to load config", err)
	}
	if err := applyEnv(cfg, *envFile); err != nil {
		fatal("Failed to apply environment", err)
	}
	if *modeFlag != "" {
		cfg.Mode = *modeFlag
	}
	if err := cfg.validate(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}

	// Set up slog logger to write to a file in the specified log_dir
	logger, logFile, err := setupLogger(cfg.LogDir, cfg.Verbose)
	if err != nil {
		fatal("Failed to set up logger", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("##################### START %s #####################\n", cfg.Mode)
	slog.Info("Starting", "mode", cfg.Mode, "config", *configPath)
	start := time.Now()

	summary, err := modeFuncs[cfg.Mode](ctx, cfg)
	elapsed := time.Since(start)
	appendRunStats(filepath.Join(cfg.LogDir, "runs.csv"), cfg.Mode, elapsed, summary, err)
	if err != nil {
		logFile.Close()
		fatal("Run failed", err)
	}

	slog.Info("Done", "mode", cfg.Mode, "records", summary.Records, "written", summary.Written,
		"skipped", summary.Skipped, "elapsed", elapsed)
	fmt.Printf("##################### DONE in %s #####################\n", elapsed.Round(time.Millisecond))
}

// fatal reports err on stderr and in the log, then exits.
func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	fmt.Fprintf(os.Stderr, "ERROR: %s: %v\n", msg, err)
	os.Exit(1)
}

// setupLogger creates the log directory if needed and returns a slog.Logger that writes to a file.
func setupLogger(logDir string, verbose bool) (*slog.Logger, *os.File, error) {
	// No default! logDir must be set by config and checked in main()
	if logDir == "" {
		return nil, nil, fmt.Errorf("logDir must be set in config; refusing to use a default")
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, err
	}
	logPath := filepath.Join(logDir, "pipeline.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		opts.Level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logFile, opts))
	return logger, logFile, nil
}

var runStatsHeader = []string{"timestamp", "mode", "elapsed_ms", "records", "written", "skipped", "error"}

// appendRunStats appends one summary row to the runs CSV, writing the header for a new file.
func appendRunStats(path, mode string, elapsed time.Duration, s runSummary, runErr error) {
	info, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		slog.Warn("Failed to open run stats CSV", "error", err)
		return
	}
	defer f.Close()
	writer := csv.NewWriter(f)
	if statErr != nil || info.Size() == 0 {
		writer.Write(runStatsHeader)
	}
	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	writer.Write([]string{
		time.Now().Format(time.RFC3339),
		mode,
		strconv.FormatInt(elapsed.Milliseconds(), 10),
		strconv.FormatInt(s.Records, 10),
		strconv.FormatInt(s.Written, 10),
		strconv.FormatInt(s.Skipped, 10),
		errText,
	})
	writer.Flush()
	if err := writer.Error(); err != nil {
		slog.Warn("Failed to write run stats", "error", err)
	}
}
