// fieldscenes acquires Sentinel scenes for field boundary files incrementally.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/robert-malhotra/fieldscenes/internal/auth"
	"github.com/robert-malhotra/fieldscenes/internal/catalog"
	"github.com/robert-malhotra/fieldscenes/internal/config"
	"github.com/robert-malhotra/fieldscenes/internal/metrics"
	"github.com/robert-malhotra/fieldscenes/internal/pipeline"
	"github.com/robert-malhotra/fieldscenes/internal/process"
	"github.com/robert-malhotra/fieldscenes/internal/runlog"
)

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitSetup  = 2
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func setupErr(err error) error { return &exitError{code: exitSetup, err: err} }

type options struct {
	input      string
	output     string
	start      string
	end        string
	bands      string
	configFile string
	workers    int
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(execute(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if ee.code == exitSetup && ee.err != nil {
			fmt.Fprintf(stderr, "error: %v\n", ee.err)
		}
		return ee.code
	}
	// Flag and argument errors from cobra itself.
	fmt.Fprintf(stderr, "error: %v\n", err)
	return exitSetup
}

func newRootCmd(stdout io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:   "fieldscenes",
		Short: "Incremental Sentinel scene acquisition for field boundaries",
		Long: `fieldscenes walks an input directory of field boundary files (one polygon
per shapefile or GeoJSON file), searches the Sentinel Hub catalog for scenes in
a date range, and writes one GeoTIFF per band and acquisition day below the
output directory. Days that were already written are skipped.

Examples:
  fieldscenes fetch --input ./fields --output ./scenes --start 2024-06-01 --end 2024-06-30
  fieldscenes plan -i ./fields -o ./scenes --start 2024-06-01 --end 2024-06-10 --bands B02,B03,B04`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newRunCmd("fetch", "Fetch every missing scene day", false, stdout),
		newRunCmd("plan", "List the scene days a fetch would download", true, stdout),
	)
	return root
}

func newRunCmd(use, short string, dryRun bool, stdout io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, dryRun, stdout)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.input, "input", "i", "", "Input root with one directory per operator (required)")
	f.StringVarP(&opts.output, "output", "o", "", "Output root (required)")
	f.StringVar(&opts.start, "start", "", "First acquisition day, YYYY-MM-DD (required)")
	f.StringVar(&opts.end, "end", "", "Last acquisition day, YYYY-MM-DD (required)")
	f.StringVar(&opts.bands, "bands", "", "Comma separated band codes (overrides ACQ_BANDS)")
	f.StringVar(&opts.configFile, "config", "", "YAML credentials file (overrides CONFIG_FILE)")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent fetches (overrides ACQ_WORKERS)")
	for _, name := range []string{"input", "output", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func run(ctx context.Context, opts *options, dryRun bool, stdout io.Writer) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return setupErr(err)
	}

	start, err := catalog.ParseDate(opts.start)
	if err != nil {
		return setupErr(err)
	}
	end, err := catalog.ParseDate(opts.end)
	if err != nil {
		return setupErr(err)
	}
	if end.Before(start) {
		return setupErr(fmt.Errorf("--end %s is before --start %s", opts.end, opts.start))
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format, stdout)

	collections := config.DefaultCollections()
	if cfg.CollectionsDir != "" {
		if err := config.LoadCollections(collections, cfg.CollectionsDir); err != nil {
			return setupErr(err)
		}
	}
	if err := cfg.ValidateBands(collections); err != nil {
		return setupErr(err)
	}
	recorder, err := metrics.New()
	if err != nil {
		return setupErr(err)
	}

	httpClient, err := auth.NewHTTPClient(ctx, auth.Credentials{
		ClientID:     cfg.SentinelHub.ClientID,
		ClientSecret: cfg.SentinelHub.ClientSecret,
		TokenURL:     cfg.SentinelHub.TokenURL,
	}, cfg.SentinelHub.Timeout)
	if err != nil {
		return setupErr(err)
	}
	httpClient = recorder.InstrumentClient(httpClient)

	logDir := cfg.RunLog.Dir
	if logDir == "" {
		logDir = filepath.Join(opts.output, "_runlogs")
	}
	runLog, err := runlog.Open(logDir, time.Now(), stdout)
	if err != nil {
		return setupErr(err)
	}
	defer runLog.Close()

	mode := "fetch"
	if dryRun {
		mode = "plan"
	}
	logger.Info("starting fieldscenes",
		"mode", mode,
		"input", opts.input,
		"output", opts.output,
		"start", opts.start,
		"end", opts.end,
		"bands", strings.Join(cfg.Acquisition.Bands, ","),
		"workers", cfg.Acquisition.Workers,
		"run_log", runLog.Path(),
	)

	searcher := catalog.NewClient(cfg.SentinelHub.BaseURL, httpClient).
		WithSearchURL(cfg.Catalog.SearchURL).
		WithServerFilter(cfg.Catalog.ServerFilter).
		WithLogger(logger)
	fetcher := process.NewClient(cfg.SentinelHub.BaseURL, httpClient).WithLogger(logger)

	p := pipeline.New(cfg, searcher, fetcher, runLog).
		WithCollections(collections).
		WithMetrics(recorder).
		WithLogger(logger)

	summary, err := p.Run(ctx, pipeline.Input{
		InputDir:  opts.input,
		OutputDir: opts.output,
		Start:     start,
		End:       end,
		DryRun:    dryRun,
	})
	if err != nil {
		return setupErr(err)
	}

	if err := recorder.WriteTextfile(cfg.Metrics.Textfile); err != nil {
		logger.Warn("failed to write metrics", "error", err)
	}
	if err := runLog.Close(); err != nil {
		logger.Warn("failed to close run log", "error", err)
	}

	if !summary.Clean() {
		logger.Error("run finished with failures", "error", summary.Err)
		return &exitError{code: exitFailed}
	}
	return nil
}

// loadConfig reads the environment and applies command line overrides.
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}

	if opts.configFile != "" {
		cfg.ConfigFile = opts.configFile
		if err := cfg.MergeCredentialsFile(opts.configFile); err != nil {
			return nil, err
		}
	}
	if opts.bands != "" {
		var bands []string
		for _, b := range strings.Split(opts.bands, ",") {
			if b = strings.TrimSpace(b); b != "" {
				bands = append(bands, b)
			}
		}
		cfg.Acquisition.Bands = bands
	}
	if opts.workers != 0 {
		cfg.Acquisition.Workers = opts.workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setupLogger(level, format string, w io.Writer) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}
