package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/config"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/exitcode"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/fetcher"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/model"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/mosaic"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/observability"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/pipeline"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/selector"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

// defaultTarget is used when neither -time nor -now is given.
var defaultTarget = time.Date(2017, 8, 25, 0, 5, 0, 0, time.UTC)

func main() {
	// Configure the global logger; the level is applied once config is loaded
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	clock := clockwork.NewRealClock()

	// Parse CLI flags
	flags, err := parseFlags(os.Args[1:], clock)
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(exitcode.Success)
	}
	if err != nil {
		slog.Error("invalid flags", "error", err)
		fmt.Fprintf(os.Stderr, "Usage: %v\n", err)
		os.Exit(exitcode.ConfigError)
	}

	// Ensure environment variables are loaded
	if err := godotenv.Load(); err != nil {
		slog.Warn("failed to load env vars", "error", err)
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(exitcode.ConfigError)
	}
	level.Set(cfg.LogLevel)

	window := cfg.LookbackWindow
	if flags.window > 0 {
		window = flags.window
	}
	runID := flags.runID
	if runID == "" {
		if runID, err = model.NewRunID(); err != nil {
			slog.Error("failed to generate run id", "error", err)
			os.Exit(exitcode.ConfigError)
		}
	}

	// Create a cancellable context (for graceful shutdown)
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := newArchive(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize archive client", "backend", cfg.Store.Backend, "error", err)
		os.Exit(exitcode.ConfigError)
	}

	var publisher pipeline.Publisher
	if cfg.Publish.Enabled() {
		p, err := newPublisher(ctx, cfg)
		if err != nil {
			slog.Error("failed to initialize publish client", "backend", cfg.Store.Backend, "error", err)
			os.Exit(exitcode.StorageError)
		}
		publisher = p
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	req := pipeline.Request{
		Target:     flags.target,
		Window:     window,
		RunID:      runID,
		OutputPath: cfg.OutputPath,
	}

	_, err = run(ctx, cfg, afero.NewOsFs(), store, publisher, metrics, clock, req)
	writeMetrics(cfg.MetricsTextfile, metrics)
	if err != nil {
		slog.Error("mosaic failed", "run_id", runID, "error", err)
		cancel()
		os.Exit(exitCode(err))
	}

	slog.Info("shutdown complete", "run_id", runID)
}

type runFlags struct {
	target time.Time
	window time.Duration
	runID  model.RunID
}

func parseFlags(args []string, clock clockwork.Clock) (runFlags, error) {
	fs := flag.NewFlagSet("mosaic", flag.ContinueOnError)
	timeStr := fs.String("time", "", "Target time (RFC 3339, e.g. 2017-08-25T00:05:00Z; 2008 or later)")
	now := fs.Bool("now", false, "Use the current time as the target")
	window := fs.Duration("window", 0, "Look-back window (overrides LOOKBACK_WINDOW)")
	runID := fs.String("run-id", "", "Run identifier (UUIDv7); generated when empty")
	if err := fs.Parse(args); err != nil {
		return runFlags{}, err
	}

	f := runFlags{target: defaultTarget, window: *window, runID: model.RunID(*runID)}
	switch {
	case *timeStr != "" && *now:
		return runFlags{}, errors.New("-time and -now are mutually exclusive")
	case *now:
		f.target = clock.Now().UTC().Truncate(time.Second)
	case *timeStr != "":
		t, err := time.Parse(time.RFC3339, *timeStr)
		if err != nil {
			return runFlags{}, fmt.Errorf("time must be RFC 3339: %w", err)
		}
		f.target = t.UTC()
	}
	windowSet := false
	fs.Visit(func(fl *flag.Flag) {
		if fl.Name == "window" {
			windowSet = true
		}
	})
	if windowSet && *window <= 0 {
		return runFlags{}, fmt.Errorf("window must be positive, got %s", *window)
	}
	if f.runID != "" {
		if err := f.runID.Validate(); err != nil {
			return runFlags{}, err
		}
	}
	return f, nil
}

// archive is the read side of the radar bucket.
type archive interface {
	selector.Lister
	fetcher.Getter
}

func newArchive(ctx context.Context, cfg *config.Config) (archive, error) {
	s := cfg.Store
	if s.Backend == config.BackendS3 {
		return storage.NewS3Client(ctx, storage.S3Config{
			Bucket:    cfg.NexradBucket,
			Region:    s.Region,
			Endpoint:  s.Endpoint,
			AccessKey: s.AccessKey,
			SecretKey: s.SecretKey,
			UseSSL:    s.UseSSL,
		})
	}
	return storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Bucket:    cfg.NexradBucket,
		Region:    s.Region,
		UseSSL:    s.UseSSL,
	})
}

func newPublisher(ctx context.Context, cfg *config.Config) (pipeline.Publisher, error) {
	p := cfg.Publish
	if cfg.Store.Backend == config.BackendS3 {
		return storage.NewS3Client(ctx, storage.S3Config{
			Bucket:       p.Bucket,
			Region:       p.Region,
			Endpoint:     p.Endpoint,
			AccessKey:    p.AccessKey,
			SecretKey:    p.SecretKey,
			UseSSL:       p.UseSSL,
			UsePathStyle: true,
		})
	}
	return storage.NewMinIOClient(ctx, storage.MinIOConfig{
		Endpoint:     p.Endpoint,
		AccessKey:    p.AccessKey,
		SecretKey:    p.SecretKey,
		Bucket:       p.Bucket,
		Region:       p.Region,
		UseSSL:       p.UseSSL,
		EnsureBucket: true,
	})
}

// run wires the pipeline around store and executes one request.
func run(
	ctx context.Context,
	cfg *config.Config,
	fs afero.Fs,
	store archive,
	publisher pipeline.Publisher,
	metrics *observability.Metrics,
	clock clockwork.Clock,
	req pipeline.Request,
) (pipeline.Report, error) {
	mosaicker, err := mosaic.New(fs, cfg.Grid)
	if err != nil {
		return pipeline.Report{}, err
	}

	opts := []pipeline.Option{
		pipeline.WithMetrics(metrics),
		pipeline.WithClock(clock),
		pipeline.WithFs(fs),
	}
	if publisher != nil {
		opts = append(opts, pipeline.WithPublisher(publisher))
	}

	svc := pipeline.NewService(
		selector.New(store),
		fetcher.New(fs, store, cfg.DownloadDir),
		mosaicker,
		mosaic.NewRasterWriter(fs, cfg.RasterLevel, cfg.RasterNoData),
		opts...,
	)
	return svc.Run(ctx, req)
}

func writeMetrics(path string, metrics *observability.Metrics) {
	if path == "" {
		return
	}
	if err := metrics.WriteTextfile(path); err != nil {
		slog.Warn("failed to write metrics textfile", "path", path, "error", err)
	}
}

// exitCode maps a run failure to the process exit status.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitcode.Interrupted
	}
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) {
		return exitcode.ConfigError
	}

	switch stageErr.Stage {
	case pipeline.StageSelect:
		if errors.Is(err, pipeline.ErrNothingSelected) {
			return exitcode.NoData
		}
		return exitcode.NetworkError
	case pipeline.StageFetch:
		var fetchErr *fetcher.Error
		if errors.As(err, &fetchErr) {
			return exitcode.NetworkError
		}
		return exitcode.StorageError
	case pipeline.StageMosaic:
		return exitcode.DataError
	default:
		return exitcode.StorageError
	}
}
