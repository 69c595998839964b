package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/fetcher"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/grid"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/model"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/observability"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/selector"
	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
)

const (
	keySource      = "nexrad"
	keyProduct     = "reflectivity"
	rasterExt      = "tif"
	rasterMimeType = "image/tiff"
)

// Selector picks one volume per site.
type Selector interface {
	Select(ctx context.Context, target time.Time, window time.Duration) (selector.Result, error)
}

// Fetcher materialises selected volumes on the local filesystem.
type Fetcher interface {
	Fetch(ctx context.Context, selection selector.Selection) ([]fetcher.LocalFile, error)
}

// Mosaicker grids local volumes.
type Mosaicker interface {
	Mosaic(ctx context.Context, files []fetcher.LocalFile) (*grid.Grid, error)
}

// RasterWriter writes a grid to a raster file.
type RasterWriter interface {
	WriteRaster(ctx context.Context, g *grid.Grid, path string) error
}

// Publisher uploads finished rasters to object storage.
type Publisher interface {
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error
}

// Request holds the per-run inputs.
type Request struct {
	Target time.Time
	Window time.Duration
	RunID  model.RunID
	// OutputPath is where the raster is written. Empty skips the raster.
	OutputPath string
}

// Report summarises a completed run.
type Report struct {
	RunID        model.RunID
	Target       time.Time
	Selection    selector.Selection
	Files        []fetcher.LocalFile
	Grid         *grid.Grid
	OutputPath   string
	PublishedKey string
	Duration     time.Duration
}

// Service orchestrates a run: select, fetch, mosaic, then optionally write
// and publish the raster.
type Service struct {
	selector  Selector
	fetcher   Fetcher
	mosaicker Mosaicker
	writer    RasterWriter
	publisher Publisher
	metrics   *observability.Metrics
	clock     clockwork.Clock
	fs        afero.Fs
}

type Option func(*Service)

// WithPublisher uploads every written raster through p.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(c clockwork.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithFs sets the filesystem the written raster is read back from for publishing.
func WithFs(fs afero.Fs) Option {
	return func(s *Service) { s.fs = fs }
}

func NewService(sel Selector, f Fetcher, m Mosaicker, w RasterWriter, opts ...Option) *Service {
	s := &Service{
		selector:  sel,
		fetcher:   f,
		mosaicker: m,
		writer:    w,
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
		clock:     clockwork.NewRealClock(),
		fs:        afero.NewOsFs(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one mosaic run. The first failing stage aborts the run and is
// reported as a *StageError.
func (s *Service) Run(ctx context.Context, req Request) (Report, error) {
	if err := req.RunID.Validate(); err != nil {
		return Report{}, err
	}
	if req.Target.IsZero() {
		return Report{}, errors.New("target time is required")
	}
	if s.publisher != nil && req.OutputPath == "" {
		return Report{}, errors.New("publishing requires an output path")
	}

	start := s.clock.Now()
	report := Report{RunID: req.RunID, Target: req.Target.UTC(), OutputPath: req.OutputPath}

	slog.InfoContext(ctx, "picking appropriate files", "target", report.Target, "window", req.Window.String(), "run_id", req.RunID)
	err := s.stage(ctx, StageSelect, func() error {
		result, err := s.selector.Select(ctx, req.Target, req.Window)
		if err != nil {
			return err
		}
		s.recordSelection(result)
		if len(result.Selection) == 0 {
			return ErrNothingSelected
		}
		report.Selection = result.Selection
		return nil
	})
	if err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "downloading", "sites", len(report.Selection), "run_id", req.RunID)
	err = s.stage(ctx, StageFetch, func() error {
		files, err := s.fetcher.Fetch(ctx, report.Selection)
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.Cached {
				s.metrics.Downloads.WithLabelValues("cached").Inc()
			} else {
				s.metrics.Downloads.WithLabelValues("downloaded").Inc()
			}
		}
		report.Files = files
		return nil
	})
	if err != nil {
		return report, err
	}

	slog.InfoContext(ctx, "gridding", "volumes", len(report.Files), "run_id", req.RunID)
	err = s.stage(ctx, StageMosaic, func() error {
		g, err := s.mosaicker.Mosaic(ctx, report.Files)
		if err != nil {
			return err
		}
		s.metrics.GatesGridded.Set(float64(g.Gates))
		report.Grid = g
		return nil
	})
	if err != nil {
		return report, err
	}

	if req.OutputPath != "" && s.writer != nil {
		err = s.stage(ctx, StageWrite, func() error {
			return s.writer.WriteRaster(ctx, report.Grid, req.OutputPath)
		})
		if err != nil {
			return report, err
		}
	} else {
		report.OutputPath = ""
	}

	if s.publisher != nil && report.OutputPath != "" {
		key := storage.ObjectKey{
			Source:    keySource,
			Product:   keyProduct,
			Date:      report.Target.Format("2006-01-02"),
			RunID:     req.RunID,
			Extension: rasterExt,
		}
		err = s.stage(ctx, StagePublish, func() error {
			return s.publish(ctx, report.OutputPath, key.Key())
		})
		if err != nil {
			return report, err
		}
		report.PublishedKey = key.Key()
	}

	report.Duration = s.clock.Since(start)
	s.metrics.LastSuccess.Set(float64(s.clock.Now().Unix()))
	slog.InfoContext(ctx, "run complete",
		"run_id", req.RunID,
		"sites", len(report.Selection),
		"gates", report.Grid.Gates,
		"output", report.OutputPath,
		"published_key", report.PublishedKey,
		"duration", report.Duration.String(),
	)
	return report, nil
}

// stage times fn and wraps its error with the stage name.
func (s *Service) stage(ctx context.Context, stage Stage, fn func() error) error {
	start := s.clock.Now()
	err := fn()
	s.metrics.StageDuration.WithLabelValues(string(stage)).Observe(s.clock.Since(start).Seconds())
	if err != nil {
		slog.ErrorContext(ctx, "stage failed", "stage", stage, "error", err)
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

func (s *Service) recordSelection(result selector.Result) {
	st := result.Stats
	s.metrics.KeysListed.Add(float64(st.Listed))
	s.metrics.ListPages.Add(float64(st.Pages))
	for reason, n := range st.Skipped {
		s.metrics.KeysSkipped.WithLabelValues(string(reason)).Add(float64(n))
	}
	s.metrics.SitesSelected.Set(float64(len(result.Selection)))
}

func (s *Service) publish(ctx context.Context, path, key string) error {
	f, err := s.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open raster: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat raster: %w", err)
	}
	if err := s.publisher.Put(ctx, key, f, info.Size(), rasterMimeType); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	slog.InfoContext(ctx, "raster published", "key", key, "bytes", info.Size())
	return nil
}
