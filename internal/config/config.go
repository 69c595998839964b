package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kacper-wojtaszczyk/nexrad-mosaic/internal/grid"
)

// Store backends.
const (
	BackendMinIO = "minio"
	BackendS3    = "s3"
)

// Config holds application configuration.
type Config struct {
	NexradBucket string
	Store        StoreConfig

	LookbackWindow time.Duration
	DownloadDir    string
	// OutputPath is the GeoTIFF destination. Empty disables the raster.
	OutputPath string

	Grid         grid.Spec
	RasterLevel  int
	RasterNoData float64

	Publish PublishConfig

	MetricsTextfile string
	LogLevel        slog.Level
}

// StoreConfig describes the archive bucket connection. Without an access key
// the archive is read anonymously.
type StoreConfig struct {
	Backend   string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// PublishConfig describes where finished rasters are uploaded.
type PublishConfig struct {
	Bucket    string
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Enabled reports whether publishing is configured.
func (p PublishConfig) Enabled() bool {
	return p.Bucket != ""
}

type ErrMissingRequiredEnvVar struct {
	Name string
}

func (e *ErrMissingRequiredEnvVar) Error() string {
	return fmt.Sprintf("required environment variable %q is not set", e.Name)
}

// InvalidValueError reports an environment variable that is set but unusable.
type InvalidValueError struct {
	Name  string
	Value string
	Err   error
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q for environment variable %q: %v", e.Value, e.Name, e.Err)
}

func (e *InvalidValueError) Unwrap() error {
	return e.Err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Load reads configuration from environment variables, applying defaults
// where unset. Publishing credentials are required once PUBLISH_BUCKET is set.
func Load() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		NexradBucket: getEnv("NEXRAD_BUCKET", "noaa-nexrad-level2"),
		Store: StoreConfig{
			Backend:   strings.ToLower(getEnv("STORE_BACKEND", BackendMinIO)),
			Endpoint:  getEnv("STORE_ENDPOINT", "s3.amazonaws.com"),
			Region:    getEnv("STORE_REGION", "us-east-1"),
			AccessKey: os.Getenv("STORE_ACCESS_KEY"),
			SecretKey: os.Getenv("STORE_SECRET_KEY"),
			UseSSL:    p.getBool("STORE_USE_SSL", true),
		},
		LookbackWindow: p.getDuration("LOOKBACK_WINDOW", 15*time.Minute),
		DownloadDir:    getEnv("DOWNLOAD_DIR", "/tmp"),
		OutputPath:     getEnv("OUTPUT_PATH", "/tmp/grid.tif"),
		RasterLevel:    p.getInt("RASTER_LEVEL", 0),
		RasterNoData:   p.getFloat("RASTER_NODATA", -9999),
		Publish: PublishConfig{
			Bucket:    os.Getenv("PUBLISH_BUCKET"),
			Endpoint:  os.Getenv("PUBLISH_ENDPOINT"),
			Region:    getEnv("PUBLISH_REGION", "us-east-1"),
			AccessKey: os.Getenv("PUBLISH_ACCESS_KEY"),
			SecretKey: os.Getenv("PUBLISH_SECRET_KEY"),
			UseSSL:    p.getBool("PUBLISH_USE_SSL", false),
		},
		MetricsTextfile: os.Getenv("METRICS_TEXTFILE"),
		LogLevel:        p.getLogLevel("LOG_LEVEL", slog.LevelInfo),
	}
	cfg.Grid = p.getGrid()
	if p.err != nil {
		return nil, p.err
	}

	if cfg.Store.Backend != BackendMinIO && cfg.Store.Backend != BackendS3 {
		return nil, &InvalidValueError{Name: "STORE_BACKEND", Value: cfg.Store.Backend, Err: fmt.Errorf("want %q or %q", BackendMinIO, BackendS3)}
	}
	if cfg.Store.AccessKey != "" && cfg.Store.SecretKey == "" {
		return nil, &ErrMissingRequiredEnvVar{Name: "STORE_SECRET_KEY"}
	}
	if err := cfg.Grid.Validate(); err != nil {
		return nil, err
	}
	if cfg.RasterLevel < 0 || cfg.RasterLevel >= cfg.Grid.Shape[0] {
		return nil, &InvalidValueError{Name: "RASTER_LEVEL", Value: strconv.Itoa(cfg.RasterLevel), Err: fmt.Errorf("grid has %d levels", cfg.Grid.Shape[0])}
	}

	if cfg.Publish.Enabled() {
		if cfg.OutputPath == "" {
			return nil, &ErrMissingRequiredEnvVar{Name: "OUTPUT_PATH"}
		}
		for _, req := range []struct{ name, value string }{
			{"PUBLISH_ENDPOINT", cfg.Publish.Endpoint},
			{"PUBLISH_ACCESS_KEY", cfg.Publish.AccessKey},
			{"PUBLISH_SECRET_KEY", cfg.Publish.SecretKey},
		} {
			if req.value == "" {
				return nil, &ErrMissingRequiredEnvVar{Name: req.name}
			}
		}
	}

	return cfg, nil
}

// parser records the first invalid value so Load can report it once.
type parser struct {
	err error
}

func (p *parser) fail(name, value string, err error) {
	if p.err == nil {
		p.err = &InvalidValueError{Name: name, Value: value, Err: err}
	}
}

func (p *parser) getBool(name string, fallback bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(name, v, err)
	}
	return b
}

func (p *parser) getInt(name string, fallback int) int {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		p.fail(name, v, err)
	}
	return n
}

func (p *parser) getFloat(name string, fallback float64) float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		p.fail(name, v, err)
	}
	return f
}

func (p *parser) getDuration(name string, fallback time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(name, v, err)
		return 0
	}
	if d <= 0 {
		p.fail(name, v, fmt.Errorf("must be positive"))
	}
	return d
}

func (p *parser) getLogLevel(name string, fallback slog.Level) slog.Level {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		p.fail(name, v, err)
	}
	return level
}

// getFloats parses a comma-separated list of exactly n numbers.
func (p *parser) getFloats(name string, fallback []float64) []float64 {
	v := os.Getenv(name)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	if len(parts) != len(fallback) {
		p.fail(name, v, fmt.Errorf("want %d comma-separated values, got %d", len(fallback), len(parts)))
		return fallback
	}
	out := make([]float64, len(parts))
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			p.fail(name, v, err)
			return fallback
		}
		out[i] = f
	}
	return out
}

func (p *parser) getLimits(name string, fallback [2]float64) [2]float64 {
	v := p.getFloats(name, fallback[:])
	return [2]float64{v[0], v[1]}
}

func (p *parser) getGrid() grid.Spec {
	spec := grid.DefaultSpec()

	shape := p.getFloats("GRID_SHAPE", []float64{float64(spec.Shape[0]), float64(spec.Shape[1]), float64(spec.Shape[2])})
	for i, n := range shape {
		if n != float64(int(n)) {
			p.fail("GRID_SHAPE", os.Getenv("GRID_SHAPE"), fmt.Errorf("%v is not an integer", n))
		}
		spec.Shape[i] = int(n)
	}
	spec.ZLimits = p.getLimits("GRID_Z_LIMITS", spec.ZLimits)
	spec.LatLimits = p.getLimits("GRID_LAT_LIMITS", spec.LatLimits)
	spec.LonLimits = p.getLimits("GRID_LON_LIMITS", spec.LonLimits)

	if v := os.Getenv("GRID_WEIGHTING"); v != "" {
		w, err := grid.ParseWeighting(v)
		if err != nil {
			p.fail("GRID_WEIGHTING", v, err)
		}
		spec.Weighting = w
	}
	spec.MinRadius = p.getFloat("GRID_MIN_RADIUS", spec.MinRadius)
	spec.HFactor = p.getFloat("GRID_H_FACTOR", spec.HFactor)
	spec.NB = p.getFloat("GRID_NB", spec.NB)
	spec.BSP = p.getFloat("GRID_BSP", spec.BSP)
	spec.MaxRefl = p.getFloat("GRID_MAX_REFL", spec.MaxRefl)
	return spec
}
