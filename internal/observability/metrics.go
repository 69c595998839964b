package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "nexrad_mosaic"

// Metrics holds the Prometheus collectors for one mosaic run. The run is a
// batch job, so values are exported once through WriteTextfile rather than scraped.
type Metrics struct {
	registry *prometheus.Registry

	// Selection metrics.
	KeysListed    prometheus.Counter
	KeysSkipped   *prometheus.CounterVec // labels: reason={junk,malformed,unparseable,future}
	ListPages     prometheus.Counter
	SitesSelected prometheus.Gauge

	Downloads    *prometheus.CounterVec // labels: result={downloaded,cached}
	GatesGridded prometheus.Gauge

	StageDuration *prometheus.HistogramVec // labels: stage
	LastSuccess   prometheus.Gauge
}

// NewMetrics creates all run metrics and registers them with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		KeysListed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_listed_total",
			Help:      "Object keys returned by archive listings.",
		}),
		KeysSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_skipped_total",
			Help:      "Listed keys that were not candidates, by reason.",
		}, []string{"reason"}),
		ListPages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "list_pages_total",
			Help:      "Listing pages fetched from the archive.",
		}),
		SitesSelected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sites_selected",
			Help:      "Radar sites with a volume at or before the target time.",
		}),
		Downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "volumes_fetched_total",
			Help:      "Volumes materialised locally, by whether they were downloaded or already cached.",
		}, []string{"result"}),
		GatesGridded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gates_gridded",
			Help:      "Reflectivity gates that contributed to the mosaic.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time at which the last run completed successfully.",
		}),
	}

	registry.MustRegister(
		m.KeysListed,
		m.KeysSkipped,
		m.ListPages,
		m.SitesSelected,
		m.Downloads,
		m.GatesGridded,
		m.StageDuration,
		m.LastSuccess,
	)

	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry.
func NewMetricsForTesting() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// WriteTextfile writes every registered metric to path in the text exposition
// format, for collection by a node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}
