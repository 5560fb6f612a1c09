package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/abramin/namelens/internal/mapping"
)

// Lookup paths recorded by Metrics.
const (
	pathReady  = "ready"
	pathJoined = "joined"
	pathBuilt  = "built"
)

// Metrics holds the prometheus collectors for a Cache. A nil *Metrics
// records nothing.
type Metrics struct {
	lookups       *prometheus.CounterVec
	builds        *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	datasets      prometheus.Gauge
}

// NewMetrics registers the cache collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "namelens",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Dataset acquisitions by path: ready, joined an in-flight build, or started a build.",
		}, []string{"path"}),
		builds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "namelens",
			Subsystem: "cache",
			Name:      "builds_total",
			Help:      "Finished dataset builds by kind and outcome.",
		}, []string{"kind", "outcome"}),
		buildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "namelens",
			Subsystem: "cache",
			Name:      "build_duration_seconds",
			Help:      "Time spent fetching and parsing a version.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"kind"}),
		datasets: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "namelens",
			Subsystem: "cache",
			Name:      "datasets",
			Help:      "Number of published datasets.",
		}),
	}
}

func (m *Metrics) lookup(path string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(path).Inc()
}

func (m *Metrics) build(ev BuildEvent) {
	if m == nil {
		return
	}
	kind := "build"
	if ev.Reload {
		kind = "reload"
	}
	m.builds.WithLabelValues(kind, Outcome(ev.Err)).Inc()
	m.buildDuration.WithLabelValues(kind).Observe(ev.Duration.Seconds())
}

func (m *Metrics) setDatasets(n int) {
	if m == nil {
		return
	}
	m.datasets.Set(float64(n))
}

// Outcome classifies a build error for metrics and build history.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case mapping.IsNoSuchVersion(err):
		return "no_such_version"
	case mapping.IsParseError(err):
		return "parse_error"
	default:
		return "error"
	}
}
