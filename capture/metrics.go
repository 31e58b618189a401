package capture

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the Prometheus collectors of a Capturer. A nil *Metrics
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	started  prometheus.Counter
	finished *prometheus.CounterVec
	active   prometheus.Gauge
	duration prometheus.Histogram
	assets   *prometheus.CounterVec
	bytes    prometheus.Counter
	coverage prometheus.Histogram
}

// NewMetrics registers the capture collectors on a fresh registry.
func NewMetrics() *Metrics {
	const ns = "pagesnap"
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "captures_started_total",
			Help: "Capture sessions admitted.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "captures_finished_total",
			Help: "Capture sessions by terminal state and reason.",
		}, []string{"state", "reason"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "captures_active",
			Help: "Capture sessions currently running.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "capture_duration_seconds",
			Help:    "Wall-clock duration of successful captures.",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		}),
		assets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "assets_total",
			Help: "Assets by outcome.",
		}, []string{"outcome"}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "archive_bytes_total",
			Help: "Bytes of archives produced.",
		}),
		coverage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Name: "capture_coverage_pct",
			Help:    "Asset coverage of successful captures.",
			Buckets: []float64{50, 75, 90, 95, 99, 100},
		}),
	}
	m.registry.MustRegister(m.started, m.finished, m.active, m.duration, m.assets, m.bytes, m.coverage,
		prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.started.Inc()
	m.active.Inc()
}

func (m *Metrics) sessionFinished(res *Result) {
	if m == nil {
		return
	}
	m.active.Dec()
	m.finished.WithLabelValues(string(res.State), res.Reason).Inc()
	if res.State != StateDone || res.Report == nil {
		return
	}
	st := res.Report.Stats
	m.duration.Observe(float64(st.DurationMs) / 1000)
	m.assets.WithLabelValues("downloaded").Add(float64(st.AssetsDownloaded))
	m.assets.WithLabelValues("failed").Add(float64(st.AssetsFailed))
	m.assets.WithLabelValues("skipped").Add(float64(st.AssetsSkipped))
	m.bytes.Add(float64(st.ArchiveBytes))
	m.coverage.Observe(float64(st.CoveragePct))
}
