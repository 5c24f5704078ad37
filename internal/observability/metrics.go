package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yungbote/neuroscout-backend/internal/platform/envutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing, so callers never need to check Enabled.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	compiles      *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	reports       *prometheus.CounterVec

	materialized *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec

	extractedEvents *prometheus.CounterVec

	jobs        *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

// Current returns the process metrics, or nil when Init has not run.
func Current() *Metrics {
	return instance
}

// Init builds the process-wide registry once.
func Init(log *logger.Logger) *Metrics {
	initOnce.Do(func() {
		m, err := NewMetrics(prometheus.NewRegistry())
		if err != nil {
			if log != nil {
				log.Warn("metrics init failed", "error", err)
			}
			return
		}
		instance = m
		if log != nil {
			log.Info("metrics enabled")
		}
	})
	return instance
}

// NewMetrics registers all collectors on registry, including Go runtime
// and process collectors.
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) initMetrics() {
	m.apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroscout_api_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "status"},
	)
	m.apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuroscout_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	m.apiInflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "neuroscout_api_inflight_requests",
		Help: "HTTP requests currently being served",
	})

	m.compiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroscout_analysis_compiles_total",
			Help: "Analysis compilations by outcome and failing phase",
		},
		[]string{"outcome", "phase"}, // outcome: passed, failed
	)
	// Bundles of a few runs build in milliseconds; whole-dataset bundles take minutes.
	m.buildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuroscout_bundle_build_duration_seconds",
			Help:    "Time spent per compile step",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 16),
		},
		[]string{"step"}, // step: materialize, build, tarball, upload
	)
	m.reports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroscout_reports_total",
			Help: "Design matrix reports by outcome",
		},
		[]string{"outcome"},
	)

	m.materialized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroscout_materialized_events_total",
			Help: "Predictor events produced by materialization",
		},
		[]string{"consumer"}, // consumer: api, compile, report
	)
	m.cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroscout_event_cache_lookups_total",
			Help: "Materialized event cache lookups",
		},
		[]string{"result"}, // result: hit, miss, shared
	)

	m.extractedEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroscout_extracted_events_total",
			Help: "Extracted events stored by extractor",
		},
		[]string{"extractor"},
	)

	m.jobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neuroscout_jobs_total",
			Help: "Finished job runs by type and status",
		},
		[]string{"job_type", "status"},
	)
	m.jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neuroscout_job_duration_seconds",
			Help:    "Job run wall time",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 16),
		},
		[]string{"job_type"},
	)
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.compiles, m.buildDuration, m.reports,
		m.materialized, m.cacheLookups, m.extractedEvents,
		m.jobs, m.jobDuration,
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range m.collectors() {
		c.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	for _, c := range m.collectors() {
		c.Collect(ch)
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) APIInflightInc() {
	if m != nil {
		m.apiInflight.Inc()
	}
}

func (m *Metrics) APIInflightDec() {
	if m != nil {
		m.apiInflight.Dec()
	}
}

// ObserveCompile counts a finished compilation. phase is empty on success.
func (m *Metrics) ObserveCompile(outcome, phase string) {
	if m == nil {
		return
	}
	m.compiles.WithLabelValues(outcome, phase).Inc()
}

func (m *Metrics) ObserveBuildStep(step string, dur time.Duration) {
	if m == nil {
		return
	}
	m.buildDuration.WithLabelValues(step).Observe(dur.Seconds())
}

func (m *Metrics) ObserveReport(outcome string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(outcome).Inc()
}

func (m *Metrics) AddMaterialized(consumer string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.materialized.WithLabelValues(consumer).Add(float64(n))
}

func (m *Metrics) IncCacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) AddExtractedEvents(extractor string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.extractedEvents.WithLabelValues(extractor).Add(float64(n))
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(jobType, status).Inc()
	m.jobDuration.WithLabelValues(jobType).Observe(dur.Seconds())
}
