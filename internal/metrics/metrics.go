// Package metrics exports ingestion metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JonMunkholm/healthingest/internal/core"
	"github.com/JonMunkholm/healthingest/internal/report"
)

const namespace = "healthingest"

// Collector records pipeline and HTTP metrics on its own registry.
// It satisfies pipeline.Observer.
type Collector struct {
	registry *prometheus.Registry

	stageDuration   *prometheus.HistogramVec
	reportsTotal    *prometheus.CounterVec
	recordsTotal    *prometheus.CounterVec
	issuesTotal     *prometheus.CounterVec
	duplicatesTotal prometheus.Counter
	quarantined     prometheus.Counter
	qualityScore    prometheus.Histogram
	persistedTotal  *prometheus.CounterVec

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a collector with Go and process collectors registered.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of each ingestion stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"stage"}),
		reportsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reports_total",
			Help:      "Finished reports by status, format and domain type.",
		}, []string{"status", "format", "domain"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Validated records by outcome.",
		}, []string{"outcome"}),
		issuesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "issues_total",
			Help:      "Report issues by support code.",
		}, []string{"code"}),
		duplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_candidates_total",
			Help:      "Duplicate candidates raised.",
		}),
		quarantined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quarantined_total",
			Help:      "Batches held in quarantine.",
		}),
		qualityScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "quality_score",
			Help:      "Quality score of validated files.",
			Buckets:   []float64{10, 25, 50, 80, 90, 95, 99, 100},
		}),
		persistedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persisted_records_total",
			Help:      "Records written by commits.",
		}, []string{"op"}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"method", "route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.stageDuration,
		c.reportsTotal,
		c.recordsTotal,
		c.issuesTotal,
		c.duplicatesTotal,
		c.quarantined,
		c.qualityScore,
		c.persistedTotal,
		c.requestsTotal,
		c.requestDuration,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// StageDone observes one stage duration.
func (c *Collector) StageDone(stage string, d time.Duration) {
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ReportBuilt counts a finished report.
func (c *Collector) ReportBuilt(rep *report.Report) {
	if rep == nil {
		return
	}
	format := string(rep.Format)
	if format == "" {
		format = "none"
	}
	c.reportsTotal.WithLabelValues(string(rep.Status), format, string(rep.Domain.Type)).Inc()
	for _, is := range rep.Issues {
		c.issuesTotal.WithLabelValues(is.Code).Inc()
	}
	if rep.Validation.Total > 0 {
		c.recordsTotal.WithLabelValues("valid").Add(float64(rep.Validation.Valid))
		c.recordsTotal.WithLabelValues("invalid").Add(float64(rep.Validation.Invalid))
		c.qualityScore.Observe(rep.Validation.QualityScore)
	}
	c.duplicatesTotal.Add(float64(len(rep.Duplicates)))
	if rep.Quarantined {
		c.quarantined.Inc()
	}
}

// Committed counts persisted records.
func (c *Collector) Committed(res core.PersistResult) {
	c.persistedTotal.WithLabelValues("inserted").Add(float64(res.Inserted))
	c.persistedTotal.WithLabelValues("updated").Add(float64(res.Updated))
	c.persistedTotal.WithLabelValues("skipped").Add(float64(res.Skipped))
}

// TrackLimiter exports the limiter occupancy read from status on scrape.
func (c *Collector) TrackLimiter(status func() (active, capacity int)) {
	c.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingests_active",
			Help:      "Files currently being ingested.",
		}, func() float64 {
			a, _ := status()
			return float64(a)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ingests_capacity",
			Help:      "Maximum concurrent ingests.",
		}, func() float64 {
			_, n := status()
			return float64(n)
		}),
	)
}

// Middleware records request counts and latency by chi route pattern.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
