// Package metrics exposes Prometheus counters and histograms for the HTTP
// layer and for verify/settle outcomes broken down by network and scheme.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every registered collector. One instance per process.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	verifyTotal     *prometheus.CounterVec
	settleTotal     *prometheus.CounterVec
	activeRequests  prometheus.Gauge
}

// New builds and registers the facilitator's metrics.
func New() *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_facilitator_requests_total",
			Help: "Total HTTP requests by path and status code.",
		}, []string{"path", "method", "status"}),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "x402_facilitator_request_duration_seconds",
			Help:    "HTTP request latency by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path", "method"}),

		verifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_facilitator_verify_total",
			Help: "Verify calls by network, scheme, and outcome.",
		}, []string{"network", "scheme", "success"}),

		settleTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "x402_facilitator_settle_total",
			Help: "Settle calls by network, scheme, and outcome.",
		}, []string{"network", "scheme", "success"}),

		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "x402_facilitator_active_requests",
			Help: "In-flight HTTP requests.",
		}),
	}

	prometheus.MustRegister(m.requestsTotal, m.requestDuration, m.verifyTotal, m.settleTotal, m.activeRequests)
	return m
}

// Middleware tracks in-flight requests, latency, and status per path.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.activeRequests.Inc()
		defer m.activeRequests.Dec()

		start := time.Now()
		c.Next()
		elapsed := time.Since(start).Seconds()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		m.requestDuration.WithLabelValues(path, c.Request.Method).Observe(elapsed)
		m.requestsTotal.WithLabelValues(path, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

// RecordVerify logs one /verify outcome.
func (m *Metrics) RecordVerify(network, scheme string, success bool) {
	m.verifyTotal.WithLabelValues(network, scheme, strconv.FormatBool(success)).Inc()
}

// RecordSettle logs one /settle outcome.
func (m *Metrics) RecordSettle(network, scheme string, success bool) {
	m.settleTotal.WithLabelValues(network, scheme, strconv.FormatBool(success)).Inc()
}

// Handler exposes the collectors for Prometheus scraping.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) { h.ServeHTTP(c.Writer, c.Request) }
}
