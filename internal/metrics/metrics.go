// Package metrics holds the gateway's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/devops-mcp-gateway/internal/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mcp_gateway_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"method", "path"})

	rpcCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_rpc_calls_total",
		Help: "Total JSON-RPC calls by method and outcome.",
	}, []string{"method", "outcome"})

	inflightCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "mcp_gateway_inflight_tool_calls",
		Help: "Tool calls currently waiting on the upstream.",
	})

	cancellationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_cancellations_total",
		Help: "tools/cancel requests by whether a live call was aborted.",
	}, []string{"result"})

	upstreamTransportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_upstream_responses_total",
		Help: "Upstream completions by the transport the upstream actually used.",
	}, []string{"transport"})

	upstreamDeltasTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_upstream_deltas_total",
		Help: "Text deltas received from the upstream.",
	})

	upstreamSkippedLinesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "mcp_gateway_upstream_skipped_lines_total",
		Help: "Malformed or empty event-stream lines skipped.",
	})

	upstreamHealthChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mcp_gateway_upstream_health_checks_total",
		Help: "Upstream health probes by result.",
	}, []string{"result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// Handler returns a Gin handler that serves Prometheus metrics.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordRPC records the outcome of one JSON-RPC call.
func RecordRPC(method, outcome string) {
	rpcCallsTotal.WithLabelValues(method, outcome).Inc()
}

// TrackInflight increments the in-flight gauge and returns its decrement.
func TrackInflight() func() {
	inflightCalls.Inc()
	return inflightCalls.Dec
}

// RecordCancel records a tools/cancel request.
func RecordCancel(found bool) {
	if found {
		cancellationsTotal.WithLabelValues("aborted").Inc()
	} else {
		cancellationsTotal.WithLabelValues("noop").Inc()
	}
}

// RecordHealthCheck records an upstream health probe result.
func RecordHealthCheck(success bool) {
	if success {
		upstreamHealthChecksTotal.WithLabelValues("success").Inc()
	} else {
		upstreamHealthChecksTotal.WithLabelValues("failure").Inc()
	}
}

// Upstream implements upstream.Recorder on the package collectors.
type Upstream struct{}

var _ upstream.Recorder = Upstream{}

func (Upstream) Transport(t upstream.Transport) {
	upstreamTransportsTotal.WithLabelValues(string(t)).Inc()
}

func (Upstream) Delta() { upstreamDeltasTotal.Inc() }

func (Upstream) SkippedLine() { upstreamSkippedLinesTotal.Inc() }
