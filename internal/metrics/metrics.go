// Package metrics provides Prometheus metrics for FragmentForge monitoring.
// Exports run, agent, tool, gateway and AI provider metrics.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	instance *Metrics
)

// Metrics holds all Prometheus metric collectors for FragmentForge
type Metrics struct {
	// Run metrics
	RunsTotal     *prometheus.CounterVec // flow, outcome
	RunIterations *prometheus.HistogramVec
	RunDuration   *prometheus.HistogramVec
	RunsInFlight  prometheus.Gauge

	// Tool metrics
	ToolInvocationsTotal *prometheus.CounterVec // tool, status
	ToolDuration         *prometheus.HistogramVec

	// Container gateway metrics
	GatewayRequestsTotal *prometheus.CounterVec // op, status
	GatewayDuration      *prometheus.HistogramVec

	// AI provider metrics
	AIRequestsTotal   *prometheus.CounterVec // provider, status
	AITokensUsed      *prometheus.CounterVec // provider, kind
	AIRequestDuration *prometheus.HistogramVec

	// Routing metrics
	RoutingDecisionsTotal *prometheus.CounterVec // conversation_type

	// HTTP metrics
	HTTPRequestsTotal *prometheus.CounterVec // method, path, status
	HTTPDuration      *prometheus.HistogramVec
}

// Get returns the singleton metrics instance, registering collectors once.
func Get() *Metrics {
	once.Do(func() {
		instance = &Metrics{
			RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fragmentforge_runs_total",
				Help: "Total agent network runs by flow and outcome",
			}, []string{"flow", "outcome"}),
			RunIterations: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fragmentforge_run_iterations",
				Help:    "Iterations consumed per run",
				Buckets: []float64{1, 2, 3, 5, 8, 13, 20, 25},
			}, []string{"flow"}),
			RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fragmentforge_run_duration_seconds",
				Help:    "Wall-clock run duration",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			}, []string{"flow"}),
			RunsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "fragmentforge_runs_in_flight",
				Help: "Currently executing runs",
			}),
			ToolInvocationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fragmentforge_tool_invocations_total",
				Help: "Tool handler invocations by tool and status",
			}, []string{"tool", "status"}),
			ToolDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fragmentforge_tool_duration_seconds",
				Help:    "Tool handler duration",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			}, []string{"tool"}),
			GatewayRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fragmentforge_gateway_requests_total",
				Help: "Container gateway requests by operation and status",
			}, []string{"op", "status"}),
			GatewayDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fragmentforge_gateway_request_duration_seconds",
				Help:    "Container gateway request duration",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			}, []string{"op"}),
			AIRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fragmentforge_ai_requests_total",
				Help: "Model inference requests by provider and status",
			}, []string{"provider", "status"}),
			AITokensUsed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fragmentforge_ai_tokens_total",
				Help: "Tokens consumed by provider and kind (prompt/completion)",
			}, []string{"provider", "kind"}),
			AIRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fragmentforge_ai_request_duration_seconds",
				Help:    "Model inference duration",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			}, []string{"provider"}),
			RoutingDecisionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fragmentforge_routing_decisions_total",
				Help: "Routing decisions by conversation type",
			}, []string{"conversation_type"}),
			HTTPRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "fragmentforge_http_requests_total",
				Help: "HTTP requests by method, route and status",
			}, []string{"method", "path", "status"}),
			HTTPDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "fragmentforge_http_request_duration_seconds",
				Help:    "HTTP request latency by route",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			}, []string{"method", "path"}),
		}
	})
	return instance
}

// ObserveRun records a completed run.
func ObserveRun(flow, outcome string, iterations int, elapsed time.Duration) {
	m := Get()
	m.RunsTotal.WithLabelValues(flow, outcome).Inc()
	m.RunIterations.WithLabelValues(flow).Observe(float64(iterations))
	m.RunDuration.WithLabelValues(flow).Observe(elapsed.Seconds())
}

// ObserveTool records one tool handler invocation.
func ObserveTool(tool, status string, elapsed time.Duration) {
	m := Get()
	m.ToolInvocationsTotal.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveGateway records one container gateway round-trip.
func ObserveGateway(op, status string, elapsed time.Duration) {
	m := Get()
	m.GatewayRequestsTotal.WithLabelValues(op, status).Inc()
	m.GatewayDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveHTTP records one HTTP request.
func ObserveHTTP(method, path string, status int, elapsed time.Duration) {
	m := Get()
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
}
