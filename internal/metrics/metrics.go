package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the service
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PlatformRequests counts outbound platform API calls by platform and status code
	PlatformRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "platform_requests_total", Help: "Outbound platform API requests."},
		[]string{"platform", "status"},
	)
	// PlatformLatency tracks outbound platform call latency in milliseconds
	PlatformLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "platform_request_latency_ms", Help: "Platform request latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"platform"},
	)
	// RateLimitWaits counts suspensions at the rate-limit gate or on 429
	RateLimitWaits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "platform_rate_limit_waits_total", Help: "Rate-limit waits by platform and reason."},
		[]string{"platform", "reason"},
	)
	// AuthRefreshes counts authentication attempts by outcome
	AuthRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "platform_auth_total", Help: "Platform authentication attempts."},
		[]string{"platform", "result"},
	)

	// OrderUpdates counts updates applied by restaurant actors
	OrderUpdates = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "order_updates_total", Help: "Order updates processed by the sync hub."},
		[]string{"platform", "result"},
	)
	// FanoutFailures counts pushes to dashboard connections that failed
	FanoutFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "fanout_failures_total", Help: "Failed pushes to subscriber connections."},
	)
	// SinkPublishes counts downstream event publishes by outcome
	SinkPublishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sink_publish_total", Help: "Change events published downstream."},
		[]string{"result"},
	)
	// ActiveConnections is the number of attached dashboard connections
	ActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "active_connections", Help: "Live dashboard connections."},
	)
	// ActiveActors is the number of running restaurant actors
	ActiveActors = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "active_restaurant_actors", Help: "Running restaurant actors."},
	)
)

// RegisterDefault registers collectors to the service registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PlatformRequests)
		Registry.MustRegister(PlatformLatency)
		Registry.MustRegister(RateLimitWaits)
		Registry.MustRegister(AuthRefreshes)
		Registry.MustRegister(OrderUpdates)
		Registry.MustRegister(FanoutFailures)
		Registry.MustRegister(SinkPublishes)
		Registry.MustRegister(ActiveConnections)
		Registry.MustRegister(ActiveActors)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
