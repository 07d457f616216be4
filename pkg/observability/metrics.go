package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Webhook metrics
	WebhooksReceivedTotal *prometheus.CounterVec

	// Provisioning metrics
	UsersProvisionedTotal  *prometheus.CounterVec
	ProvisionErrorsTotal   *prometheus.CounterVec
	DownstreamCallDuration *prometheus.HistogramVec

	// Forward-auth metrics
	AuthRequestsTotal *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerOpen       *prometheus.GaugeVec
	BreakerOpensTotal *prometheus.CounterVec

	// Shadow store metrics
	ShadowUsersTotal     prometheus.Gauge
	StoreOperationsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Token issuer metrics
	TokensIssuedTotal prometheus.Counter

	// Audit metrics
	AuditEventsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idbridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		WebhooksReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_webhooks_received_total",
				Help: "Total number of identity-provider webhooks received",
			},
			[]string{"provider", "status"},
		),

		UsersProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_users_provisioned_total",
				Help: "Total number of users provisioned per downstream target",
			},
			[]string{"target"},
		),
		ProvisionErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_provision_errors_total",
				Help: "Total number of failed downstream provisioning calls",
			},
			[]string{"target"},
		),
		DownstreamCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idbridge_downstream_call_duration_seconds",
				Help:    "Downstream admin API call duration in seconds",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"target", "operation"},
		),

		AuthRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_auth_requests_total",
				Help: "Total number of forward-auth requests by outcome",
			},
			[]string{"downstream", "outcome"},
		),

		BreakerOpen: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "idbridge_breaker_open",
				Help: "Circuit breaker state per downstream (1 = open)",
			},
			[]string{"downstream"},
		),
		BreakerOpensTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_breaker_opens_total",
				Help: "Total number of circuit breaker open transitions",
			},
			[]string{"downstream"},
		),

		ShadowUsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idbridge_shadow_users",
				Help: "Number of shadow users currently in the store",
			},
		),
		StoreOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_store_operations_total",
				Help: "Total number of shadow store operations",
			},
			[]string{"operation", "backend", "status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		TokensIssuedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idbridge_tokens_issued_total",
				Help: "Total number of service tokens issued",
			},
		),

		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idbridge_audit_events_total",
				Help: "Total number of audit events recorded",
			},
			[]string{"event_type"},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WebhooksReceivedTotal,
		m.UsersProvisionedTotal,
		m.ProvisionErrorsTotal,
		m.DownstreamCallDuration,
		m.AuthRequestsTotal,
		m.BreakerOpen,
		m.BreakerOpensTotal,
		m.ShadowUsersTotal,
		m.StoreOperationsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.TokensIssuedTotal,
		m.AuditEventsTotal,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// The path label uses the route pattern when the router supplies one via
// the pattern callback, keeping label cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics, pattern func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			path := r.URL.Path
			if pattern != nil {
				if p := pattern(r); p != "" {
					path = p
				}
			}

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
