// Package telemetry exposes HTTP server metrics and process health gauges in
// Prometheus format. Each provider owns its own registry so that several
// services (or tests) can live in one process.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// TelemetryConfig holds all configuration for the telemetry provider.
type TelemetryConfig struct {
	ServiceName    string `json:"service_name"`
	ServiceVersion string `json:"service_version"`
	Environment    string `json:"environment"`
	MetricsEnabled *bool  `json:"metrics_enabled"` // nil = use default (true)
	// RuntimeMetrics adds the Go runtime and process collectors.
	RuntimeMetrics bool `json:"runtime_metrics"`
}

// metricsOn returns whether metrics are enabled (defaults to true).
func (c *TelemetryConfig) metricsOn() bool {
	if c.MetricsEnabled == nil {
		return true
	}
	return *c.MetricsEnabled
}

func (c *TelemetryConfig) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "ehr-server"
	}
	if c.ServiceVersion == "" {
		c.ServiceVersion = "0.0.0"
	}
	if c.Environment == "" {
		c.Environment = "development"
	}
}

// BoolPtr is a helper to create a *bool for TelemetryConfig fields.
func BoolPtr(b bool) *bool {
	return &b
}

// ---------------------------------------------------------------------------
// Provider
// ---------------------------------------------------------------------------

var (
	defaultDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	defaultSizeBuckets     = prometheus.ExponentialBuckets(64, 4, 8)
)

// routeUnmatched labels requests that matched no route, keeping label
// cardinality bounded.
const routeUnmatched = "unmatched"

// TelemetryProvider owns a Prometheus registry and the HTTP server metrics
// registered on it.
type TelemetryProvider struct {
	cfg      TelemetryConfig
	registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	activeRequests  prometheus.Gauge
	requestSize     prometheus.Histogram
	responseSize    prometheus.Histogram

	dbPoolActive prometheus.Gauge
	dbPoolIdle   prometheus.Gauge
	dbPoolTotal  prometheus.Gauge
}

// NewTelemetryProvider creates a provider with a fresh registry.
func NewTelemetryProvider(cfg TelemetryConfig) *TelemetryProvider {
	cfg.applyDefaults()
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	tp := &TelemetryProvider{
		cfg:      cfg,
		registry: reg,
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: defaultDurationBuckets,
		}, []string{"method", "route", "status_code"}),
		activeRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Number of active HTTP requests.",
		}),
		requestSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "http_server_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes.",
			Buckets: defaultSizeBuckets,
		}),
		responseSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "http_server_response_size_bytes",
			Help:    "Size of HTTP response bodies in bytes.",
			Buckets: defaultSizeBuckets,
		}),
		dbPoolActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_active_connections",
			Help: "Number of active database pool connections.",
		}),
		dbPoolIdle: f.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_idle_connections",
			Help: "Number of idle database pool connections.",
		}),
		dbPoolTotal: f.NewGauge(prometheus.GaugeOpts{
			Name: "db_pool_total_connections",
			Help: "Total number of database pool connections.",
		}),
	}

	info := f.NewGauge(prometheus.GaugeOpts{
		Name: "ehr_build_info",
		Help: "Service identity; always 1.",
		ConstLabels: prometheus.Labels{
			"service":     cfg.ServiceName,
			"version":     cfg.ServiceVersion,
			"environment": cfg.Environment,
		},
	})
	info.Set(1)

	if cfg.RuntimeMetrics {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return tp
}

// Registry is the registerer other components (validators, caches) attach
// their own collectors to.
func (tp *TelemetryProvider) Registry() *prometheus.Registry {
	return tp.registry
}

// Shutdown is a no-op; metrics are pull-based.
func (tp *TelemetryProvider) Shutdown(_ context.Context) error {
	return nil
}

// Resource returns the service identity attributes.
func (tp *TelemetryProvider) Resource() map[string]string {
	return map[string]string{
		"service.name":           tp.cfg.ServiceName,
		"service.version":        tp.cfg.ServiceVersion,
		"deployment.environment": tp.cfg.Environment,
	}
}

// ---------------------------------------------------------------------------
// Health metrics
// ---------------------------------------------------------------------------

// HealthMetricsRecorder sets connection pool gauges.
type HealthMetricsRecorder struct {
	tp *TelemetryProvider
}

func (tp *TelemetryProvider) HealthMetrics() *HealthMetricsRecorder {
	return &HealthMetricsRecorder{tp: tp}
}

func (h *HealthMetricsRecorder) SetDBPool(active, idle, total int64) {
	h.tp.dbPoolActive.Set(float64(active))
	h.tp.dbPoolIdle.Set(float64(idle))
	h.tp.dbPoolTotal.Set(float64(total))
}

// ---------------------------------------------------------------------------
// MetricsMiddleware
// ---------------------------------------------------------------------------

// MetricsMiddleware returns an Echo middleware that records HTTP server metrics.
func (tp *TelemetryProvider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !tp.cfg.metricsOn() {
				return next(c)
			}

			tp.activeRequests.Inc()
			defer tp.activeRequests.Dec()

			start := time.Now()
			req := c.Request()

			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final.
				c.Error(err)
			}

			resp := c.Response()
			route := c.Path()
			if route == "" {
				route = routeUnmatched
			}

			tp.requestDuration.
				WithLabelValues(req.Method, route, strconv.Itoa(resp.Status)).
				Observe(time.Since(start).Seconds())
			if req.ContentLength > 0 {
				tp.requestSize.Observe(float64(req.ContentLength))
			}
			if resp.Size > 0 {
				tp.responseSize.Observe(float64(resp.Size))
			}
			return err
		}
	}
}

// ---------------------------------------------------------------------------
// PrometheusHandler
// ---------------------------------------------------------------------------

// PrometheusHandler serves the provider's registry in the Prometheus text
// exposition format.
func (tp *TelemetryProvider) PrometheusHandler() echo.HandlerFunc {
	h := promhttp.HandlerFor(tp.registry, promhttp.HandlerOpts{Registry: tp.registry})
	return echo.WrapHandler(h)
}
