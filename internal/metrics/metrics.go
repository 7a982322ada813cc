// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge/histogram the exchange exports,
// each registered against its own registry rather than the global
// default so a test can construct as many independent Metrics as it
// needs without a duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	// TradesTotal counts executed trades, partitioned by side
	// (buy/sell) and outcome (ok/error).
	TradesTotal *prometheus.CounterVec

	// TradeLatency tracks trade execution latency by side.
	TradeLatency *prometheus.HistogramVec

	// QuotesTotal counts quote requests by side and operation.
	QuotesTotal *prometheus.CounterVec

	// ActiveMarkets tracks the number of currently open markets.
	ActiveMarkets prometheus.Gauge

	// WebSocketClients tracks connected realtime clients.
	WebSocketClients prometheus.Gauge

	// HTTPRequestsTotal counts HTTP requests by method, path, status.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration *prometheus.HistogramVec

	// ResolutionsTotal counts market resolutions by method
	// (manual_override/manual_source/oracle) and status (ok/error).
	ResolutionsTotal *prometheus.CounterVec

	// SchedulerTicks counts scheduler runs by result (ok/error).
	SchedulerTicks *prometheus.CounterVec

	// MarketVolume tracks cumulative traded volume (cash) per market
	// and side.
	MarketVolume *prometheus.CounterVec
}

// New builds a Metrics bundle registered against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		TradesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketex_trades_total",
			Help: "Total number of executed trades",
		}, []string{"side", "status"}),

		TradeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketex_trade_latency_seconds",
			Help:    "Trade execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"side"}),

		QuotesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketex_quotes_total",
			Help: "Total number of quote requests",
		}, []string{"side", "op"}),

		ActiveMarkets: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketex_active_markets",
			Help: "Number of currently open markets",
		}),

		WebSocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "marketex_websocket_clients",
			Help: "Number of connected realtime clients",
		}),

		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketex_http_requests_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketex_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "path"}),

		ResolutionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketex_resolutions_total",
			Help: "Total number of market resolutions",
		}, []string{"method", "status"}),

		SchedulerTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketex_scheduler_ticks_total",
			Help: "Total number of scheduler ticks",
		}, []string{"result"}),

		MarketVolume: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marketex_market_volume_total",
			Help: "Cumulative traded cash volume per market and side",
		}, []string{"market_id", "side"}),
	}
}

// Handler returns the Prometheus scrape handler for this bundle.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware returns an HTTP middleware that records request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
