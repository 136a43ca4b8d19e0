// Package metrics provides Prometheus instrumentation for the options engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/options-engine/internal/model"
)

var (
	// TransitionsTotal counts committed market transitions by kind.
	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "options_transitions_total",
		Help: "Total committed market transitions",
	}, []string{"market_id", "kind"})

	// TransitionLatency tracks end-to-end transition latency, oracle read to commit.
	TransitionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "options_transition_latency_seconds",
		Help:    "Market transition latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// RejectedTotal counts operations refused by the engine, partitioned by reason.
	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "options_rejected_total",
		Help: "Operations rejected by the engine",
	}, []string{"kind", "reason"})

	// OptionsBought counts option units written, by type.
	OptionsBought = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "options_bought_units_total",
		Help: "Option units written",
	}, []string{"market_id", "type"})

	// UnrecordedTransfers counts token transfers that succeeded while the
	// transition that caused them failed to commit. Each one needs manual
	// reconciliation.
	UnrecordedTransfers = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "options_unrecorded_transfers_total",
		Help: "Executed transfers whose transition failed to commit",
	}, []string{"market_id", "kind"})

	// PayoutTokens tracks cumulative exercise payouts in token base units.
	PayoutTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "options_payout_tokens_total",
		Help: "Cumulative exercise payouts in token base units",
	}, []string{"market_id"})

	// PoolTokens reports the pool counters of each market.
	PoolTokens = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "options_pool_tokens",
		Help: "Pool counters in token base units",
	}, []string{"market_id", "counter"})

	// ActiveMarkets tracks the number of open markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "options_active_markets",
		Help: "Number of currently open markets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "options_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "options_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "options_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveMarket publishes the pool counters of m.
func ObserveMarket(m model.Market) {
	PoolTokens.WithLabelValues(m.ID, "reserve_supply").Set(float64(m.ReserveSupply))
	PoolTokens.WithLabelValues(m.ID, "committed_reserve").Set(float64(m.CommittedReserve))
	PoolTokens.WithLabelValues(m.ID, "premiums").Set(float64(m.Premiums))
	PoolTokens.WithLabelValues(m.ID, "lp_minted").Set(float64(m.LPMinted))
	PoolTokens.WithLabelValues(m.ID, "protocol_fees").Set(float64(m.ProtocolFees))
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Label by route pattern, not raw path, to bound cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
