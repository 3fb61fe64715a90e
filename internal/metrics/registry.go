package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric definitions for the auction backend

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "handler", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"method", "handler"},
	)

	// Bid acceptance metrics
	bidsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "bid",
			Name:      "accepted_total",
			Help:      "Total number of bids accepted and committed",
		},
	)

	bidsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "bid",
			Name:      "rejected_total",
			Help:      "Total number of bids rejected",
		},
		[]string{"reason"},
	)

	bidAcceptanceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "bid",
			Name:      "acceptance_duration_seconds",
			Help:      "Duration of the bid acceptance transaction",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 15), // 100μs to ~1.6s
		},
	)

	// Lifecycle sweeper metrics
	auctionsActivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "activated_total",
			Help:      "Total number of auctions transitioned to active",
		},
	)

	auctionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "ended_total",
			Help:      "Total number of auctions transitioned to ended",
		},
		[]string{"outcome"},
	)

	sweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of a full sweeper pass",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	sweepErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "lifecycle",
			Name:      "sweep_errors_total",
			Help:      "Total number of per-auction sweep failures",
		},
		[]string{"phase"},
	)

	// Seller decision metrics
	sellerDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "decision",
			Name:      "seller_total",
			Help:      "Total number of seller decisions recorded",
		},
		[]string{"decision"},
	)

	// Websocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "auction",
			Subsystem: "ws",
			Name:      "connections",
			Help:      "Current number of websocket connections",
		},
	)

	websocketEventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "auction",
			Subsystem: "ws",
			Name:      "events_sent_total",
			Help:      "Total number of websocket events broadcast",
		},
		[]string{"type"},
	)
)

// Handler returns the Prometheus metrics handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// InstrumentHTTPHandler wraps an HTTP handler with request metrics
func InstrumentHTTPHandler(handlerName string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		handler(wrapped, r)

		duration := time.Since(start).Seconds()
		status := statusCodeClass(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, handlerName, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, handlerName).Observe(duration)
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// statusCodeClass returns the status code class (2xx, 3xx, 4xx, 5xx)
func statusCodeClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// BidsAccepted records a committed bid
func BidsAccepted() {
	bidsAccepted.Inc()
}

// BidsRejected records a rejected bid by reason code
func BidsRejected(reason string) {
	bidsRejected.WithLabelValues(reason).Inc()
}

// ObserveBidAcceptance records the duration of a bid acceptance transaction
func ObserveBidAcceptance(duration time.Duration) {
	bidAcceptanceDuration.Observe(duration.Seconds())
}

// AuctionActivated records a pending to active transition
func AuctionActivated() {
	auctionsActivated.Inc()
}

// AuctionEnded records an active to ended transition; outcome is
// "with_winner" or "no_bids"
func AuctionEnded(outcome string) {
	auctionsEnded.WithLabelValues(outcome).Inc()
}

// ObserveSweep records the duration of a full sweeper pass
func ObserveSweep(duration time.Duration) {
	sweepDuration.Observe(duration.Seconds())
}

// SweepError records a per-auction sweep failure by phase
func SweepError(phase string) {
	sweepErrors.WithLabelValues(phase).Inc()
}

// SellerDecision records a seller decision (accepted, rejected, counter_offered)
func SellerDecision(decision string) {
	sellerDecisions.WithLabelValues(decision).Inc()
}

// WebsocketConnected tracks a new websocket connection
func WebsocketConnected() {
	websocketConnections.Inc()
}

// WebsocketDisconnected tracks a closed websocket connection
func WebsocketDisconnected() {
	websocketConnections.Dec()
}

// WebsocketEventSent records a broadcast event by type
func WebsocketEventSent(eventType string) {
	websocketEventsSent.WithLabelValues(eventType).Inc()
}
