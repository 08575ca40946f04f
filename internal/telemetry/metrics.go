package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	sessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sessions_created_total",
		Help: "Checkout sessions created by payment method.",
	}, []string{"method"})

	sessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_session_transitions_total",
		Help: "Checkout session state changes.",
	}, []string{"from", "to"})

	settleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_settle_duration_seconds",
		Help:    "Time spent settling a session, order creation included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	webhookOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_webhook_outcomes_total",
		Help: "Bank-transfer notifications by reconciliation outcome.",
	}, []string{"code", "replayed"})

	ordersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_created_total",
		Help: "Orders created on the commerce platform by payment method.",
	}, []string{"method"})

	orderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_order_creation_failures_total",
		Help: "Failed order creation attempts by payment method.",
	}, []string{"method"})

	notifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_fulfillment_notify_failures_total",
		Help: "Fulfillment notifications that failed after retries.",
	})
)

func ObserveHTTPRequest(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func RecordSessionCreated(method string) {
	sessionsCreated.WithLabelValues(method).Inc()
}

func RecordTransition(from, to string) {
	sessionTransitions.WithLabelValues(from, to).Inc()
}

func ObserveSettle(method string, d time.Duration) {
	settleDuration.WithLabelValues(method).Observe(d.Seconds())
}

func RecordWebhookOutcome(code string, replayed bool) {
	webhookOutcomes.WithLabelValues(code, strconv.FormatBool(replayed)).Inc()
}

func RecordOrderCreated(method string) {
	ordersCreated.WithLabelValues(method).Inc()
}

func RecordOrderFailure(method string) {
	orderFailures.WithLabelValues(method).Inc()
}

func RecordNotifyFailure() {
	notifyFailures.Inc()
}
