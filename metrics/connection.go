package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qfarm_requests_total",
		Help: "Gate requests by method and result (ok, error, timeout, reset, transport)",
	}, []string{"method", "result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qfarm_request_duration_seconds",
		Help:    "Round-trip time of answered gate requests",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}, []string{"method"})

	pendingRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_pending_requests",
		Help: "Requests awaiting a response",
	}, []string{"account"})

	strayResponses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qfarm_stray_responses_total",
		Help: "Responses without a matching pending request",
	})

	notificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qfarm_notifications_total",
		Help: "Push notifications by kind",
	}, []string{"kind"})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qfarm_decode_errors_total",
		Help: "Malformed envelopes, event wrappers or payloads that were dropped",
	}, []string{"what"})

	heartbeatState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_heartbeat_state",
		Help: "Liveness state by account (healthy=1, suspect=1, dead=1; others 0)",
	}, []string{"account", "state"})
)

var livenessStates = []string{"healthy", "suspect", "dead"}

// RecordRequest counts a finished request. Latency is only observed for answered requests.
func RecordRequest(method, result string, d time.Duration) {
	requestsTotal.WithLabelValues(method, result).Inc()
	if result == "ok" || result == "error" {
		requestDuration.WithLabelValues(method).Observe(d.Seconds())
	}
}

func SetPending(account string, n int) {
	pendingRequests.WithLabelValues(account).Set(float64(n))
}

func RecordStrayResponse() {
	strayResponses.Inc()
}

func RecordNotification(kind string) {
	notificationsTotal.WithLabelValues(kind).Inc()
}

func RecordDecodeError(what string) {
	decodeErrors.WithLabelValues(what).Inc()
}

// SetHeartbeatState records the active liveness state for an account.
func SetHeartbeatState(account, state string) {
	for _, s := range livenessStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		heartbeatState.WithLabelValues(account, s).Set(value)
	}
}
