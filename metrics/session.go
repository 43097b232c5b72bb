package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_session_state",
		Help: "Session state by account (active state=1; others 0)",
	}, []string{"account", "state"})

	reconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qfarm_reconnect_attempts_total",
		Help: "Reconnect attempts by result (success, failure)",
	}, []string{"result"})

	reconnectExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qfarm_reconnect_exhausted_total",
		Help: "Sessions that gave up after the retry budget",
	})

	userLevel = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_user_level",
		Help: "Player level by account",
	}, []string{"account"})

	userGold = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_user_gold",
		Help: "Player gold by account",
	}, []string{"account"})

	userExp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "qfarm_user_exp",
		Help: "Player experience by account",
	}, []string{"account"})
)

var sessionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "stopped"}

// SetSessionState records the active session state for an account.
func SetSessionState(account, state string) {
	for _, s := range sessionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		sessionState.WithLabelValues(account, s).Set(value)
	}
}

func RecordReconnectAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	reconnectAttempts.WithLabelValues(result).Inc()
}

func RecordReconnectExhausted() {
	reconnectExhausted.Inc()
}

func SetUser(account string, level, gold, exp int64) {
	userLevel.WithLabelValues(account).Set(float64(level))
	userGold.WithLabelValues(account).Set(float64(gold))
	userExp.WithLabelValues(account).Set(float64(exp))
}

// ForgetAccount drops all per-account series, e.g. after eviction.
func ForgetAccount(account string) {
	labels := prometheus.Labels{"account": account}
	pendingRequests.DeletePartialMatch(labels)
	heartbeatState.DeletePartialMatch(labels)
	schedulerResting.DeletePartialMatch(labels)
	schedulerTasks.DeletePartialMatch(labels)
	sessionState.DeletePartialMatch(labels)
	userLevel.DeletePartialMatch(labels)
	userGold.DeletePartialMatch(labels)
	userExp.DeletePartialMatch(labels)
}
