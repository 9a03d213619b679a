package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "elementmedica"

var (
	// authOutcomesTotal counts authentication outcomes by action and result.
	// Labels:
	// - action: login | refresh | logout | verify | middleware
	// - result: success | failure | timeout
	authOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "outcomes_total",
			Help:      "Authentication outcomes by action and result.",
		},
		[]string{"action", "result"},
	)

	// authTimeoutsTotal counts bounded store operations that hit their deadline.
	authTimeoutsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "timeouts_total",
			Help:      "Store operations aborted by their time bound, by operation.",
		},
		[]string{"operation"},
	)

	refreshReuseTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "refresh_reuse_total",
		Help:      "Refresh tokens presented after rotation (family revoked).",
	})

	refreshPurgedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "auth",
		Name:      "refresh_tokens_purged_total",
		Help:      "Expired refresh tokens removed by housekeeping.",
	})
)

// IncAuthOutcome increments the auth outcome counter.
func IncAuthOutcome(action, result string) {
	if action == "" {
		action = "unknown"
	}
	if result == "" {
		result = "unknown"
	}
	authOutcomesTotal.WithLabelValues(action, result).Inc()
}

// IncTimeout records an operation that exceeded its bound.
func IncTimeout(operation string) {
	if operation == "" {
		operation = "unknown"
	}
	authTimeoutsTotal.WithLabelValues(operation).Inc()
}

func IncRefreshReuse() { refreshReuseTotal.Inc() }

func AddRefreshPurged(n int64) {
	if n > 0 {
		refreshPurgedTotal.Add(float64(n))
	}
}
