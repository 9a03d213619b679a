package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// dependencyUp is 1 when the last ping to a backing store succeeded, else 0.
	// Labels:
	// - target: db | redis
	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "dependency",
		Name:      "up",
		Help:      "Backing store availability (1=up, 0=down).",
	}, []string{"target"})

	dependencyPingSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "dependency",
		Name:      "ping_seconds",
		Help:      "Backing store ping latency in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"target"})
)

// ObservePing records the outcome of a health ping against target.
func ObservePing(target string, took time.Duration, err error) {
	dependencyPingSeconds.WithLabelValues(target).Observe(took.Seconds())
	if err != nil {
		dependencyUp.WithLabelValues(target).Set(0)
		return
	}
	dependencyUp.WithLabelValues(target).Set(1)
}
