package bridge

import "github.com/prometheus/client_golang/prometheus"

var (
	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fnworker_bridge_in_flight",
			Help: "Number of dispatched calls whose reply has not been delivered.",
		},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fnworker_bridge_dispatch_seconds",
			Help:    "Duration from dispatch to reply, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	repliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnworker_bridge_replies_total",
			Help: "Total number of replies by operation and tag.",
		},
		[]string{"op", "tag"},
	)
)

func init() {
	prometheus.MustRegister(inFlight)
	prometheus.MustRegister(dispatchDuration)
	prometheus.MustRegister(repliesTotal)
}

// opLabel bounds the op label to known operations.
func opLabel(op string) string {
	switch op {
	case "prepare", "invoke", "logs", "wait", "cleanup":
		return op
	}
	return "invalid"
}
