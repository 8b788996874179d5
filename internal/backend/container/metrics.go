package container

import "github.com/prometheus/client_golang/prometheus"

// Operation label values.
const (
	opProvision = "provision"
	opInit      = "init"
	opRun       = "run"
	opLogs      = "logs"
	opWait      = "wait"
	opCleanup   = "cleanup"
)

// Outcome label values.
const (
	outcomeOK    = "ok"
	outcomeError = "error"
)

var (
	provisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fnworker_container_provision_seconds",
			Help:    "Duration from image check to resolved endpoint, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	actionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fnworker_container_action_run_seconds",
			Help:    "Duration of action proxy /run requests, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	liveContainers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fnworker_container_live",
			Help: "Number of container descriptors currently held by the backend.",
		},
	)

	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnworker_container_operations_total",
			Help: "Total number of container lifecycle operations by outcome.",
		},
		[]string{"op", "outcome"},
	)

	imagePullsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnworker_container_image_pulls_total",
			Help: "Total number of image pulls by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(provisionDuration)
	prometheus.MustRegister(actionDuration)
	prometheus.MustRegister(liveContainers)
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(imagePullsTotal)

	for _, op := range []string{opProvision, opInit, opRun, opLogs, opCleanup} {
		operationsTotal.WithLabelValues(op, outcomeOK)
		operationsTotal.WithLabelValues(op, outcomeError)
	}
	imagePullsTotal.WithLabelValues(outcomeOK)
	imagePullsTotal.WithLabelValues(outcomeError)
}

func outcome(err error) string {
	if err != nil {
		return outcomeError
	}
	return outcomeOK
}

func observeOp(op string, err error) {
	operationsTotal.WithLabelValues(op, outcome(err)).Inc()
}

func observePull(err error) {
	imagePullsTotal.WithLabelValues(outcome(err)).Inc()
}
