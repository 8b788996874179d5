package wasm

import "github.com/prometheus/client_golang/prometheus"

// Run outcome label values.
const (
	runOK               = "ok"
	runTrap             = "trap"
	runInstantiateError = "instantiate_error"
)

var (
	compileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fnworker_wasm_compile_seconds",
			Help:    "Duration of module validation and compilation, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fnworker_wasm_run_seconds",
			Help:    "Duration from instantiation to entry point return, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	publishedModules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fnworker_wasm_published_modules",
			Help: "Number of modules currently published in the registry.",
		},
	)

	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fnworker_wasm_runs_total",
			Help: "Total number of module runs by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(compileDuration)
	prometheus.MustRegister(runDuration)
	prometheus.MustRegister(publishedModules)
	prometheus.MustRegister(runsTotal)

	for _, o := range []string{runOK, runTrap, runInstantiateError} {
		runsTotal.WithLabelValues(o)
	}
}
