package store

import "github.com/prometheus/client_golang/prometheus"

var storeOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hochat",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Conversation store operations by result",
	},
	[]string{"op", "result"},
)

func init() {
	prometheus.MustRegister(storeOperationsTotal)
}

func observe(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOperationsTotal.WithLabelValues(op, result).Inc()
}
