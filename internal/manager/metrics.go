package manager

import "github.com/prometheus/client_golang/prometheus"

var generationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "hochat",
		Subsystem: "manager",
		Name:      "generations_total",
		Help:      "Chat generations by result",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(generationsTotal)
}
