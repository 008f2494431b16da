package loader

import "github.com/prometheus/client_golang/prometheus"

var (
	loadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hochat",
			Subsystem: "loader",
			Name:      "loads_total",
			Help:      "Model load requests by path and result",
		},
		[]string{"path", "result"},
	)

	populationFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "hochat",
			Subsystem: "loader",
			Name:      "population_files_total",
			Help:      "Files handled by background cache population",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(loadsTotal, populationFilesTotal)
}
