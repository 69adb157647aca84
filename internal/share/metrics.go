package share

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	alertsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharetrack_alerts_ingested_total",
		Help: "Customer telemetry alerts accepted by the share API.",
	})

	positionsIngestedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sharetrack_driver_positions_total",
		Help: "Driver position samples written to the store.",
	})
)
