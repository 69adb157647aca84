package tracking

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesEmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_frames_emitted_total",
		Help: "Total interpolated location frames delivered to the consumer.",
	})

	etaRecomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_eta_recompute_total",
		Help: "ETA recomputations grouped by source of the estimate.",
	}, []string{"source"})

	restFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tracking_rest_fallback_total",
		Help: "Staleness-triggered REST fallback cycles.",
	})

	pollIntervalSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tracking_poll_interval_seconds",
		Help: "Current adaptive polling period of the staleness supervisor.",
	})

	channelEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tracking_channel_events_total",
		Help: "Inbound push events grouped by event name.",
	}, []string{"event"})
)
