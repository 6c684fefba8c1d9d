package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedParticipants = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "livetrack_connected_participants",
		Help: "Participants currently attached to the broadcast gateway",
	})
	LocationEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetrack_location_events_total",
		Help: "Accepted inbound location events",
	})
	InvalidEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetrack_invalid_events_total",
		Help: "Location events dropped by validation",
	})
	BroadcastsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "livetrack_broadcasts_total",
		Help: "Messages fanned out to subscribers",
	})
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "livetrack_upstream_failures_total",
		Help: "Upstream GPS fetch failures by kind",
	}, []string{"kind"})
	UpstreamFetchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "livetrack_upstream_fetch_seconds",
		Help:    "Latency of upstream GPS fetches",
		Buckets: prometheus.DefBuckets,
	})
)

func ObserveUpstreamFetch(start time.Time) {
	UpstreamFetchLatency.Observe(time.Since(start).Seconds())
}
