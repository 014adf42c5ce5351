package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ublcore_stream_connections",
		Help: "Number of currently connected stream clients.",
	})

	appendsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ublcore_stream_appends",
		Help: "Number of ledger append requests by outcome.",
	}, []string{"result"})

	statusEventsRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ublcore_stream_status_events",
		Help: "Number of agent status events relayed.",
	})

	broadcastsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ublcore_stream_broadcasts_dropped",
		Help: "Number of broadcast messages dropped because the hub was stalled or stopped.",
	})

	slowClientDrops = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ublcore_stream_slow_client_drops",
		Help: "Number of clients disconnected because their send buffer filled.",
	})

	upgradeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ublcore_stream_upgrade_failures",
		Help: "Number of stream connection attempts rejected before upgrade.",
	})
)
