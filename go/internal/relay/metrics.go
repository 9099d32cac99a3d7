package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "cuesync"
	subsystem = "relay"
)

var (
	connectedPeers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "connected_peers",
		Help:      "Number of peers currently connected to this relay instance",
	})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "messages_total",
		Help:      "Frames handled by the relay",
	}, []string{"direction"})

	droppedPeers = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "dropped_peers_total",
		Help:      "Peers removed because a send failed or their buffer was full",
	})

	pingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "pings_total",
		Help:      "Clock sync PINGs answered by the relay",
	})
)

var (
	messagesIn     = messagesTotal.WithLabelValues("in")
	messagesOut    = messagesTotal.WithLabelValues("out")
	messagesBridge = messagesTotal.WithLabelValues("bridge")
)
