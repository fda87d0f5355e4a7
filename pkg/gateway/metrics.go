package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricFramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clawdeck",
		Name:      "frames_received_total",
		Help:      "Frames received from the gateway, by frame type.",
	}, []string{"type"})
	metricRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clawdeck",
		Name:      "requests_in_flight",
		Help:      "RPC requests awaiting a response frame.",
	})
	metricRequestTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clawdeck",
		Name:      "request_timeouts_total",
		Help:      "RPC requests that exceeded their deadline.",
	})
	metricEventGaps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clawdeck",
		Name:      "event_gaps_total",
		Help:      "Detected discontinuities in the gateway event sequence.",
	})
	metricReconnectAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "clawdeck",
		Name:      "reconnect_attempts_total",
		Help:      "Reconnect attempts made by the supervisor.",
	})
	metricOfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clawdeck",
		Name:      "offline_queue_depth",
		Help:      "Chat sends buffered while the gateway is unreachable.",
	})
)
