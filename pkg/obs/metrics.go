// Package obs holds the Prometheus collectors for the session transport.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections      = promauto.NewGauge(prometheus.GaugeOpts{Name: "nbt_active_connections", Help: "Transports currently connected"})
	ConnectsTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nbt_connects_total", Help: "Connect attempts by result"}, []string{"result"})
	ConnectDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "nbt_connect_duration_seconds", Help: "Connect plus session establishment time", Buckets: prometheus.ExponentialBuckets(0.001, 2, 16)})
	RetargetsTotal         = promauto.NewCounter(prometheus.CounterOpts{Name: "nbt_retargets_total", Help: "Session retargets followed"})
	MessagesTotal          = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nbt_messages_total", Help: "Messages by direction"}, []string{"dir"})
	BytesTotal             = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nbt_bytes_total", Help: "Payload bytes by direction"}, []string{"dir"})
	KeepalivesTotal        = promauto.NewCounter(prometheus.CounterOpts{Name: "nbt_keepalives_total", Help: "Keepalive frames skipped"})
	StallTimeoutsTotal     = promauto.NewCounter(prometheus.CounterOpts{Name: "nbt_stall_timeouts_total", Help: "Body reads abandoned for lack of progress"})
	ProtocolErrorsTotal    = promauto.NewCounterVec(prometheus.CounterOpts{Name: "nbt_protocol_errors_total", Help: "Protocol violations by kind"}, []string{"kind"})
)

// Direction labels.
const (
	DirSend = "send"
	DirRecv = "recv"
)
