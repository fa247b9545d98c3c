package transport

import (
	"sync/atomic"

	"github.com/irctrakz/nbtransport/pkg/core"
)

// Metrics returns a snapshot of the transport counters.
func (t *NBT) Metrics() core.TransportMetrics {
	return core.TransportMetrics{
		ConnectsAttempted: atomic.LoadUint64(&t.metrics.ConnectsAttempted),
		ConnectsSucceeded: atomic.LoadUint64(&t.metrics.ConnectsSucceeded),
		Retargets:         atomic.LoadUint64(&t.metrics.Retargets),
		MessagesSent:      atomic.LoadUint64(&t.metrics.MessagesSent),
		MessagesReceived:  atomic.LoadUint64(&t.metrics.MessagesReceived),
		BytesSent:         atomic.LoadUint64(&t.metrics.BytesSent),
		BytesReceived:     atomic.LoadUint64(&t.metrics.BytesReceived),
		Keepalives:        atomic.LoadUint64(&t.metrics.Keepalives),
		StallTimeouts:     atomic.LoadUint64(&t.metrics.StallTimeouts),
		Errors:            atomic.LoadUint64(&t.metrics.Errors),
	}
}
