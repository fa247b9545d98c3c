package socket

import "sync/atomic"

// Dial counters, shared by every connector in the process.
var (
	dialStart    uint64
	dialOk       uint64
	dialFail     uint64
	dialAbort    uint64
	dialInflight int64
)

// DialMetrics returns a snapshot of the dial counters.
func DialMetrics() map[string]uint64 {
	return map[string]uint64{
		"dial_start":    atomic.LoadUint64(&dialStart),
		"dial_ok":       atomic.LoadUint64(&dialOk),
		"dial_fail":     atomic.LoadUint64(&dialFail),
		"dial_abort":    atomic.LoadUint64(&dialAbort),
		"dial_inflight": uint64(atomic.LoadInt64(&dialInflight)),
	}
}
