package main

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/socket"
	"github.com/irctrakz/nbtransport/pkg/transport"
)

type metricsSnapshot struct {
	Timestamp string            `json:"ts"`
	State     string            `json:"state"`
	Transport map[string]uint64 `json:"transport"`
	Dial      map[string]uint64 `json:"dial"`
	RT        map[string]uint64 `json:"rt"`
}

// runMetricsReporter logs a counter snapshot every interval. METRICS_FORMAT
// selects text (default) or json.
func runMetricsReporter(ctx context.Context, tr *transport.NBT, interval time.Duration) {
	format := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_FORMAT")))
	if format == "" {
		format = "text"
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		dumpMetrics(tr, format)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func takeSnapshot(tr *transport.NBT) metricsSnapshot {
	m := tr.Metrics()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	state, flags := tr.State()

	return metricsSnapshot{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		State:     state.String() + "/" + flags.String(),
		Transport: map[string]uint64{
			"connects":       m.ConnectsAttempted,
			"connects_ok":    m.ConnectsSucceeded,
			"retargets":      m.Retargets,
			"msgs_sent":      m.MessagesSent,
			"msgs_recv":      m.MessagesReceived,
			"bytes_sent":     m.BytesSent,
			"bytes_recv":     m.BytesReceived,
			"keepalives":     m.Keepalives,
			"stall_timeouts": m.StallTimeouts,
			"errors":         m.Errors,
		},
		Dial: socket.DialMetrics(),
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"heap_inuse": ms.HeapInuse,
			"sys":        ms.Sys,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
}

func dumpMetrics(tr *transport.NBT, format string) {
	snap := takeSnapshot(tr)
	switch format {
	case "json":
		b, _ := json.Marshal(snap)
		logging.Infof("metrics: %s", string(b))
	default:
		logging.Infof("metrics: ts=%s state=%s | conn: %d/%d retarget=%d | sent=%d/%d recv=%d/%d ka=%d stall=%d err=%d | dial: %d/%d/%d abort=%d infl=%d | rt: heap=%dMi gor=%d gc=%d",
			snap.Timestamp, snap.State,
			snap.Transport["connects_ok"], snap.Transport["connects"], snap.Transport["retargets"],
			snap.Transport["msgs_sent"], snap.Transport["bytes_sent"],
			snap.Transport["msgs_recv"], snap.Transport["bytes_recv"],
			snap.Transport["keepalives"], snap.Transport["stall_timeouts"], snap.Transport["errors"],
			snap.Dial["dial_start"], snap.Dial["dial_ok"], snap.Dial["dial_fail"], snap.Dial["dial_abort"], snap.Dial["dial_inflight"],
			snap.RT["heap_alloc"]>>20, snap.RT["goroutines"], snap.RT["num_gc"],
		)
	}
}
