package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/irctrakz/nbtransport/pkg/logging"
	"github.com/irctrakz/nbtransport/pkg/transport"
)

// healthHandler reports 200 while the session is up and 503 otherwise.
func healthHandler(tr *transport.NBT) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, flags := tr.State()
		if flags&transport.FlagConnected == 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		fmt.Fprintf(w, "state=%s flags=%s\n", state, flags)
	}
}

// serveHealth exposes /health and /metrics until ctx ends.
func serveHealth(ctx context.Context, addr string, tr *transport.NBT) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler(tr))
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Warnf("metrics endpoint %s: %v", addr, err)
	}
}
