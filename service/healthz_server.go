package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"

	"github.com/rs/cors"
)

// HealthzServer answers liveness probes while a long test run is in flight.
type HealthzServer struct {
	ctx     context.Context
	server  *http.Server
	running atomic.Bool
}

// SetRunning marks whether a test run is currently executing; the state is
// reported in the healthz body.
func (h *HealthzServer) SetRunning(v bool) {
	h.running.Store(v)
}

func (h *HealthzServer) Start(ctx context.Context, addr string) error {
	hdlr := http.NewServeMux()
	hdlr.HandleFunc("/healthz", h.Handle)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})
	h.server = &http.Server{
		Handler: c.Handler(hdlr),
		Addr:    addr,
	}
	h.ctx = ctx
	return h.server.ListenAndServe()
}

// Shutdown is a no-op when Start has not yet installed the server; Start
// runs on a goroutine and may lose the race against an early shutdown.
func (h *HealthzServer) Shutdown() error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(h.ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
		"status":  "ok",
		"running": h.running.Load(),
	})
}
