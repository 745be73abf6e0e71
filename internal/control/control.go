// Package control implements the HTTP control surface (C7): the small
// local API a client application uses to ask for a bound port and to read
// pool-wide counters.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mtt-konan/sockpool/internal/domain"
	"github.com/mtt-konan/sockpool/internal/logger"
	"github.com/mtt-konan/sockpool/internal/poolmgr"
	"github.com/mtt-konan/sockpool/internal/router"
	"github.com/mtt-konan/sockpool/internal/stats"
)

// Server is the control-surface HTTP server: GET /acquire hands out a bound
// local port, GET /stats reports pool-wide counters.
type Server struct {
	httpServer *http.Server
	log        *logger.StyledLogger
}

// New wires the acquire/stats routes onto a fresh route registry and binds
// an *http.Server to addr, not yet listening.
func New(addr string, manager *poolmgr.Manager, counters *stats.Counters, log *logger.StyledLogger) *Server {
	reg := router.NewRouteRegistry(log)

	reg.Register("/acquire", acquireHandler(manager, counters), "reserve one bound local port")
	reg.Register("/stats", statsHandler(manager, counters), "report pool-wide counters")

	mux := http.NewServeMux()
	reg.WireUp(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		log: log,
	}
}

type acquireResponse struct {
	Port       int    `json:"port"`
	Generation uint64 `json:"generation"`
}

func acquireHandler(manager *poolmgr.Manager, counters *stats.Counters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		port, generation, err := manager.ReserveReadyPort()
		if err != nil {
			if errors.Is(err, domain.ErrNoReady) {
				http.Error(w, "no ready port available", http.StatusServiceUnavailable)
				return
			}
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if counters != nil {
			counters.TotalRequestsHandedOut.Add(1)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(acquireResponse{Port: port, Generation: generation})
	}
}

type statsResponse struct {
	stats.Snapshot
	poolmgr.Stats
}

func statsHandler(manager *poolmgr.Manager, counters *stats.Counters) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := statsResponse{Stats: manager.Stats()}
		if counters != nil {
			resp.Snapshot = counters.Snapshot()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

// Start begins serving in a background goroutine. Listen errors other than
// http.ErrServerClosed are logged.
func (s *Server) Start() {
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			if s.log != nil {
				s.log.Error("control server stopped unexpectedly", "error", err)
			}
		}
	}()
}

// Stop gracefully shuts down the HTTP server within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
