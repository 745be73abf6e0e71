// Package app wires the pool manager's components together: configuration,
// the remote registry, the binding table, the rotation orchestrator, the
// dual-protocol listeners, and the control surface.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/mtt-konan/sockpool/internal/config"
	"github.com/mtt-konan/sockpool/internal/control"
	"github.com/mtt-konan/sockpool/internal/domain"
	"github.com/mtt-konan/sockpool/internal/listen"
	"github.com/mtt-konan/sockpool/internal/logger"
	"github.com/mtt-konan/sockpool/internal/orchestrator"
	"github.com/mtt-konan/sockpool/internal/poolmgr"
	"github.com/mtt-konan/sockpool/internal/registry"
	"github.com/mtt-konan/sockpool/internal/stats"
)

// rebindWorkers is the fixed size of the rotation orchestrator's background
// worker pool. Rebind work is pure in-memory bookkeeping plus an occasional
// backoff sleep, so a handful of workers comfortably keeps up with the
// entire port range churning at once.
const rebindWorkers = 8

// Application owns every long-lived component's lifecycle: Start brings the
// pool up to its configured warm capacity and begins serving; Stop drains
// in-flight work and releases every listening socket.
type Application struct {
	cfg      *config.Config
	log      *logger.StyledLogger
	counters *stats.Counters

	manager    *poolmgr.Manager
	orch       *orchestrator.Orchestrator
	listeners  map[int]net.Listener
	listenSrv  *listen.Server
	controlSrv *control.Server

	startTime time.Time
}

// New loads the remote proxy registry, builds the binding table, binds the
// configured port range, and wires the control surface - everything short
// of actually accepting connections. Any failure here is fatal: the process
// cannot usefully run with a partially-built pool.
func New(cfg *config.Config, log *logger.StyledLogger, startTime time.Time) (*Application, error) {
	reg, err := registry.Load(cfg.Pool.ProxyFile)
	if err != nil {
		return nil, &domain.ConfigFatalError{Operation: "load proxy file", Err: err}
	}

	manager := poolmgr.NewManager(reg, cfg.Pool.PortBase, cfg.Pool.PortCount, log)
	orch := orchestrator.New(manager, rebindWorkers, log)

	listeners, err := listen.Open(cfg.Pool.PortBase, cfg.Pool.PortCount)
	if err != nil {
		orch.Shutdown()
		return nil, err
	}

	counters := stats.New()
	listenSrv := listen.New(manager, orch, counters, log)

	controlAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.WebPort)
	controlSrv := control.New(controlAddr, manager, counters, log)

	return &Application{
		cfg:        cfg,
		log:        log,
		counters:   counters,
		manager:    manager,
		orch:       orch,
		listeners:  listeners,
		listenSrv:  listenSrv,
		controlSrv: controlSrv,
		startTime:  startTime,
	}, nil
}

// Start warms the pool to its configured active proxy count, begins
// accepting connections on every bound port, and starts the control
// surface. It returns once everything is serving. Cancelling ctx stops
// nothing by itself; the caller shuts the application down with Stop.
func (a *Application) Start(ctx context.Context) error {
	warmed := a.orch.Warmup(a.cfg.Pool.MaxActiveProxies)
	if a.log != nil {
		a.log.InfoWithCount("Warmed pool ports", len(warmed))
	}

	a.listenSrv.Serve(a.listeners)
	a.controlSrv.Start()

	if a.log != nil {
		a.log.InfoWithEndpoint("Control surface listening", fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.WebPort))
	}

	go func() {
		<-ctx.Done()
	}()

	return nil
}

// Stop closes every listening socket, drains in-flight tunnels for
// ShutdownTimeout, then returns. Listener closure makes every accept loop
// return promptly; in-flight splices are left to finish on their own within
// the grace period.
func (a *Application) Stop(ctx context.Context) error {
	listen.Close(a.listeners)

	if err := a.controlSrv.Stop(a.cfg.Server.ShutdownTimeout); err != nil {
		if a.log != nil {
			a.log.Warn("control surface did not shut down cleanly", "error", err)
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.listenSrv.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-drainCtx.Done():
		if a.log != nil {
			a.log.Warn("shutdown grace period elapsed with tunnels still draining")
		}
	}

	a.orch.Shutdown()
	a.manager.Shutdown()
	return nil
}

// Counters exposes the process-lifetime counters, e.g. for a final
// end-of-run summary log.
func (a *Application) Counters() *stats.Counters {
	return a.counters
}
