// Package orchestrator runs the background worker pool that rebinds local
// ports after a tunnel completes (C8 in the pool manager's component model).
// It is the only caller of poolmgr.Manager.Rebind outside of startup warmup,
// and it is what keeps socket-dial-adjacent retry work off the binding
// table's mutex: a rebind that finds the LRU queue empty is resubmitted with
// backoff rather than looping while holding the lock.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mtt-konan/sockpool/internal/domain"
	"github.com/mtt-konan/sockpool/internal/logger"
	"github.com/mtt-konan/sockpool/internal/poolmgr"
	"github.com/mtt-konan/sockpool/internal/util"
)

const (
	backoffBase = 100 * time.Millisecond
	backoffCap  = 2 * time.Second
	jitter      = 0.2
)

// Orchestrator owns a bounded pool of rebind workers plus a job queue. On
// tunnel completion, the tunnel engine calls Complete, which records the
// outcome on the binding table and schedules a rebind attempt.
type Orchestrator struct {
	manager *poolmgr.Manager
	log     *logger.StyledLogger

	jobs   chan int
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts workers rebind workers pulling from an internally buffered job
// queue. Call Shutdown to stop them.
func New(manager *poolmgr.Manager, workers int, log *logger.StyledLogger) *Orchestrator {
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		manager: manager,
		log:     log,
		jobs:    make(chan int, 256),
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	return o
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case port, ok := <-o.jobs:
			if !ok {
				return
			}
			o.rebindWithBackoff(port)
		case <-o.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) rebindWithBackoff(port int) {
	for attempt := 1; ; attempt++ {
		err := o.manager.Rebind(port)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrNoReady) {
			return
		}

		delay := util.CalculateExponentialBackoff(attempt, backoffBase, backoffCap, jitter)
		select {
		case <-time.After(delay):
		case <-o.ctx.Done():
			return
		}
	}
}

// Complete records the tunnel outcome on (port, generation) and schedules a
// rebind attempt for port. Scheduling never blocks the caller: if the job
// queue is momentarily full, a one-off goroutine runs the retry loop
// instead of being dropped.
func (o *Orchestrator) Complete(port int, generation uint64, outcome domain.Outcome) {
	o.manager.Complete(port, generation, outcome)

	select {
	case o.jobs <- port:
	default:
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.rebindWithBackoff(port)
		}()
	}
}

// Warmup binds the initial set of ports synchronously at startup - this is
// the one rebind path that runs outside the worker pool, since startup
// already happens before any client traffic exists.
func (o *Orchestrator) Warmup(maxActive int) []int {
	return o.manager.Warmup(maxActive)
}

// Shutdown stops accepting new jobs and waits for in-flight workers to
// observe cancellation and return.
func (o *Orchestrator) Shutdown() {
	o.cancel()
	o.wg.Wait()
}
