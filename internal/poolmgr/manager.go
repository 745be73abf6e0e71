// Package poolmgr owns the binding table and LRU remote scheduler (C3+C4 in
// the pool manager's component model): which remote is currently assigned to
// which local port, and which remote gets picked next when a port drains.
package poolmgr

import (
	"container/list"
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/mtt-konan/sockpool/internal/domain"
	"github.com/mtt-konan/sockpool/internal/logger"
	"github.com/mtt-konan/sockpool/internal/registry"
	"github.com/mtt-konan/sockpool/pkg/eventbus"
)

// BindingEvent is published whenever a binding changes in a way external
// observers might care about: a remote going known-bad, or a port coming
// back Ready after a rebind. The control surface doesn't subscribe today,
// but the bus exists for exactly this kind of low-volume fan-out so a future
// consumer (a dashboard, a metrics exporter) doesn't need a new notification
// path bolted onto the binding table.
type BindingEvent struct {
	Port   int
	Remote domain.RemoteProxy
	State  domain.BindingState
}

// Manager is the binding table plus LRU remote scheduler. A single mutex
// guards all bookkeeping; no socket I/O happens while it is held - rebind
// only ever picks an index off the LRU queue and flips in-memory state, so
// the critical section is always O(1).
type Manager struct {
	mu sync.Mutex

	reg *registry.Registry
	log *logger.StyledLogger

	bindings   map[int]*domain.Binding // port -> binding
	readyPorts map[int]struct{}        // ports currently in the Ready state

	lru     *list.List         // queue of remote IDs, front = next to hand out
	lruElem map[int]*list.Element

	knownBad *xsync.Map[int, struct{}]

	events *eventbus.EventBus[BindingEvent]
}

// NewManager builds a binding table covering [portBase, portBase+portCount)
// with every port initially Draining, and an LRU queue seeded with every
// remote in reg in registry order.
func NewManager(reg *registry.Registry, portBase, portCount int, log *logger.StyledLogger) *Manager {
	m := &Manager{
		reg:        reg,
		log:        log,
		bindings:   make(map[int]*domain.Binding, portCount),
		readyPorts: make(map[int]struct{}),
		lru:        list.New(),
		lruElem:    make(map[int]*list.Element, reg.Count()),
		knownBad:   xsync.NewMap[int, struct{}](),
		events:     eventbus.New[BindingEvent](),
	}

	for port := portBase; port < portBase+portCount; port++ {
		m.bindings[port] = &domain.Binding{Port: port, State: domain.Draining}
	}
	for i := 0; i < reg.Count(); i++ {
		elem := m.lru.PushBack(i)
		m.lruElem[i] = elem
	}

	return m
}

// Warmup rebinds the first n ports (n = min(portCount, maxActive,
// reg.Count())), in ascending port order, bringing them to Ready. Ports
// beyond n stay Draining until the orchestrator rebinds them on demand -
// this mirrors the startup note in the pool manager's design: idle capacity
// isn't pre-bound just because the listener slot exists.
func (m *Manager) Warmup(maxActive int) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	ports := make([]int, 0, len(m.bindings))
	for port := range m.bindings {
		ports = append(ports, port)
	}
	sortInts(ports)

	limit := min3(len(ports), maxActive, m.reg.Count())
	warmed := make([]int, 0, limit)
	for i := 0; i < limit; i++ {
		if m.rebindLocked(ports[i]) == nil {
			warmed = append(warmed, ports[i])
		}
	}
	return warmed
}

// ReserveReadyPort atomically claims one Ready port, transitioning it to
// InUse, and returns its (port, generation). Returns domain.ErrNoReady if no
// port is currently Ready.
func (m *Manager) ReserveReadyPort() (port int, generation uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p := range m.readyPorts {
		b := m.bindings[p]
		b.State = domain.InUse
		delete(m.readyPorts, p)
		return b.Port, b.Generation, nil
	}
	return 0, 0, domain.ErrNoReady
}

// Complete reports that the tunnel on (port, generation) has ended with the
// given outcome, transitioning the binding to Draining. A mismatched
// generation is a stale caller and is silently ignored: the port has already
// moved on to a newer binding since the caller acquired it.
func (m *Manager) Complete(port int, generation uint64, outcome domain.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[port]
	if !ok || b.Generation != generation {
		return
	}

	remote := b.Remote
	b.State = domain.Draining
	delete(m.readyPorts, port)

	switch outcome {
	case domain.RemoteFailed:
		m.knownBad.Store(remote.ID, struct{}{})
		m.events.PublishAsync(BindingEvent{Port: port, Remote: remote, State: domain.Draining})
	default: // ClientDone, ClientFailed, RemoteIOFailed: remote is presumed still good
		if _, bad := m.knownBad.Load(remote.ID); !bad {
			if _, already := m.lruElem[remote.ID]; !already {
				elem := m.lru.PushBack(remote.ID)
				m.lruElem[remote.ID] = elem
			}
		}
	}
}

// ClaimPort atomically hands port to a caller that connected directly
// without going through ReserveReadyPort first. A Ready port is transitioned
// to InUse exactly like ReserveReadyPort would, bumping nothing (generation
// only changes on Rebind) and returning the same (port, generation, remote)
// an acquire() caller would have received. An already-InUse port (reserved
// earlier through the control surface) is returned unchanged so the caller
// can proceed with the binding it already has. A Preparing or Draining port
// has nothing to hand out and is rejected.
func (m *Manager) ClaimPort(port int) (domain.Binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[port]
	if !ok {
		return domain.Binding{}, false
	}

	switch b.State {
	case domain.InUse:
		return *b, true
	case domain.Ready:
		b.State = domain.InUse
		delete(m.readyPorts, port)
		return *b, true
	default:
		return domain.Binding{}, false
	}
}

// Rebind attempts to assign the next eligible remote (skipping known-bad
// ones) to port, bumping its generation and marking it Ready. Returns
// domain.ErrNoReady if the LRU queue has nothing eligible left; the caller
// (the rotation orchestrator) is expected to retry with backoff.
func (m *Manager) Rebind(port int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rebindLocked(port)
}

func (m *Manager) rebindLocked(port int) error {
	b, ok := m.bindings[port]
	if !ok {
		return domain.ErrNoReady
	}

	for {
		elem := m.lru.Front()
		if elem == nil {
			return domain.ErrNoReady
		}
		remoteID := elem.Value.(int)
		m.lru.Remove(elem)
		delete(m.lruElem, remoteID)

		if _, bad := m.knownBad.Load(remoteID); bad {
			continue // drop it permanently, try the next one
		}

		b.Remote = m.reg.Get(remoteID)
		b.State = domain.Ready
		b.Generation++
		m.readyPorts[port] = struct{}{}
		m.events.PublishAsync(BindingEvent{Port: port, Remote: b.Remote, State: domain.Ready})
		return nil
	}
}

// Subscribe returns a channel of binding-transition events, closed when ctx
// is cancelled or the manager shuts down.
func (m *Manager) Subscribe(ctx context.Context) (<-chan BindingEvent, func()) {
	return m.events.Subscribe(ctx)
}

// Shutdown stops the binding-event bus. Call once, after every listener and
// orchestrator worker has stopped touching the manager.
func (m *Manager) Shutdown() {
	m.events.Shutdown()
}

// Stats reports a snapshot of pool-wide gauges for the control surface.
type Stats struct {
	ActiveReadyPorts int
	KnownBadRemotes  int
	TotalRemotes     int
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	badCount := 0
	m.knownBad.Range(func(int, struct{}) bool {
		badCount++
		return true
	})

	return Stats{
		ActiveReadyPorts: len(m.readyPorts),
		KnownBadRemotes:  badCount,
		TotalRemotes:     m.reg.Count(),
	}
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

// sortInts is a tiny insertion sort: the port ranges this runs over are a
// few hundred entries at most, called once at startup.
func sortInts(xs []int) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
