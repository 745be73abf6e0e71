package poolmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mtt-konan/sockpool/internal/domain"
	"github.com/mtt-konan/sockpool/internal/registry"
)

func testRegistry(t *testing.T, n int) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "proxies.txt")

	var contents string
	for i := 0; i < n; i++ {
		contents += "r.example.com 1080 user pass\n"
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write proxy file: %v", err)
	}

	reg, err := registry.Load(path)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}
	return reg
}

func TestWarmup_BindsUpToLimit(t *testing.T) {
	reg := testRegistry(t, 3)
	m := NewManager(reg, 10000, 5, nil)

	warmed := m.Warmup(3)
	if len(warmed) != 3 {
		t.Fatalf("expected 3 ports warmed, got %d", len(warmed))
	}

	stats := m.Stats()
	if stats.ActiveReadyPorts != 3 {
		t.Errorf("expected 3 ready ports, got %d", stats.ActiveReadyPorts)
	}
}

func TestWarmup_LimitedByRegistrySize(t *testing.T) {
	reg := testRegistry(t, 2)
	m := NewManager(reg, 10000, 10, nil)

	warmed := m.Warmup(10)
	if len(warmed) != 2 {
		t.Fatalf("expected warmup capped at registry size 2, got %d", len(warmed))
	}
}

func TestReserveReadyPort_ReturnsReadyPortAndMarksInUse(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)
	m.Warmup(1)

	port, gen, err := m.ReserveReadyPort()
	if err != nil {
		t.Fatalf("ReserveReadyPort: %v", err)
	}
	if port != 10000 {
		t.Errorf("expected port 10000, got %d", port)
	}
	if gen != 1 {
		t.Errorf("expected generation 1, got %d", gen)
	}

	if _, _, err := m.ReserveReadyPort(); err != domain.ErrNoReady {
		t.Fatalf("expected ErrNoReady on second reserve, got %v", err)
	}
}

func TestReserveReadyPort_NoneReady(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)

	if _, _, err := m.ReserveReadyPort(); err != domain.ErrNoReady {
		t.Fatalf("expected ErrNoReady, got %v", err)
	}
}

func TestComplete_StaleGenerationIsIgnored(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)
	m.Warmup(1)

	port, gen, err := m.ReserveReadyPort()
	if err != nil {
		t.Fatalf("ReserveReadyPort: %v", err)
	}

	m.Complete(port, gen+1, domain.ClientDone) // stale generation, no-op
	if err := m.Rebind(port); err != domain.ErrNoReady {
		t.Fatalf("expected no eligible remote yet (stale complete should not have freed it), got %v", err)
	}
}

func TestComplete_ClientDoneRequeuesRemoteForRebind(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)
	m.Warmup(1)

	port, gen, err := m.ReserveReadyPort()
	if err != nil {
		t.Fatalf("ReserveReadyPort: %v", err)
	}
	m.Complete(port, gen, domain.ClientDone)

	if err := m.Rebind(port); err != nil {
		t.Fatalf("expected rebind to succeed after requeue, got %v", err)
	}
}

func TestComplete_RemoteFailedMarksKnownBadAndNeverReused(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)
	m.Warmup(1)

	port, gen, err := m.ReserveReadyPort()
	if err != nil {
		t.Fatalf("ReserveReadyPort: %v", err)
	}
	m.Complete(port, gen, domain.RemoteFailed)

	if err := m.Rebind(port); err != domain.ErrNoReady {
		t.Fatalf("expected no eligible remote after the only remote went bad, got %v", err)
	}

	stats := m.Stats()
	if stats.KnownBadRemotes != 1 {
		t.Errorf("expected 1 known-bad remote, got %d", stats.KnownBadRemotes)
	}
}

func TestRebind_GenerationStrictlyIncreases(t *testing.T) {
	reg := testRegistry(t, 2)
	m := NewManager(reg, 10000, 1, nil)

	if err := m.Rebind(10000); err != nil {
		t.Fatalf("first rebind: %v", err)
	}
	port, gen1, err := m.ReserveReadyPort()
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	m.Complete(port, gen1, domain.ClientDone)

	if err := m.Rebind(10000); err != nil {
		t.Fatalf("second rebind: %v", err)
	}
	_, gen2, err := m.ReserveReadyPort()
	if err != nil {
		t.Fatalf("reserve 2: %v", err)
	}

	if gen2 <= gen1 {
		t.Errorf("expected generation to strictly increase, got %d then %d", gen1, gen2)
	}
}

func TestClaimPort_TransitionsReadyToInUse(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)
	m.Warmup(1)

	binding, ok := m.ClaimPort(10000)
	if !ok {
		t.Fatal("expected ClaimPort to succeed on a Ready port")
	}
	if binding.State != domain.InUse {
		t.Errorf("expected claimed binding to be InUse, got %v", binding.State)
	}

	stats := m.Stats()
	if stats.ActiveReadyPorts != 0 {
		t.Errorf("expected claimed port to leave the ready set, got %d ready", stats.ActiveReadyPorts)
	}

	if _, _, err := m.ReserveReadyPort(); err != domain.ErrNoReady {
		t.Fatalf("expected no ready ports left after direct claim, got %v", err)
	}
}

func TestClaimPort_ReturnsExistingInUseUnchanged(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)
	m.Warmup(1)

	port, gen, err := m.ReserveReadyPort()
	if err != nil {
		t.Fatalf("ReserveReadyPort: %v", err)
	}

	binding, ok := m.ClaimPort(port)
	if !ok {
		t.Fatal("expected ClaimPort to succeed on an already-InUse port")
	}
	if binding.Generation != gen {
		t.Errorf("expected unchanged generation %d, got %d", gen, binding.Generation)
	}
	if binding.State != domain.InUse {
		t.Errorf("expected still InUse, got %v", binding.State)
	}
}

func TestClaimPort_RejectsDrainingPort(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)

	if _, ok := m.ClaimPort(10000); ok {
		t.Fatal("expected ClaimPort to reject a Draining port")
	}
}

func TestSubscribe_ReceivesRebindEvent(t *testing.T) {
	reg := testRegistry(t, 1)
	m := NewManager(reg, 10000, 1, nil)
	defer m.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, unsubscribe := m.Subscribe(ctx)
	defer unsubscribe()

	if err := m.Rebind(10000); err != nil {
		t.Fatalf("Rebind: %v", err)
	}

	select {
	case evt := <-events:
		if evt.Port != 10000 || evt.State != domain.Ready {
			t.Errorf("unexpected event: %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for rebind event")
	}
}
