package listen

import (
	"net"
	"testing"

	"github.com/mtt-konan/sockpool/internal/domain"
)

func TestOpen_BindsRequestedRange(t *testing.T) {
	// Use port 0 indirectly by finding a free base: ask the OS for one free
	// port, then use a small contiguous range starting there.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe listen: %v", err)
	}
	base := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	listeners, err := Open(base, 3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(listeners)

	if len(listeners) != 3 {
		t.Fatalf("expected 3 listeners, got %d", len(listeners))
	}
	for port := base; port < base+3; port++ {
		if _, ok := listeners[port]; !ok {
			t.Errorf("expected listener on port %d", port)
		}
	}
}

func TestOpen_FailsFatallyOnAlreadyBoundPort(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer blocker.Close()
	blockedPort := blocker.Addr().(*net.TCPAddr).Port

	_, err = Open(blockedPort, 1)
	if err == nil {
		t.Fatal("expected error binding an already-bound port")
	}
	var fatal *domain.ConfigFatalError
	if cfe, ok := err.(*domain.ConfigFatalError); ok {
		fatal = cfe
	}
	if fatal == nil {
		t.Errorf("expected *domain.ConfigFatalError, got %T", err)
	}
}
