// Package listen owns the fixed range of listening sockets the pool binds
// at startup and the dual-protocol accept loop running on each of them
// (C2 and C5 in the pool manager's component model).
package listen

import (
	"fmt"
	"net"

	"github.com/mtt-konan/sockpool/internal/domain"
)

// Open binds one TCP listener per port in [portBase, portBase+portCount).
// Binding is all-or-nothing: if any port fails to bind, every listener
// opened so far is closed and a *domain.ConfigFatalError is returned - the
// process is not meant to run with a smaller-than-configured port range.
func Open(portBase, portCount int) (map[int]net.Listener, error) {
	listeners := make(map[int]net.Listener, portCount)

	for port := portBase; port < portBase+portCount; port++ {
		ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err != nil {
			for _, opened := range listeners {
				opened.Close()
			}
			return nil, &domain.ConfigFatalError{
				Operation: fmt.Sprintf("bind port %d", port),
				Err:       err,
			}
		}
		listeners[port] = ln
	}

	return listeners, nil
}

// Close closes every listener in the set, ignoring individual errors so that
// one failed close does not stop the rest from being closed.
func Close(listeners map[int]net.Listener) {
	for _, ln := range listeners {
		ln.Close()
	}
}
