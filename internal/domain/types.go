package domain

import "fmt"

// ProxyKind distinguishes the wire protocol a remote proxy speaks.
type ProxyKind string

const (
	KindSOCKS5 ProxyKind = "socks5"
	KindHTTP   ProxyKind = "http"
)

// RemoteProxy is one entry in the immutable registry loaded at startup.
// Identity is ID; two RemoteProxy values are equal iff their IDs match.
type RemoteProxy struct {
	ID   int
	Kind ProxyKind
	Host string
	Port int
	User string
	Pass string
}

// Address returns the "host:port" dial target for this remote.
func (r RemoteProxy) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// BindingState is one point in a Binding's lifecycle. The pool manager moves
// a port Draining -> Ready (next generation) -> InUse -> Draining; Preparing
// is defined but the pool manager never sets it.
type BindingState int

const (
	Preparing BindingState = iota
	Ready
	InUse
	Draining
)

func (s BindingState) String() string {
	switch s {
	case Preparing:
		return "preparing"
	case Ready:
		return "ready"
	case InUse:
		return "in_use"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Binding is the current remote assignment for one local port, tagged with
// a generation that strictly increases on every rebind. Callers outside the
// pool manager hold (port, generation) pairs rather than pointers to Binding,
// so a stale reference is detected by generation mismatch rather than by
// relying on object identity.
type Binding struct {
	Port       int
	Remote     RemoteProxy
	State      BindingState
	Generation uint64
}

// Outcome is how a tunnel ended, reported by the Tunnel Engine to complete().
// RemoteFailed means the remote-side handshake itself never completed - the
// remote is presumed broken and is never reused. RemoteIOFailed means the
// handshake succeeded but the tunnel later failed on the remote side (e.g. a
// reset mid-stream) - this is presumed intermittent and does not disqualify
// the remote.
type Outcome int

const (
	ClientDone Outcome = iota
	RemoteFailed
	RemoteIOFailed
	ClientFailed
)

func (o Outcome) String() string {
	switch o {
	case ClientDone:
		return "client_done"
	case RemoteFailed:
		return "remote_failed"
	case RemoteIOFailed:
		return "remote_io_failed"
	case ClientFailed:
		return "client_failed"
	default:
		return "unknown"
	}
}
