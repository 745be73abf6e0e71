package domain

import (
	"errors"
	"fmt"
)

// ErrNoReady is returned by Manager.ReserveReadyPort when every local port is
// InUse or Draining. It is an expected, non-exceptional outcome under load
// and is never logged at error level.
var ErrNoReady = errors.New("no ready port available")

// ErrShutdown names cooperative cancellation. No operation in this
// repository currently returns it.
var ErrShutdown = errors.New("shutting down")

// ConfigFatalError aborts startup. Operation names the step that failed
// (e.g. "bind port", "load proxy file").
type ConfigFatalError struct {
	Operation string
	Err       error
}

func (e *ConfigFatalError) Error() string {
	return fmt.Sprintf("fatal: %s: %v", e.Operation, e.Err)
}

func (e *ConfigFatalError) Unwrap() error {
	return e.Err
}

// RemoteHandshakeError indicates the remote-side SOCKS5/HTTP handshake
// did not complete. The remote is marked known-bad and skipped for the
// rest of the process lifetime.
type RemoteHandshakeError struct {
	Remote RemoteProxy
	Err    error
}

func (e *RemoteHandshakeError) Error() string {
	return fmt.Sprintf("remote handshake failed for %s (#%d): %v", e.Remote.Address(), e.Remote.ID, e.Err)
}

func (e *RemoteHandshakeError) Unwrap() error {
	return e.Err
}

// RemoteIOError indicates a mid-tunnel I/O failure after a successful
// handshake. Unlike RemoteHandshakeError, this does not mark the remote
// bad - the failure is presumed intermittent, not a property of the remote.
type RemoteIOError struct {
	Remote RemoteProxy
	Err    error
}

func (e *RemoteIOError) Error() string {
	return fmt.Sprintf("remote I/O failed for %s (#%d): %v", e.Remote.Address(), e.Remote.ID, e.Err)
}

func (e *RemoteIOError) Unwrap() error {
	return e.Err
}

// ClientProtocolError indicates the local client sent bytes that could not
// be classified or parsed as HTTP-CONNECT or SOCKS5. The client connection
// is closed; no pool effect beyond marking the generation consumed.
type ClientProtocolError struct {
	Reason string
	Err    error
}

func (e *ClientProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("client protocol error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("client protocol error: %s", e.Reason)
}

func (e *ClientProtocolError) Unwrap() error {
	return e.Err
}
