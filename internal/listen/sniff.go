package listen

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"time"
)

// protocol identifies which wire format a freshly accepted client connection
// is speaking, determined from its first few bytes without consuming them.
type protocol int

const (
	protoUnknown protocol = iota
	protoSOCKS5
	protoHTTP
)

// sniffDeadline bounds how long classify waits for enough bytes to decide a
// connection's protocol. A client that connects and never sends anything
// gets its port back rather than tying it up indefinitely.
const sniffDeadline = 5 * time.Second

// httpMethodPrefixes are the first three bytes of every HTTP method this
// listener recognises as "this is an HTTP request", enough to disambiguate
// every method in the set from one another.
var httpMethodPrefixes = [][]byte{
	[]byte("CON"), // CONNECT
	[]byte("GET"),
	[]byte("POS"), // POST
	[]byte("PUT"),
	[]byte("DEL"), // DELETE
	[]byte("HEA"), // HEAD
	[]byte("OPT"), // OPTIONS
	[]byte("PAT"), // PATCH
	[]byte("TRA"), // TRACE
}

// peekedConn wraps a net.Conn so that bytes already consumed from the
// underlying connection by sniffing are replayed to later reads. Every
// other method, including deadlines and CloseWrite via the embedded
// net.Conn, passes straight through to the real connection.
type peekedConn struct {
	net.Conn
	r *bufio.Reader
}

func newPeekedConn(conn net.Conn) *peekedConn {
	return &peekedConn{Conn: conn, r: bufio.NewReader(conn)}
}

func (p *peekedConn) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// CloseWrite forwards the half-close to the underlying connection when it
// supports one, so tunnel.Splice's EOF propagation works through the
// wrapper the same as it would against a bare *net.TCPConn.
func (p *peekedConn) CloseWrite() error {
	if hc, ok := p.Conn.(interface{ CloseWrite() error }); ok {
		return hc.CloseWrite()
	}
	return nil
}

// classify peeks up to the first three bytes of a connection, under a
// sniffDeadline read deadline, to determine its protocol. SOCKS5 clients
// always start with version byte 0x05. SOCKS4 starts with 0x04 and is
// explicitly unsupported. Anything else is treated as HTTP only if its
// first three bytes match the start of a recognised HTTP method.
func classify(conn *peekedConn) (protocol, error) {
	if err := conn.SetReadDeadline(time.Now().Add(sniffDeadline)); err != nil {
		return protoUnknown, fmt.Errorf("set sniff deadline: %w", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	b, err := conn.r.Peek(1)
	if err != nil {
		return protoUnknown, fmt.Errorf("peek first byte: %w", err)
	}

	switch b[0] {
	case 0x05:
		return protoSOCKS5, nil
	case 0x04:
		return protoUnknown, fmt.Errorf("socks4 is not supported")
	}

	prefix, err := conn.r.Peek(3)
	if err != nil {
		return protoUnknown, fmt.Errorf("peek method prefix: %w", err)
	}
	for _, method := range httpMethodPrefixes {
		if bytes.Equal(prefix, method) {
			return protoHTTP, nil
		}
	}
	return protoUnknown, fmt.Errorf("unrecognised protocol prefix %q", prefix)
}
