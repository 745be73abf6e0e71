package tunnel

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtt-konan/sockpool/internal/domain"
	"github.com/mtt-konan/sockpool/pkg/pool"
)

// BufferSize is the splice copy buffer size, pooled per direction.
const BufferSize = 32 * 1024

// IdleTimeout closes a tunnel that has carried no bytes in either direction
// for this long. Both connections' read deadlines are pushed forward
// whenever bytes are read in either direction.
const IdleTimeout = 60 * time.Second

// Buffers is a shared pool of splice copy buffers, sized BufferSize, reused
// across every tunnel to avoid a 32KiB allocation per direction per
// connection.
var Buffers = pool.NewLitePool(func() []byte {
	return make([]byte, BufferSize)
})

// Result is the outcome of one spliced tunnel.
type Result struct {
	Outcome   domain.Outcome
	BytesUp   int64
	BytesDown int64
}

// halfCloser is implemented by *net.TCPConn and anything wrapping one that
// forwards CloseWrite, letting one direction of a tunnel signal EOF to its
// peer without tearing down the other direction yet.
type halfCloser interface {
	CloseWrite() error
}

// Splice copies bytes bidirectionally between client and remote until both
// directions have reached EOF or one of them errors, then reports which side
// failed. When one direction reaches EOF, the write half of its destination
// is closed and the other direction keeps copying; a failure in either
// direction (or an EOF towards a connection that cannot half-close) closes
// both connections. Both connections are closed before Splice returns.
func Splice(client, remote net.Conn) Result {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			client.Close()
			remote.Close()
		})
	}
	defer closeBoth()

	var bytesUp, bytesDown int64
	var clientErr, remoteErr atomic.Bool

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		n, err := copyDirection(remote, client)
		atomic.AddInt64(&bytesUp, n)
		if isRealFailure(err) {
			clientErr.Store(true)
			closeBoth()
			return
		}
		if hc, ok := remote.(halfCloser); ok {
			hc.CloseWrite()
			return
		}
		closeBoth()
	}()

	go func() {
		defer wg.Done()
		n, err := copyDirection(client, remote)
		atomic.AddInt64(&bytesDown, n)
		if isRealFailure(err) {
			remoteErr.Store(true)
			closeBoth()
			return
		}
		if hc, ok := client.(halfCloser); ok {
			hc.CloseWrite()
			return
		}
		closeBoth()
	}()

	wg.Wait()

	// A mid-tunnel remote-side failure (e.g. the remote resets after a
	// successful handshake) is reported as RemoteIOFailed, not RemoteFailed:
	// the handshake already succeeded, so this remote isn't known-bad, just
	// unlucky this one time.
	outcome := domain.ClientDone
	switch {
	case remoteErr.Load():
		outcome = domain.RemoteIOFailed
	case clientErr.Load():
		outcome = domain.ClientFailed
	}

	return Result{Outcome: outcome, BytesUp: bytesUp, BytesDown: bytesDown}
}

// isRealFailure reports whether err reflects an actual I/O failure, as
// opposed to net.ErrClosed arising from the other direction's goroutine
// having already torn down both connections.
func isRealFailure(err error) bool {
	return err != nil && !errors.Is(err, net.ErrClosed)
}

// copyDirection copies from src to dst, refreshing an idle deadline on src
// before every read and on dst whenever bytes arrive, so a tunnel that
// carries nothing in either direction for IdleTimeout is torn down instead
// of leaking forever.
func copyDirection(dst io.Writer, src net.Conn) (int64, error) {
	buf := Buffers.Get()
	defer Buffers.Put(buf)

	var total int64
	for {
		if err := src.SetReadDeadline(time.Now().Add(IdleTimeout)); err != nil {
			return total, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			if dc, ok := dst.(net.Conn); ok {
				dc.SetReadDeadline(time.Now().Add(IdleTimeout))
			}
			written, werr := dst.Write(buf[:n])
			total += int64(written)
			if werr != nil {
				return total, werr
			}
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}
