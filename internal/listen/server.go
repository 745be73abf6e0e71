package listen

import (
	"context"
	"net"
	"sync"

	"github.com/mtt-konan/sockpool/internal/domain"
	"github.com/mtt-konan/sockpool/internal/logger"
	"github.com/mtt-konan/sockpool/internal/orchestrator"
	"github.com/mtt-konan/sockpool/internal/poolmgr"
	"github.com/mtt-konan/sockpool/internal/stats"
	"github.com/mtt-konan/sockpool/internal/tunnel"
)

// Server runs one accept loop per bound local port, sniffing each client
// connection's protocol, handshaking it locally, dialing the port's
// currently-bound remote, and splicing bytes until the tunnel ends.
type Server struct {
	manager  *poolmgr.Manager
	orch     *orchestrator.Orchestrator
	counters *stats.Counters
	log      *logger.StyledLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Server bound to manager for binding lookups and orch for
// reporting tunnel completions.
func New(manager *poolmgr.Manager, orch *orchestrator.Orchestrator, counters *stats.Counters, log *logger.StyledLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{manager: manager, orch: orch, counters: counters, log: log, ctx: ctx, cancel: cancel}
}

// Serve starts one accept loop per listener in listeners and returns
// immediately; loops run until Shutdown is called or a listener is closed.
func (s *Server) Serve(listeners map[int]net.Listener) {
	for port, ln := range listeners {
		s.wg.Add(1)
		go s.acceptLoop(port, ln)
	}
}

func (s *Server) acceptLoop(port int, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
				if s.log != nil {
					s.log.Warn("accept failed, retrying", "port", port, "error", err)
				}
				continue
			}
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(port, conn)
		}()
	}
}

func (s *Server) handleConn(port int, rawConn net.Conn) {
	// A client can arrive either already reserved through the control
	// surface (port already InUse) or directly, with no prior /acquire call
	// - ClaimPort handles both: it hands back an existing InUse binding
	// as-is, or atomically claims a still-Ready one. Anything else
	// (Preparing, Draining) has no remote to offer yet.
	binding, ok := s.manager.ClaimPort(port)
	if !ok {
		rawConn.Close()
		return
	}
	generation := binding.Generation
	remote := binding.Remote

	conn := newPeekedConn(rawConn)
	defer conn.Close()

	proto, err := classify(conn)
	if err != nil {
		s.orch.Complete(port, generation, domain.ClientFailed)
		return
	}

	var target *socks5Request
	var httpTarget *httpRequest
	switch proto {
	case protoSOCKS5:
		target, err = socks5ServerHandshake(conn)
	case protoHTTP:
		httpTarget, err = httpServerHandshake(conn, conn.r)
	}
	if err != nil {
		s.orch.Complete(port, generation, domain.ClientFailed)
		return
	}

	var host string
	var tport int
	if target != nil {
		host, tport = target.Host, target.Port
	} else {
		host, tport = httpTarget.Host, httpTarget.Port
	}

	remoteConn, err := tunnel.DialRemote(remote, host, tport)
	if err != nil {
		if proto == protoSOCKS5 {
			socks5WriteReply(conn, replyGeneralFailure)
		} else {
			httpWriteReply(conn, 502, "Bad Gateway")
		}
		s.orch.Complete(port, generation, domain.RemoteFailed)
		return
	}

	// Absolute-form HTTP requests aren't tunnelled with a "Connection
	// Established" reply - the original request is forwarded to the remote
	// as-is (rewritten to origin-form by http.Request.Write) and the
	// remote's response is spliced straight back to the client.
	isPlainHTTP := httpTarget != nil && httpTarget.PlainRequest != nil

	switch {
	case proto == protoSOCKS5:
		if err := socks5WriteReply(conn, replySuccess); err != nil {
			remoteConn.Close()
			s.orch.Complete(port, generation, domain.ClientFailed)
			return
		}
	case isPlainHTTP:
		if err := httpTarget.PlainRequest.Write(remoteConn); err != nil {
			remoteConn.Close()
			s.orch.Complete(port, generation, domain.ClientFailed)
			return
		}
	default:
		if err := httpWriteReply(conn, 200, "Connection Established"); err != nil {
			remoteConn.Close()
			s.orch.Complete(port, generation, domain.ClientFailed)
			return
		}
	}

	if s.counters != nil {
		s.counters.TotalTunnelsOpened.Add(1)
	}

	result := tunnel.Splice(conn, remoteConn)
	if s.counters != nil {
		s.counters.TotalBytesUp.Add(result.BytesUp)
		s.counters.TotalBytesDown.Add(result.BytesDown)
		if result.Outcome == domain.ClientFailed {
			s.counters.TotalTunnelsFailedLocal.Add(1)
		} else if result.Outcome == domain.RemoteFailed || result.Outcome == domain.RemoteIOFailed {
			s.counters.TotalTunnelsFailedRemo.Add(1)
		}
	}
	s.orch.Complete(port, generation, result.Outcome)
}

// Shutdown stops every accept loop and waits for in-flight connections'
// goroutines to return. It does not forcibly close in-flight tunnels; the
// caller is expected to close the underlying listeners first via
// listen.Close so Accept unblocks with an error.
func (s *Server) Shutdown() {
	s.cancel()
	s.wg.Wait()
}
