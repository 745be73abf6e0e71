package tunnel

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/mtt-konan/sockpool/internal/domain"
)

func pipePair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	var server net.Conn
	accepted := make(chan struct{})
	go func() {
		server, _ = ln.Accept()
		close(accepted)
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	<-accepted
	return client, server
}

func TestSplice_ClientDoneWhenClientClosesCleanly(t *testing.T) {
	client, remoteSideOfClient := pipePair(t)
	remote, clientSideOfRemote := pipePair(t)
	defer remote.Close()

	done := make(chan Result, 1)
	go func() {
		done <- Splice(remoteSideOfClient, clientSideOfRemote)
	}()

	client.Close()

	select {
	case result := <-done:
		if result.Outcome != domain.ClientDone {
			t.Errorf("expected ClientDone, got %v", result.Outcome)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for splice to finish")
	}
}

func TestSplice_CopiesBytesBothWays(t *testing.T) {
	client, remoteSideOfClient := pipePair(t)
	remote, clientSideOfRemote := pipePair(t)

	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- Splice(remoteSideOfClient, clientSideOfRemote)
	}()

	go func() {
		client.Write([]byte("hello-up"))
		client.(*net.TCPConn).CloseWrite()
	}()

	buf := make([]byte, 64)
	n, err := io.ReadFull(remote, buf[:8])
	if err != nil {
		t.Fatalf("remote read: %v", err)
	}
	if string(buf[:n]) != "hello-up" {
		t.Errorf("expected 'hello-up', got %q", string(buf[:n]))
	}

	remote.Write([]byte("hello-down"))
	remote.(*net.TCPConn).CloseWrite()

	n, err = io.ReadFull(client, buf[:10])
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf[:n]) != "hello-down" {
		t.Errorf("expected 'hello-down', got %q", string(buf[:n]))
	}

	select {
	case result := <-resultCh:
		if result.BytesUp != 8 {
			t.Errorf("expected 8 bytes up, got %d", result.BytesUp)
		}
		if result.BytesDown != 10 {
			t.Errorf("expected 10 bytes down, got %d", result.BytesDown)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for splice to finish")
	}

	client.Close()
	remote.Close()
}

func TestResult_OutcomeZeroValueIsClientDone(t *testing.T) {
	var r Result
	if r.Outcome != domain.ClientDone {
		t.Errorf("expected zero-value outcome to be ClientDone, got %v", r.Outcome)
	}
}
