package listen

import (
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mtt-konan/sockpool/internal/orchestrator"
	"github.com/mtt-konan/sockpool/internal/poolmgr"
	"github.com/mtt-konan/sockpool/internal/registry"
)

// fakeEchoSocks5Remote accepts a SOCKS5 CONNECT then echoes whatever it
// receives back to the caller, simulating a remote proxy tunnelling to an
// echo service.
func fakeEchoSocks5Remote(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer ln.Close()

		greeting := make([]byte, 2)
		io.ReadFull(conn, greeting)
		io.ReadFull(conn, make([]byte, greeting[1]))
		conn.Write([]byte{0x05, 0x00})

		header := make([]byte, 4)
		io.ReadFull(conn, header)
		switch header[3] {
		case 0x01:
			io.ReadFull(conn, make([]byte, 4+2))
		case 0x03:
			lenByte := make([]byte, 1)
			io.ReadFull(conn, lenByte)
			io.ReadFull(conn, make([]byte, int(lenByte[0])+2))
		}
		conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0})

		io.Copy(conn, conn)
	}()

	return ln.Addr().String()
}

func TestServer_EndToEndSOCKS5ClientThroughSOCKS5Remote(t *testing.T) {
	remoteAddr := fakeEchoSocks5Remote(t)
	remoteHost, remotePortStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		t.Fatalf("split remote addr: %v", err)
	}

	dir := t.TempDir()
	proxyFile := filepath.Join(dir, "proxies.txt")
	if err := os.WriteFile(proxyFile, []byte(remoteHost+" "+remotePortStr+" user pass socks5\n"), 0o644); err != nil {
		t.Fatalf("write proxy file: %v", err)
	}

	reg, err := registry.Load(proxyFile)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	localPort := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	listeners, err := Open(localPort, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(listeners)

	manager := poolmgr.NewManager(reg, localPort, 1, nil)
	manager.Warmup(1)
	if _, _, err := manager.ReserveReadyPort(); err != nil {
		t.Fatalf("ReserveReadyPort: %v", err)
	}

	orch := orchestrator.New(manager, 1, nil)
	defer orch.Shutdown()

	server := New(manager, orch, nil, nil)
	server.Serve(listeners)
	defer server.Shutdown()

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	if err != nil {
		t.Fatalf("dial local port: %v", err)
	}
	defer client.Close()

	client.Write([]byte{0x05, 0x01, 0x00})
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(client, methodReply); err != nil {
		t.Fatalf("read method reply: %v", err)
	}
	if methodReply[1] != 0x00 {
		t.Fatalf("expected no-auth accepted, got method 0x%02x", methodReply[1])
	}

	client.Write([]byte{0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x01, 0xbb})
	connectReply := make([]byte, 10)
	if _, err := io.ReadFull(client, connectReply); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}
	if connectReply[1] != 0x00 {
		t.Fatalf("expected connect success, got reply code 0x%02x", connectReply[1])
	}

	client.Write([]byte("ping"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	echoed := make([]byte, 4)
	if _, err := io.ReadFull(client, echoed); err != nil {
		t.Fatalf("read echo: %v", err)
	}
	if string(echoed) != "ping" {
		t.Errorf("expected echoed 'ping', got %q", string(echoed))
	}
}

// TestServer_DirectConnectClaimsReadyPortWithoutPriorAcquire exercises the
// spec's S1-style direct connection: a client dials a local port that has
// never been through /acquire, relying on handleConn to atomically claim
// the still-Ready binding itself.
func TestServer_DirectConnectClaimsReadyPortWithoutPriorAcquire(t *testing.T) {
	remoteAddr := fakeEchoSocks5Remote(t)
	remoteHost, remotePortStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		t.Fatalf("split remote addr: %v", err)
	}

	dir := t.TempDir()
	proxyFile := filepath.Join(dir, "proxies.txt")
	if err := os.WriteFile(proxyFile, []byte(remoteHost+" "+remotePortStr+" user pass socks5\n"), 0o644); err != nil {
		t.Fatalf("write proxy file: %v", err)
	}

	reg, err := registry.Load(proxyFile)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	localPort := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	listeners, err := Open(localPort, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(listeners)

	manager := poolmgr.NewManager(reg, localPort, 1, nil)
	manager.Warmup(1) // leaves the port Ready; no ReserveReadyPort call here

	orch := orchestrator.New(manager, 1, nil)
	defer orch.Shutdown()

	server := New(manager, orch, nil, nil)
	server.Serve(listeners)
	defer server.Shutdown()

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	if err != nil {
		t.Fatalf("dial local port: %v", err)
	}
	defer client.Close()

	client.Write([]byte{0x05, 0x01, 0x00})
	methodReply := make([]byte, 2)
	if _, err := io.ReadFull(client, methodReply); err != nil {
		t.Fatalf("read method reply: %v", err)
	}
	if methodReply[1] != 0x00 {
		t.Fatalf("expected no-auth accepted, got method 0x%02x", methodReply[1])
	}

	client.Write([]byte{0x05, 0x01, 0x00, 0x01, 93, 184, 216, 34, 0x01, 0xbb})
	connectReply := make([]byte, 10)
	if _, err := io.ReadFull(client, connectReply); err != nil {
		t.Fatalf("read connect reply: %v", err)
	}
	if connectReply[1] != 0x00 {
		t.Fatalf("expected connect success on a direct connection, got reply code 0x%02x", connectReply[1])
	}
}

// TestServer_AbsoluteFormHTTPRewritesToOriginForm exercises spec.md's
// absolute-form HTTP proxying path: a plain "GET http://host/path" request,
// with no prior CONNECT, should be forwarded to the remote with its request
// line rewritten to origin-form rather than replied to with a tunnel
// established reply. fakeEchoSocks5Remote stands in for the remote proxy's
// tunnel to the origin server: it doesn't care what's inside the tunnel, so
// it's equally good as a stand-in for "a SOCKS5 upstream that then reaches
// an HTTP origin".
func TestServer_AbsoluteFormHTTPRewritesToOriginForm(t *testing.T) {
	remoteAddr := fakeEchoSocks5Remote(t)
	remoteHost, remotePortStr, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		t.Fatalf("split remote addr: %v", err)
	}

	dir := t.TempDir()
	proxyFile := filepath.Join(dir, "proxies.txt")
	if err := os.WriteFile(proxyFile, []byte(remoteHost+" "+remotePortStr+" user pass socks5\n"), 0o644); err != nil {
		t.Fatalf("write proxy file: %v", err)
	}

	reg, err := registry.Load(proxyFile)
	if err != nil {
		t.Fatalf("registry.Load: %v", err)
	}

	probe, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	localPort := probe.Addr().(*net.TCPAddr).Port
	probe.Close()

	listeners, err := Open(localPort, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer Close(listeners)

	manager := poolmgr.NewManager(reg, localPort, 1, nil)
	manager.Warmup(1)

	orch := orchestrator.New(manager, 1, nil)
	defer orch.Shutdown()

	server := New(manager, orch, nil, nil)
	server.Serve(listeners)
	defer server.Shutdown()

	client, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(localPort)))
	if err != nil {
		t.Fatalf("dial local port: %v", err)
	}
	defer client.Close()

	client.Write([]byte("GET http://example.com/widgets HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))

	reply := make([]byte, 64)
	n, err := client.Read(reply)
	if err != nil {
		t.Fatalf("read echoed request: %v", err)
	}
	got := string(reply[:n])
	if !strings.HasPrefix(got, "GET /widgets HTTP/1.1\r\n") {
		t.Errorf("expected request line rewritten to origin-form, got %q", got)
	}
	if strings.Contains(got, "http://example.com") {
		t.Errorf("expected absolute-form target stripped from forwarded request, got %q", got)
	}
}
