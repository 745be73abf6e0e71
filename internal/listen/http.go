package listen

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
)

// httpRequest is the decoded target of a client's HTTP request: either a
// CONNECT tunnel target, or an absolute-form request to proxy in place.
type httpRequest struct {
	Host string
	Port int

	// PlainRequest is set only for absolute-form requests (e.g. "GET
	// http://host/path HTTP/1.1"). Writing it to the dialed remote connection
	// forwards the request with its line rewritten to origin-form, since
	// http.Request.Write serialises from req.URL.RequestURI(), which drops
	// the scheme and authority once they're no longer part of the path.
	PlainRequest *http.Request
}

// httpServerHandshake reads one HTTP request from r. CONNECT requests are
// tunnelled: the authority is extracted and the caller dials it directly,
// then replies itself once the remote is up. Absolute-form requests (any
// other method whose target is a full URL) are proxied without a tunnel:
// the target host defaults to port 80, and the parsed request is forwarded
// to the remote as-is by the caller. A request that is neither CONNECT nor
// absolute-form has no target to resolve and is rejected.
func httpServerHandshake(conn net.Conn, r *bufio.Reader) (*httpRequest, error) {
	req, err := http.ReadRequest(r)
	if err != nil {
		return nil, fmt.Errorf("read request: %w", err)
	}

	if req.Method == http.MethodConnect {
		host, portStr, err := net.SplitHostPort(req.Host)
		if err != nil {
			httpWriteReply(conn, 400, "Bad Request")
			return nil, fmt.Errorf("parse connect target %q: %w", req.Host, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			httpWriteReply(conn, 400, "Bad Request")
			return nil, fmt.Errorf("parse connect target port %q: %w", portStr, err)
		}
		return &httpRequest{Host: host, Port: port}, nil
	}

	if !req.URL.IsAbs() {
		httpWriteReply(conn, 400, "Bad Request")
		return nil, fmt.Errorf("non-CONNECT request %q %q is not absolute-form", req.Method, req.RequestURI)
	}

	port := 80
	if portStr := req.URL.Port(); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			httpWriteReply(conn, 400, "Bad Request")
			return nil, fmt.Errorf("parse absolute-form port %q: %w", portStr, err)
		}
	}

	return &httpRequest{Host: req.URL.Hostname(), Port: port, PlainRequest: req}, nil
}

// httpWriteReply writes a minimal status-line-only HTTP response.
func httpWriteReply(conn net.Conn, status int, reason string) error {
	_, err := fmt.Fprintf(conn, "HTTP/1.1 %d %s\r\n\r\n", status, reason)
	return err
}
