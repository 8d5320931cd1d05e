package probe

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// DefaultReachabilityAddress is dialed when no address is configured.
const DefaultReachabilityAddress = "1.1.1.1:53"

// Reachability is a Requester that only checks a TCP connection can be
// opened. A successful dial is reported as a 200 so it classifies like an
// HTTP check; the request URL is ignored.
type Reachability struct {
	Address string
	Dialer  net.Dialer
}

func (r *Reachability) Do(ctx context.Context, req Request) Response {
	addr := strings.TrimSpace(r.Address)
	if addr == "" {
		addr = DefaultReachabilityAddress
	}
	if !strings.Contains(addr, ":") {
		addr = net.JoinHostPort(addr, "53")
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := r.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Response{Err: err}
	}
	_ = conn.Close()
	return Response{OK: true, StatusCode: http.StatusOK}
}
