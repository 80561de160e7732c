package upstream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// WithPrivateNetworkGuard makes the client refuse upstreams that resolve to
// loopback, private, or link-local addresses. Deployments whose admin API
// accepts arbitrary provider base URLs use this to keep those URLs from
// reaching internal services. Ignored when a custom HTTP client is supplied.
func WithPrivateNetworkGuard() ClientOption {
	return func(c *Client) {
		c.guardPrivate = true
	}
}

// blockedIP reports whether dialing ip would reach a non-public address.
func blockedIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

// guardedTransport checks the resolved remote address after dialing, so
// DNS rebinding cannot sneak a private IP past a hostname check.
func guardedTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
			ip := net.ParseIP(host)
			if ip == nil {
				conn.Close()
				return nil, fmt.Errorf("failed to parse remote IP for %q", addr)
			}
			if blockedIP(ip) {
				conn.Close()
				return nil, fmt.Errorf("access to private IP %s is denied", ip)
			}
			return conn, nil
		},
	}
}
