package auth

import (
	"net"
	"strings"
)

// ClientID identifies the caller for rate limiting: the first hop of the
// X-Forwarded-For header when present, otherwise the peer address with any
// port stripped.
func ClientID(req *Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return first
		}
	}

	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	if req.RemoteAddr != "" {
		return req.RemoteAddr
	}
	return "unknown"
}
