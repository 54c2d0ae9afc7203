package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP resolves the client address used as the rate-limit key. Header
// order matters: the CDN-injected header is checked before the spoofable
// forwarding headers, with the TCP peer address as the trusted fallback.
func ClientIP(r *http.Request) string {
	if ip := validIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := xff
		if idx := strings.Index(xff, ","); idx >= 0 {
			first = xff[:idx]
		}
		if ip := validIP(first); ip != "" {
			return ip
		}
	}
	if ip := validIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := validIP(host); ip != "" {
		return ip
	}
	return "0.0.0.0"
}

func validIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if net.ParseIP(s) == nil {
		return ""
	}
	return s
}
