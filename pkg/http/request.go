package http

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP extracts the client IP for audit logging. It prefers
// the first valid X-Forwarded-For entry, then X-Real-IP, then
// RemoteAddr. The router already normalizes RemoteAddr via the RealIP
// middleware; this helper exists for call sites outside the router.
func ExtractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
