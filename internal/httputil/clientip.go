package httputil

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIP returns the client address of r. With trustProxy the leftmost
// parseable X-Forwarded-For entry, then X-Real-IP, take precedence over
// RemoteAddr; unparseable header values are ignored. Only enable trustProxy
// behind a reverse proxy that overwrites these headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if addr, ok := parseAddr(first); ok {
				return addr.String()
			}
		}
		if addr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
			return addr.String()
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if addr, ok := parseAddr(host); ok {
		return addr.String()
	}
	return host
}

// LimitKey maps a client address to the key used for per-client limits.
// IPv6 clients are grouped by /64, the usual size of one subscriber's
// allocation. Anything unparseable is its own key.
func LimitKey(ip string) string {
	addr, ok := parseAddr(ip)
	if !ok || addr.Is4() {
		return ip
	}
	prefix, err := addr.Prefix(64)
	if err != nil {
		return ip
	}
	return prefix.String()
}

func parseAddr(s string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
