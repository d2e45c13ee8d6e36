package httputil

import (
	"net/http"
	"testing"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		trustProxy bool
		xff        string
		xri        string
		remoteAddr string
		want       string
	}{
		{name: "remote ipv4", remoteAddr: "192.168.1.1:12345", want: "192.168.1.1"},
		{name: "remote ipv6", remoteAddr: "[::1]:12345", want: "::1"},
		{name: "remote without port", remoteAddr: "192.168.1.1", want: "192.168.1.1"},
		{name: "remote mapped ipv4", remoteAddr: "[::ffff:10.1.2.3]:80", want: "10.1.2.3"},
		{name: "remote garbage", remoteAddr: "pipe", want: "pipe"},

		{name: "headers ignored without trust", xff: "1.2.3.4", xri: "5.6.7.8", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
		{name: "xff single", trustProxy: true, xff: "1.2.3.4", remoteAddr: "10.0.0.1:1234", want: "1.2.3.4"},
		{name: "xff chain takes leftmost", trustProxy: true, xff: " 1.2.3.4 , 10.0.0.2, 10.0.0.3", remoteAddr: "10.0.0.1:1234", want: "1.2.3.4"},
		{name: "xff ipv6", trustProxy: true, xff: "2001:db8::1", remoteAddr: "10.0.0.1:1234", want: "2001:db8::1"},
		{name: "xff garbage falls to xri", trustProxy: true, xff: "unknown", xri: "5.6.7.8", remoteAddr: "10.0.0.1:1234", want: "5.6.7.8"},
		{name: "xri only", trustProxy: true, xri: "5.6.7.8", remoteAddr: "10.0.0.1:1234", want: "5.6.7.8"},
		{name: "all headers garbage", trustProxy: true, xff: "unknown", xri: "also bad", remoteAddr: "10.0.0.1:1234", want: "10.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &http.Request{RemoteAddr: tt.remoteAddr, Header: http.Header{}}
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				r.Header.Set("X-Real-IP", tt.xri)
			}
			if got := ClientIP(r, tt.trustProxy); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLimitKey(t *testing.T) {
	tests := []struct {
		ip   string
		want string
	}{
		{"192.168.1.1", "192.168.1.1"},
		{"2001:db8:1:2:aaaa::1", "2001:db8:1:2::/64"},
		{"2001:db8:1:2:ffff::9", "2001:db8:1:2::/64"},
		{"::1", "::/64"},
		{"pipe", "pipe"},
	}
	for _, tt := range tests {
		if got := LimitKey(tt.ip); got != tt.want {
			t.Errorf("LimitKey(%q) = %q, want %q", tt.ip, got, tt.want)
		}
	}
}
