package httputil

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		expectedIP string
	}{
		{name: "X-Forwarded-For single IPv4", headers: map[string]string{"X-Forwarded-For": "203.0.113.5"}, expectedIP: "203.0.113.5"},
		{name: "X-Forwarded-For takes first hop", headers: map[string]string{"X-Forwarded-For": "198.51.100.7, 203.0.113.9"}, expectedIP: "198.51.100.7"},
		{name: "X-Forwarded-For IPv6", headers: map[string]string{"X-Forwarded-For": "2001:db8::1, 203.0.113.9"}, expectedIP: "2001:db8::1"},
		{name: "X-Forwarded-For with spaces", headers: map[string]string{"X-Forwarded-For": "  203.0.113.10  ,  198.51.100.2  "}, expectedIP: "203.0.113.10"},
		{name: "X-Real-IP without XFF", headers: map[string]string{"X-Real-IP": "203.0.113.12"}, expectedIP: "203.0.113.12"},
		{
			name:       "XFF wins over X-Real-IP",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.77", "X-Real-IP": "203.0.113.200"},
			expectedIP: "198.51.100.77",
		},
		{name: "RemoteAddr IPv4", remoteAddr: "192.0.2.55:54321", expectedIP: "192.0.2.55"},
		{name: "RemoteAddr IPv6", remoteAddr: "[2001:db8::5]:8443", expectedIP: "2001:db8::5"},
		{name: "Malformed RemoteAddr returns raw", remoteAddr: "not_an_ip_port", expectedIP: "not_an_ip_port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "http://relay.test", nil)
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			r.RemoteAddr = tt.remoteAddr
			assert.Equal(t, tt.expectedIP, GetClientIP(r))
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc.def.ghi": "abc.def.ghi",
		"bearer  token ":     "token",
		"Basic dXNlcg==":     "",
		"":                   "",
		"Bearer":             "",
	}

	for header, want := range tests {
		r, _ := http.NewRequest(http.MethodGet, "http://relay.test", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		assert.Equal(t, want, BearerToken(r), header)
	}
}
