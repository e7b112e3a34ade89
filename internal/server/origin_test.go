package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeOrigins(t *testing.T) {
	origins, allowAll := normalizeOrigins([]string{" HTTP://Example.COM ", "", "not-an-origin", "*"})
	require.True(t, allowAll)
	require.Equal(t, []string{"http://example.com"}, origins)
}

func TestOriginPolicy(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080"})

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "allowed", origin: "http://localhost:8080", want: true},
		{name: "case insensitive", origin: "HTTP://LOCALHOST:8080", want: true},
		{name: "other port", origin: "http://localhost:9090", want: false},
		{name: "missing", origin: "", want: false},
		{name: "garbage", origin: "::::", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/presence", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			require.Equal(t, tt.want, policy.checkOrigin(r))
		})
	}
}

func TestOriginPolicyAllowAll(t *testing.T) {
	policy := newOriginPolicy([]string{"*"})
	r := httptest.NewRequest(http.MethodGet, "/ws/presence", nil)
	require.True(t, policy.allows(r))
	r.Header.Set("Origin", "https://anywhere.example")
	require.True(t, policy.allows(r))
}
