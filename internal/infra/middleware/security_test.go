package middleware

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/chain", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Contains(t, w.Header().Get("Content-Security-Policy"), "default-src 'none'")
	assert.Empty(t, w.Header().Get("Strict-Transport-Security"), "no HSTS without TLS")

	req := httptest.NewRequest(http.MethodGet, "/v1/chain", nil)
	req.TLS = &tls.ConnectionState{}
	w = httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, req)
	assert.Equal(t, "max-age=31536000; includeSubDomains", w.Header().Get("Strict-Transport-Security"))
}

func do(h http.Handler, remote string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/generate", nil)
	req.RemoteAddr = remote
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimitBlocksAfterBurst(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := RateLimit(ctx, RateLimitConfig{RequestsPerMin: 1, BurstSize: 2})(okHandler)

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1234", nil).Code)
	assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1235", nil).Code)

	w := do(h, "10.0.0.1:1236", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded","code":"RATE_LIMIT"}`, w.Body.String())

	assert.Equal(t, http.StatusOK, do(h, "10.0.0.2:1234", nil).Code, "other clients have their own bucket")
}

func TestRateLimitDisabled(t *testing.T) {
	h := RateLimit(context.Background(), RateLimitConfig{})(okHandler)
	for range 50 {
		assert.Equal(t, http.StatusOK, do(h, "10.0.0.1:1", nil).Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		trusted []string
		want    string
	}{
		{"direct", "192.0.2.1:5000", nil, nil, "192.0.2.1"},
		{"ipv6", "[2001:db8::1]:5000", nil, nil, "2001:db8::1"},
		{"spoofed xff ignored", "192.0.2.1:5000", map[string]string{"X-Forwarded-For": "1.2.3.4"}, nil, "192.0.2.1"},
		{"trusted xff", "10.0.0.1:80", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, []string{"10.0.0.1"}, "203.0.113.9"},
		{"trusted real ip", "10.0.0.1:80", map[string]string{"X-Real-IP": "203.0.113.7"}, []string{"10.0.0.1"}, "203.0.113.7"},
		{"trusted no headers", "10.0.0.1:80", nil, []string{"10.0.0.1"}, "10.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trusted))
		})
	}
}
