package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_Burst(t *testing.T) {
	limiter := NewLimiter(3, 1.0, 0)

	assert.True(t, limiter.Allow("client-a"))
	assert.True(t, limiter.Allow("client-a"))
	assert.True(t, limiter.Allow("client-a"))
	assert.False(t, limiter.Allow("client-a"))

	// Other keys have their own bucket
	assert.True(t, limiter.Allow("client-b"))
}

func TestLimiter_Refill(t *testing.T) {
	current := time.Now()
	limiter := NewLimiter(2, 1.0, 0)
	limiter.now = func() time.Time { return current }

	assert.True(t, limiter.Allow("client"))
	assert.True(t, limiter.Allow("client"))
	assert.False(t, limiter.Allow("client"))

	// One token per second
	current = current.Add(1 * time.Second)
	assert.True(t, limiter.Allow("client"))
	assert.False(t, limiter.Allow("client"))

	// Refill caps at capacity
	current = current.Add(time.Hour)
	assert.True(t, limiter.Allow("client"))
	assert.True(t, limiter.Allow("client"))
	assert.False(t, limiter.Allow("client"))
}

func TestLimiter_Reset(t *testing.T) {
	limiter := NewLimiter(1, 0.001, 0)

	assert.True(t, limiter.Allow("client"))
	assert.False(t, limiter.Allow("client"))

	limiter.Reset("client")
	assert.True(t, limiter.Allow("client"))
}

func TestMiddleware_PerIP(t *testing.T) {
	m := NewMiddleware(&Config{
		PerIPEnabled:    true,
		PerIPCapacity:   2,
		PerIPRefillRate: 0.001,
	})

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(ip string) int {
		r := httptest.NewRequest("GET", "/sessions/validate", nil)
		r.Header.Set("X-Forwarded-For", ip)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("203.0.113.7"))
	assert.Equal(t, http.StatusOK, do("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, do("203.0.113.7"))

	// A different client is unaffected
	assert.Equal(t, http.StatusOK, do("203.0.113.8"))
}

func TestMiddleware_EndpointLimit(t *testing.T) {
	m := NewMiddleware(&Config{
		PerIPEnabled:    true,
		PerIPCapacity:   100,
		PerIPRefillRate: 100,
		EndpointLimits: map[string]EndpointLimit{
			"POST /sessions/refresh": {Capacity: 1, RefillRate: 0.001},
		},
	})

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(method, path string) int {
		r := httptest.NewRequest(method, path, nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.9")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	require.Equal(t, http.StatusOK, do("POST", "/sessions/refresh"))
	assert.Equal(t, http.StatusTooManyRequests, do("POST", "/sessions/refresh"))

	// Other endpoints only see the loose per-IP limit
	assert.Equal(t, http.StatusOK, do("GET", "/sessions/validate"))
}
