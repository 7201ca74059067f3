package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Config holds rate limiting settings for the session endpoints
type Config struct {
	// Per-IP limiting across all routes
	PerIPEnabled    bool
	PerIPCapacity   int
	PerIPRefillRate float64

	// Tighter limits for specific endpoints, keyed "METHOD /path".
	// Validation and refresh endpoints get these since they take
	// attacker-controlled tokens.
	EndpointLimits map[string]EndpointLimit

	// How long to keep idle buckets in memory
	BucketTTL time.Duration
}

// EndpointLimit overrides the per-IP limit for one endpoint
type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// DefaultConfig allows 100 requests per minute per IP with idle buckets
// kept for an hour
func DefaultConfig() *Config {
	return &Config{
		PerIPEnabled:    true,
		PerIPCapacity:   100,
		PerIPRefillRate: 100.0 / 60.0,
		EndpointLimits:  make(map[string]EndpointLimit),
		BucketTTL:       time.Hour,
	}
}

// Middleware enforces the configured limits ahead of the session handlers
type Middleware struct {
	config           *Config
	ipLimiter        *Limiter
	endpointLimiters map[string]*Limiter
}

// NewMiddleware creates the rate limiting middleware
func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Middleware{
		config:           config,
		endpointLimiters: make(map[string]*Limiter),
	}
	if config.PerIPEnabled {
		m.ipLimiter = NewLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL)
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpointLimiters[endpoint] = NewLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}
	return m
}

// Handler returns the middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)

		if m.ipLimiter != nil && ip != "" && !m.ipLimiter.Allow(ip) {
			m.reject(w, r, ip, "ip")
			return
		}

		endpointKey := r.Method + " " + r.URL.Path
		if limiter, ok := m.endpointLimiters[endpointKey]; ok {
			if !limiter.Allow(ip + ":" + endpointKey) {
				m.reject(w, r, ip, "endpoint")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) reject(w http.ResponseWriter, r *http.Request, ip, limitType string) {
	slog.Warn("Rate limit exceeded",
		"type", limitType,
		"ip", ip,
		"method", r.Method,
		"path", r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	w.Write([]byte(`{"error": "rate_limit_exceeded", "message": "Too many requests. Please try again later."}`))
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
