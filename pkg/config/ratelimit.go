package config

// RateLimitConfig contains request throttling settings for the HTTP surface
type RateLimitConfig struct {
	// Enabled turns per-IP throttling on for the session routes
	Enabled bool `env:"SESSIONS_RATELIMIT_ENABLED" env-default:"true"`

	// PerIPPerMinute is the sustained per-IP request budget across the
	// session routes. Burst capacity equals the same number.
	PerIPPerMinute int `env:"SESSIONS_RATELIMIT_PER_IP_PER_MINUTE" env-default:"100"`

	// ValidatePerMinute is the tighter per-IP budget for endpoints that
	// accept attacker-controlled tokens
	ValidatePerMinute int `env:"SESSIONS_RATELIMIT_VALIDATE_PER_MINUTE" env-default:"30"`
}

// DefaultRateLimitConfig returns a RateLimitConfig with the standard budgets
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           true,
		PerIPPerMinute:    100,
		ValidatePerMinute: 30,
	}
}
