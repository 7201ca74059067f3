package config

import "time"

// SessionConfig contains regular-session lifecycle settings.
// The limits are product policy values, not structural requirements,
// so every one of them is configurable.
type SessionConfig struct {
	// TTL is the lifetime of a session created without remember-me
	TTL time.Duration `env:"SESSION_TTL" env-default:"24h"`

	// RememberMeTTL is the lifetime of a session created with remember-me
	RememberMeTTL time.Duration `env:"SESSION_REMEMBER_ME_TTL" env-default:"720h"`

	// RefreshThreshold is the remaining lifetime below which validation
	// flags a session for refresh (and auto-extends it)
	RefreshThreshold time.Duration `env:"SESSION_REFRESH_THRESHOLD" env-default:"2h"`

	// MaxSessionsPerUser caps simultaneously live sessions per user.
	// Creating one more evicts the oldest live session. Soft cap: two
	// concurrent logins may transiently overshoot it.
	MaxSessionsPerUser int `env:"SESSION_MAX_PER_USER" env-default:"5"`

	// CleanupInterval is how often the expired-session sweep runs
	CleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" env-default:"5m"`
}

// DefaultSessionConfig returns a SessionConfig with the standard policy values
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		TTL:                24 * time.Hour,
		RememberMeTTL:      30 * 24 * time.Hour,
		RefreshThreshold:   2 * time.Hour,
		MaxSessionsPerUser: 5,
		CleanupInterval:    5 * time.Minute,
	}
}

// NewSessionConfigFromEnv loads SessionConfig from standard environment variables.
// This is an optional convenience function - you can also populate the struct manually.
func NewSessionConfigFromEnv() SessionConfig {
	return SessionConfig{
		TTL:                GetEnvDuration("SESSION_TTL", 24*time.Hour),
		RememberMeTTL:      GetEnvDuration("SESSION_REMEMBER_ME_TTL", 30*24*time.Hour),
		RefreshThreshold:   GetEnvDuration("SESSION_REFRESH_THRESHOLD", 2*time.Hour),
		MaxSessionsPerUser: GetEnvInt("SESSION_MAX_PER_USER", 5),
		CleanupInterval:    GetEnvDuration("SESSION_CLEANUP_INTERVAL", 5*time.Minute),
	}
}
