package config

import "time"

// ImpersonationConfig contains impersonation overlay settings
type ImpersonationConfig struct {
	// TTL is the fixed lifetime of an impersonation session.
	// Fixed at creation, never extended.
	TTL time.Duration `env:"IMPERSONATION_TTL" env-default:"30m"`

	// MaxActivePerAdmin caps simultaneously active impersonation sessions
	// per admin. Exceeding it fails the start call; there is no eviction.
	MaxActivePerAdmin int `env:"IMPERSONATION_MAX_ACTIVE_PER_ADMIN" env-default:"3"`
}

// DefaultImpersonationConfig returns an ImpersonationConfig with the standard policy values
func DefaultImpersonationConfig() ImpersonationConfig {
	return ImpersonationConfig{
		TTL:               30 * time.Minute,
		MaxActivePerAdmin: 3,
	}
}

// NewImpersonationConfigFromEnv loads ImpersonationConfig from standard environment variables
func NewImpersonationConfigFromEnv() ImpersonationConfig {
	return ImpersonationConfig{
		TTL:               GetEnvDuration("IMPERSONATION_TTL", 30*time.Minute),
		MaxActivePerAdmin: GetEnvInt("IMPERSONATION_MAX_ACTIVE_PER_ADMIN", 3),
	}
}
