package auth

import (
	"strconv"
	"strings"
	"time"
)

// NeverExpireOverride is the role override value that marks a role's tokens
// as never expiring. Matched case-insensitively.
const NeverExpireOverride = "never"

// TTLConfig holds the token lifetime settings.
type TTLConfig struct {
	// DefaultTTLMinutes applies to roles without a usable override.
	DefaultTTLMinutes int
	// NeverExpireTTLMinutes is the ttl used for "never" roles. When nil the
	// default ttl is used. Zero yields tokens without an exp claim.
	NeverExpireTTLMinutes *int
	// RoleOverrides maps a role name to "never" or a positive number of minutes.
	RoleOverrides map[string]string
}

// TTLDecision is the resolved token lifetime for a role.
type TTLDecision struct {
	Minutes      int
	NeverExpires bool
}

// Duration returns the lifetime as a time.Duration.
func (d TTLDecision) Duration() time.Duration {
	return time.Duration(d.Minutes) * time.Minute
}

// ExpiresInSeconds is nil for never-expiring decisions.
func (d TTLDecision) ExpiresInSeconds() *int {
	if d.NeverExpires {
		return nil
	}
	s := d.Minutes * 60
	return &s
}

// ResolveTTL picks the token lifetime for role. Malformed overrides fall back
// to the default ttl; it never fails.
func ResolveTTL(role string, cfg TTLConfig) TTLDecision {
	override, ok := cfg.RoleOverrides[role]
	if !ok {
		return TTLDecision{Minutes: cfg.DefaultTTLMinutes}
	}

	if strings.EqualFold(override, NeverExpireOverride) {
		minutes := cfg.DefaultTTLMinutes
		if cfg.NeverExpireTTLMinutes != nil {
			minutes = *cfg.NeverExpireTTLMinutes
		}
		return TTLDecision{Minutes: minutes, NeverExpires: true}
	}

	if minutes, ok := parsePositiveMinutes(override); ok {
		return TTLDecision{Minutes: minutes}
	}

	return TTLDecision{Minutes: cfg.DefaultTTLMinutes}
}

// parsePositiveMinutes accepts plain ASCII digits only, no sign or spaces.
func parsePositiveMinutes(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
