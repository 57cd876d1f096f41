package auth

import (
	"context"
	"fmt"
)

// Logger is the logging surface used by the package.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Identity holds the attributes of an identity
type Identity interface {
	ID() string
	Email() string
	Role() string
}

// TokenIssuer mints bearer tokens for an explicit ttl decision.
type TokenIssuer interface {
	Mint(ctx context.Context, identity Identity, ttl TTLDecision) (string, error)
	Refresh(ctx context.Context, identity Identity, raw string, ttl TTLDecision) (string, error)
	Parse(raw string) (*JWTClaims, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

// IssuanceMetrics receives token issuance outcomes.
type IssuanceMetrics interface {
	TokenIssued(operation, role string, neverExpires bool)
	TokenFailed(operation, role string)
}

type noopIssuanceMetrics struct{}

func (noopIssuanceMetrics) TokenIssued(string, string, bool) {}
func (noopIssuanceMetrics) TokenFailed(string, string)       {}

// DefaultLogger returns the stdout logger used when none is configured.
func DefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] AUTH "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] AUTH "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] AUTH "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] AUTH "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}

// NopLogger discards every message.
func NopLogger() Logger {
	return nopLogger{}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}
