package auth

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// TTLSigner is a signer whose lifetime is a mutable default shared by every
// token it signs.
type TTLSigner interface {
	DefaultTTL() int
	SetDefaultTTL(minutes int)
	Sign(ctx context.Context, identity Identity) (string, error)
	Resign(ctx context.Context, identity Identity, raw string) (string, error)
}

// ScopedTTLIssuer adapts a TTLSigner to TokenIssuer. Each call swaps in the
// requested ttl, signs, and restores the prior default while holding a lock,
// so concurrent callers never observe each other's ttl.
type ScopedTTLIssuer struct {
	mu     sync.Mutex
	signer TTLSigner
}

var _ TokenIssuer = (*ScopedTTLIssuer)(nil)

// NewScopedTTLIssuer wraps signer.
func NewScopedTTLIssuer(signer TTLSigner) *ScopedTTLIssuer {
	return &ScopedTTLIssuer{signer: signer}
}

// Mint implements TokenIssuer.
func (s *ScopedTTLIssuer) Mint(ctx context.Context, identity Identity, ttl TTLDecision) (string, error) {
	return s.withTTL(ttl, func() (string, error) {
		return s.signer.Sign(ctx, identity)
	})
}

// Refresh implements TokenIssuer.
func (s *ScopedTTLIssuer) Refresh(ctx context.Context, identity Identity, raw string, ttl TTLDecision) (string, error) {
	return s.withTTL(ttl, func() (string, error) {
		return s.signer.Resign(ctx, identity, raw)
	})
}

// Parse implements TokenIssuer when the wrapped signer can parse tokens.
func (s *ScopedTTLIssuer) Parse(raw string) (*JWTClaims, error) {
	p, ok := s.signer.(interface {
		Parse(raw string) (*JWTClaims, error)
	})
	if !ok {
		return nil, WrapError(ErrTokenOperation, goerrors.New("signer cannot parse tokens", goerrors.CategoryInternal), nil)
	}
	return p.Parse(raw)
}

func (s *ScopedTTLIssuer) withTTL(ttl TTLDecision, fn func() (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prior := s.signer.DefaultTTL()
	if prior != ttl.Minutes {
		s.signer.SetDefaultTTL(ttl.Minutes)
		defer s.signer.SetDefaultTTL(prior)
	}

	return fn()
}

// DefaultTTLSigner is a TTLSigner backed by a JWTIssuer. A zero default ttl
// signs tokens without an exp claim. It is not safe for concurrent ttl
// changes on its own; wrap it in ScopedTTLIssuer.
type DefaultTTLSigner struct {
	issuer     *JWTIssuer
	defaultTTL int
}

var _ TTLSigner = (*DefaultTTLSigner)(nil)

// NewDefaultTTLSigner creates a signer with the given default ttl in minutes.
func NewDefaultTTLSigner(issuer *JWTIssuer, defaultTTL int) *DefaultTTLSigner {
	return &DefaultTTLSigner{issuer: issuer, defaultTTL: defaultTTL}
}

func (d *DefaultTTLSigner) DefaultTTL() int { return d.defaultTTL }

func (d *DefaultTTLSigner) SetDefaultTTL(minutes int) { d.defaultTTL = minutes }

func (d *DefaultTTLSigner) Sign(ctx context.Context, identity Identity) (string, error) {
	return d.issuer.Mint(ctx, identity, d.decision())
}

func (d *DefaultTTLSigner) Resign(ctx context.Context, identity Identity, raw string) (string, error) {
	return d.issuer.Refresh(ctx, identity, raw, d.decision())
}

func (d *DefaultTTLSigner) Parse(raw string) (*JWTClaims, error) {
	return d.issuer.Parse(raw)
}

func (d *DefaultTTLSigner) decision() TTLDecision {
	return TTLDecision{Minutes: d.defaultTTL, NeverExpires: d.defaultTTL == 0}
}
