package auth

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-auth-issuer"

// Issuance operations, used for metrics and spans.
const (
	OperationRegister  = "register"
	OperationLogin     = "login"
	OperationRefresh   = "refresh"
	OperationFederated = "federated"
)

// TokenResult is what every entry point returns to the client.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    *int   `json:"expires_in"`
	NeverExpires bool   `json:"never_expires"`
	TTLMinutes   int    `json:"-"`
}

// TokenFactory produces a token for a resolved ttl.
type TokenFactory func(ctx context.Context, ttl TTLDecision) (string, error)

// Issuance resolves a user's ttl from its role and produces the token with
// that ttl. It is the single path every login flavor goes through.
type Issuance struct {
	ttl     TTLConfig
	issuer  TokenIssuer
	metrics IssuanceMetrics
	tracer  trace.Tracer
}

// IssuanceOption configures Issuance.
type IssuanceOption func(*Issuance)

// WithIssuanceMetrics sets the metrics sink.
func WithIssuanceMetrics(m IssuanceMetrics) IssuanceOption {
	return func(i *Issuance) {
		if m != nil {
			i.metrics = m
		}
	}
}

// WithTracer overrides the otel tracer.
func WithTracer(t trace.Tracer) IssuanceOption {
	return func(i *Issuance) {
		if t != nil {
			i.tracer = t
		}
	}
}

// NewIssuance creates a coordinator.
func NewIssuance(cfg TTLConfig, issuer TokenIssuer, opts ...IssuanceOption) *Issuance {
	i := &Issuance{
		ttl:     cfg,
		issuer:  issuer,
		metrics: noopIssuanceMetrics{},
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	return i
}

// Issuer returns the underlying token issuer.
func (i *Issuance) Issuer() TokenIssuer {
	return i.issuer
}

// Decide returns the ttl decision for role.
func (i *Issuance) Decide(role string) TTLDecision {
	return ResolveTTL(role, i.ttl)
}

// IssueWith resolves the ttl for user and calls factory exactly once. Errors
// from factory are returned unchanged.
func (i *Issuance) IssueWith(ctx context.Context, operation string, user *User, factory TokenFactory) (*TokenResult, error) {
	ctx, span := i.tracer.Start(ctx, "auth.issue", trace.WithAttributes(
		attribute.String("auth.operation", operation),
		attribute.String("auth.role", user.Role),
	))
	defer span.End()

	decision := ResolveTTL(user.Role, i.ttl)
	span.SetAttributes(
		attribute.Int("auth.ttl_minutes", decision.Minutes),
		attribute.Bool("auth.never_expires", decision.NeverExpires),
	)

	token, err := factory(ctx, decision)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token issuance failed")
		i.metrics.TokenFailed(operation, user.Role)
		return nil, err
	}

	i.metrics.TokenIssued(operation, user.Role, decision.NeverExpires)

	return &TokenResult{
		AccessToken:  token,
		TokenType:    "bearer",
		ExpiresIn:    decision.ExpiresInSeconds(),
		NeverExpires: decision.NeverExpires,
		TTLMinutes:   decision.Minutes,
	}, nil
}

// Issue mints a fresh token for user.
func (i *Issuance) Issue(ctx context.Context, operation string, user *User) (*TokenResult, error) {
	return i.IssueWith(ctx, operation, user, func(ctx context.Context, ttl TTLDecision) (string, error) {
		return i.issuer.Mint(ctx, NewIdentityFromUser(user), ttl)
	})
}

// Refresh replaces raw with a token for user's current role and its ttl.
func (i *Issuance) Refresh(ctx context.Context, user *User, raw string) (*TokenResult, error) {
	return i.IssueWith(ctx, OperationRefresh, user, func(ctx context.Context, ttl TTLDecision) (string, error) {
		return i.issuer.Refresh(ctx, NewIdentityFromUser(user), raw, ttl)
	})
}
