package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// JWTIssuer signs HS256 session tokens. The ttl of every token is supplied
// by the caller, so a single issuer is safe for concurrent use.
type JWTIssuer struct {
	signingKey  []byte
	issuer      string
	audience    jwt.ClaimStrings
	revocations RevocationList
	now         func() time.Time
	logger      Logger
}

var _ TokenIssuer = (*JWTIssuer)(nil)

// JWTIssuerOption configures a JWTIssuer.
type JWTIssuerOption func(*JWTIssuer)

// WithRevocationList sets the list used to reject refreshed tokens.
func WithRevocationList(list RevocationList) JWTIssuerOption {
	return func(ts *JWTIssuer) {
		if list != nil {
			ts.revocations = list
		}
	}
}

// WithIssuerClock overrides the time source.
func WithIssuerClock(now func() time.Time) JWTIssuerOption {
	return func(ts *JWTIssuer) {
		if now != nil {
			ts.now = now
		}
	}
}

// WithIssuerLogger sets the logger.
func WithIssuerLogger(logger Logger) JWTIssuerOption {
	return func(ts *JWTIssuer) {
		ts.logger = normalizeLogger(logger)
	}
}

// NewJWTIssuer creates a new issuer
func NewJWTIssuer(signingKey []byte, issuer string, audience []string, opts ...JWTIssuerOption) *JWTIssuer {
	ts := &JWTIssuer{
		signingKey:  signingKey,
		issuer:      issuer,
		audience:    jwt.ClaimStrings(append([]string(nil), audience...)),
		revocations: NewMemoryRevocationList(),
		now:         time.Now,
		logger:      defLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}
	return ts
}

// Mint signs a token for identity. Tokens get exp = iat + ttl unless the
// decision is never-expiring with a zero ttl, in which case exp is omitted.
func (ts *JWTIssuer) Mint(_ context.Context, identity Identity, ttl TTLDecision) (string, error) {
	if identity == nil || identity.ID() == "" {
		return "", WrapError(ErrTokenOperation, ErrIdentityNotFound, nil)
	}

	if ttl.Minutes < 0 || (ttl.Minutes == 0 && !ttl.NeverExpires) {
		return "", WrapError(ErrTokenOperation, fmt.Errorf("invalid ttl: %d minutes", ttl.Minutes), map[string]any{
			"ttl_minutes": ttl.Minutes,
		})
	}

	now := ts.now()
	claims := &JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   ts.issuer,
			Subject:  identity.ID(),
			Audience: ts.audience,
			IssuedAt: jwt.NewNumericDate(now),
			ID:       uuid.NewString(),
		},
		UID:      identity.ID(),
		UserRole: identity.Role(),
		Never:    ttl.NeverExpires,
	}

	if ttl.Minutes > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl.Duration()))
	}

	return ts.sign(claims)
}

// Refresh validates raw, mints a replacement for identity with the given ttl
// and revokes the old token id. The new claims come from identity, so a role
// change since the old token was issued is reflected. raw must belong to
// identity.
func (ts *JWTIssuer) Refresh(ctx context.Context, identity Identity, raw string, ttl TTLDecision) (string, error) {
	claims, err := ts.Parse(raw)
	if err != nil {
		return "", err
	}

	if identity == nil || identity.ID() == "" {
		return "", WrapError(ErrTokenOperation, ErrIdentityNotFound, nil)
	}

	if claims.UserID() != identity.ID() {
		return "", WrapError(ErrTokenMalformed, fmt.Errorf("token subject does not match identity"), map[string]any{
			"sub": claims.UserID(),
		})
	}

	token, err := ts.Mint(ctx, identity, ttl)
	if err != nil {
		return "", err
	}

	if err := ts.revocations.Revoke(ctx, claims.ID, claims.Expires()); err != nil {
		ts.logger.Error("failed to revoke refreshed token %s: %v", claims.ID, err)
		return "", WrapError(ErrTokenOperation, err, map[string]any{"jti": claims.ID})
	}

	return token, nil
}

// Parse validates a token string and returns its claims. Revoked tokens are
// rejected.
func (ts *JWTIssuer) Parse(raw string) (*JWTClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(ts.now),
		jwt.WithIssuedAt(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience...))
	}

	claims := &JWTClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return ts.signingKey, nil
	}, parserOptions...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, WrapError(ErrTokenMalformed, err, nil)
	}

	if !token.Valid {
		return nil, ErrTokenMalformed
	}

	if err := ts.checkRevoked(context.Background(), claims); err != nil {
		return nil, err
	}

	return claims, nil
}

func (ts *JWTIssuer) checkRevoked(ctx context.Context, claims *JWTClaims) error {
	revoked, err := ts.revocations.IsRevoked(ctx, claims.ID)
	if err != nil {
		return WrapError(ErrTokenOperation, err, map[string]any{"jti": claims.ID})
	}
	if revoked {
		return ErrTokenRevoked
	}
	return nil
}

func (ts *JWTIssuer) sign(claims *JWTClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		ts.logger.Error("failed to sign token: %v", err)
		return "", WrapError(ErrTokenOperation, err, nil)
	}

	return signed, nil
}
