package httpapi

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"

	auth "github.com/goliatone/go-auth-issuer"
)

// DefaultClaimsKey is the fiber Locals key holding the parsed claims.
const DefaultClaimsKey = "auth.claims"

// ErrInsufficientRole is returned when a token's role is below the route minimum.
var ErrInsufficientRole = goerrors.New("insufficient role", goerrors.CategoryAuthz).
	WithTextCode("INSUFFICIENT_ROLE").
	WithCode(http.StatusForbidden)

// TokenParser validates a raw session token.
type TokenParser interface {
	Parse(raw string) (*auth.JWTClaims, error)
}

// GuardConfig configures RequireToken.
type GuardConfig struct {
	// Filter skips the guard when it returns true.
	Filter func(*fiber.Ctx) bool
	// MinimumRole rejects tokens minted for a lower role.
	MinimumRole auth.UserRole
	ContextKey  string
}

// RequireToken rejects requests without a valid bearer token and stores the
// claims in Locals under cfg.ContextKey.
func RequireToken(parser TokenParser, config ...GuardConfig) fiber.Handler {
	cfg := GuardConfig{}
	if len(config) > 0 {
		cfg = config[0]
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultClaimsKey
	}

	return func(c *fiber.Ctx) error {
		if cfg.Filter != nil && cfg.Filter(c) {
			return c.Next()
		}

		raw := bearerToken(c.Get(fiber.HeaderAuthorization))
		if raw == "" {
			return auth.WrapError(auth.ErrTokenMalformed, nil, map[string]any{"reason": "missing bearer token"})
		}

		claims, err := parser.Parse(raw)
		if err != nil {
			return err
		}

		if cfg.MinimumRole != "" && !auth.RoleIsAtLeast(claims.Role(), cfg.MinimumRole) {
			return ErrInsufficientRole.Clone().WithMetadata(map[string]any{"reason": "requires " + cfg.MinimumRole})
		}

		c.Locals(cfg.ContextKey, claims)
		return c.Next()
	}
}

// ClaimsFrom returns the claims stored by RequireToken.
func ClaimsFrom(c *fiber.Ctx) (*auth.JWTClaims, bool) {
	claims, ok := c.Locals(DefaultClaimsKey).(*auth.JWTClaims)
	return claims, ok && claims != nil
}

// SessionResponse describes the caller's token.
type SessionResponse struct {
	UserID       string     `json:"user_id"`
	Role         string     `json:"role"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    *time.Time `json:"expires_at"`
	NeverExpires bool       `json:"never_expires"`
}

func (a *Controller) Session(c *fiber.Ctx) error {
	claims, ok := ClaimsFrom(c)
	if !ok {
		return auth.WrapError(auth.ErrTokenMalformed, nil, nil)
	}

	res := SessionResponse{
		UserID:       claims.UserID(),
		Role:         claims.Role(),
		IssuedAt:     claims.IssuedAt(),
		NeverExpires: claims.Never,
	}
	if exp := claims.Expires(); !exp.IsZero() {
		res.ExpiresAt = &exp
	}
	return c.JSON(res)
}
