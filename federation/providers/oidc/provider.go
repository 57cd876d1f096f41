// Package oidc verifies OpenID Connect authorization code callbacks.
package oidc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	auth "github.com/goliatone/go-auth-issuer"
	"github.com/goliatone/go-auth-issuer/federation"
)

// Config holds the client registration of one OIDC provider.
type Config struct {
	Name         string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Issuer       string
	JWKSURL      string
	Scopes       []string

	HTTPClient *http.Client
	Logger     auth.Logger
}

// DefaultScopes returns the scopes needed for an email identity.
func DefaultScopes() []string {
	return []string{"openid", "email", "profile"}
}

// Provider implements federation.IdentityProvider for an OIDC issuer.
type Provider struct {
	name     string
	issuer   string
	oauth    *oauth2.Config
	keyFunc  jwt.Keyfunc
	states   federation.StateCodec
	client   *http.Client
	jwks     *keyfunc.JWKS
	now      func() time.Time
	leeway   time.Duration
	clientID string
}

var _ federation.IdentityProvider = (*Provider)(nil)

// New creates a provider that verifies id tokens with keyFunc.
func New(cfg Config, keyFunc jwt.Keyfunc, states federation.StateCodec) (*Provider, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("oidc: provider name is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("oidc: client id is required for %s", cfg.Name)
	}
	if keyFunc == nil {
		return nil, fmt.Errorf("oidc: key func is required for %s", cfg.Name)
	}
	if states == nil {
		return nil, fmt.Errorf("oidc: state codec is required for %s", cfg.Name)
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes()
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Provider{
		name:   cfg.Name,
		issuer: cfg.Issuer,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthURL,
				TokenURL: cfg.TokenURL,
			},
		},
		keyFunc:  keyFunc,
		states:   states,
		client:   client,
		now:      time.Now,
		leeway:   30 * time.Second,
		clientID: cfg.ClientID,
	}, nil
}

// NewWithJWKS creates a provider that loads signing keys from cfg.JWKSURL
// and refreshes them in the background. Call Close to stop the refresh.
func NewWithJWKS(ctx context.Context, cfg Config, states federation.StateCodec) (*Provider, error) {
	if cfg.JWKSURL == "" {
		return nil, fmt.Errorf("oidc: jwks url is required for %s", cfg.Name)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = auth.DefaultLogger()
	}

	opts := keyfunc.Options{
		Ctx: ctx,
		RefreshErrorHandler: func(err error) {
			logger.Warn("failed to refresh %s signing keys: %v", cfg.Name, err)
		},
		RefreshInterval:   time.Hour,
		RefreshRateLimit:  5 * time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
	}
	if cfg.HTTPClient != nil {
		opts.Client = cfg.HTTPClient
	}

	jwks, err := keyfunc.Get(cfg.JWKSURL, opts)
	if err != nil {
		return nil, fmt.Errorf("oidc: load jwks for %s: %w", cfg.Name, err)
	}

	p, err := New(cfg, jwks.Keyfunc, states)
	if err != nil {
		jwks.EndBackground()
		return nil, err
	}
	p.jwks = jwks
	return p, nil
}

// Close stops the background key refresh, if any.
func (p *Provider) Close() {
	if p.jwks != nil {
		p.jwks.EndBackground()
	}
}

func (p *Provider) Name() string {
	return p.name
}

// AuthCodeURL returns the provider login URL with a sealed state and a
// PKCE challenge.
func (p *Provider) AuthCodeURL() (string, error) {
	verifier := oauth2.GenerateVerifier()
	state, err := p.states.Encode(&federation.OAuthState{
		Nonce:        federation.GenerateNonce(),
		Provider:     p.name,
		CodeVerifier: verifier,
	})
	if err != nil {
		return "", err
	}
	return p.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier)), nil
}

// VerifyCallback exchanges the authorization code and verifies the id token.
func (p *Provider) VerifyCallback(ctx context.Context, params url.Values) (*federation.ExternalIdentity, error) {
	if code := params.Get("error"); code != "" {
		return nil, &federation.ProviderError{
			Provider:    p.name,
			Operation:   "authorize",
			Code:        code,
			Description: params.Get("error_description"),
		}
	}

	state, err := p.states.Decode(params.Get("state"))
	if err != nil {
		return nil, err
	}
	if state.Provider != p.name {
		return nil, federation.ErrInvalidState
	}

	code := params.Get("code")
	if code == "" {
		return nil, &federation.ProviderError{
			Provider:    p.name,
			Operation:   "authorize",
			Code:        "missing_code",
			Description: "callback has no authorization code",
		}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	var exchangeOpts []oauth2.AuthCodeOption
	if state.CodeVerifier != "" {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(state.CodeVerifier))
	}

	tok, err := p.oauth.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return nil, p.exchangeError(err)
	}

	rawIDToken, _ := tok.Extra("id_token").(string)
	if rawIDToken == "" {
		return nil, &federation.ProviderError{
			Provider:    p.name,
			Operation:   "exchange",
			Code:        "missing_id_token",
			Description: "token response has no id_token",
		}
	}

	return p.verifyIDToken(rawIDToken)
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified,omitempty"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

func (p *Provider) verifyIDToken(raw string) (*federation.ExternalIdentity, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithAudience(p.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(p.leeway),
		jwt.WithTimeFunc(p.now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &idTokenClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, p.keyFunc, opts...); err != nil {
		return nil, &federation.ProviderError{
			Provider:  p.name,
			Operation: "id_token",
			Code:      "invalid_id_token",
			Err:       err,
		}
	}

	email := strings.TrimSpace(claims.Email)
	if email == "" {
		return nil, &federation.ProviderError{
			Provider:    p.name,
			Operation:   "id_token",
			Code:        "missing_email",
			Description: "id token has no email claim",
		}
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, &federation.ProviderError{
			Provider:    p.name,
			Operation:   "id_token",
			Code:        "email_not_verified",
			Description: "provider has not verified the email",
		}
	}

	return &federation.ExternalIdentity{
		Provider:      p.name,
		Subject:       claims.Subject,
		Email:         email,
		EmailVerified: claims.EmailVerified == nil || *claims.EmailVerified,
		GivenName:     claims.GivenName,
		FamilyName:    claims.FamilyName,
		AvatarURL:     claims.Picture,
	}, nil
}

func (p *Provider) exchangeError(err error) error {
	perr := &federation.ProviderError{
		Provider:  p.name,
		Operation: "exchange",
		Err:       err,
	}
	var retrieve *oauth2.RetrieveError
	if errors.As(err, &retrieve) {
		perr.Code = retrieve.ErrorCode
		perr.Description = retrieve.ErrorDescription
		if retrieve.Response != nil {
			perr.Status = retrieve.Response.StatusCode
		}
	}
	return perr
}
