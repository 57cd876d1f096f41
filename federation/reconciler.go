// Package federation reconciles identities verified by third party
// providers with local accounts.
package federation

import (
	"context"
	"html"
	"net/url"
	"path"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	auth "github.com/goliatone/go-auth-issuer"
	"github.com/goliatone/go-auth-issuer/assets"
)

// State is a step of a federated login attempt.
type State string

const (
	StateStart            State = "start"
	StateIdentityVerified State = "identity_verified"
	StateAccountResolved  State = "account_resolved"
	StateAssetReconciled  State = "asset_reconciled"
	StateTokenIssued      State = "token_issued"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Avatar storage stages reported when storage degrades.
const (
	StageFetch          = "fetch"
	StagePut            = "put"
	StagePersist        = "persist"
	StageCleanup        = "cleanup"
	StageDeletePrevious = "delete_previous"
)

// AccountStore is the part of auth.Users the reconciler needs.
type AccountStore interface {
	FindOrCreateByEmail(ctx context.Context, record *auth.User) (*auth.User, bool, error)
	UpdateProfileImage(ctx context.Context, id uuid.UUID, path string) error
}

// TokenIssuer issues the session token for the reconciled account.
type TokenIssuer interface {
	Issue(ctx context.Context, operation string, user *auth.User) (*auth.TokenResult, error)
}

// Metrics receives reconciliation outcomes.
type Metrics interface {
	ReconciliationCompleted(provider string, created bool)
	ReconciliationFailed(provider, state string)
	AvatarDegraded(stage string)
}

type noopMetrics struct{}

func (noopMetrics) ReconciliationCompleted(string, bool) {}
func (noopMetrics) ReconciliationFailed(string, string)  {}
func (noopMetrics) AvatarDegraded(string)                {}

// Result is a completed federated login.
type Result struct {
	User            *auth.User
	WasNewlyCreated bool
	Token           *auth.TokenResult
	// Trail lists the states the attempt went through, in order.
	Trail []State
}

// Reconciler runs a federated login: verify the identity, find or create
// the account, refresh its avatar, and issue a token.
type Reconciler struct {
	accounts     AccountStore
	issuer       TokenIssuer
	store        assets.Store
	fetcher      AvatarFetcher
	logger       auth.Logger
	activity     auth.ActivitySink
	metrics      Metrics
	tracer       trace.Tracer
	sanitizer    *bluemonday.Policy
	defaultRole  string
	avatarPrefix string
	newKey       func(ext string) string
	passwordHash func() string
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithAssets enables avatar handling.
func WithAssets(store assets.Store, fetcher AvatarFetcher) Option {
	return func(r *Reconciler) {
		r.store = store
		r.fetcher = fetcher
	}
}

// WithLogger sets the logger.
func WithLogger(logger auth.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithActivitySink sets the audit sink.
func WithActivitySink(sink auth.ActivitySink) Option {
	return func(r *Reconciler) {
		r.activity = sink
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithDefaultRole sets the role of accounts created by federation.
func WithDefaultRole(role string) Option {
	return func(r *Reconciler) {
		if role != "" {
			r.defaultRole = role
		}
	}
}

// WithAvatarPrefix sets the key prefix of stored avatars.
func WithAvatarPrefix(prefix string) Option {
	return func(r *Reconciler) {
		r.avatarPrefix = strings.Trim(prefix, "/")
	}
}

// WithKeyGenerator overrides avatar key generation.
func WithKeyGenerator(fn func(ext string) string) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.newKey = fn
		}
	}
}

// WithPasswordHashGenerator overrides the random password hash given to
// new accounts.
func WithPasswordHashGenerator(fn func() string) Option {
	return func(r *Reconciler) {
		if fn != nil {
			r.passwordHash = fn
		}
	}
}

// NewReconciler creates a reconciler.
func NewReconciler(accounts AccountStore, issuer TokenIssuer, opts ...Option) *Reconciler {
	r := &Reconciler{
		accounts:     accounts,
		issuer:       issuer,
		logger:       auth.DefaultLogger(),
		metrics:      noopMetrics{},
		tracer:       otel.Tracer("github.com/goliatone/go-auth-issuer/federation"),
		sanitizer:    bluemonday.StrictPolicy(),
		defaultRole:  auth.DefaultRole,
		avatarPrefix: "avatars",
		passwordHash: auth.RandomPasswordHash,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	if r.newKey == nil {
		r.newKey = r.ulidKey
	}
	return r
}

type attempt struct {
	provider string
	trail    []State
}

func (a *attempt) to(s State) {
	a.trail = append(a.trail, s)
}

// Reconcile completes a federated login for the callback params. Failures
// are returned as *Failure.
func (r *Reconciler) Reconcile(ctx context.Context, provider IdentityProvider, params url.Values) (*Result, error) {
	run := &attempt{provider: provider.Name(), trail: []State{StateStart}}

	ctx, span := r.tracer.Start(ctx, "federation.reconcile", trace.WithAttributes(
		attribute.String("federation.provider", run.provider),
	))
	defer span.End()

	identity, err := provider.VerifyCallback(ctx, params)
	if err != nil {
		return nil, r.fail(span, run, StateIdentityVerified, auth.WrapError(auth.ErrIdentityVerification, err, map[string]any{
			"provider": run.provider,
		}))
	}

	if identity == nil {
		return nil, r.fail(span, run, StateIdentityVerified, auth.WrapError(auth.ErrIdentityVerification, nil, map[string]any{
			"provider": run.provider,
			"reason":   "missing identity",
		}))
	}

	email := auth.NormalizeEmail(identity.Email)
	if email == "" {
		return nil, r.fail(span, run, StateIdentityVerified, auth.WrapError(auth.ErrIdentityVerification, nil, map[string]any{
			"provider": run.provider,
			"reason":   "missing email",
		}))
	}
	run.to(StateIdentityVerified)

	user, created, err := r.accounts.FindOrCreateByEmail(ctx, &auth.User{
		Email:          email,
		Role:           r.defaultRole,
		PasswordHash:   r.passwordHash(),
		IsOrganization: false,
		FirstName:      r.sanitize(identity.GivenName),
		LastName:       r.sanitize(identity.FamilyName),
	})
	if err != nil {
		return nil, r.fail(span, run, StateAccountResolved, errors.Wrap(err, errors.CategoryInternal, "could not resolve account"))
	}
	run.to(StateAccountResolved)
	span.SetAttributes(attribute.Bool("federation.created", created))

	r.reconcileAvatar(ctx, user, identity.AvatarURL)
	run.to(StateAssetReconciled)

	token, err := r.issuer.Issue(ctx, auth.OperationFederated, user)
	if err != nil {
		if !auth.HasTextCode(err, auth.TextCodeTokenOperation) {
			err = auth.WrapError(auth.ErrTokenOperation, err, nil)
		}
		return nil, r.fail(span, run, StateTokenIssued, err)
	}
	run.to(StateTokenIssued)

	r.metrics.ReconciliationCompleted(run.provider, created)
	auth.RecordActivity(ctx, r.activity, r.logger, auth.ActivityEvent{
		EventType: auth.ActivityEventFederatedLogin,
		UserID:    user.ID.String(),
		Role:      user.Role,
		Metadata: map[string]any{
			"provider":    run.provider,
			"subject":     identity.Subject,
			"is_new_user": created,
		},
	})
	run.to(StateDone)

	return &Result{
		User:            user,
		WasNewlyCreated: created,
		Token:           token,
		Trail:           run.trail,
	}, nil
}

// reconcileAvatar stores a fresh copy of the provider avatar. Failures only
// degrade: the account keeps its previous image.
func (r *Reconciler) reconcileAvatar(ctx context.Context, user *auth.User, avatarURL string) {
	if avatarURL == "" || r.store == nil || r.fetcher == nil {
		return
	}

	avatar, err := r.fetcher.Fetch(ctx, avatarURL)
	if err != nil {
		r.degraded(StageFetch, user, err)
		return
	}

	key := r.newKey(avatarExtension(avatar.ContentType))
	if err := r.store.Put(ctx, key, avatar.Data, avatar.ContentType); err != nil {
		r.degraded(StagePut, user, err)
		return
	}

	previous := user.ProfileImagePath
	if err := r.accounts.UpdateProfileImage(ctx, user.ID, key); err != nil {
		r.degraded(StagePersist, user, err)
		if err := r.store.Delete(ctx, key); err != nil {
			r.degraded(StageCleanup, user, err)
		}
		return
	}
	user.ProfileImagePath = key

	if previous != "" && previous != key {
		if err := r.store.Delete(ctx, previous); err != nil {
			r.degraded(StageDeletePrevious, user, err)
		}
	}
}

func (r *Reconciler) degraded(stage string, user *auth.User, err error) {
	wrapped := auth.WrapError(auth.ErrAssetStorageDegraded, err, map[string]any{
		"stage":   stage,
		"user_id": user.ID.String(),
	})
	r.logger.Warn("avatar %s failed for user %s: %v", stage, user.ID, wrapped)
	r.metrics.AvatarDegraded(stage)
}

func (r *Reconciler) fail(span trace.Span, run *attempt, at State, err error) error {
	run.to(StateFailed)
	span.RecordError(err)
	span.SetStatus(codes.Error, string(at))
	r.metrics.ReconciliationFailed(run.provider, string(at))
	r.logger.Error("federated login via %s failed at %s: %v", run.provider, at, err)
	return &Failure{State: at, Err: err}
}

func (r *Reconciler) sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(r.sanitizer.Sanitize(strings.TrimSpace(s))))
}

func (r *Reconciler) ulidKey(ext string) string {
	return path.Join(r.avatarPrefix, ulid.Make().String()+ext)
}
