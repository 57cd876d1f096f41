package auth

import (
	"context"
	"fmt"
	"sync"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var (
	dummyHashOnce sync.Once
	dummyHashVal  string
)

// dummyHash is compared against on unknown logins so a missing account
// costs the same bcrypt work as a wrong password.
func dummyHash() string {
	dummyHashOnce.Do(func() {
		dummyHashVal = RandomPasswordHash()
	})
	return dummyHashVal
}

// AuthResult is the outcome of a successful register, login or refresh.
type AuthResult struct {
	User  *User
	Token *TokenResult
}

// Accounts implements the password based entry points: register, login and
// refresh. Every token goes through Issuance.
type Accounts struct {
	users       Users
	issuance    *Issuance
	passwords   PasswordAuthenticator
	activity    ActivitySink
	logger      Logger
	phoneRegion string
}

// AccountsOption configures Accounts.
type AccountsOption func(*Accounts)

// WithAccountsLogger sets the logger.
func WithAccountsLogger(logger Logger) AccountsOption {
	return func(a *Accounts) {
		a.logger = normalizeLogger(logger)
	}
}

// WithActivitySink sets the audit sink.
func WithActivitySink(sink ActivitySink) AccountsOption {
	return func(a *Accounts) {
		a.activity = normalizeActivitySink(sink)
	}
}

// WithPasswordAuthenticator overrides bcrypt hashing.
func WithPasswordAuthenticator(p PasswordAuthenticator) AccountsOption {
	return func(a *Accounts) {
		if p != nil {
			a.passwords = p
		}
	}
}

// WithAccountsPhoneRegion sets the region used to parse registration phone numbers.
func WithAccountsPhoneRegion(region string) AccountsOption {
	return func(a *Accounts) {
		if region != "" {
			a.phoneRegion = region
		}
	}
}

// NewAccounts creates the account entry points.
func NewAccounts(users Users, issuance *Issuance, opts ...AccountsOption) *Accounts {
	a := &Accounts{
		users:       users,
		issuance:    issuance,
		passwords:   bcryptAuthenticator{},
		activity:    noopActivitySink{},
		logger:      defLogger{},
		phoneRegion: DefaultPhoneRegion,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Register validates msg, creates the account and issues its first token.
func (a *Accounts) Register(ctx context.Context, msg RegisterUserMessage) (*AuthResult, error) {
	if err := msg.validate(a.phoneRegion); err != nil {
		return nil, WrapError(ErrValidation, fmt.Errorf("invalid registration: %w", err), nil)
	}

	email := NormalizeEmail(msg.Email)
	phone := ""
	if msg.Phone != "" {
		normalized, err := NormalizePhone(msg.Phone, a.phoneRegion)
		if err != nil {
			return nil, WrapError(ErrValidation, err, map[string]any{"field": "phone_number"})
		}
		phone = normalized
	}

	hash, err := a.passwords.HashPassword(msg.Password)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}

	user := &User{
		Email:            email,
		Phone:            phone,
		Role:             msg.Role,
		PasswordHash:     hash,
		IsOrganization:   msg.IsOrganization,
		FirstName:        msg.FirstName,
		LastName:         msg.LastName,
		OrganizationName: msg.OrganizationName,
	}

	if msg.UseHashid {
		if id, err := hashid.NewUUID(email); err == nil {
			user.ID = id
		}
	}

	err = a.users.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if taken, err := a.users.ExistsByEmailTx(ctx, tx, email); err != nil {
			return err
		} else if taken {
			return WrapError(ErrValidation, nil, map[string]any{"field": "email", "reason": "already taken"})
		}

		if phone != "" {
			if taken, err := a.users.ExistsByPhoneTx(ctx, tx, phone); err != nil {
				return err
			} else if taken {
				return WrapError(ErrValidation, nil, map[string]any{"field": "phone_number", "reason": "already taken"})
			}
		}

		created, err := a.users.CreateTx(ctx, tx, user)
		if err != nil {
			return err
		}
		user = created
		return nil
	})
	if err != nil {
		if !HasTextCode(err, TextCodeValidationFailed) {
			a.logger.Error("register create user: %v", err)
		}
		return nil, err
	}

	token, err := a.issuance.Issue(ctx, OperationRegister, user)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, ActivityEventRegister, user, nil)

	return &AuthResult{User: user, Token: token}, nil
}

// Login verifies a password for an email or phone login. Every failure
// returns ErrInvalidCredentials.
func (a *Accounts) Login(ctx context.Context, login, password string) (*AuthResult, error) {
	user, err := a.users.GetByLogin(ctx, login)
	if err != nil {
		if !isNotFound(err) {
			a.logger.Error("login lookup failed: %v", err)
			return nil, err
		}
		_ = a.passwords.ComparePasswordAndHash(password, dummyHash())
		a.emit(ctx, ActivityEventLoginFailure, nil, map[string]any{"login": login, "reason": "unknown"})
		return nil, ErrInvalidCredentials
	}

	if err := a.passwords.ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		a.emit(ctx, ActivityEventLoginFailure, user, map[string]any{"login": login, "reason": "password"})
		return nil, ErrInvalidCredentials
	}

	token, err := a.issuance.Issue(ctx, OperationLogin, user)
	if err != nil {
		a.emit(ctx, ActivityEventLoginFailure, user, map[string]any{"login": login, "error": err.Error()})
		return nil, err
	}

	if err := a.users.TrackSuccessfulLogin(ctx, user); err != nil {
		a.logger.Warn("login tracking failed for %s: %v", user.ID, err)
	}

	a.emit(ctx, ActivityEventLoginSuccess, user, map[string]any{"login": login})

	return &AuthResult{User: user, Token: token}, nil
}

// Refresh exchanges a valid token for a new one. The ttl comes from the
// user's current role, not from the old token.
func (a *Accounts) Refresh(ctx context.Context, raw string) (*AuthResult, error) {
	claims, err := a.issuance.Issuer().Parse(raw)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(claims.UserID())
	if err != nil {
		return nil, WrapError(ErrTokenMalformed, err, map[string]any{"sub": claims.UserID()})
	}

	user, err := a.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	token, err := a.issuance.Refresh(ctx, user, raw)
	if err != nil {
		return nil, err
	}

	a.emit(ctx, ActivityEventTokenRefresh, user, map[string]any{"jti": claims.ID})

	return &AuthResult{User: user, Token: token}, nil
}

func (a *Accounts) emit(ctx context.Context, eventType ActivityEventType, user *User, metadata map[string]any) {
	event := ActivityEvent{EventType: eventType, Metadata: metadata}
	if user != nil {
		event.UserID = user.ID.String()
		event.Role = user.Role
	}
	RecordActivity(ctx, a.activity, a.logger, event)
}
