package federation

import (
	"fmt"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeProviderNotFound = "federation_provider_not_found"
	TextCodeInvalidState     = "federation_invalid_state"
	TextCodeStateExpired     = "federation_state_expired"
)

// ErrProviderNotFound is returned when a requested provider is not configured.
var ErrProviderNotFound = errors.New("identity provider not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProviderNotFound).
	WithCode(errors.CodeNotFound)

// ErrInvalidState is returned when the OAuth state is invalid or tampered.
var ErrInvalidState = errors.New("invalid oauth state", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidState).
	WithCode(errors.CodeBadRequest)

// ErrStateExpired is returned when the OAuth state has expired.
var ErrStateExpired = errors.New("oauth state expired", errors.CategoryBadInput).
	WithTextCode(TextCodeStateExpired).
	WithCode(errors.CodeBadRequest)

// Failure is the tagged error returned by Reconcile. State names the step
// that could not complete; Err carries the cause.
type Failure struct {
	State State
	Err   error
}

func (f *Failure) Error() string {
	if f == nil {
		return "federated login failed"
	}
	return fmt.Sprintf("federated login failed at %s: %v", f.State, f.Err)
}

func (f *Failure) Unwrap() error {
	if f == nil {
		return nil
	}
	return f.Err
}

// Reason is a short code safe to put in a redirect URL.
func (f *Failure) Reason() string {
	if f == nil {
		return "unknown"
	}
	switch f.State {
	case StateIdentityVerified:
		return "identity_verification_failed"
	case StateAccountResolved:
		return "account_resolution_failed"
	case StateTokenIssued:
		return "token_issuance_failed"
	default:
		return "federated_login_failed"
	}
}

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// ProviderError captures a failed call to an identity provider.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	scope := e.Provider
	if e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	}
	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
