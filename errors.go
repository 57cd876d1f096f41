package auth

import (
	"database/sql"
	"errors"

	goerrors "github.com/goliatone/go-errors"
)

const (
	TextCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	TextCodeValidationFailed     = "VALIDATION_FAILED"
	TextCodeIdentityVerification = "IDENTITY_VERIFICATION_FAILED"
	TextCodeTokenOperation       = "TOKEN_OPERATION_FAILED"
	TextCodeTokenExpired         = "TOKEN_EXPIRED"
	TextCodeTokenMalformed       = "TOKEN_MALFORMED"
	TextCodeTokenRevoked         = "TOKEN_REVOKED"
	TextCodeAssetStorageDegraded = "ASSET_STORAGE_DEGRADED"
	TextCodeIdentityNotFound     = "IDENTITY_NOT_FOUND"
)

// ErrInvalidCredentials is returned for any failed password login. Unknown
// identifiers and wrong passwords are indistinguishable.
var ErrInvalidCredentials = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrValidation wraps input validation failures.
var ErrValidation = goerrors.New("validation failed", goerrors.CategoryValidation).
	WithTextCode(TextCodeValidationFailed).
	WithCode(goerrors.CodeBadRequest)

// ErrIdentityVerification is returned when a federated identity cannot be verified.
var ErrIdentityVerification = goerrors.New("identity verification failed", goerrors.CategoryAuth).
	WithTextCode(TextCodeIdentityVerification).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenOperation is returned when a token cannot be minted or refreshed.
var ErrTokenOperation = goerrors.New("token operation failed", goerrors.CategoryInternal).
	WithTextCode(TextCodeTokenOperation).
	WithCode(goerrors.CodeInternal)

var ErrTokenExpired = goerrors.New("token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenMalformed = goerrors.New("token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

var ErrTokenRevoked = goerrors.New("token has been revoked", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenRevoked).
	WithCode(goerrors.CodeUnauthorized)

// ErrAssetStorageDegraded is logged when avatar storage fails. It never
// reaches callers.
var ErrAssetStorageDegraded = goerrors.New("asset storage degraded", goerrors.CategoryInternal).
	WithTextCode(TextCodeAssetStorageDegraded)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithTextCode(TextCodeIdentityNotFound).
	WithCode(goerrors.CodeNotFound)

// WrapError clones base and attaches source and metadata to the copy.
func WrapError(base *goerrors.Error, source error, meta map[string]any) *goerrors.Error {
	clone := base.Clone()
	clone.Source = source
	if len(meta) > 0 {
		clone.WithMetadata(meta)
	}
	return clone
}

// HasTextCode reports whether err carries a go-errors error with the given text code.
func HasTextCode(err error, code string) bool {
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		return false
	}
	return rich.TextCode == code
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	return HasTextCode(err, TextCodeTokenExpired)
}

// IsMalformedError will check for malformed tokens
func IsMalformedError(err error) bool {
	return HasTextCode(err, TextCodeTokenMalformed)
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || HasTextCode(err, TextCodeIdentityNotFound)
}
