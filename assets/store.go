// Package assets stores opaque blobs such as profile images.
package assets

import (
	"context"
	"path"
	"strings"

	"github.com/goliatone/go-errors"
)

// Store is a minimal blob store keyed by slash separated paths.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

const TextCodeInvalidKey = "ASSET_INVALID_KEY"

// ErrInvalidKey is returned for empty, absolute or escaping keys.
var ErrInvalidKey = errors.New("invalid asset key", errors.CategoryBadInput).
	WithTextCode(TextCodeInvalidKey).
	WithCode(errors.CodeBadRequest)

// ValidateKey rejects keys that are empty, absolute, or not in clean form.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return ErrInvalidKey.Clone().WithMetadata(map[string]any{"key": key})
	}
	if path.Clean(key) != key || key == "." || strings.HasPrefix(key, "../") || key == ".." {
		return ErrInvalidKey.Clone().WithMetadata(map[string]any{"key": key})
	}
	return nil
}
