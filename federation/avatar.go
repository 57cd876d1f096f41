package federation

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

const (
	defaultAvatarTimeout  = 10 * time.Second
	defaultAvatarMaxBytes = 5 << 20
)

// Avatar is a fetched profile image.
type Avatar struct {
	Data        []byte
	ContentType string
}

// AvatarFetcher downloads a provider supplied avatar.
type AvatarFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Avatar, error)
}

// HTTPAvatarFetcher fetches avatars over http(s). By default it uses a
// safeurl client, which refuses private, loopback and link-local targets.
type HTTPAvatarFetcher struct {
	client   *http.Client
	maxBytes int64
}

// AvatarFetcherOption configures HTTPAvatarFetcher.
type AvatarFetcherOption func(*HTTPAvatarFetcher)

// WithAvatarHTTPClient replaces the SSRF safe client.
func WithAvatarHTTPClient(c *http.Client) AvatarFetcherOption {
	return func(f *HTTPAvatarFetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// WithAvatarMaxBytes caps the accepted body size.
func WithAvatarMaxBytes(n int64) AvatarFetcherOption {
	return func(f *HTTPAvatarFetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

// NewSafeHTTPClient returns an http client that only dials public
// addresses on ports 80 and 443.
func NewSafeHTTPClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// NewHTTPAvatarFetcher creates a fetcher.
func NewHTTPAvatarFetcher(opts ...AvatarFetcherOption) *HTTPAvatarFetcher {
	f := &HTTPAvatarFetcher{maxBytes: defaultAvatarMaxBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	if f.client == nil {
		f.client = NewSafeHTTPClient(defaultAvatarTimeout)
	}
	return f
}

// Fetch implements AvatarFetcher. Only image/* responses are accepted.
func (f *HTTPAvatarFetcher) Fetch(ctx context.Context, rawURL string) (*Avatar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("avatar request: %w", err)
	}
	req.Header.Set("Accept", "image/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("avatar fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("avatar fetch: unexpected status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("avatar fetch: unsupported content type %q", contentType)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("avatar read: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("avatar exceeds %d bytes", f.maxBytes)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("avatar is empty")
	}

	return &Avatar{Data: data, ContentType: mediaType}, nil
}

// avatarExtension maps an image media type to a file extension.
func avatarExtension(mediaType string) string {
	switch mediaType {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}
