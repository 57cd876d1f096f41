package federation

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-image-data")

func newAvatarServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(pngBytes)
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html></html>"))
		case "/empty":
			w.Header().Set("Content-Type", "image/png")
		case "/big":
			w.Header().Set("Content-Type", "image/jpeg")
			_, _ = w.Write(make([]byte, 2048))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPAvatarFetcher(t *testing.T) {
	srv := newAvatarServer(t)
	fetcher := NewHTTPAvatarFetcher(WithAvatarHTTPClient(srv.Client()), WithAvatarMaxBytes(1024))
	ctx := context.Background()

	avatar, err := fetcher.Fetch(ctx, srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", avatar.ContentType)
	assert.Equal(t, pngBytes, avatar.Data)

	for _, p := range []string{"/page", "/empty", "/big", "/missing"} {
		t.Run(p, func(t *testing.T) {
			_, err := fetcher.Fetch(ctx, srv.URL+p)
			assert.Error(t, err)
		})
	}
}

func TestSafeClientRefusesLoopback(t *testing.T) {
	srv := newAvatarServer(t)
	fetcher := NewHTTPAvatarFetcher()

	_, err := fetcher.Fetch(context.Background(), srv.URL+"/ok.png")
	assert.Error(t, err)
}

func TestAvatarExtension(t *testing.T) {
	assert.Equal(t, ".png", avatarExtension("image/png"))
	assert.Equal(t, ".jpg", avatarExtension("image/jpeg"))
	assert.Equal(t, ".webp", avatarExtension("image/webp"))
	assert.Equal(t, "", avatarExtension("image/x-unknown-thing"))
}
