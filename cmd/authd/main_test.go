package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-auth-issuer/config"
	"github.com/goliatone/go-auth-issuer/persistence"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTTLCommand(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", testSigningKey)
	t.Setenv("AUTH_TOKEN_ROLE_OVERRIDES", "admin:never,member:15,kiosk:never")
	t.Setenv("AUTH_TOKEN_NEVER_EXPIRE_TTL_MINUTES", "0")

	out, err := execute(t, "ttl", "--default-ttl", "30")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Regexp(t, `^customer\s+30\s+false\s+yes$`, lines[1])
	assert.Regexp(t, `^member\s+15\s+false\s+yes$`, lines[2])
	assert.Regexp(t, `^admin\s+0\s+true\s+no$`, lines[3])
	assert.Regexp(t, `^kiosk\s+0\s+true\s+no$`, lines[5])
}

func TestTTLCommandForRoles(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", testSigningKey)

	out, err := execute(t, "ttl", "auditor")
	require.NoError(t, err)
	assert.Contains(t, out, "auditor")
	assert.Contains(t, out, "60")
}

func TestCommandsRejectInvalidConfig(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", "")
	_, err := execute(t, "ttl")
	assert.Error(t, err)
}

func TestMigrateUpAndDown(t *testing.T) {
	t.Setenv("AUTH_SIGNING_KEY", testSigningKey)
	dsn := "file:" + filepath.Join(t.TempDir(), "auth.db") + "?cache=shared"

	out, err := execute(t, "migrate", "up", "--db-dsn", dsn, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "migrated to")

	out, err = execute(t, "migrate", "up", "--db-dsn", dsn, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "up to date")

	out, err = execute(t, "migrate", "down", "--db-dsn", dsn, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "rolled back")

	out, err = execute(t, "migrate", "down", "--db-dsn", dsn, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to roll back")
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Token.SigningKey = testSigningKey
	cfg.Token.RoleOverrides = map[string]string{"customer": "20"}
	cfg.Database.DSN = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	cfg.Log.Level = "error"
	return cfg
}

func TestAppServesRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig())
	require.NoError(t, err)
	defer a.Close()

	_, err = persistence.Migrate(ctx, a.db, a.logger)
	require.NoError(t, err)

	server := a.HTTP()

	body := `{"email":"ada@example.com","password":"a-long-password","first_name":"Ada","last_name":"Lovelace"}`
	req := httptest.NewRequest(http.MethodPost, "/auth/register", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res, err := server.Test(req, -1)
	require.NoError(t, err)
	payload, _ := io.ReadAll(res.Body)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(payload))
	assert.Contains(t, string(payload), `"expires_in":1200`)

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"identifier":"ada@example.com","password":"a-long-password"}`))
	req.Header.Set("Content-Type", "application/json")
	res, err = server.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	var login struct {
		Token struct {
			AccessToken string `json:"access_token"`
		} `json:"token"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&login))

	req = httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token.AccessToken)
	res, err = server.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	req = httptest.NewRequest(http.MethodPost, "/auth/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+login.Token.AccessToken)
	res, err = server.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = server.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	metricsBody, _ := io.ReadAll(res.Body)
	assert.Contains(t, string(metricsBody), `auth_tokens_issued_total{never_expires="false",operation="register",role="customer"} 1`)
	assert.Contains(t, string(metricsBody), `auth_tokens_issued_total{never_expires="false",operation="login",role="customer"} 1`)
	assert.Contains(t, string(metricsBody), `auth_tokens_issued_total{never_expires="false",operation="refresh",role="customer"} 1`)

	res, err = server.Test(httptest.NewRequest(http.MethodGet, "/auth/federated/acme/start", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestNewAssetStore(t *testing.T) {
	ctx := context.Background()

	store, err := newAssetStore(ctx, config.Assets{Backend: config.AssetsMemory})
	require.NoError(t, err)
	assert.NotNil(t, store)

	store, err = newAssetStore(ctx, config.Assets{Backend: config.AssetsLocal, LocalRoot: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "avatars/a.png", []byte("png"), "image/png"))

	_, err = newAssetStore(ctx, config.Assets{Backend: "ftp"})
	assert.Error(t, err)
}
