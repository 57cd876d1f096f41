package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorCountsIssuance(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.TokenIssued("login", "customer", false)
	c.TokenIssued("login", "customer", false)
	c.TokenIssued("register", "admin", true)
	c.TokenFailed("refresh", "member")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.tokensIssued.WithLabelValues("login", "customer", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokensIssued.WithLabelValues("register", "admin", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tokensFailed.WithLabelValues("refresh", "member")))
}

func TestCollectorCountsFederation(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.ReconciliationCompleted("acme", true)
	c.ReconciliationFailed("acme", "identity_verified")
	c.AvatarDegraded("put")
	c.AvatarDegraded("put")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconciled.WithLabelValues("acme", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.reconcileFails.WithLabelValues("acme", "identity_verified")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.avatarDegraded.WithLabelValues("put")))
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.TokenIssued("login", "customer", false)

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `auth_tokens_issued_total{never_expires="false",operation="login",role="customer"} 1`))
}

func TestNewCollectorPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)
	assert.Panics(t, func() { NewCollector(reg) })
}
