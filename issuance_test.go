package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTTLConfig() TTLConfig {
	return TTLConfig{
		DefaultTTLMinutes:     60,
		NeverExpireTTLMinutes: intPtr(0),
		RoleOverrides: map[string]string{
			RoleAdmin:  "never",
			RoleMember: "15",
		},
	}
}

func TestIssuanceIssueAppliesRoleTTL(t *testing.T) {
	metrics := &recordingMetrics{}
	issuance := NewIssuance(testTTLConfig(), newTestIssuer(newFixedClock()), WithIssuanceMetrics(metrics))
	ctx := context.Background()

	customer, err := issuance.Issue(ctx, OperationLogin, testIdentity(RoleCustomer))
	require.NoError(t, err)
	require.NotNil(t, customer.ExpiresIn)
	assert.Equal(t, 3600, *customer.ExpiresIn)
	assert.False(t, customer.NeverExpires)
	assert.Equal(t, "bearer", customer.TokenType)

	member, err := issuance.Issue(ctx, OperationLogin, testIdentity(RoleMember))
	require.NoError(t, err)
	require.NotNil(t, member.ExpiresIn)
	assert.Equal(t, 900, *member.ExpiresIn)

	admin, err := issuance.Issue(ctx, OperationRegister, testIdentity(RoleAdmin))
	require.NoError(t, err)
	assert.Nil(t, admin.ExpiresIn)
	assert.True(t, admin.NeverExpires)

	claims, err := issuance.Issuer().Parse(admin.AccessToken)
	require.NoError(t, err)
	assert.True(t, claims.Expires().IsZero())

	assert.Equal(t, []string{
		"login/customer/false",
		"login/member/false",
		"register/admin/true",
	}, metrics.issued)
}

func TestIssuanceIssueWithCallsFactoryOnce(t *testing.T) {
	metrics := &recordingMetrics{}
	issuance := NewIssuance(testTTLConfig(), newTestIssuer(newFixedClock()), WithIssuanceMetrics(metrics))
	boom := errors.New("boom")

	calls := 0
	var got TTLDecision
	_, err := issuance.IssueWith(context.Background(), OperationFederated, testIdentity(RoleMember), func(_ context.Context, ttl TTLDecision) (string, error) {
		calls++
		got = ttl
		return "", boom
	})

	assert.Same(t, boom, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, TTLDecision{Minutes: 15}, got)
	assert.Equal(t, []string{"federated/member"}, metrics.failed)
	assert.Empty(t, metrics.issued)
}

func TestIssuanceRefreshUsesCurrentRole(t *testing.T) {
	ctx := context.Background()

	t.Run("promoted", func(t *testing.T) {
		issuance := NewIssuance(testTTLConfig(), newTestIssuer(newFixedClock()))
		user := testIdentity(RoleCustomer)
		first, err := issuance.Issue(ctx, OperationLogin, user)
		require.NoError(t, err)

		user.Role = RoleAdmin
		refreshed, err := issuance.Refresh(ctx, user, first.AccessToken)
		require.NoError(t, err)
		assert.True(t, refreshed.NeverExpires)
		assert.Nil(t, refreshed.ExpiresIn)

		claims, err := issuance.Issuer().Parse(refreshed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, RoleAdmin, claims.Role())
		assert.True(t, claims.Never)
		assert.True(t, claims.Expires().IsZero())
	})

	t.Run("demoted", func(t *testing.T) {
		issuance := NewIssuance(testTTLConfig(), newTestIssuer(newFixedClock()))
		user := testIdentity(RoleAdmin)
		first, err := issuance.Issue(ctx, OperationLogin, user)
		require.NoError(t, err)

		user.Role = RoleCustomer
		refreshed, err := issuance.Refresh(ctx, user, first.AccessToken)
		require.NoError(t, err)
		require.NotNil(t, refreshed.ExpiresIn)
		assert.Equal(t, 3600, *refreshed.ExpiresIn)

		claims, err := issuance.Issuer().Parse(refreshed.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, RoleCustomer, claims.Role())
		assert.False(t, RoleIsAtLeast(claims.Role(), RoleAdmin))
		assert.False(t, claims.Expires().IsZero())
	})
}

func TestIssuanceExpiresInMatchesTTL(t *testing.T) {
	ctx := context.Background()

	for _, minutes := range []int{1, 60, 1440} {
		t.Run(strconv.Itoa(minutes), func(t *testing.T) {
			clock := newFixedClock()
			issuance := NewIssuance(TTLConfig{DefaultTTLMinutes: minutes}, newTestIssuer(clock))

			res, err := issuance.Issue(ctx, OperationLogin, testIdentity(RoleCustomer))
			require.NoError(t, err)
			require.NotNil(t, res.ExpiresIn)
			assert.Equal(t, minutes*60, *res.ExpiresIn)
			assert.Equal(t, minutes, res.TTLMinutes)

			claims, err := issuance.Issuer().Parse(res.AccessToken)
			require.NoError(t, err)
			assert.Equal(t, clock.Now().Add(time.Duration(minutes)*time.Minute).Unix(), claims.Expires().Unix())
		})
	}
}

func TestTokenResultJSON(t *testing.T) {
	data, err := json.Marshal(TokenResult{AccessToken: "abc", TokenType: "bearer", NeverExpires: true, TTLMinutes: 0})
	require.NoError(t, err)
	assert.JSONEq(t, `{"access_token":"abc","token_type":"bearer","expires_in":null,"never_expires":true}`, string(data))
}
