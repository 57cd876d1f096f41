package auth

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	defaultTTL int
	seen       []int
	failNext   bool
	panicNext  bool
}

func (f *fakeSigner) DefaultTTL() int           { return f.defaultTTL }
func (f *fakeSigner) SetDefaultTTL(minutes int) { f.defaultTTL = minutes }

func (f *fakeSigner) Sign(context.Context, Identity) (string, error) {
	return f.act()
}

func (f *fakeSigner) Resign(context.Context, Identity, string) (string, error) {
	return f.act()
}

func (f *fakeSigner) act() (string, error) {
	f.seen = append(f.seen, f.defaultTTL)
	switch {
	case f.panicNext:
		panic("signer exploded")
	case f.failNext:
		return "", errors.New("signer failed")
	}
	return "token", nil
}

func randomTTLConfig(rng *rand.Rand) TTLConfig {
	cfg := TTLConfig{
		DefaultTTLMinutes: 1 + rng.Intn(1440),
		RoleOverrides:     map[string]string{},
	}
	switch rng.Intn(3) {
	case 1:
		cfg.NeverExpireTTLMinutes = intPtr(0)
	case 2:
		cfg.NeverExpireTTLMinutes = intPtr(1 + rng.Intn(10000))
	}

	values := []string{"never", "NEVER", "15", "1", "1440", "abc", "0", "-5", ""}
	for _, role := range GetAllRoles() {
		if rng.Intn(2) == 0 {
			cfg.RoleOverrides[role] = values[rng.Intn(len(values))]
		}
	}
	return cfg
}

func TestScopedTTLIssuerRestoresDefault(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	signer := &fakeSigner{defaultTTL: 60}
	scoped := NewScopedTTLIssuer(signer)
	roles := GetAllRoles()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		cfg := randomTTLConfig(rng)
		user := testIdentity(roles[rng.Intn(len(roles))])
		issuance := NewIssuance(cfg, scoped)
		want := ResolveTTL(user.Role, cfg)

		signer.failNext = rng.Intn(4) == 0
		signer.panicNext = !signer.failNext && rng.Intn(6) == 0
		refresh := rng.Intn(2) == 0

		func() {
			defer func() { _ = recover() }()
			if refresh {
				_, _ = issuance.Refresh(ctx, user, "raw")
			} else {
				_, _ = issuance.Issue(ctx, OperationLogin, user)
			}
		}()

		require.Equal(t, 60, signer.DefaultTTL(), "iteration %d role %s", i, user.Role)
		require.Equal(t, want.Minutes, signer.seen[len(signer.seen)-1], "iteration %d role %s", i, user.Role)
	}
}

func TestScopedTTLIssuerConcurrentCallersKeepTheirTTL(t *testing.T) {
	clock := newFixedClock()
	signer := NewDefaultTTLSigner(newTestIssuer(clock), 30)
	scoped := NewScopedTTLIssuer(signer)

	var wg sync.WaitGroup
	for i := 1; i <= 40; i++ {
		wg.Add(1)
		go func(minutes int) {
			defer wg.Done()
			raw, err := scoped.Mint(context.Background(), NewIdentityFromUser(testIdentity(RoleCustomer)), TTLDecision{Minutes: minutes})
			if !assert.NoError(t, err) {
				return
			}
			claims, err := scoped.Parse(raw)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, clock.Now().Add(time.Duration(minutes)*time.Minute).Unix(), claims.Expires().Unix())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 30, signer.DefaultTTL())
}

func TestDefaultTTLSignerZeroMeansNeverExpires(t *testing.T) {
	clock := newFixedClock()
	scoped := NewScopedTTLIssuer(NewDefaultTTLSigner(newTestIssuer(clock), 60))

	raw, err := scoped.Mint(context.Background(), NewIdentityFromUser(testIdentity(RoleAdmin)), TTLDecision{NeverExpires: true})
	require.NoError(t, err)

	claims, err := scoped.Parse(raw)
	require.NoError(t, err)
	assert.True(t, claims.Never)
	assert.True(t, claims.Expires().IsZero())
}

func TestScopedTTLIssuerParseRequiresParser(t *testing.T) {
	scoped := NewScopedTTLIssuer(&fakeSigner{})
	_, err := scoped.Parse("raw")
	assert.True(t, HasTextCode(err, TextCodeTokenOperation))
}
