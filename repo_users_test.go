package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func TestUsersCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	created, err := repo.Create(ctx, &User{
		Email:        "  Ada@Example.com ",
		Phone:        "+16502530000",
		PasswordHash: "hash",
		FirstName:    "Ada",
		LastName:     "Lovelace",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, "ada@example.com", created.Email)
	assert.Equal(t, DefaultRole, created.Role)

	byID, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Email, byID.Email)

	byEmail, err := repo.GetByLogin(ctx, "ADA@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byPhone, err := repo.GetByLogin(ctx, "(650) 253-0000")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byPhone.ID)

	exists, err := repo.ExistsByEmail(ctx, "ada@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByPhone(ctx, "+16502530001")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUsersRunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))
	boom := errors.New("boom")

	err := repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.CreateTx(ctx, tx, &User{Email: "tx@example.com", PasswordHash: "hash", FirstName: "T", LastName: "X"})
		require.NoError(t, err)

		exists, err := repo.ExistsByEmailTx(ctx, tx, "tx@example.com")
		require.NoError(t, err)
		assert.True(t, exists)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	exists, err := repo.ExistsByEmail(ctx, "tx@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	err = repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := repo.CreateTx(ctx, tx, &User{Email: "tx@example.com", PasswordHash: "hash", FirstName: "T", LastName: "X"})
		return err
	})
	require.NoError(t, err)

	exists, err = repo.ExistsByEmail(ctx, "tx@example.com")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestUsersLookupNotFound(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	_, err := repo.GetByID(ctx, uuid.New())
	assert.True(t, HasTextCode(err, TextCodeIdentityNotFound))

	_, err = repo.GetByLogin(ctx, "nobody@example.com")
	assert.True(t, HasTextCode(err, TextCodeIdentityNotFound))

	_, err = repo.GetByLogin(ctx, "not a phone")
	assert.True(t, HasTextCode(err, TextCodeIdentityNotFound))

	_, err = repo.GetByLogin(ctx, "   ")
	assert.True(t, HasTextCode(err, TextCodeIdentityNotFound))
}

func TestUsersCreateDuplicateEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	_, err := repo.Create(ctx, &User{Email: "dup@example.com", PasswordHash: "h", FirstName: "A", LastName: "B"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &User{Email: "DUP@example.com", PasswordHash: "h", FirstName: "C", LastName: "D"})
	require.Error(t, err)
	assert.True(t, HasTextCode(err, TextCodeValidationFailed))
}

func TestUsersCreateNormalizesProfileShape(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	org, err := repo.Create(ctx, &User{
		Email:            "org@example.com",
		PasswordHash:     "h",
		IsOrganization:   true,
		FirstName:        "ignored",
		OrganizationName: "Acme",
	})
	require.NoError(t, err)

	stored, err := repo.GetByID(ctx, org.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.FirstName)
	assert.Equal(t, "Acme", stored.OrganizationName)
	assert.Equal(t, "Acme", stored.DisplayName())
}

func TestUsersFindOrCreateByEmail(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	first, created, err := repo.FindOrCreateByEmail(ctx, &User{Email: "fed@example.com", PasswordHash: "h", FirstName: "F", LastName: "L"})
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := repo.FindOrCreateByEmail(ctx, &User{Email: "Fed@Example.com", PasswordHash: "other", FirstName: "X", LastName: "Y"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "F", second.FirstName)
}

func TestUsersFindOrCreateByEmailConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = map[uuid.UUID]int{}
		created int
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, isNew, err := repo.FindOrCreateByEmail(ctx, &User{Email: "race@example.com", PasswordHash: "h", FirstName: "R", LastName: "C"})
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[user.ID]++
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)
}

func TestUsersUpdateProfileImage(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	user, err := repo.Create(ctx, &User{Email: "pic@example.com", PasswordHash: "h", FirstName: "P", LastName: "I"})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProfileImage(ctx, user.ID, "avatars/one.png"))
	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "avatars/one.png", stored.ProfileImagePath)

	require.NoError(t, repo.UpdateProfileImage(ctx, user.ID, ""))
	stored, err = repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.ProfileImagePath)

	err = repo.UpdateProfileImage(ctx, uuid.New(), "avatars/two.png")
	assert.True(t, HasTextCode(err, TextCodeIdentityNotFound))
}

func TestUsersTrackSuccessfulLogin(t *testing.T) {
	ctx := context.Background()
	repo := NewUsersRepository(newTestDB(t))

	user, err := repo.Create(ctx, &User{Email: "track@example.com", PasswordHash: "h", FirstName: "T", LastName: "L"})
	require.NoError(t, err)
	require.Nil(t, user.LoggedInAt)

	require.NoError(t, repo.TrackSuccessfulLogin(ctx, user))
	assert.NotNil(t, user.LoggedInAt)

	stored, err := repo.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LoggedInAt)
}
