package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	auth "github.com/goliatone/go-auth-issuer"
)

func TestHashPassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{
			name:     "Valid password",
			password: "securePassword123!",
		},
		{
			name:     "Empty password",
			password: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := auth.HashPassword(tt.password)

			if tt.wantErr {
				assert.ErrorIs(t, err, auth.ErrNoEmptyString)
				return
			}

			assert.NoError(t, err)
			assert.NotEmpty(t, hash)
			assert.NoError(t, auth.ComparePasswordAndHash(tt.password, hash))
		})
	}
}

func TestComparePasswordAndHashMismatch(t *testing.T) {
	hash, err := auth.HashPassword("right password")
	assert.NoError(t, err)

	err = auth.ComparePasswordAndHash("wrong password", hash)
	assert.ErrorIs(t, err, auth.ErrMismatchedHashAndPassword)

	assert.Error(t, auth.ComparePasswordAndHash("anything", "not-a-bcrypt-hash"))
}

func TestRandomPasswordHashIsUnique(t *testing.T) {
	a := auth.RandomPasswordHash()
	b := auth.RandomPasswordHash()

	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
