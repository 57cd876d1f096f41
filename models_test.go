package auth

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDisplayName(t *testing.T) {
	person := &User{FirstName: "Ada", LastName: "Lovelace"}
	assert.Equal(t, "Ada Lovelace", person.DisplayName())

	org := &User{IsOrganization: true, OrganizationName: "Acme"}
	assert.Equal(t, "Acme", org.DisplayName())

	assert.Equal(t, "Ada", (&User{FirstName: "Ada"}).DisplayName())
}

func TestUserNormalizeProfileShape(t *testing.T) {
	person := &User{FirstName: "A", LastName: "B", OrganizationName: "stale"}
	person.normalizeProfileShape()
	assert.Empty(t, person.OrganizationName)
	assert.Equal(t, "A", person.FirstName)

	org := &User{IsOrganization: true, FirstName: "A", LastName: "B", OrganizationName: "Acme"}
	org.normalizeProfileShape()
	assert.Empty(t, org.FirstName)
	assert.Empty(t, org.LastName)
	assert.Equal(t, "Acme", org.OrganizationName)
}

func TestUserAddMetadata(t *testing.T) {
	u := &User{}
	u.AddMetadata("source", "federated").AddMetadata("provider", "acme")
	assert.Equal(t, map[string]any{"source": "federated", "provider": "acme"}, u.Metadata)
}

func TestNormalizePhone(t *testing.T) {
	got, err := NormalizePhone("(650) 253-0000", "us")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", got)

	got, err = NormalizePhone("+16502530000", "")
	require.NoError(t, err)
	assert.Equal(t, "+16502530000", got)

	_, err = NormalizePhone("", "US")
	assert.Error(t, err)

	_, err = NormalizePhone("12", "US")
	assert.Error(t, err)
}

func TestRoles(t *testing.T) {
	assert.True(t, IsKnownRole(RoleAdmin))
	assert.False(t, IsKnownRole("superuser"))

	assert.True(t, RoleIsAtLeast(RoleOwner, RoleAdmin))
	assert.True(t, RoleIsAtLeast(RoleMember, RoleMember))
	assert.False(t, RoleIsAtLeast(RoleCustomer, RoleMember))
	assert.False(t, RoleIsAtLeast("superuser", RoleCustomer))

	role, ok := ParseRole("member")
	assert.True(t, ok)
	assert.Equal(t, RoleMember, role)

	assert.Equal(t, []UserRole{RoleCustomer, RoleMember, RoleAdmin, RoleOwner}, GetAllRoles())
}

func TestIdentityFromUser(t *testing.T) {
	assert.Nil(t, NewIdentityFromUser(nil))

	u := &User{ID: uuid.New(), Email: "a@b.co", Role: RoleMember}
	identity := NewIdentityFromUser(u)
	assert.Equal(t, u.ID.String(), identity.ID())
	assert.Equal(t, "a@b.co", identity.Email())
	assert.Equal(t, RoleMember, identity.Role())
	assert.Same(t, u, identity.(UserIdentity).User())
}
