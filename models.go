package auth

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role. Roles are open ended: any non empty value can
// be stored and given a ttl override.
type UserRole = string

const (
	// RoleCustomer is the default unprivileged role
	RoleCustomer UserRole = "customer"
	// RoleMember is a member of an organization
	RoleMember UserRole = "member"
	// RoleAdmin is an admin role
	RoleAdmin UserRole = "admin"
	// RoleOwner is the owner role
	RoleOwner UserRole = "owner"
)

// DefaultRole is given to self registered and federated accounts.
const DefaultRole = RoleCustomer

// User is the user model
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	Role             UserRole       `bun:"user_role,notnull" json:"user_role"`
	Email            string         `bun:"email,notnull,unique" json:"email"`
	Phone            string         `bun:"phone_number,nullzero,unique" json:"phone_number,omitempty"`
	PasswordHash     string         `bun:"password_hash,notnull" json:"-"`
	ProfileImagePath string         `bun:"profile_image_path,nullzero" json:"profile_image_path,omitempty"`
	IsOrganization   bool           `bun:"is_organization,notnull" json:"is_organization"`
	FirstName        string         `bun:"first_name,nullzero" json:"first_name,omitempty"`
	LastName         string         `bun:"last_name,nullzero" json:"last_name,omitempty"`
	OrganizationName string         `bun:"organization_name,nullzero" json:"organization_name,omitempty"`
	Metadata         map[string]any `bun:"metadata" json:"metadata,omitempty"`
	LoggedInAt       *time.Time     `bun:"loggedin_at,nullzero" json:"loggedin_at,omitempty"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp" json:"updated_at"`
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// DisplayName returns the organization name or the person's full name.
func (u *User) DisplayName() string {
	if u.IsOrganization {
		return u.OrganizationName
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// normalizeProfileShape clears the name fields that do not apply to the
// account kind: organizations have no person names and people have no
// organization name.
func (u *User) normalizeProfileShape() {
	if u.IsOrganization {
		u.FirstName = ""
		u.LastName = ""
		return
	}
	u.OrganizationName = ""
}

// NormalizeEmail lower cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
