package auth

var roleHierarchy = map[UserRole]int{
	RoleCustomer: 0,
	RoleMember:   1,
	RoleAdmin:    2,
	RoleOwner:    3,
}

// IsKnownRole checks if the role is one of the predefined roles
func IsKnownRole(role UserRole) bool {
	_, ok := roleHierarchy[role]
	return ok
}

// RoleIsAtLeast checks if role meets the minimum required level. Unknown
// roles never do.
func RoleIsAtLeast(role, minRole UserRole) bool {
	currentLevel, exists := roleHierarchy[role]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleCustomer,
		RoleMember,
		RoleAdmin,
		RoleOwner,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, IsKnownRole(role)
}
