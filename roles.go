package auth

// UserRole is the user's role inside a company
type UserRole string

const (
	// RolePrimaryAdmin registers the account and owns the company. It can never be deleted.
	RolePrimaryAdmin UserRole = "PrimaryAdmin"
	// RoleSubUser is created by an admin and inherits the admin's company
	RoleSubUser UserRole = "SubUser"
)

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RolePrimaryAdmin, RoleSubUser:
		return true
	default:
		return false
	}
}

// CanBeDeleted reports whether an admin may remove a user with this role
func (r UserRole) CanBeDeleted() bool {
	return r == RoleSubUser
}

// CanOnboardCompany reports whether the role may create the company
func (r UserRole) CanOnboardCompany() bool {
	return r == RolePrimaryAdmin
}

// GetAllRoles returns all predefined roles
func GetAllRoles() []UserRole {
	return []UserRole{
		RolePrimaryAdmin,
		RoleSubUser,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
