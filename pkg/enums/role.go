package enums

import "fmt"

// APIRole describes the management API access level carried in the JWT.
type APIRole string

const (
	APIRoleAdmin    APIRole = "admin"
	APIRoleOperator APIRole = "operator"
	APIRoleReadOnly APIRole = "readonly"
)

var validAPIRoles = []APIRole{
	APIRoleAdmin,
	APIRoleOperator,
	APIRoleReadOnly,
}

// String implements fmt.Stringer.
func (r APIRole) String() string {
	return string(r)
}

// IsValid reports whether the role is recognized.
func (r APIRole) IsValid() bool {
	for _, candidate := range validAPIRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanMutate reports whether the role may invoke lifecycle commands.
func (r APIRole) CanMutate() bool {
	return r == APIRoleAdmin || r == APIRoleOperator
}

// ParseAPIRole converts raw input into APIRole.
func ParseAPIRole(value string) (APIRole, error) {
	for _, candidate := range validAPIRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid api role %q", value)
}
