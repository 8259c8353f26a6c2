package exchange

import (
	"maps"
	"slices"
)

// RoleUnauthenticated is the role granted to requests without an account.
const RoleUnauthenticated = "$unauthenticated"

// Account is an authenticated principal.
type Account struct {
	Name       string         `json:"name"`
	Roles      []string       `json:"roles"`
	Properties map[string]any `json:"properties,omitempty"`
}

// HasRole reports whether the account carries role.
func (a *Account) HasRole(role string) bool {
	if a == nil {
		return role == RoleUnauthenticated
	}
	return slices.Contains(a.Roles, role)
}

// Clone returns a copy of a whose roles and properties can be changed
// independently. Property values are copied shallowly.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Name:       a.Name,
		Roles:      slices.Clone(a.Roles),
		Properties: maps.Clone(a.Properties),
	}
}

// RolesOf returns the roles used for authorization decisions.
func RolesOf(a *Account) []string {
	if a == nil {
		return []string{RoleUnauthenticated}
	}
	return a.Roles
}
