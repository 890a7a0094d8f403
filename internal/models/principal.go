package models

import (
	"fmt"
	"slices"
)

// Role is the authorization role of a principal, resolved by the identity
// provider for every request.
type Role string

const (
	RoleUser     Role = "user"     // Scans and activates assets
	RoleEmployee Role = "employee" // Completes active assets
	RoleAdmin    Role = "admin"    // Creates assets, full access
)

var knownRoles = []Role{RoleUser, RoleEmployee, RoleAdmin}

// ParseRole converts a role claim into a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !slices.Contains(knownRoles, r) {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

func (r Role) String() string {
	return string(r)
}

// Principal represents an authenticated actor.
// The ID references an identity owned by the external identity provider;
// only the ID is recorded against history entries.
type Principal struct {
	ID   string // Subject claim from the identity provider
	Name string // Display name, kept in the store's principal directory
	Role Role
}

// IsZero reports whether p carries no identity.
func (p Principal) IsZero() bool {
	return p.ID == ""
}
