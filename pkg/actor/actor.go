// Package actor defines the acting party of every operation: a role from a
// closed set plus an optional identity. Authentication happens upstream.
package actor

import (
	"fmt"
)

// Role represents a closed set of roles an actor can hold
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleManager   Role = "manager"
	RoleMarketing Role = "marketing"
	RoleAdvisor   Role = "advisor"
	RoleReadonly  Role = "readonly"
	RoleAnonymous Role = "anonymous"
)

// AllRoles returns every declared role, anonymous included
func AllRoles() []Role {
	return []Role{
		RoleAdmin,
		RoleManager,
		RoleMarketing,
		RoleAdvisor,
		RoleReadonly,
		RoleAnonymous,
	}
}

// Valid reports whether the role belongs to the closed set
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleMarketing, RoleAdvisor, RoleReadonly, RoleAnonymous:
		return true
	}
	return false
}

// ParseRole parses a role string, rejecting anything outside the closed set
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Actor is the party performing an operation. It is a value passed explicitly
// through every call; it is never read from ambient state and is immutable
// for the duration of a request.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Anonymous returns the unauthenticated actor
func Anonymous() Actor {
	return Actor{Role: RoleAnonymous}
}

// IsAnonymous reports whether the actor is unauthenticated
func (a Actor) IsAnonymous() bool {
	return a.Role == RoleAnonymous || a.ID == ""
}

// In reports whether the actor's role is in the given set
func (a Actor) In(roles []Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}
