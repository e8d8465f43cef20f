package domain

import (
	"errors"
	"strings"
)

type Role string

const (
	RoleViewer Role = "viewer"
	RoleEditor Role = "editor"
	RoleAdmin  Role = "admin"
)

// DefaultRole is what self-registration always grants.
const DefaultRole = RoleViewer

var ErrUnknownRole = errors.New("domain: unknown role")

// Rank orders roles admin > editor > viewer. Unknown roles rank below
// everything so they never satisfy a requirement.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleEditor:
		return 2
	case RoleViewer:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether r satisfies the minimum role.
func (r Role) AtLeast(minimum Role) bool {
	return r.Rank() > 0 && r.Rank() >= minimum.Rank()
}

func (r Role) Valid() bool { return r.Rank() > 0 }

func (r Role) String() string { return string(r) }

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", ErrUnknownRole
	}
	return r, nil
}
