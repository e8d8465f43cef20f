package domain

import (
	"strings"
	"time"
)

type User struct {
	ID           string
	Email        string // stored lower-cased, unique
	Name         string
	PasswordHash string // argon2id PHC string, legacy bcrypt accepted
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NormaliseEmail is the canonical form used for storage and lookup. Email
// matching is case-insensitive everywhere.
func NormaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Principal is what collaborators get to know about an authenticated caller.
// It is built from verified token claims, never from the stored user record.
type Principal struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   Role   `json:"role"`
}
