package identity

import (
	"time"

	"medvoll-identity/internal/policy"
)

type Account struct {
	ID              string
	Email           string
	NormalizedEmail string
	PasswordHash    string
	EmailConfirmed  bool
	LockoutEnabled  bool
	Lockout         policy.LockoutState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type NewAccount struct {
	Email          string
	PasswordHash   string
	EmailConfirmed bool
	LockoutEnabled bool
}

type Role struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

type Claim struct {
	Type  string `json:"type" toml:"type"`
	Value string `json:"value" toml:"value"`
}

type Session struct {
	ID        string
	AccountID string
	CreatedAt time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Active reports whether the session can still authenticate requests at now.
func (s Session) Active(now time.Time) bool {
	return s.RevokedAt == nil && now.Before(s.ExpiresAt)
}
