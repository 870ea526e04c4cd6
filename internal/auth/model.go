package auth

import (
	"errors"
	"time"

	"medvoll-identity/internal/identity"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotAllowed         = errors.New("sign-in not allowed")
	ErrAttemptNotRecorded = errors.New("login attempt could not be recorded")
	ErrInvalidSession     = errors.New("invalid or expired session")
	ErrCSRF               = errors.New("missing or invalid csrf token")
)

type ErrLoginLocked struct {
	Until time.Time
}

func (e ErrLoginLocked) Error() string {
	return "login temporarily locked"
}

// Grant is an issued session: the signed cookie value and when it lapses.
type Grant struct {
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// Principal is the authenticated caller of a request. Renewed is set when a
// sliding session was extended and the cookie must be reissued.
type Principal struct {
	Account identity.Account
	Roles   []string
	Grant   Grant
	Renewed bool
}

func (p Principal) InRole(role string) bool {
	want := identity.NormalizeRole(role)
	for _, r := range p.Roles {
		if identity.NormalizeRole(r) == want {
			return true
		}
	}
	return false
}

type AccountView struct {
	ID     string           `json:"id"`
	Email  string           `json:"email"`
	Roles  []string         `json:"roles"`
	Claims []identity.Claim `json:"claims"`
}
