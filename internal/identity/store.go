// Package identity is the credential store: accounts, roles, claims,
// lockout counters and sessions, behind a contract that the bootstrap
// provisioners and the authentication pipeline consume.
//
// Two implementations are provided. Repository persists to PostgreSQL and
// serializes lockout updates with row locks; MemoryStore keeps everything
// in process behind a mutex and is used for development and tests.
package identity

import (
	"context"
	"errors"
	"strings"
	"time"

	"medvoll-identity/internal/policy"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("already exists")
	ErrUnavailable = errors.New("credential store unavailable")
)

type AccountStore interface {
	FindAccountByEmail(ctx context.Context, email string) (Account, error)
	FindAccountByID(ctx context.Context, id string) (Account, error)
	CreateAccount(ctx context.Context, account NewAccount) (Account, error)
}

type RoleStore interface {
	RoleExists(ctx context.Context, name string) (bool, error)
	CreateRole(ctx context.Context, name string) (Role, error)
	// AddAccountToRole is idempotent: adding an existing membership is a no-op.
	AddAccountToRole(ctx context.Context, accountID, roleName string) error
	IsInRole(ctx context.Context, accountID, roleName string) (bool, error)
	AccountRoles(ctx context.Context, accountID string) ([]string, error)
	GetAccountsInRole(ctx context.Context, roleName string) ([]Account, error)
}

type ClaimStore interface {
	GetClaims(ctx context.Context, accountID string) ([]Claim, error)
	RemoveClaims(ctx context.Context, accountID string, claims []Claim) error
	// AddClaim ignores a (type, value) pair the account already holds.
	AddClaim(ctx context.Context, accountID string, claim Claim) error
}

// LockoutStore applies lockout transitions atomically per account. The
// returned state is the one persisted.
type LockoutStore interface {
	RegisterFailedAttempt(ctx context.Context, accountID string, rule policy.LockoutRule, now time.Time) (policy.LockoutState, error)
	RegisterSuccessfulLogin(ctx context.Context, accountID string, rule policy.LockoutRule, now time.Time) (policy.LockoutState, error)
	ResetLockout(ctx context.Context, accountID string) error
	ClearExpiredLockouts(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type SessionStore interface {
	CreateSession(ctx context.Context, accountID string, expiresAt time.Time) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ExtendSession(ctx context.Context, id string, expiresAt time.Time) error
	RevokeSession(ctx context.Context, id string, now time.Time) error
	DeleteStaleSessions(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

type Store interface {
	AccountStore
	RoleStore
	ClaimStore
	LockoutStore
	SessionStore
	Ping(ctx context.Context) error
}

// NormalizeEmail is the key emails are compared by.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func NormalizeRole(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

func sameLockout(a, b policy.LockoutState) bool {
	return a.FailedAttempts == b.FailedAttempts && a.LockoutEnd.Equal(b.LockoutEnd)
}
