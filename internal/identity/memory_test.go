package identity

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medvoll-identity/internal/policy"
)

func newAccount(t *testing.T, s *MemoryStore, email string) Account {
	t.Helper()
	a, err := s.CreateAccount(context.Background(), NewAccount{
		Email:          email,
		PasswordHash:   "hash",
		EmailConfirmed: true,
		LockoutEnabled: true,
	})
	require.NoError(t, err)
	return a
}

func TestMemoryStore_EmailIsCaseInsensitiveAndUnique(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	created := newAccount(t, s, "Alice@X.com")

	found, err := s.FindAccountByEmail(ctx, "  alice@x.COM ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, "Alice@X.com", found.Email)

	_, err = s.CreateAccount(ctx, NewAccount{Email: "ALICE@x.com", PasswordHash: "other"})
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.FindAccountByEmail(ctx, "bob@x.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Roles(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAccount(t, s, "alice@x.com")

	exists, err := s.RoleExists(ctx, "Admin")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.CreateRole(ctx, "Admin")
	require.NoError(t, err)
	_, err = s.CreateRole(ctx, "admin")
	assert.ErrorIs(t, err, ErrConflict)

	assert.ErrorIs(t, s.AddAccountToRole(ctx, a.ID, "Missing"), ErrNotFound)
	require.NoError(t, s.AddAccountToRole(ctx, a.ID, "Admin"))
	require.NoError(t, s.AddAccountToRole(ctx, a.ID, "Admin"))

	member, err := s.IsInRole(ctx, a.ID, "ADMIN")
	require.NoError(t, err)
	assert.True(t, member)

	roles, err := s.AccountRoles(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin"}, roles)

	inRole, err := s.GetAccountsInRole(ctx, "Admin")
	require.NoError(t, err)
	require.Len(t, inRole, 1)
	assert.Equal(t, a.ID, inRole[0].ID)
}

func TestMemoryStore_Claims(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAccount(t, s, "alice@x.com")

	require.NoError(t, s.AddClaim(ctx, a.ID, Claim{Type: "FullName", Value: "Alice"}))
	require.NoError(t, s.AddClaim(ctx, a.ID, Claim{Type: "FullName", Value: "Alice"}))
	require.NoError(t, s.AddClaim(ctx, a.ID, Claim{Type: "Role", Value: "Admin"}))
	assert.ErrorIs(t, s.AddClaim(ctx, "ghost", Claim{Type: "x", Value: "y"}), ErrNotFound)

	claims, err := s.GetClaims(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []Claim{{Type: "FullName", Value: "Alice"}, {Type: "Role", Value: "Admin"}}, claims)

	require.NoError(t, s.RemoveClaims(ctx, a.ID, []Claim{{Type: "Role", Value: "Admin"}}))
	claims, err = s.GetClaims(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, []Claim{{Type: "FullName", Value: "Alice"}}, claims)
}

func TestMemoryStore_ConcurrentFailedAttemptsAreNotLost(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAccount(t, s, "alice@x.com")

	const attempts = 50
	rule := policy.LockoutRule{MaxFailedAttempts: attempts + 10, Duration: time.Minute}
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RegisterFailedAttempt(ctx, a.ID, rule, now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.FindAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, attempts, got.Lockout.FailedAttempts)
	assert.True(t, got.Lockout.LockoutEnd.IsZero())
}

func TestMemoryStore_LockoutLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAccount(t, s, "alice@x.com")

	rule := policy.LockoutRule{MaxFailedAttempts: 2, Duration: time.Minute}
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	state, err := s.RegisterFailedAttempt(ctx, a.ID, rule, now)
	require.NoError(t, err)
	assert.Equal(t, 1, state.FailedAttempts)

	state, err = s.RegisterFailedAttempt(ctx, a.ID, rule, now)
	require.NoError(t, err)
	assert.True(t, rule.IsLocked(state, now))

	state, err = s.RegisterSuccessfulLogin(ctx, a.ID, rule, now)
	require.NoError(t, err)
	assert.True(t, rule.IsLocked(state, now), "success while locked must not reset")

	cleared, err := s.ClearExpiredLockouts(ctx, now.Add(2*time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cleared)

	got, err := s.FindAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, policy.LockoutState{}, got.Lockout)

	_, err = s.RegisterFailedAttempt(ctx, "ghost", rule, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_LockoutDisabledAccountNeverCounts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, err := s.CreateAccount(ctx, NewAccount{Email: "svc@x.com", PasswordHash: "h"})
	require.NoError(t, err)

	rule := policy.LockoutRule{MaxFailedAttempts: 1, Duration: time.Minute}
	state, err := s.RegisterFailedAttempt(ctx, a.ID, rule, time.Now())
	require.NoError(t, err)
	assert.Equal(t, policy.LockoutState{}, state)
}

func TestMemoryStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newAccount(t, s, "alice@x.com")
	now := time.Now().UTC()

	session, err := s.CreateSession(ctx, a.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, session.Active(now))

	require.NoError(t, s.ExtendSession(ctx, session.ID, now.Add(time.Hour)))
	got, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), got.ExpiresAt)

	require.NoError(t, s.RevokeSession(ctx, session.ID, now))
	got, err = s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.False(t, got.Active(now))
	assert.ErrorIs(t, s.ExtendSession(ctx, session.ID, now.Add(time.Hour)), ErrNotFound)

	deleted, err := s.DeleteStaleSessions(ctx, now.Add(time.Second), 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = s.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
