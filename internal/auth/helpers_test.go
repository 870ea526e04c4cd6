package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"medvoll-identity/internal/identity"
	"medvoll-identity/internal/policy"
)

const testSecret = "test-session-secret"

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	store   *identity.MemoryStore
	service *Service
	clock   *fakeClock
}

func newFixture(t *testing.T, p policy.SecurityPolicy) *fixture {
	t.Helper()
	store := identity.NewMemoryStore()
	return newFixtureWithStore(t, p, store, store)
}

func newFixtureWithStore(t *testing.T, p policy.SecurityPolicy, mem *identity.MemoryStore, store identity.Store) *fixture {
	t.Helper()
	clock := newFakeClock()
	service := NewService(store, p, NewSessionTokens(testSecret), bcrypt.MinCost)
	service.WithClock(clock.Now)
	return &fixture{store: mem, service: service, clock: clock}
}

func (f *fixture) addAccount(t *testing.T, email, password string, confirmed bool, roles ...string) identity.Account {
	t.Helper()
	ctx := context.Background()
	hash, err := identity.HashPassword(password, bcrypt.MinCost)
	require.NoError(t, err)
	account, err := f.store.CreateAccount(ctx, identity.NewAccount{
		Email:          email,
		PasswordHash:   hash,
		EmailConfirmed: confirmed,
		LockoutEnabled: true,
	})
	require.NoError(t, err)
	for _, role := range roles {
		if _, err := f.store.CreateRole(ctx, role); err != nil {
			require.ErrorIs(t, err, identity.ErrConflict)
		}
		require.NoError(t, f.store.AddAccountToRole(ctx, account.ID, role))
	}
	return account
}

// brokenLockoutStore refuses to record failed attempts.
type brokenLockoutStore struct {
	*identity.MemoryStore
}

func (brokenLockoutStore) RegisterFailedAttempt(context.Context, string, policy.LockoutRule, time.Time) (policy.LockoutState, error) {
	return policy.LockoutState{}, identity.ErrUnavailable
}

// revokingStore revokes every session right after handing it out, as a
// concurrent logout would.
type revokingStore struct {
	*identity.MemoryStore
}

func (s revokingStore) GetSession(ctx context.Context, id string) (identity.Session, error) {
	session, err := s.MemoryStore.GetSession(ctx, id)
	if err != nil {
		return session, err
	}
	if err := s.MemoryStore.RevokeSession(ctx, id, time.Now().UTC()); err != nil {
		return identity.Session{}, err
	}
	return session, nil
}
