package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"medvoll-identity/internal/policy"
)

type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]*Account
	byEmail  map[string]string
	roles    map[string]Role
	members  map[string]map[string]struct{}
	claims   map[string][]Claim
	sessions map[string]Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byEmail:  make(map[string]string),
		roles:    make(map[string]Role),
		members:  make(map[string]map[string]struct{}),
		claims:   make(map[string][]Claim),
		sessions: make(map[string]Session),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) FindAccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *m.accounts[id], nil
}

func (m *MemoryStore) FindAccountByID(_ context.Context, id string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return *a, nil
}

func (m *MemoryStore) CreateAccount(_ context.Context, input NewAccount) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	normalized := NormalizeEmail(input.Email)
	if _, exists := m.byEmail[normalized]; exists {
		return Account{}, ErrConflict
	}

	now := time.Now().UTC()
	a := &Account{
		ID:              uuid.NewString(),
		Email:           input.Email,
		NormalizedEmail: normalized,
		PasswordHash:    input.PasswordHash,
		EmailConfirmed:  input.EmailConfirmed,
		LockoutEnabled:  input.LockoutEnabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.accounts[a.ID] = a
	m.byEmail[normalized] = a.ID

	return *a, nil
}

func (m *MemoryStore) RoleExists(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.roles[NormalizeRole(name)]
	return ok, nil
}

func (m *MemoryStore) CreateRole(_ context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeRole(name)
	if _, exists := m.roles[key]; exists {
		return Role{}, ErrConflict
	}
	role := Role{ID: uuid.NewString(), Name: name, CreatedAt: time.Now().UTC()}
	m.roles[key] = role
	return role, nil
}

func (m *MemoryStore) AddAccountToRole(_ context.Context, accountID, roleName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeRole(roleName)
	if _, ok := m.roles[key]; !ok {
		return ErrNotFound
	}
	if _, ok := m.accounts[accountID]; !ok {
		return ErrNotFound
	}
	if m.members[accountID] == nil {
		m.members[accountID] = make(map[string]struct{})
	}
	m.members[accountID][key] = struct{}{}
	return nil
}

func (m *MemoryStore) IsInRole(_ context.Context, accountID, roleName string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, ok := m.members[accountID][NormalizeRole(roleName)]
	return ok, nil
}

func (m *MemoryStore) AccountRoles(_ context.Context, accountID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.members[accountID]))
	for key := range m.members[accountID] {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, m.roles[key].Name)
	}
	return names, nil
}

func (m *MemoryStore) GetAccountsInRole(_ context.Context, roleName string) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := NormalizeRole(roleName)
	accounts := make([]Account, 0)
	for id, roles := range m.members {
		if _, ok := roles[key]; ok {
			accounts = append(accounts, *m.accounts[id])
		}
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].NormalizedEmail < accounts[j].NormalizedEmail
	})
	return accounts, nil
}

func (m *MemoryStore) GetClaims(_ context.Context, accountID string) ([]Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	claims := append([]Claim{}, m.claims[accountID]...)
	sort.Slice(claims, func(i, j int) bool {
		if claims[i].Type != claims[j].Type {
			return claims[i].Type < claims[j].Type
		}
		return claims[i].Value < claims[j].Value
	})
	return claims, nil
}

func (m *MemoryStore) RemoveClaims(_ context.Context, accountID string, claims []Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[Claim]struct{}, len(claims))
	for _, c := range claims {
		drop[c] = struct{}{}
	}

	kept := m.claims[accountID][:0]
	for _, c := range m.claims[accountID] {
		if _, ok := drop[c]; !ok {
			kept = append(kept, c)
		}
	}
	m.claims[accountID] = kept
	return nil
}

func (m *MemoryStore) AddClaim(_ context.Context, accountID string, claim Claim) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; !ok {
		return ErrNotFound
	}
	for _, c := range m.claims[accountID] {
		if c == claim {
			return nil
		}
	}
	m.claims[accountID] = append(m.claims[accountID], claim)
	return nil
}

func (m *MemoryStore) RegisterFailedAttempt(_ context.Context, accountID string, rule policy.LockoutRule, now time.Time) (policy.LockoutState, error) {
	return m.updateLockout(accountID, now, rule.RegisterFailure)
}

func (m *MemoryStore) RegisterSuccessfulLogin(_ context.Context, accountID string, rule policy.LockoutRule, now time.Time) (policy.LockoutState, error) {
	return m.updateLockout(accountID, now, rule.RegisterSuccess)
}

func (m *MemoryStore) updateLockout(accountID string, now time.Time, next func(policy.LockoutState, time.Time) policy.LockoutState) (policy.LockoutState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return policy.LockoutState{}, ErrNotFound
	}
	if !a.LockoutEnabled {
		return a.Lockout, nil
	}

	updated := next(a.Lockout, now)
	if !sameLockout(a.Lockout, updated) {
		a.Lockout = updated
		a.UpdatedAt = now.UTC()
	}
	return a.Lockout, nil
}

func (m *MemoryStore) ResetLockout(_ context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	a.Lockout = policy.LockoutState{}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryStore) ClearExpiredLockouts(_ context.Context, now time.Time, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var cleared int64
	for _, a := range m.accounts {
		if batchSize > 0 && cleared >= int64(batchSize) {
			break
		}
		if !a.Lockout.LockoutEnd.IsZero() && !now.Before(a.Lockout.LockoutEnd) {
			a.Lockout = policy.LockoutState{}
			a.UpdatedAt = now.UTC()
			cleared++
		}
	}
	return cleared, nil
}

func (m *MemoryStore) CreateSession(_ context.Context, accountID string, expiresAt time.Time) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[accountID]; !ok {
		return Session{}, ErrNotFound
	}
	s := Session{
		ID:        uuid.NewString(),
		AccountID: accountID,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: expiresAt.UTC(),
	}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *MemoryStore) GetSession(_ context.Context, id string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) ExtendSession(_ context.Context, id string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return ErrNotFound
	}
	s.ExpiresAt = expiresAt.UTC()
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) RevokeSession(_ context.Context, id string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	revokedAt := now.UTC()
	s.RevokedAt = &revokedAt
	m.sessions[id] = s
	return nil
}

func (m *MemoryStore) DeleteStaleSessions(_ context.Context, cutoff time.Time, batchSize int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deleted int64
	for id, s := range m.sessions {
		if batchSize > 0 && deleted >= int64(batchSize) {
			break
		}
		if s.ExpiresAt.Before(cutoff) || (s.RevokedAt != nil && s.RevokedAt.Before(cutoff)) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}
