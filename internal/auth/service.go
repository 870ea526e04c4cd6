// Package auth is the sign-in pipeline: password login under the lockout
// policy, cookie sessions with sliding expiry, CSRF checks and role gates.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"medvoll-identity/internal/identity"
	"medvoll-identity/internal/policy"
)

type Service struct {
	store     identity.Store
	policy    policy.SecurityPolicy
	tokens    *SessionTokens
	now       func() time.Time
	dummyHash string
}

// NewService builds the sign-in service. bcryptCost must match the cost
// stored hashes are created with; zero means bcrypt.DefaultCost.
func NewService(store identity.Store, p policy.SecurityPolicy, tokens *SessionTokens, bcryptCost int) *Service {
	// Compared against when the email is unknown so both paths cost the same
	// bcrypt verification.
	dummy, _ := identity.HashPassword("unknown-account", bcryptCost)

	return &Service{
		store:     store,
		policy:    p,
		tokens:    tokens,
		now:       time.Now,
		dummyHash: string(dummy),
	}
}

// WithClock replaces the time source of the service and its tokens.
func (s *Service) WithClock(now func() time.Time) {
	if now == nil {
		return
	}
	s.now = now
	s.tokens.now = now
}

func (s *Service) Policy() policy.SecurityPolicy {
	return s.policy
}

// Login verifies a password sign-in and opens a session.
//
// An account that may not sign in (unconfirmed email) is refused before
// lockout or password are looked at. The lockout check runs before the
// password, so a locked account is refused even with the correct password.
// Every wrong password
// on a lockout-enabled account must be recorded; when that write fails the
// attempt is refused as if the account were locked.
func (s *Service) Login(ctx context.Context, email, password string) (Grant, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Grant{}, ErrInvalidCredentials
	}

	now := s.now().UTC()
	rule := s.policy.Lockout

	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			identity.CheckPassword(s.dummyHash, password)
			return Grant{}, ErrInvalidCredentials
		}
		return Grant{}, err
	}

	if s.policy.SignIn.RequireConfirmedEmail && !account.EmailConfirmed {
		return Grant{}, ErrNotAllowed
	}

	if rule.IsLocked(account.Lockout, now) {
		return Grant{}, ErrLoginLocked{Until: account.Lockout.LockoutEnd}
	}

	if !identity.CheckPassword(account.PasswordHash, password) {
		state, err := s.store.RegisterFailedAttempt(ctx, account.ID, rule, now)
		if err != nil {
			return Grant{}, fmt.Errorf("%w: %w", ErrAttemptNotRecorded, err)
		}
		if rule.IsLocked(state, now) {
			return Grant{}, ErrLoginLocked{Until: state.LockoutEnd}
		}
		return Grant{}, ErrInvalidCredentials
	}

	state, err := s.store.RegisterSuccessfulLogin(ctx, account.ID, rule, now)
	if err != nil {
		return Grant{}, err
	}
	// Another request may have locked the account since it was read.
	if rule.IsLocked(state, now) {
		return Grant{}, ErrLoginLocked{Until: state.LockoutEnd}
	}

	return s.openSession(ctx, account.ID, now)
}

func (s *Service) openSession(ctx context.Context, accountID string, now time.Time) (Grant, error) {
	expiresAt := now.Add(s.policy.Session.IdleTimeout)
	session, err := s.store.CreateSession(ctx, accountID, expiresAt)
	if err != nil {
		return Grant{}, err
	}

	token, err := s.tokens.Issue(accountID, session.ID, expiresAt)
	if err != nil {
		return Grant{}, err
	}
	return Grant{Token: token, SessionID: session.ID, ExpiresAt: expiresAt}, nil
}

// Authenticate resolves a session cookie value to its principal. With a
// sliding session the expiry moves to now plus the idle timeout and a fresh
// token is returned in the principal's grant.
func (s *Service) Authenticate(ctx context.Context, raw string) (Principal, error) {
	token, err := s.tokens.Parse(raw)
	if err != nil {
		return Principal{}, err
	}

	now := s.now().UTC()
	session, err := s.store.GetSession(ctx, token.SessionID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Principal{}, ErrInvalidSession
		}
		return Principal{}, err
	}
	if session.AccountID != token.AccountID || !session.Active(now) {
		return Principal{}, ErrInvalidSession
	}

	account, err := s.store.FindAccountByID(ctx, session.AccountID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Principal{}, ErrInvalidSession
		}
		return Principal{}, err
	}

	roles, err := s.store.AccountRoles(ctx, account.ID)
	if err != nil {
		return Principal{}, err
	}

	principal := Principal{
		Account: account,
		Roles:   roles,
		Grant:   Grant{Token: raw, SessionID: session.ID, ExpiresAt: session.ExpiresAt},
	}
	if !s.policy.Session.Sliding {
		return principal, nil
	}

	expiresAt := now.Add(s.policy.Session.IdleTimeout)
	if err := s.store.ExtendSession(ctx, session.ID, expiresAt); err != nil {
		// Revoked since it was read.
		if errors.Is(err, identity.ErrNotFound) {
			return Principal{}, ErrInvalidSession
		}
		return Principal{}, err
	}
	renewed, err := s.tokens.Issue(account.ID, session.ID, expiresAt)
	if err != nil {
		return Principal{}, err
	}
	principal.Grant = Grant{Token: renewed, SessionID: session.ID, ExpiresAt: expiresAt}
	principal.Renewed = true
	return principal, nil
}

// Logout revokes the session behind raw. Unknown or already invalid tokens
// are not an error.
func (s *Service) Logout(ctx context.Context, raw string) error {
	token, err := s.tokens.Parse(raw)
	if err != nil {
		return nil
	}

	if err := s.store.RevokeSession(ctx, token.SessionID, s.now().UTC()); err != nil && !errors.Is(err, identity.ErrNotFound) {
		return err
	}
	return nil
}

// Unlock clears the failed-attempt counter and any lockout of the account.
func (s *Service) Unlock(ctx context.Context, email string) error {
	account, err := s.store.FindAccountByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return err
	}
	return s.store.ResetLockout(ctx, account.ID)
}

func (s *Service) Describe(ctx context.Context, p Principal) (AccountView, error) {
	claims, err := s.store.GetClaims(ctx, p.Account.ID)
	if err != nil {
		return AccountView{}, err
	}
	return AccountView{
		ID:     p.Account.ID,
		Email:  p.Account.Email,
		Roles:  p.Roles,
		Claims: claims,
	}, nil
}

func (s *Service) RoleMembers(ctx context.Context, role string) ([]string, error) {
	exists, err := s.store.RoleExists(ctx, role)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, identity.ErrNotFound
	}

	accounts, err := s.store.GetAccountsInRole(ctx, role)
	if err != nil {
		return nil, err
	}
	emails := make([]string, 0, len(accounts))
	for _, a := range accounts {
		emails = append(emails, a.Email)
	}
	return emails, nil
}
