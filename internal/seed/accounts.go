package seed

import (
	"context"
	"errors"
	"fmt"

	"medvoll-identity/internal/identity"
	"medvoll-identity/internal/policy"
)

type AccountStore interface {
	identity.AccountStore
	identity.RoleStore
}

type AccountProvisioner struct {
	store      AccountStore
	assigner   *RoleAssigner
	password   policy.PasswordRule
	lockout    policy.LockoutRule
	bcryptCost int
}

func NewAccountProvisioner(store AccountStore, assigner *RoleAssigner, p policy.SecurityPolicy, bcryptCost int) *AccountProvisioner {
	return &AccountProvisioner{
		store:      store,
		assigner:   assigner,
		password:   p.Password,
		lockout:    p.Lockout,
		bcryptCost: bcryptCost,
	}
}

// Ensure creates the account when no account holds the email and assigns
// it the given roles. An existing account is returned as is: its password
// is never rotated from here.
//
// A freshly created account that cannot be given its roles is reported as
// failed; the account itself stays created.
func (p *AccountProvisioner) Ensure(ctx context.Context, seed AccountSeed, roles []string) (identity.Account, Status, Kind, error) {
	existing, err := p.store.FindAccountByEmail(ctx, seed.Email)
	if err == nil {
		return existing, StatusExisting, KindNone, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return identity.Account{}, StatusFailed, KindNone, fmt.Errorf("find account %s: %w", seed.Email, err)
	}

	if err := p.password.Validate(seed.Password); err != nil {
		return identity.Account{}, StatusFailed, KindNone, fmt.Errorf("create account %s: %w", seed.Email, err)
	}

	hash, err := identity.HashPassword(seed.Password, p.bcryptCost)
	if err != nil {
		return identity.Account{}, StatusFailed, KindNone, err
	}

	account, err := p.store.CreateAccount(ctx, identity.NewAccount{
		Email:          seed.Email,
		PasswordHash:   hash,
		EmailConfirmed: true,
		LockoutEnabled: p.lockout.AllowedForNewUsers,
	})
	if err != nil {
		if errors.Is(err, identity.ErrConflict) {
			raced, findErr := p.store.FindAccountByEmail(ctx, seed.Email)
			if findErr != nil {
				return identity.Account{}, StatusFailed, KindNone, fmt.Errorf("find account %s after conflict: %w", seed.Email, findErr)
			}
			return raced, StatusExisting, KindUniquenessConflict, nil
		}
		return identity.Account{}, StatusFailed, KindNone, fmt.Errorf("create account %s: %w", seed.Email, err)
	}

	for _, role := range roles {
		if _, err := p.assigner.Ensure(ctx, account.ID, role); err != nil {
			return account, StatusFailed, KindNone, fmt.Errorf("account %s: %w", seed.Email, err)
		}
	}

	return account, StatusCreated, KindNone, nil
}
