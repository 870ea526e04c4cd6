package seed

import (
	"context"
	"fmt"

	"medvoll-identity/internal/identity"
)

// faultyStore wraps a MemoryStore and fails selected operations.
type faultyStore struct {
	*identity.MemoryStore

	failRoleExists   error
	failCreateRole   map[string]error
	failCreate       map[string]error
	failAddToRole    map[string]error
	failAddClaim     map[string]error
	conflictOnCreate bool
}

func newFaultyStore() *faultyStore {
	return &faultyStore{
		MemoryStore:    identity.NewMemoryStore(),
		failCreateRole: map[string]error{},
		failCreate:     map[string]error{},
		failAddToRole:  map[string]error{},
		failAddClaim:   map[string]error{},
	}
}

func unavailable(op string) error {
	return fmt.Errorf("%s: %w: connection refused", op, identity.ErrUnavailable)
}

func (f *faultyStore) RoleExists(ctx context.Context, name string) (bool, error) {
	if f.failRoleExists != nil {
		return false, f.failRoleExists
	}
	return f.MemoryStore.RoleExists(ctx, name)
}

func (f *faultyStore) CreateRole(ctx context.Context, name string) (identity.Role, error) {
	if err := f.failCreateRole[name]; err != nil {
		return identity.Role{}, err
	}
	return f.MemoryStore.CreateRole(ctx, name)
}

func (f *faultyStore) CreateAccount(ctx context.Context, account identity.NewAccount) (identity.Account, error) {
	if err := f.failCreate[account.Email]; err != nil {
		return identity.Account{}, err
	}
	if f.conflictOnCreate {
		// Another writer creates the account first.
		if _, err := f.MemoryStore.CreateAccount(ctx, account); err != nil {
			return identity.Account{}, err
		}
		return identity.Account{}, identity.ErrConflict
	}
	return f.MemoryStore.CreateAccount(ctx, account)
}

func (f *faultyStore) AddAccountToRole(ctx context.Context, accountID, roleName string) error {
	if err := f.failAddToRole[roleName]; err != nil {
		return err
	}
	return f.MemoryStore.AddAccountToRole(ctx, accountID, roleName)
}

func (f *faultyStore) AddClaim(ctx context.Context, accountID string, claim identity.Claim) error {
	if err := f.failAddClaim[claim.Type]; err != nil {
		return err
	}
	return f.MemoryStore.AddClaim(ctx, accountID, claim)
}
