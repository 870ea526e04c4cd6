// Package seed provisions the baseline roles, accounts, role memberships and
// claims an installation needs, and is safe to run at every process start.
//
// The steps run in order (roles, accounts, assignments, claims) because each
// one's postcondition is the next one's precondition. Roles and memberships
// only ever accumulate; claim sets are replaced wholesale.
package seed

import (
	"context"
	"errors"
	"fmt"

	"medvoll-identity/internal/identity"
)

type RoleProvisioner struct {
	store identity.RoleStore
}

func NewRoleProvisioner(store identity.RoleStore) *RoleProvisioner {
	return &RoleProvisioner{store: store}
}

// Ensure creates the role when it is absent. Losing a creation race to
// another writer counts as the role already existing.
func (p *RoleProvisioner) Ensure(ctx context.Context, name string) (Status, Kind, error) {
	exists, err := p.store.RoleExists(ctx, name)
	if err != nil {
		return StatusFailed, KindNone, fmt.Errorf("check role %s: %w", name, err)
	}
	if exists {
		return StatusExisting, KindNone, nil
	}

	if _, err := p.store.CreateRole(ctx, name); err != nil {
		if errors.Is(err, identity.ErrConflict) {
			return StatusExisting, KindUniquenessConflict, nil
		}
		return StatusFailed, KindNone, fmt.Errorf("create role %s: %w", name, err)
	}

	return StatusCreated, KindNone, nil
}
