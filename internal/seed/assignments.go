package seed

import (
	"context"
	"fmt"

	"medvoll-identity/internal/identity"
)

// RoleAssigner makes sure an account holds a role. It never removes a
// membership, so roles granted by earlier runs or by operators survive.
type RoleAssigner struct {
	store identity.RoleStore
}

func NewRoleAssigner(store identity.RoleStore) *RoleAssigner {
	return &RoleAssigner{store: store}
}

func (a *RoleAssigner) Ensure(ctx context.Context, accountID, role string) (Status, error) {
	member, err := a.store.IsInRole(ctx, accountID, role)
	if err != nil {
		return StatusFailed, &AssignmentError{Role: role, Err: err}
	}
	if member {
		return StatusAlreadyMember, nil
	}

	if err := a.store.AddAccountToRole(ctx, accountID, role); err != nil {
		return StatusFailed, &AssignmentError{Role: role, Err: err}
	}
	return StatusAssigned, nil
}

type AssignmentError struct {
	Role string
	Err  error
}

func (e *AssignmentError) Error() string {
	return fmt.Sprintf("assign role %s: %v", e.Role, e.Err)
}

func (e *AssignmentError) Unwrap() error { return e.Err }
