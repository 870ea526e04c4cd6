package seed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"medvoll-identity/internal/identity"
)

// ClaimReconciler replaces an account's claim set with a target set.
//
// The replace is two-phase: every existing claim is removed, then every
// target claim is added. It is not crash-atomic. If additions fail after
// the removal the account is left with a partial set and a *PartialError
// names what is missing; the next run converges it.
type ClaimReconciler struct {
	store identity.ClaimStore
}

func NewClaimReconciler(store identity.ClaimStore) *ClaimReconciler {
	return &ClaimReconciler{store: store}
}

type ClaimResult struct {
	Removed int
	Added   int
}

func (r *ClaimReconciler) Reconcile(ctx context.Context, accountID string, target []identity.Claim) (ClaimResult, error) {
	existing, err := r.store.GetClaims(ctx, accountID)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("read claims: %w", err)
	}

	if len(existing) > 0 {
		if err := r.store.RemoveClaims(ctx, accountID, existing); err != nil {
			return ClaimResult{}, fmt.Errorf("remove claims: %w", err)
		}
	}

	result := ClaimResult{Removed: len(existing)}
	var missing []identity.Claim
	var errs []error
	for _, c := range dedupeClaims(target) {
		if err := r.store.AddClaim(ctx, accountID, c); err != nil {
			missing = append(missing, c)
			errs = append(errs, fmt.Errorf("add claim %s: %w", c.Type, err))
			continue
		}
		result.Added++
	}

	if len(missing) > 0 {
		return result, &PartialError{Missing: missing, Err: errors.Join(errs...)}
	}
	return result, nil
}

func dedupeClaims(claims []identity.Claim) []identity.Claim {
	seen := make(map[identity.Claim]struct{}, len(claims))
	out := make([]identity.Claim, 0, len(claims))
	for _, c := range claims {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// PartialError reports target claims that were not applied after the old
// set had already been removed.
type PartialError struct {
	Missing []identity.Claim
	Err     error
}

func (e *PartialError) Error() string {
	names := make([]string, len(e.Missing))
	for i, c := range e.Missing {
		names[i] = c.Type + "=" + c.Value
	}
	return fmt.Sprintf("claims not applied: %s: %v", strings.Join(names, ", "), e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }
