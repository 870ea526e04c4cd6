package seed

import (
	"context"
	"errors"
	"fmt"

	"medvoll-identity/internal/identity"
	"medvoll-identity/internal/policy"
)

type Seeder struct {
	roles      *RoleProvisioner
	accounts   *AccountProvisioner
	assigner   *RoleAssigner
	claims     *ClaimReconciler
	bcryptCost int
}

type Option func(*Seeder)

// WithBcryptCost sets the cost used to hash seeded passwords. Zero keeps
// bcrypt's default.
func WithBcryptCost(cost int) Option {
	return func(s *Seeder) {
		s.bcryptCost = cost
	}
}

func NewSeeder(store identity.Store, p policy.SecurityPolicy, opts ...Option) *Seeder {
	s := &Seeder{}
	for _, opt := range opts {
		opt(s)
	}

	s.roles = NewRoleProvisioner(store)
	s.assigner = NewRoleAssigner(store)
	s.accounts = NewAccountProvisioner(store, s.assigner, p, s.bcryptCost)
	s.claims = NewClaimReconciler(store)
	return s
}

// Run applies the plan and reports one outcome per entity and step.
//
// A failed entity is skipped by the later steps; other entities carry on.
// Losing the store aborts the run: the report so far is returned together
// with an error wrapping identity.ErrUnavailable.
func (s *Seeder) Run(ctx context.Context, plan Plan) (Report, error) {
	var report Report
	if err := plan.Validate(); err != nil {
		return report, fmt.Errorf("invalid seed plan: %w", err)
	}

	failedRoles := make(map[string]bool)
	for _, name := range plan.Roles {
		status, kind, err := s.roles.Ensure(ctx, name)
		if err != nil {
			report.fail(StepRoles, name, "", err)
			failedRoles[identity.NormalizeRole(name)] = true
			if aborts(err) {
				return report, abortErr(StepRoles, err)
			}
			continue
		}
		report.add(Outcome{Step: StepRoles, Entity: name, Status: status, Kind: kind})
	}

	type seeded struct {
		plan    AccountSeed
		account identity.Account
	}
	provisioned := make([]seeded, 0, len(plan.Accounts))

	for _, a := range plan.Accounts {
		roles := plan.rolesFor(a)
		if blocked := blockedRole(roles, failedRoles); blocked != "" {
			report.add(Outcome{
				Step:   StepAccounts,
				Entity: a.Email,
				Role:   blocked,
				Status: StatusSkipped,
				Kind:   KindDependencyFailed,
				Err:    fmt.Errorf("role %s was not provisioned", blocked),
			})
			continue
		}

		account, status, kind, err := s.accounts.Ensure(ctx, a, roles)
		if err != nil {
			report.fail(StepAccounts, a.Email, assignmentRole(err), err)
			if aborts(err) {
				return report, abortErr(StepAccounts, err)
			}
			continue
		}
		report.add(Outcome{Step: StepAccounts, Entity: a.Email, Status: status, Kind: kind})
		provisioned = append(provisioned, seeded{plan: a, account: account})
	}

	// Memberships are re-checked for every seeded account, including ones
	// that existed before this run. Nothing is ever revoked.
	assigned := make([]seeded, 0, len(provisioned))
	for _, p := range provisioned {
		ok := true
		for _, role := range plan.rolesFor(p.plan) {
			status, err := s.assigner.Ensure(ctx, p.account.ID, role)
			if err != nil {
				report.fail(StepAssignments, p.plan.Email, role, err)
				ok = false
				if aborts(err) {
					return report, abortErr(StepAssignments, err)
				}
				break
			}
			report.add(Outcome{Step: StepAssignments, Entity: p.plan.Email, Role: role, Status: status})
		}
		if ok {
			assigned = append(assigned, p)
		}
	}

	for _, p := range assigned {
		if _, err := s.claims.Reconcile(ctx, p.account.ID, p.plan.Claims); err != nil {
			report.fail(StepClaims, p.plan.Email, "", err)
			if aborts(err) {
				return report, abortErr(StepClaims, err)
			}
			continue
		}
		report.add(Outcome{Step: StepClaims, Entity: p.plan.Email, Status: StatusReconciled})
	}

	return report, nil
}

// aborts reports whether err means the store itself is gone. A partial
// claim reconciliation is recorded per account even when its additions
// failed on transport errors.
func aborts(err error) bool {
	var partial *PartialError
	if errors.As(err, &partial) {
		return false
	}
	return errors.Is(err, identity.ErrUnavailable)
}

func abortErr(step Step, err error) error {
	return fmt.Errorf("seed aborted at %s: %w", step, err)
}

func blockedRole(roles []string, failed map[string]bool) string {
	for _, r := range roles {
		if failed[identity.NormalizeRole(r)] {
			return r
		}
	}
	return ""
}

func assignmentRole(err error) string {
	var assignment *AssignmentError
	if errors.As(err, &assignment) {
		return assignment.Role
	}
	return ""
}
