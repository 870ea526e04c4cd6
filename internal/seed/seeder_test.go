package seed

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"medvoll-identity/internal/identity"
	"medvoll-identity/internal/policy"
)

func testPlan() Plan {
	return Plan{
		Roles:       []string{"User", "Admin"},
		DefaultRole: "User",
		Accounts: []AccountSeed{
			{
				Email:    "alice@x.com",
				Password: "Password@123",
				Role:     "Admin",
				Claims: []identity.Claim{
					{Type: "FullName", Value: "Alice Smith"},
					{Type: "Role", Value: "Admin"},
				},
			},
			{
				Email:    "bob@x.com",
				Password: "Password@123",
				Role:     "User",
				Claims:   []identity.Claim{{Type: "FullName", Value: "Bob Smith"}},
			},
		},
	}
}

func newTestSeeder(store identity.Store) *Seeder {
	return NewSeeder(store, policy.Default(), WithBcryptCost(bcrypt.MinCost))
}

type snapshot struct {
	roles  map[string][]string
	claims map[string][]identity.Claim
}

func takeSnapshot(t *testing.T, store identity.Store, emails ...string) snapshot {
	t.Helper()
	ctx := context.Background()
	s := snapshot{roles: map[string][]string{}, claims: map[string][]identity.Claim{}}
	for _, email := range emails {
		a, err := store.FindAccountByEmail(ctx, email)
		require.NoError(t, err)
		s.roles[email], err = store.AccountRoles(ctx, a.ID)
		require.NoError(t, err)
		s.claims[email], err = store.GetClaims(ctx, a.ID)
		require.NoError(t, err)
	}
	return s
}

func TestSeeder_BootstrapsPlan(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemoryStore()

	report, err := newTestSeeder(store).Run(ctx, testPlan())
	require.NoError(t, err)
	assert.Empty(t, report.Failures())

	for _, role := range []string{"User", "Admin"} {
		exists, err := store.RoleExists(ctx, role)
		require.NoError(t, err)
		assert.True(t, exists, role)
	}

	snap := takeSnapshot(t, store, "alice@x.com", "bob@x.com")
	assert.Equal(t, []string{"Admin", "User"}, snap.roles["alice@x.com"])
	assert.Equal(t, []string{"User"}, snap.roles["bob@x.com"])
	assert.ElementsMatch(t, []identity.Claim{
		{Type: "FullName", Value: "Alice Smith"},
		{Type: "Role", Value: "Admin"},
	}, snap.claims["alice@x.com"])
	assert.Equal(t, []identity.Claim{{Type: "FullName", Value: "Bob Smith"}}, snap.claims["bob@x.com"])

	alice, err := store.FindAccountByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.True(t, alice.EmailConfirmed)
	assert.True(t, alice.LockoutEnabled)
	assert.True(t, identity.CheckPassword(alice.PasswordHash, "Password@123"))
}

func TestSeeder_SecondRunIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemoryStore()
	seeder := newTestSeeder(store)

	_, err := seeder.Run(ctx, testPlan())
	require.NoError(t, err)
	before := takeSnapshot(t, store, "alice@x.com", "bob@x.com")
	alice, err := store.FindAccountByEmail(ctx, "alice@x.com")
	require.NoError(t, err)

	report, err := seeder.Run(ctx, testPlan())
	require.NoError(t, err)
	assert.Empty(t, report.Failures())

	after := takeSnapshot(t, store, "alice@x.com", "bob@x.com")
	assert.Equal(t, before, after)

	again, err := store.FindAccountByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, again.ID)
	assert.Equal(t, alice.PasswordHash, again.PasswordHash)

	for _, o := range report.Outcomes {
		switch o.Step {
		case StepRoles, StepAccounts:
			assert.Equal(t, StatusExisting, o.Status, o.Entity)
		case StepAssignments:
			assert.Equal(t, StatusAlreadyMember, o.Status, o.Entity)
		}
	}
}

func TestSeeder_ExistingAccountKeepsPasswordAndExtraRoles(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemoryStore()

	hash, err := identity.HashPassword("Existing#99", bcrypt.MinCost)
	require.NoError(t, err)
	existing, err := store.CreateAccount(ctx, identity.NewAccount{Email: "Alice@X.com", PasswordHash: hash})
	require.NoError(t, err)
	_, err = store.CreateRole(ctx, "Auditor")
	require.NoError(t, err)
	require.NoError(t, store.AddAccountToRole(ctx, existing.ID, "Auditor"))
	require.NoError(t, store.AddClaim(ctx, existing.ID, identity.Claim{Type: "Stale", Value: "yes"}))

	_, err = newTestSeeder(store).Run(ctx, testPlan())
	require.NoError(t, err)

	alice, err := store.FindAccountByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, alice.ID)
	assert.True(t, identity.CheckPassword(alice.PasswordHash, "Existing#99"))

	roles, err := store.AccountRoles(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Admin", "Auditor", "User"}, roles)

	claims, err := store.GetClaims(ctx, alice.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []identity.Claim{
		{Type: "FullName", Value: "Alice Smith"},
		{Type: "Role", Value: "Admin"},
	}, claims)
}

func TestSeeder_WeakPasswordAggregatesViolations(t *testing.T) {
	ctx := context.Background()
	store := identity.NewMemoryStore()
	plan := testPlan()
	plan.Accounts[0].Password = "password"

	report, err := newTestSeeder(store).Run(ctx, plan)
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, StepAccounts, failures[0].Step)
	assert.Equal(t, "alice@x.com", failures[0].Entity)
	assert.Equal(t, KindValidationFailure, failures[0].Kind)

	var validation *policy.ValidationError
	require.ErrorAs(t, failures[0].Err, &validation)
	assert.Equal(t, []policy.Violation{
		policy.ViolationRequiresNonAlphanumeric,
		policy.ViolationRequiresDigit,
		policy.ViolationRequiresUpper,
	}, validation.Violations)

	_, err = store.FindAccountByEmail(ctx, "alice@x.com")
	assert.ErrorIs(t, err, identity.ErrNotFound)

	bob := takeSnapshot(t, store, "bob@x.com")
	assert.Equal(t, []string{"User"}, bob.roles["bob@x.com"])
}

func TestSeeder_AssignmentFailureOnNewAccount(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	store.failAddToRole["Admin"] = errors.New("constraint violated")

	report, err := newTestSeeder(store).Run(ctx, testPlan())
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, StepAccounts, failures[0].Step)
	assert.Equal(t, "alice@x.com", failures[0].Entity)
	assert.Equal(t, "Admin", failures[0].Role)
	assert.Equal(t, KindAssignmentFailure, failures[0].Kind)

	alice, err := store.FindAccountByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	claims, err := store.GetClaims(ctx, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, claims, "later steps skip a failed account")
}

func TestSeeder_CreateConflictCountsAsExisting(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	store.conflictOnCreate = true

	report, err := newTestSeeder(store).Run(ctx, testPlan())
	require.NoError(t, err)
	assert.Empty(t, report.Failures())

	var kinds []Kind
	for _, o := range report.Outcomes {
		if o.Step == StepAccounts {
			assert.Equal(t, StatusExisting, o.Status)
			kinds = append(kinds, o.Kind)
		}
	}
	assert.Equal(t, []Kind{KindUniquenessConflict, KindUniquenessConflict}, kinds)

	snap := takeSnapshot(t, store, "alice@x.com")
	assert.Equal(t, []string{"Admin", "User"}, snap.roles["alice@x.com"])
}

func TestSeeder_RoleFailureSkipsDependentAccounts(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	store.failCreateRole["Admin"] = errors.New("bad role")

	report, err := newTestSeeder(store).Run(ctx, testPlan())
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, Outcome{Step: StepRoles, Entity: "Admin", Status: StatusFailed, Kind: KindInternal, Err: failures[0].Err}, failures[0])
	assert.Equal(t, StepAccounts, failures[1].Step)
	assert.Equal(t, "alice@x.com", failures[1].Entity)
	assert.Equal(t, StatusSkipped, failures[1].Status)
	assert.Equal(t, KindDependencyFailed, failures[1].Kind)

	_, err = store.FindAccountByEmail(ctx, "bob@x.com")
	assert.NoError(t, err)
}

func TestSeeder_StoreUnavailableAborts(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	store.failCreate["alice@x.com"] = unavailable("create account")

	report, err := newTestSeeder(store).Run(ctx, testPlan())
	require.Error(t, err)
	assert.ErrorIs(t, err, identity.ErrUnavailable)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, KindStoreUnavailable, failures[0].Kind)

	_, err = store.FindAccountByEmail(ctx, "bob@x.com")
	assert.ErrorIs(t, err, identity.ErrNotFound, "bob is never attempted")

	exists, err := store.RoleExists(ctx, "Admin")
	require.NoError(t, err)
	assert.True(t, exists, "roles created before the abort stay created")
}

func TestSeeder_UnavailableBeforeRoles(t *testing.T) {
	store := newFaultyStore()
	store.failRoleExists = unavailable("role exists")

	report, err := newTestSeeder(store).Run(context.Background(), testPlan())
	assert.ErrorIs(t, err, identity.ErrUnavailable)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, StepRoles, report.Outcomes[0].Step)
}

func TestSeeder_PartialClaimsAreReportedPerAccount(t *testing.T) {
	ctx := context.Background()
	store := newFaultyStore()
	store.failAddClaim["Role"] = unavailable("add claim")

	report, err := newTestSeeder(store).Run(ctx, testPlan())
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Equal(t, StepClaims, failures[0].Step)
	assert.Equal(t, "alice@x.com", failures[0].Entity)
	assert.Equal(t, KindPartialReconciliation, failures[0].Kind)

	var partial *PartialError
	require.ErrorAs(t, failures[0].Err, &partial)
	assert.Equal(t, []identity.Claim{{Type: "Role", Value: "Admin"}}, partial.Missing)

	snap := takeSnapshot(t, store, "alice@x.com", "bob@x.com")
	assert.Equal(t, []identity.Claim{{Type: "FullName", Value: "Alice Smith"}}, snap.claims["alice@x.com"])
	assert.Equal(t, []identity.Claim{{Type: "FullName", Value: "Bob Smith"}}, snap.claims["bob@x.com"])

	delete(store.failAddClaim, "Role")
	report, err = newTestSeeder(store).Run(ctx, testPlan())
	require.NoError(t, err)
	assert.Empty(t, report.Failures())
	snap = takeSnapshot(t, store, "alice@x.com")
	assert.Len(t, snap.claims["alice@x.com"], 2)
}

func TestSeeder_InvalidPlan(t *testing.T) {
	plan := testPlan()
	plan.Accounts[1].Role = "Ghost"

	report, err := newTestSeeder(identity.NewMemoryStore()).Run(context.Background(), plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `role "Ghost" is not declared`)
	assert.Empty(t, report.Outcomes)
}
