package seed

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"medvoll-identity/internal/identity"
)

//go:embed default_plan.toml
var defaultPlan string

// Plan is the declarative bootstrap input. Roles are provisioned in order;
// every account additionally joins DefaultRole when it is set.
type Plan struct {
	Roles       []string      `toml:"roles"`
	DefaultRole string        `toml:"default_role"`
	Accounts    []AccountSeed `toml:"accounts"`
}

// AccountSeed describes one managed account. Its claim set is owned by the
// plan: whatever the account holds is replaced by Claims on every run.
type AccountSeed struct {
	Email    string           `toml:"email"`
	Password string           `toml:"password"`
	Role     string           `toml:"role"`
	Claims   []identity.Claim `toml:"claims"`
}

func DefaultPlan() (Plan, error) {
	return decodePlan(defaultPlan)
}

// LoadPlan reads a TOML plan from path, or the embedded default when path
// is empty.
func LoadPlan(path string) (Plan, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPlan()
	}

	var plan Plan
	md, err := toml.DecodeFile(path, &plan)
	if err != nil {
		return Plan{}, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	if err := rejectUndecoded(md); err != nil {
		return Plan{}, fmt.Errorf("seed file %s: %w", path, err)
	}
	return plan, nil
}

func decodePlan(data string) (Plan, error) {
	var plan Plan
	md, err := toml.Decode(data, &plan)
	if err != nil {
		return Plan{}, fmt.Errorf("decode seed plan: %w", err)
	}
	if err := rejectUndecoded(md); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func rejectUndecoded(md toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}
	keys := make([]string, len(undecoded))
	for i, k := range undecoded {
		keys[i] = k.String()
	}
	sort.Strings(keys)
	return fmt.Errorf("unknown keys in seed plan: %s", strings.Join(keys, ", "))
}

// Validate checks the plan is self-consistent: every role an account refers
// to is declared, and no role or email appears twice.
func (p Plan) Validate() error {
	var problems []error

	declared := make(map[string]bool, len(p.Roles))
	for _, role := range p.Roles {
		key := identity.NormalizeRole(role)
		if key == "" {
			problems = append(problems, errors.New("role name must not be empty"))
			continue
		}
		if declared[key] {
			problems = append(problems, fmt.Errorf("role %q declared twice", role))
		}
		declared[key] = true
	}

	if p.DefaultRole != "" && !declared[identity.NormalizeRole(p.DefaultRole)] {
		problems = append(problems, fmt.Errorf("default role %q is not declared", p.DefaultRole))
	}

	emails := make(map[string]bool, len(p.Accounts))
	for i, a := range p.Accounts {
		key := identity.NormalizeEmail(a.Email)
		if key == "" {
			problems = append(problems, fmt.Errorf("account %d: email is required", i))
			continue
		}
		if emails[key] {
			problems = append(problems, fmt.Errorf("account %s declared twice", a.Email))
		}
		emails[key] = true

		if a.Role != "" && !declared[identity.NormalizeRole(a.Role)] {
			problems = append(problems, fmt.Errorf("account %s: role %q is not declared", a.Email, a.Role))
		}
		for _, c := range a.Claims {
			if strings.TrimSpace(c.Type) == "" {
				problems = append(problems, fmt.Errorf("account %s: claim type is required", a.Email))
			}
		}
	}

	return errors.Join(problems...)
}

// rolesFor lists the roles an account must hold: the default role first,
// then its own.
func (p Plan) rolesFor(a AccountSeed) []string {
	roles := make([]string, 0, 2)
	if p.DefaultRole != "" {
		roles = append(roles, p.DefaultRole)
	}
	if a.Role != "" && identity.NormalizeRole(a.Role) != identity.NormalizeRole(p.DefaultRole) {
		roles = append(roles, a.Role)
	}
	return roles
}
