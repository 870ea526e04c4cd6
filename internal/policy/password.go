package policy

import (
	"strings"
	"unicode/utf8"
)

// Violation is a stable code naming one unmet password requirement.
type Violation string

const (
	ViolationTooShort                Violation = "PasswordTooShort"
	ViolationRequiresDigit           Violation = "PasswordRequiresDigit"
	ViolationRequiresLower           Violation = "PasswordRequiresLower"
	ViolationRequiresUpper           Violation = "PasswordRequiresUpper"
	ViolationRequiresNonAlphanumeric Violation = "PasswordRequiresNonAlphanumeric"
)

type PasswordRule struct {
	MinLength              int
	RequireDigit           bool
	RequireLowercase       bool
	RequireUppercase       bool
	RequireNonAlphanumeric bool
}

// Check returns every requirement the password misses, in a fixed order.
// An empty result means the password is acceptable.
func (r PasswordRule) Check(password string) []Violation {
	var hasDigit, hasLower, hasUpper, hasOther bool
	for _, c := range password {
		switch {
		case c >= '0' && c <= '9':
			hasDigit = true
		case c >= 'a' && c <= 'z':
			hasLower = true
		case c >= 'A' && c <= 'Z':
			hasUpper = true
		default:
			hasOther = true
		}
	}

	var violations []Violation
	if utf8.RuneCountInString(password) < r.MinLength {
		violations = append(violations, ViolationTooShort)
	}
	if r.RequireNonAlphanumeric && !hasOther {
		violations = append(violations, ViolationRequiresNonAlphanumeric)
	}
	if r.RequireDigit && !hasDigit {
		violations = append(violations, ViolationRequiresDigit)
	}
	if r.RequireLowercase && !hasLower {
		violations = append(violations, ViolationRequiresLower)
	}
	if r.RequireUppercase && !hasUpper {
		violations = append(violations, ViolationRequiresUpper)
	}

	return violations
}

// Validate is Check folded into an error: nil, or a *ValidationError
// carrying all violations.
func (r PasswordRule) Validate(password string) error {
	violations := r.Check(password)
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Violations: violations}
}

type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	codes := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		codes[i] = string(v)
	}
	return "password policy violated: " + strings.Join(codes, ", ")
}

// Has reports whether v is among the violations.
func (e *ValidationError) Has(v Violation) bool {
	for _, got := range e.Violations {
		if got == v {
			return true
		}
	}
	return false
}
