package seed

import (
	"errors"

	"medvoll-identity/internal/identity"
	"medvoll-identity/internal/policy"
)

type Step string

const (
	StepRoles       Step = "roles"
	StepAccounts    Step = "accounts"
	StepAssignments Step = "assignments"
	StepClaims      Step = "claims"
)

type Status string

const (
	StatusCreated       Status = "created"
	StatusExisting      Status = "existing"
	StatusAssigned      Status = "assigned"
	StatusAlreadyMember Status = "already_member"
	StatusReconciled    Status = "reconciled"
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped"
)

// Kind classifies why an outcome is not a plain success.
type Kind string

const (
	KindNone                  Kind = ""
	KindStoreUnavailable      Kind = "store_unavailable"
	KindValidationFailure     Kind = "validation_failure"
	KindUniquenessConflict    Kind = "uniqueness_conflict"
	KindAssignmentFailure     Kind = "assignment_failure"
	KindPartialReconciliation Kind = "partial_reconciliation"
	KindDependencyFailed      Kind = "dependency_failed"
	KindInternal              Kind = "internal"
)

// Outcome records what one bootstrap step did to one entity. Entity is a
// role name for StepRoles and an email otherwise; Role is set on
// assignment outcomes.
type Outcome struct {
	Step   Step
	Entity string
	Role   string
	Status Status
	Kind   Kind
	Err    error
}

func (o Outcome) Failed() bool {
	return o.Status == StatusFailed || o.Status == StatusSkipped
}

type Report struct {
	Outcomes []Outcome
}

func (r *Report) add(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
}

func (r *Report) fail(step Step, entity, role string, err error) {
	r.add(Outcome{Step: step, Entity: entity, Role: role, Status: StatusFailed, Kind: classify(err), Err: err})
}

func (r Report) Failures() []Outcome {
	var failures []Outcome
	for _, o := range r.Outcomes {
		if o.Failed() {
			failures = append(failures, o)
		}
	}
	return failures
}

func classify(err error) Kind {
	var validation *policy.ValidationError
	var partial *PartialError
	var assignment *AssignmentError

	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &partial):
		return KindPartialReconciliation
	case errors.As(err, &validation):
		return KindValidationFailure
	case errors.As(err, &assignment):
		return KindAssignmentFailure
	case errors.Is(err, identity.ErrUnavailable):
		return KindStoreUnavailable
	case errors.Is(err, identity.ErrConflict):
		return KindUniquenessConflict
	default:
		return KindInternal
	}
}
