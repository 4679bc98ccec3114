package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrForbidden            = errors.New("forbidden")
	ErrNotFound             = errors.New("not found")
	ErrValidation           = errors.New("validation failed")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrConsensusRejected    = errors.New("consensus rejected")
	ErrForkRejected         = errors.New("fork rejected")
	ErrIntegrityViolation   = errors.New("integrity violation")
	ErrPoolFull             = errors.New("transaction pool full")
	ErrAnchorNotCommitted   = errors.New("anchor transaction not committed")
)

// ValidationError reports malformed caller input. It never accompanies a
// state change.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Outcome tags every mutating call.
type Outcome string

const (
	OutcomeAccepted  Outcome = "accepted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)
