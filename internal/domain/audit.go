package domain

import (
	"slices"
	"strings"
	"time"
)

const DefaultAuditThreshold = 95.0

// AuditPolicy drives Proof-of-Audit scoring.
type AuditPolicy struct {
	Threshold        float64
	MaxClockSkew     time.Duration
	Disabled         []string
	RequiredMetadata map[TxKind][]string
	CaseCreatorRoles []string
}

func DefaultAuditPolicy() AuditPolicy {
	return AuditPolicy{
		Threshold:        DefaultAuditThreshold,
		MaxClockSkew:     30 * time.Second,
		RequiredMetadata: map[TxKind][]string{},
		CaseCreatorRoles: []string{RoleAdmin, "clerk", "attorney"},
	}
}

// Accepts reports whether a batch scoring score may be committed.
func (p AuditPolicy) Accepts(score float64) bool {
	return score >= p.Threshold
}

func (p AuditPolicy) Enabled(predicate string) bool {
	return !slices.Contains(p.Disabled, predicate)
}

func (p AuditPolicy) MayCreateCases(role string) bool {
	for _, r := range p.CaseCreatorRoles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func (p AuditPolicy) Validate() error {
	if p.Threshold < 0 || p.Threshold > 100 {
		return NewValidationError("threshold", "must be between 0 and 100")
	}
	if p.MaxClockSkew < 0 {
		return NewValidationError("max_clock_skew", "must not be negative")
	}
	for kind := range p.RequiredMetadata {
		if !kind.Valid() {
			return NewValidationError("required_metadata", "unknown transaction type "+string(kind))
		}
	}
	return nil
}
