package domain

import (
	"regexp"
	"strings"
	"time"
)

type TxKind string

const (
	TxEvidenceSubmit   TxKind = "EvidenceSubmit"
	TxEvidenceValidate TxKind = "EvidenceValidate"
	TxCaseCreate       TxKind = "CaseCreate"
	TxCaseUpdate       TxKind = "CaseUpdate"
	TxArtifactBind     TxKind = "ArtifactBind"
)

var knownKinds = map[TxKind]struct{}{
	TxEvidenceSubmit:   {},
	TxEvidenceValidate: {},
	TxCaseCreate:       {},
	TxCaseUpdate:       {},
	TxArtifactBind:     {},
}

func (k TxKind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

var (
	caseNumberPattern   = regexp.MustCompile(`^\d{4}-[A-Z]-\d{6}$`)
	jurisdictionPattern = regexp.MustCompile(`^[A-Z]+-[A-Z]+$`)
	registrationPattern = regexp.MustCompile(`^REG\d{8}$`)
	artifactIDPattern   = regexp.MustCompile(`^ART-[0-9a-f]{12}$`)
	digestPattern       = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

func ValidCaseNumber(v string) bool   { return caseNumberPattern.MatchString(v) }
func ValidJurisdiction(v string) bool { return jurisdictionPattern.MatchString(v) }
func ValidRegistration(v string) bool { return registrationPattern.MatchString(v) }
func ValidArtifactID(v string) bool   { return artifactIDPattern.MatchString(v) }
func ValidDigest(v string) bool       { return digestPattern.MatchString(v) }

// Payload is the typed body of a transaction. Each TxKind has exactly one
// payload type; the pool rejects a transaction whose payload kind differs
// from its declared kind.
type Payload interface {
	Kind() TxKind
	Validate() error
	// ArtifactRef returns the artifact the payload concerns, or "".
	ArtifactRef() string
	// CaseRef returns the case number the payload concerns, or "".
	CaseRef() string
	MetadataValues() map[string]string
}

type EvidenceSubmitPayload struct {
	ArtifactID  string            `json:"artifact_id"`
	ContentHash string            `json:"content_hash"`
	CaseNumber  string            `json:"case_number"`
	MediaType   string            `json:"media_type,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (p EvidenceSubmitPayload) Kind() TxKind                      { return TxEvidenceSubmit }
func (p EvidenceSubmitPayload) ArtifactRef() string               { return p.ArtifactID }
func (p EvidenceSubmitPayload) CaseRef() string                   { return p.CaseNumber }
func (p EvidenceSubmitPayload) MetadataValues() map[string]string { return p.Metadata }

func (p EvidenceSubmitPayload) Validate() error {
	if !ValidArtifactID(p.ArtifactID) {
		return NewValidationError("artifact_id", "must match ART-<12 hex>")
	}
	if !ValidDigest(p.ContentHash) {
		return NewValidationError("content_hash", "must be 64 lowercase hex chars")
	}
	if !ValidCaseNumber(p.CaseNumber) {
		return NewValidationError("case_number", "must match NNNN-X-NNNNNN")
	}
	if p.SizeBytes < 0 {
		return NewValidationError("size_bytes", "must not be negative")
	}
	return nil
}

type ValidationOutcome string

const (
	ValidationPassed ValidationOutcome = "passed"
	ValidationFailed ValidationOutcome = "failed"
)

type EvidenceValidatePayload struct {
	ArtifactID string            `json:"artifact_id"`
	CaseNumber string            `json:"case_number"`
	Outcome    ValidationOutcome `json:"outcome"`
	Findings   string            `json:"findings,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (p EvidenceValidatePayload) Kind() TxKind                      { return TxEvidenceValidate }
func (p EvidenceValidatePayload) ArtifactRef() string               { return p.ArtifactID }
func (p EvidenceValidatePayload) CaseRef() string                   { return p.CaseNumber }
func (p EvidenceValidatePayload) MetadataValues() map[string]string { return p.Metadata }

func (p EvidenceValidatePayload) Validate() error {
	if !ValidArtifactID(p.ArtifactID) {
		return NewValidationError("artifact_id", "must match ART-<12 hex>")
	}
	if !ValidCaseNumber(p.CaseNumber) {
		return NewValidationError("case_number", "must match NNNN-X-NNNNNN")
	}
	switch p.Outcome {
	case ValidationPassed, ValidationFailed:
	default:
		return NewValidationError("outcome", "must be passed or failed")
	}
	return nil
}

type CaseCreatePayload struct {
	CaseNumber   string            `json:"case_number"`
	Jurisdiction string            `json:"jurisdiction"`
	Title        string            `json:"title"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (p CaseCreatePayload) Kind() TxKind                      { return TxCaseCreate }
func (p CaseCreatePayload) ArtifactRef() string               { return "" }
func (p CaseCreatePayload) CaseRef() string                   { return p.CaseNumber }
func (p CaseCreatePayload) MetadataValues() map[string]string { return p.Metadata }

func (p CaseCreatePayload) Validate() error {
	if !ValidCaseNumber(p.CaseNumber) {
		return NewValidationError("case_number", "must match NNNN-X-NNNNNN")
	}
	if !ValidJurisdiction(p.Jurisdiction) {
		return NewValidationError("jurisdiction", "must match STATE-COUNTY")
	}
	if strings.TrimSpace(p.Title) == "" {
		return NewValidationError("title", "is required")
	}
	return nil
}

type CaseUpdatePayload struct {
	CaseNumber string            `json:"case_number"`
	Status     string            `json:"status,omitempty"`
	Summary    string            `json:"summary,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (p CaseUpdatePayload) Kind() TxKind                      { return TxCaseUpdate }
func (p CaseUpdatePayload) ArtifactRef() string               { return "" }
func (p CaseUpdatePayload) CaseRef() string                   { return p.CaseNumber }
func (p CaseUpdatePayload) MetadataValues() map[string]string { return p.Metadata }

func (p CaseUpdatePayload) Validate() error {
	if !ValidCaseNumber(p.CaseNumber) {
		return NewValidationError("case_number", "must match NNNN-X-NNNNNN")
	}
	if p.Status == "" && p.Summary == "" && len(p.Metadata) == 0 {
		return NewValidationError("payload", "case update carries no changes")
	}
	return nil
}

type ArtifactBindPayload struct {
	Binding      ArtifactBindingIdentifier `json:"binding"`
	ContentHash  string                    `json:"content_hash"`
	CaseNumber   string                    `json:"case_number"`
	Jurisdiction string                    `json:"jurisdiction"`
	Metadata     map[string]string         `json:"metadata,omitempty"`
}

func (p ArtifactBindPayload) Kind() TxKind                      { return TxArtifactBind }
func (p ArtifactBindPayload) ArtifactRef() string               { return p.Binding.ArtifactID }
func (p ArtifactBindPayload) CaseRef() string                   { return p.CaseNumber }
func (p ArtifactBindPayload) MetadataValues() map[string]string { return p.Metadata }

func (p ArtifactBindPayload) Validate() error {
	if !ValidArtifactID(p.Binding.ArtifactID) {
		return NewValidationError("binding.artifact_id", "must match ART-<12 hex>")
	}
	if !ValidDigest(p.Binding.ImmutableHash) {
		return NewValidationError("binding.immutable_hash", "must be 64 lowercase hex chars")
	}
	if !ValidDigest(p.ContentHash) {
		return NewValidationError("content_hash", "must be 64 lowercase hex chars")
	}
	if !ValidCaseNumber(p.CaseNumber) {
		return NewValidationError("case_number", "must match NNNN-X-NNNNNN")
	}
	if !ValidJurisdiction(p.Jurisdiction) {
		return NewValidationError("jurisdiction", "must match STATE-COUNTY")
	}
	if p.Binding.CaseBinding != "CASE-"+p.CaseNumber+"-"+p.Jurisdiction {
		return NewValidationError("binding.case_binding", "does not match case_number and jurisdiction")
	}
	return nil
}

// Transaction is immutable once sealed: ContentHash commits to every other
// field.
type Transaction struct {
	Kind        TxKind
	Payload     Payload
	Submitter   Identity
	CreatedAt   time.Time
	ContentHash string
}

func (t Transaction) ArtifactID() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.ArtifactRef()
}

func (t Transaction) CaseNumber() string {
	if t.Payload == nil {
		return ""
	}
	return t.Payload.CaseRef()
}

// Validate checks shape only; it does not check hashes.
func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return NewValidationError("type", "unknown transaction type")
	}
	if t.Payload == nil {
		return NewValidationError("payload", "is required")
	}
	if t.Payload.Kind() != t.Kind {
		return NewValidationError("payload", "payload kind does not match transaction type")
	}
	if err := t.Payload.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(t.Submitter.UserID) == "" {
		return NewValidationError("submitter.user_id", "is required")
	}
	if !ValidRegistration(t.Submitter.RegistrationNumber) {
		return NewValidationError("submitter.registration_number", "must match REG<8 digits>")
	}
	if t.CreatedAt.IsZero() {
		return NewValidationError("created_at", "is required")
	}
	return nil
}

// NormalizeTime is the precision every hashed timestamp is stored at.
func NormalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// TxLocation addresses a committed transaction.
type TxLocation struct {
	ContentHash string
	Height      int64
	Index       int
	BlockHash   string
	Kind        TxKind
}
