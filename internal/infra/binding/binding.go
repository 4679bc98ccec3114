// Package binding mints and verifies artifact binding identifiers. All
// functions are pure: the creation time is an input.
package binding

import (
	"crypto/subtle"
	"regexp"
	"strconv"
	"strings"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"
)

var barNumberPattern = regexp.MustCompile(`^[A-Z0-9]{1,16}$`)

type MintRequest struct {
	// Content is hashed when set; otherwise ContentHash is used as given.
	Content          []byte
	ContentHash      string
	CaseNumber       string
	Jurisdiction     string
	UserRegistration string
	BarNumber        string
	CreatedAt        time.Time
}

type CorrectionRequest struct {
	CaseNumber       string
	Jurisdiction     string
	UserRegistration string
	BarNumber        string
	CreatedAt        time.Time
}

func ArtifactIDFor(contentHash string) (string, error) {
	if !domain.ValidDigest(contentHash) {
		return "", domain.NewValidationError("content_hash", "must be 64 lowercase hex chars")
	}
	return "ART-" + contentHash[:12], nil
}

func CaseBinding(caseNumber, jurisdiction string) string {
	return "CASE-" + caseNumber + "-" + jurisdiction
}

func UserBinding(registration, bar string) string {
	if bar == "" {
		return "USER-" + registration
	}
	return "USER-" + registration + "-" + bar
}

func Mint(req MintRequest) (domain.ArtifactBindingIdentifier, error) {
	contentHash := req.ContentHash
	if req.Content != nil {
		contentHash = crypto.SumHex(req.Content)
	}
	artifactID, err := ArtifactIDFor(contentHash)
	if err != nil {
		return domain.ArtifactBindingIdentifier{}, err
	}
	if err := validateParties(req.CaseNumber, req.Jurisdiction, req.UserRegistration, req.BarNumber, req.CreatedAt); err != nil {
		return domain.ArtifactBindingIdentifier{}, err
	}
	id := domain.ArtifactBindingIdentifier{
		ArtifactID:  artifactID,
		CaseBinding: CaseBinding(req.CaseNumber, req.Jurisdiction),
		UserBinding: UserBinding(req.UserRegistration, req.BarNumber),
		CreatedAt:   crypto.FormatTime(req.CreatedAt),
		Version:     1,
	}
	id.ImmutableHash = immutableHash(id)
	return id, nil
}

// Correct issues the next version of prev. prev itself is left untouched
// and must still verify.
func Correct(prev domain.ArtifactBindingIdentifier, req CorrectionRequest) (domain.ArtifactBindingIdentifier, error) {
	if !Verify(prev) {
		return domain.ArtifactBindingIdentifier{}, domain.NewValidationError("binding", "previous version does not verify")
	}
	if err := validateParties(req.CaseNumber, req.Jurisdiction, req.UserRegistration, req.BarNumber, req.CreatedAt); err != nil {
		return domain.ArtifactBindingIdentifier{}, err
	}
	next := domain.ArtifactBindingIdentifier{
		ArtifactID:   prev.ArtifactID,
		CaseBinding:  CaseBinding(req.CaseNumber, req.Jurisdiction),
		UserBinding:  UserBinding(req.UserRegistration, req.BarNumber),
		CreatedAt:    crypto.FormatTime(req.CreatedAt),
		Version:      prev.Version + 1,
		PreviousHash: prev.ImmutableHash,
	}
	next.ImmutableHash = immutableHash(next)
	return next, nil
}

func Verify(id domain.ArtifactBindingIdentifier) bool {
	if id.Version < 1 || !domain.ValidArtifactID(id.ArtifactID) {
		return false
	}
	if id.Version == 1 && id.PreviousHash != "" {
		return false
	}
	if id.Version > 1 && !domain.ValidDigest(id.PreviousHash) {
		return false
	}
	want := immutableHash(id)
	return subtle.ConstantTimeCompare([]byte(want), []byte(id.ImmutableHash)) == 1
}

// RegistrationOf extracts the registration number from a user binding.
func RegistrationOf(userBinding string) string {
	rest, ok := strings.CutPrefix(userBinding, "USER-")
	if !ok {
		return ""
	}
	reg, _, _ := strings.Cut(rest, "-")
	return reg
}

func immutableHash(id domain.ArtifactBindingIdentifier) string {
	if id.Version <= 1 {
		return crypto.HashStrings(id.ArtifactID, id.CaseBinding, id.UserBinding, id.CreatedAt)
	}
	return crypto.HashStrings(
		id.ArtifactID,
		id.CaseBinding,
		id.UserBinding,
		id.CreatedAt,
		strconv.Itoa(id.Version),
		id.PreviousHash,
	)
}

func validateParties(caseNumber, jurisdiction, registration, bar string, createdAt time.Time) error {
	if !domain.ValidCaseNumber(caseNumber) {
		return domain.NewValidationError("case_number", "must match NNNN-X-NNNNNN")
	}
	if !domain.ValidJurisdiction(jurisdiction) {
		return domain.NewValidationError("jurisdiction", "must match STATE-COUNTY")
	}
	if !domain.ValidRegistration(registration) {
		return domain.NewValidationError("registration_number", "must match REG<8 digits>")
	}
	if bar != "" && !barNumberPattern.MatchString(bar) {
		return domain.NewValidationError("bar_number", "must be 1-16 uppercase letters or digits")
	}
	if createdAt.IsZero() {
		return domain.NewValidationError("created_at", "is required")
	}
	return nil
}
