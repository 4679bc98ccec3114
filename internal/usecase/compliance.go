package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/binding"
	"custodia/internal/infra/crypto"
)

const (
	PredicatePayloadWellFormed       = "payload_well_formed"
	PredicateBindingIdentifierValid  = "binding_identifier_valid"
	PredicateArtifactBound           = "artifact_bound"
	PredicateSubmitterAuthorized     = "submitter_authorized"
	PredicateSubmitterMatchesBinding = "submitter_matches_binding"
	PredicateRequiredMetadata        = "required_metadata_present"
	PredicateTimestampNotFuture      = "timestamp_not_future"
)

// Violation is a failed compliance check. Any other error returned by a
// predicate aborts the audit.
type Violation struct {
	Reason string
}

func (v *Violation) Error() string { return v.Reason }

func violation(format string, args ...any) error {
	return &Violation{Reason: fmt.Sprintf(format, args...)}
}

// BindingLookup resolves the latest committed binding of an artifact.
type BindingLookup interface {
	LatestBinding(ctx context.Context, artifactID string) (domain.ArtifactBindingIdentifier, bool, error)
}

// AuditEnv is shared by every predicate during one batch audit.
type AuditEnv struct {
	Now        time.Time
	Policy     domain.AuditPolicy
	Bindings   BindingLookup
	BatchIndex int
	BatchSize  int
	// batchBindings holds bindings from earlier transactions of the batch
	// that passed every check.
	batchBindings map[string]domain.ArtifactBindingIdentifier
}

// latestBinding prefers a binding made earlier in the batch over the ledger.
func (e *AuditEnv) latestBinding(ctx context.Context, artifactID string) (domain.ArtifactBindingIdentifier, bool, error) {
	if id, ok := e.batchBindings[artifactID]; ok {
		return id, true, nil
	}
	if e.Bindings == nil {
		return domain.ArtifactBindingIdentifier{}, false, nil
	}
	return e.Bindings.LatestBinding(ctx, artifactID)
}

type Predicate interface {
	Name() string
	Applies(tx domain.Transaction) bool
	Check(ctx context.Context, tx domain.Transaction, env *AuditEnv) error
}

type AuditReport struct {
	Score  float64
	Passed int
	Total  int
	Failed []domain.FailedPredicate
}

// Auditor scores a batch against the enabled predicates.
type Auditor struct {
	predicates []Predicate
	bindings   BindingLookup
}

// NewAuditor wires the built-in predicates. policy may be nil.
func NewAuditor(bindings BindingLookup, policy PolicyEvaluator) *Auditor {
	preds := []Predicate{
		payloadWellFormed{},
		bindingIdentifierValid{},
		artifactBound{},
		submitterAuthorized{},
		submitterMatchesBinding{},
		requiredMetadataPresent{},
		timestampNotFuture{},
	}
	if policy != nil {
		preds = append(preds, policyPredicate{engine: policy})
	}
	return &Auditor{predicates: preds, bindings: bindings}
}

func (a *Auditor) Predicates() []string {
	names := make([]string, 0, len(a.predicates))
	for _, p := range a.predicates {
		names = append(names, p.Name())
	}
	return names
}

// Audit computes 100 * passing / total over every applicable (transaction,
// predicate) pair. A batch with no applicable checks scores 100.
func (a *Auditor) Audit(ctx context.Context, batch []domain.Transaction, policy domain.AuditPolicy, now time.Time) (AuditReport, error) {
	env := &AuditEnv{
		Now:           now,
		Policy:        policy,
		Bindings:      a.bindings,
		BatchSize:     len(batch),
		batchBindings: make(map[string]domain.ArtifactBindingIdentifier),
	}
	var report AuditReport
	for i, tx := range batch {
		env.BatchIndex = i
		txFailed := false
		for _, pred := range a.predicates {
			if !policy.Enabled(pred.Name()) || !pred.Applies(tx) {
				continue
			}
			report.Total++
			err := pred.Check(ctx, tx, env)
			if err == nil {
				report.Passed++
				continue
			}
			var v *Violation
			if !errors.As(err, &v) {
				return AuditReport{}, fmt.Errorf("predicate %s: %w", pred.Name(), err)
			}
			txFailed = true
			report.Failed = append(report.Failed, domain.FailedPredicate{
				ContentHash: tx.ContentHash,
				Predicate:   pred.Name(),
				Reason:      v.Reason,
			})
		}
		if p, ok := tx.Payload.(domain.ArtifactBindPayload); ok && !txFailed {
			env.batchBindings[p.Binding.ArtifactID] = p.Binding
		}
	}
	report.Score = 100
	if report.Total > 0 {
		report.Score = 100 * float64(report.Passed) / float64(report.Total)
	}
	return report, nil
}

type payloadWellFormed struct{}

func (payloadWellFormed) Name() string                   { return PredicatePayloadWellFormed }
func (payloadWellFormed) Applies(domain.Transaction) bool { return true }

func (payloadWellFormed) Check(_ context.Context, tx domain.Transaction, _ *AuditEnv) error {
	if err := tx.Validate(); err != nil {
		return violation("%v", err)
	}
	want, err := crypto.TransactionHash(tx)
	if err != nil {
		return violation("%v", err)
	}
	if want != tx.ContentHash {
		return violation("content hash does not match transaction")
	}
	return nil
}

type bindingIdentifierValid struct{}

func (bindingIdentifierValid) Name() string { return PredicateBindingIdentifierValid }

func (bindingIdentifierValid) Applies(tx domain.Transaction) bool {
	return tx.Kind == domain.TxArtifactBind || tx.Kind == domain.TxEvidenceSubmit
}

func (bindingIdentifierValid) Check(ctx context.Context, tx domain.Transaction, env *AuditEnv) error {
	switch p := tx.Payload.(type) {
	case domain.ArtifactBindPayload:
		if !binding.Verify(p.Binding) {
			return violation("binding identifier does not verify")
		}
		want, err := binding.ArtifactIDFor(p.ContentHash)
		if err != nil || want != p.Binding.ArtifactID {
			return violation("artifact id is not derived from content hash")
		}
		return checkBindingSuccession(ctx, p.Binding, env)
	case domain.EvidenceSubmitPayload:
		want, err := binding.ArtifactIDFor(p.ContentHash)
		if err != nil || want != p.ArtifactID {
			return violation("artifact id is not derived from content hash")
		}
	default:
		return violation("unexpected payload %T", tx.Payload)
	}
	return nil
}

// checkBindingSuccession allows version 1 only for an unbound artifact and
// otherwise requires the direct successor of the latest binding.
func checkBindingSuccession(ctx context.Context, id domain.ArtifactBindingIdentifier, env *AuditEnv) error {
	latest, bound, err := env.latestBinding(ctx, id.ArtifactID)
	if err != nil {
		return err
	}
	switch {
	case !bound && id.Version != 1:
		return violation("version %d of unbound artifact %s", id.Version, id.ArtifactID)
	case bound && id.Version == 1:
		return violation("artifact %s is already bound", id.ArtifactID)
	case bound && (id.Version != latest.Version+1 || id.PreviousHash != latest.ImmutableHash):
		return violation("version %d does not follow bound version %d of %s", id.Version, latest.Version, id.ArtifactID)
	}
	return nil
}

type artifactBound struct{}

func (artifactBound) Name() string { return PredicateArtifactBound }

func (artifactBound) Applies(tx domain.Transaction) bool {
	return tx.Kind == domain.TxEvidenceSubmit || tx.Kind == domain.TxEvidenceValidate
}

func (artifactBound) Check(ctx context.Context, tx domain.Transaction, env *AuditEnv) error {
	artifactID := tx.ArtifactID()
	_, bound, err := env.latestBinding(ctx, artifactID)
	if err != nil {
		return err
	}
	if !bound {
		return violation("artifact %s is not bound", artifactID)
	}
	return nil
}

type submitterAuthorized struct{}

func (submitterAuthorized) Name() string                   { return PredicateSubmitterAuthorized }
func (submitterAuthorized) Applies(domain.Transaction) bool { return true }

func (submitterAuthorized) Check(_ context.Context, tx domain.Transaction, env *AuditEnv) error {
	if tx.Kind == domain.TxCaseCreate {
		if !env.Policy.MayCreateCases(tx.Submitter.Role) {
			return violation("role %q may not create cases", tx.Submitter.Role)
		}
		return nil
	}
	caseNumber := tx.CaseNumber()
	if !tx.Submitter.HasCaseAccess(caseNumber) {
		return violation("submitter %s has no access to case %s", tx.Submitter.UserID, caseNumber)
	}
	return nil
}

type submitterMatchesBinding struct{}

func (submitterMatchesBinding) Name() string { return PredicateSubmitterMatchesBinding }

func (submitterMatchesBinding) Applies(tx domain.Transaction) bool {
	return tx.Kind == domain.TxArtifactBind
}

func (submitterMatchesBinding) Check(_ context.Context, tx domain.Transaction, _ *AuditEnv) error {
	p, ok := tx.Payload.(domain.ArtifactBindPayload)
	if !ok {
		return violation("unexpected payload %T", tx.Payload)
	}
	if binding.RegistrationOf(p.Binding.UserBinding) != tx.Submitter.RegistrationNumber {
		return violation("binding user does not match submitter registration")
	}
	return nil
}

type requiredMetadataPresent struct{}

func (requiredMetadataPresent) Name() string                   { return PredicateRequiredMetadata }
func (requiredMetadataPresent) Applies(domain.Transaction) bool { return true }

func (requiredMetadataPresent) Check(_ context.Context, tx domain.Transaction, env *AuditEnv) error {
	keys := env.Policy.RequiredMetadata[tx.Kind]
	if len(keys) == 0 {
		return nil
	}
	meta := tx.Payload.MetadataValues()
	var missing []string
	for _, k := range keys {
		if strings.TrimSpace(meta[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return violation("missing metadata: %s", strings.Join(missing, ","))
	}
	return nil
}

type timestampNotFuture struct{}

func (timestampNotFuture) Name() string                   { return PredicateTimestampNotFuture }
func (timestampNotFuture) Applies(domain.Transaction) bool { return true }

func (timestampNotFuture) Check(_ context.Context, tx domain.Transaction, env *AuditEnv) error {
	limit := env.Now.Add(env.Policy.MaxClockSkew)
	if tx.CreatedAt.After(limit) {
		return violation("created_at %s is in the future", crypto.FormatTime(tx.CreatedAt))
	}
	return nil
}

type policyPredicate struct {
	engine PolicyEvaluator
}

func (p policyPredicate) Name() string                 { return "policy:" + p.engine.BundleID() }
func (policyPredicate) Applies(domain.Transaction) bool { return true }

func (p policyPredicate) Check(ctx context.Context, tx domain.Transaction, env *AuditEnv) error {
	meta := tx.Payload.MetadataValues()
	if meta == nil {
		meta = map[string]string{}
	}
	input := domain.PolicyInput{
		Transaction: domain.PolicyTransaction{
			Type:        string(tx.Kind),
			ContentHash: tx.ContentHash,
			CreatedAt:   crypto.FormatTime(tx.CreatedAt),
			ArtifactID:  tx.ArtifactID(),
			CaseNumber:  tx.CaseNumber(),
			Metadata:    meta,
			Payload:     tx.Payload,
		},
		Submitter:  tx.Submitter,
		BatchIndex: env.BatchIndex,
		BatchSize:  env.BatchSize,
	}
	eval, err := p.engine.Evaluate(ctx, input)
	if err != nil {
		return err
	}
	if eval.Result.Allow {
		return nil
	}
	codes := make([]string, 0, len(eval.Result.Deny))
	for _, d := range eval.Result.Deny {
		if d.Code != "" {
			codes = append(codes, d.Code)
		}
	}
	if len(codes) == 0 {
		codes = append(codes, "POLICY_DENY")
	}
	return violation("%s", strings.Join(codes, ","))
}
