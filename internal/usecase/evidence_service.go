package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/binding"
	"custodia/internal/infra/crypto"

	"github.com/jonboulle/clockwork"
)

// ArtifactChain is everything the ledger knows about one artifact.
type ArtifactChain struct {
	ArtifactID        string                           `json:"artifact_id"`
	Binding           domain.ArtifactBindingIdentifier `json:"binding"`
	BindingVersions   int                              `json:"binding_versions"`
	ContentHash       string                           `json:"content_hash"`
	CustodyHistory    []domain.CustodyEvent            `json:"custody_history"`
	OwningBlockHeight int64                            `json:"owning_block_height"`
	MerkleProof       domain.InclusionProof            `json:"merkle_proof"`
}

type RegisterArtifactRequest struct {
	Content      []byte
	CaseNumber   string
	Jurisdiction string
	MediaType    string
	Metadata     map[string]string
	Submitter    domain.Identity
}

type RegisterArtifactResult struct {
	Binding    domain.ArtifactBindingIdentifier `json:"binding"`
	BindTx     SubmitResult                     `json:"bind_tx"`
	EvidenceTx SubmitResult                     `json:"evidence_tx"`
}

// EvidenceLedger is the exposed surface over pool, ledger, assembler and
// custody log.
type EvidenceLedger struct {
	Pool      *TxPool
	Ledger    *Ledger
	Assembler *BlockAssembler
	Custody   *CustodyLog
	Blobs     domain.BlobStore
	Clock     clockwork.Clock
	Logger    *slog.Logger
}

func (s *EvidenceLedger) SubmitTransaction(ctx context.Context, tx domain.Transaction) (SubmitResult, error) {
	if s == nil || s.Pool == nil {
		return SubmitResult{}, errors.New("evidence ledger is not configured")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = s.now()
	}
	res, err := s.Pool.Submit(ctx, tx)
	if err == nil && res.Outcome == domain.OutcomeAccepted {
		s.logger().Debug("transaction accepted", "type", tx.Kind, "content_hash", res.ContentHash)
	}
	return res, err
}

// RegisterArtifact stores the content, mints its binding and submits the
// ArtifactBind and EvidenceSubmit transactions, in that order.
func (s *EvidenceLedger) RegisterArtifact(ctx context.Context, req RegisterArtifactRequest) (RegisterArtifactResult, error) {
	if len(req.Content) == 0 {
		return RegisterArtifactResult{}, domain.NewValidationError("content", "is required")
	}
	now := s.now()
	contentHash := crypto.SumHex(req.Content)
	id, err := binding.Mint(binding.MintRequest{
		ContentHash:      contentHash,
		CaseNumber:       req.CaseNumber,
		Jurisdiction:     req.Jurisdiction,
		UserRegistration: req.Submitter.RegistrationNumber,
		BarNumber:        req.Submitter.BarNumber,
		CreatedAt:        now,
	})
	if err != nil {
		return RegisterArtifactResult{}, err
	}
	if s.Blobs != nil {
		stored, err := s.Blobs.Put(ctx, req.Content)
		if err != nil {
			return RegisterArtifactResult{}, fmt.Errorf("store artifact content: %w", err)
		}
		if stored != contentHash {
			return RegisterArtifactResult{}, fmt.Errorf("%w: blob store returned %s for %s", domain.ErrIntegrityViolation, stored, contentHash)
		}
	}

	out := RegisterArtifactResult{Binding: id}
	out.BindTx, err = s.SubmitTransaction(ctx, domain.Transaction{
		Kind: domain.TxArtifactBind,
		Payload: domain.ArtifactBindPayload{
			Binding:      id,
			ContentHash:  contentHash,
			CaseNumber:   req.CaseNumber,
			Jurisdiction: req.Jurisdiction,
			Metadata:     req.Metadata,
		},
		Submitter: req.Submitter,
		CreatedAt: now,
	})
	if err != nil {
		return out, err
	}
	out.EvidenceTx, err = s.SubmitTransaction(ctx, domain.Transaction{
		Kind: domain.TxEvidenceSubmit,
		Payload: domain.EvidenceSubmitPayload{
			ArtifactID:  id.ArtifactID,
			ContentHash: contentHash,
			CaseNumber:  req.CaseNumber,
			MediaType:   req.MediaType,
			SizeBytes:   int64(len(req.Content)),
			Metadata:    req.Metadata,
		},
		Submitter: req.Submitter,
		CreatedAt: now,
	})
	return out, err
}

type CorrectBindingRequest struct {
	ArtifactID   string
	CaseNumber   string
	Jurisdiction string
	Metadata     map[string]string
	Submitter    domain.Identity
}

// CorrectBinding submits the next binding version for a committed artifact.
// The earlier versions stay in the ledger untouched.
func (s *EvidenceLedger) CorrectBinding(ctx context.Context, req CorrectBindingRequest) (domain.ArtifactBindingIdentifier, SubmitResult, error) {
	if !domain.ValidArtifactID(req.ArtifactID) {
		return domain.ArtifactBindingIdentifier{}, SubmitResult{}, domain.NewValidationError("artifact_id", "must match ART-<12 hex>")
	}
	_, prev, _, err := s.latestBinding(ctx, req.ArtifactID)
	if err != nil {
		return domain.ArtifactBindingIdentifier{}, SubmitResult{}, err
	}
	now := s.now()
	next, err := binding.Correct(prev.Binding, binding.CorrectionRequest{
		CaseNumber:       req.CaseNumber,
		Jurisdiction:     req.Jurisdiction,
		UserRegistration: req.Submitter.RegistrationNumber,
		BarNumber:        req.Submitter.BarNumber,
		CreatedAt:        now,
	})
	if err != nil {
		return domain.ArtifactBindingIdentifier{}, SubmitResult{}, err
	}
	res, err := s.SubmitTransaction(ctx, domain.Transaction{
		Kind: domain.TxArtifactBind,
		Payload: domain.ArtifactBindPayload{
			Binding:      next,
			ContentHash:  prev.ContentHash,
			CaseNumber:   req.CaseNumber,
			Jurisdiction: req.Jurisdiction,
			Metadata:     req.Metadata,
		},
		Submitter: req.Submitter,
		CreatedAt: now,
	})
	return next, res, err
}

// GetArtifactChain returns the latest committed binding of artifactID with
// its custody history and the inclusion proof of the binding transaction.
func (s *EvidenceLedger) GetArtifactChain(ctx context.Context, artifactID string) (ArtifactChain, error) {
	if !domain.ValidArtifactID(artifactID) {
		return ArtifactChain{}, domain.NewValidationError("artifact_id", "must match ART-<12 hex>")
	}
	bindTx, bind, versions, err := s.latestBinding(ctx, artifactID)
	if err != nil {
		return ArtifactChain{}, err
	}
	history, err := s.Custody.History(ctx, artifactID)
	if err != nil {
		return ArtifactChain{}, err
	}
	proof, err := s.Ledger.MerkleProofFor(ctx, bindTx.Transaction.ContentHash)
	if err != nil {
		return ArtifactChain{}, err
	}
	return ArtifactChain{
		ArtifactID:        artifactID,
		Binding:           bind.Binding,
		BindingVersions:   versions,
		ContentHash:       bind.ContentHash,
		CustodyHistory:    history,
		OwningBlockHeight: bindTx.Height,
		MerkleProof:       proof,
	}, nil
}

// VerifyArtifactIntegrity reports whether candidateContentHash is the
// content committed for artifactID: the binding verifies, the content hash
// and artifact id agree, and the binding transaction is provably included
// in an intact block.
func (s *EvidenceLedger) VerifyArtifactIntegrity(ctx context.Context, artifactID, candidateContentHash string) (bool, error) {
	if !domain.ValidArtifactID(artifactID) {
		return false, domain.NewValidationError("artifact_id", "must match ART-<12 hex>")
	}
	if !domain.ValidDigest(candidateContentHash) {
		return false, domain.NewValidationError("content_hash", "must be 64 lowercase hex chars")
	}
	bindTx, bind, _, err := s.latestBinding(ctx, artifactID)
	if err != nil {
		return false, err
	}
	if bind.ContentHash != candidateContentHash {
		return false, nil
	}
	if want, err := binding.ArtifactIDFor(candidateContentHash); err != nil || want != artifactID {
		return false, nil
	}
	if !binding.Verify(bind.Binding) {
		return false, nil
	}
	block, err := s.Ledger.GetBlock(ctx, bindTx.Height)
	if err != nil {
		return false, err
	}
	if verifyBlockContents(block) != nil {
		return false, nil
	}
	proof, err := crypto.InclusionProof(block, bindTx.Index)
	if err != nil {
		return false, err
	}
	if proof.MerkleRoot != block.MerkleRoot || !crypto.VerifyInclusion(proof) {
		return false, nil
	}
	return true, nil
}

func (s *EvidenceLedger) ValidateLedger(ctx context.Context) (domain.ChainValidation, error) {
	return s.Ledger.ValidateChain(ctx)
}

func (s *EvidenceLedger) GetBlock(ctx context.Context, height int64) (domain.Block, error) {
	return s.Ledger.GetBlock(ctx, height)
}

func (s *EvidenceLedger) GetBlockByHash(ctx context.Context, blockHash string) (domain.Block, error) {
	return s.Ledger.GetBlockByHash(ctx, blockHash)
}

func (s *EvidenceLedger) ProofFor(ctx context.Context, contentHash string) (domain.InclusionProof, error) {
	return s.Ledger.MerkleProofFor(ctx, contentHash)
}

func (s *EvidenceLedger) RecordCustody(ctx context.Context, req RecordRequest) (domain.CustodyEvent, domain.Outcome, error) {
	return s.Custody.Record(ctx, req)
}

func (s *EvidenceLedger) VerifyCustody(ctx context.Context, artifactID string) (CustodyVerification, error) {
	return s.Custody.Verify(ctx, artifactID)
}

// RunAssembly forces one assembly cycle.
func (s *EvidenceLedger) RunAssembly(ctx context.Context) (CycleResult, error) {
	return s.Assembler.RunOnce(ctx, true)
}

func (s *EvidenceLedger) latestBinding(ctx context.Context, artifactID string) (CommittedTx, domain.ArtifactBindPayload, int, error) {
	txs, err := s.Ledger.ArtifactTransactions(ctx, artifactID)
	if err != nil {
		return CommittedTx{}, domain.ArtifactBindPayload{}, 0, err
	}
	latest, payload, versions := resolveBinding(txs)
	if versions == 0 {
		return CommittedTx{}, domain.ArtifactBindPayload{}, 0, fmt.Errorf("%w: no committed binding for %s", domain.ErrNotFound, artifactID)
	}
	return latest, payload, versions, nil
}

func (s *EvidenceLedger) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now().UTC()
}

func (s *EvidenceLedger) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
