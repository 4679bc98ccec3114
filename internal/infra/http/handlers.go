package http

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/crypto"
	"custodia/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type submitTransactionRequest struct {
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	CreatedAt   string          `json:"created_at,omitempty"`
	ContentHash string          `json:"content_hash,omitempty"`
}

type registerArtifactRequest struct {
	ContentBase64 string            `json:"content_base64"`
	CaseNumber    string            `json:"case_number"`
	Jurisdiction  string            `json:"jurisdiction"`
	MediaType     string            `json:"media_type,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type correctBindingRequest struct {
	CaseNumber   string            `json:"case_number"`
	Jurisdiction string            `json:"jurisdiction"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type correctBindingResponse struct {
	Binding     domain.ArtifactBindingIdentifier `json:"binding"`
	Outcome     domain.Outcome                   `json:"outcome"`
	ContentHash string                           `json:"content_hash"`
}

type verifyArtifactRequest struct {
	ContentHash   string `json:"content_hash,omitempty"`
	ContentBase64 string `json:"content_base64,omitempty"`
}

type verifyArtifactResponse struct {
	ArtifactID  string `json:"artifact_id"`
	ContentHash string `json:"content_hash"`
	Intact      bool   `json:"intact"`
}

type recordCustodyRequest struct {
	EventType    string `json:"event_type"`
	Note         string `json:"note,omitempty"`
	AnchorTxHash string `json:"anchor_tx_hash,omitempty"`
}

type recordCustodyResponse struct {
	Outcome domain.Outcome  `json:"outcome"`
	Event   custodyResponse `json:"event"`
}

type transactionResponse struct {
	Type        domain.TxKind   `json:"type"`
	ContentHash string          `json:"content_hash"`
	CreatedAt   string          `json:"created_at"`
	Submitter   domain.Identity `json:"submitter"`
	Payload     json.RawMessage `json:"payload"`
}

type blockResponse struct {
	Height       int64                 `json:"height"`
	PreviousHash string                `json:"previous_hash"`
	MerkleRoot   string                `json:"merkle_root"`
	AuditScore   float64               `json:"audit_score"`
	Nonce        uint64                `json:"nonce"`
	Timestamp    string                `json:"timestamp"`
	BlockHash    string                `json:"block_hash"`
	Transactions []transactionResponse `json:"transactions"`
}

type custodyResponse struct {
	ID           string          `json:"id"`
	ArtifactID   string          `json:"artifact_id"`
	EventType    string          `json:"event_type"`
	Actor        domain.Identity `json:"actor"`
	Timestamp    string          `json:"timestamp"`
	Note         string          `json:"note,omitempty"`
	AnchorTxHash string          `json:"anchor_tx_hash"`
	Height       int64           `json:"height"`
	Index        int             `json:"index"`
	Seq          int             `json:"seq"`
}

type chainResponse struct {
	ArtifactID        string                           `json:"artifact_id"`
	Binding           domain.ArtifactBindingIdentifier `json:"binding"`
	BindingVersions   int                              `json:"binding_versions"`
	ContentHash       string                           `json:"content_hash"`
	CustodyHistory    []custodyResponse                `json:"custody_history"`
	OwningBlockHeight int64                            `json:"owning_block_height"`
	MerkleProof       domain.InclusionProof            `json:"merkle_proof"`
}

type assemblyResponse struct {
	State     usecase.AssemblerState   `json:"state"`
	BatchSize int                      `json:"batch_size"`
	Score     float64                  `json:"score"`
	Passed    int                      `json:"passed"`
	Total     int                      `json:"total"`
	Failed    []domain.FailedPredicate `json:"failed,omitempty"`
	Height    *int64                   `json:"height,omitempty"`
	BlockHash string                   `json:"block_hash,omitempty"`
	Evicted   []string                 `json:"evicted,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	out := gin.H{"status": "ok", "mode": s.storeMode}
	if s.ledger != nil && s.ledger.Ledger != nil {
		if head, err := s.ledger.Ledger.Head(c.Request.Context()); err == nil {
			out["height"] = head.Height
		}
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleSubmitTransaction(c *gin.Context) {
	id, ok := s.authenticate(c)
	if !ok || !s.enforceRateLimit(c, routeTransactionsSubmit, id) {
		return
	}
	var req submitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	tx, err := decodeTransaction(req, id)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := s.ledger.SubmitTransaction(c.Request.Context(), tx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(submitStatus(res.Outcome), res)
}

func decodeTransaction(req submitTransactionRequest, submitter domain.Identity) (domain.Transaction, error) {
	kind := domain.TxKind(req.Type)
	if !kind.Valid() {
		return domain.Transaction{}, domain.NewValidationError("type", "unknown transaction type")
	}
	if len(bytes.TrimSpace(req.Payload)) == 0 {
		return domain.Transaction{}, domain.NewValidationError("payload", "is required")
	}
	payload, err := domain.DecodePayload(kind, func(target any) error {
		dec := json.NewDecoder(bytes.NewReader(req.Payload))
		dec.DisallowUnknownFields()
		return dec.Decode(target)
	})
	if err != nil {
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, domain.NewValidationError("payload", err.Error())
	}
	tx := domain.Transaction{
		Kind:        kind,
		Payload:     payload,
		Submitter:   submitter,
		ContentHash: strings.ToLower(strings.TrimSpace(req.ContentHash)),
	}
	if req.CreatedAt != "" {
		at, err := time.Parse(time.RFC3339Nano, req.CreatedAt)
		if err != nil {
			return domain.Transaction{}, domain.NewValidationError("created_at", "must be RFC3339")
		}
		tx.CreatedAt = at
	}
	return tx, nil
}

func (s *Server) handleRegisterArtifact(c *gin.Context) {
	id, ok := s.authenticate(c)
	if !ok || !s.enforceRateLimit(c, routeArtifactsRegister, id) {
		return
	}
	var req registerArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_CONTENT_ENCODING", "content_base64 is not valid base64")
		return
	}
	res, err := s.ledger.RegisterArtifact(c.Request.Context(), usecase.RegisterArtifactRequest{
		Content:      content,
		CaseNumber:   req.CaseNumber,
		Jurisdiction: req.Jurisdiction,
		MediaType:    req.MediaType,
		Metadata:     req.Metadata,
		Submitter:    id,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(submitStatus(res.EvidenceTx.Outcome), res)
}

func (s *Server) handleCorrectBinding(c *gin.Context) {
	id, ok := s.authenticate(c)
	if !ok || !s.enforceRateLimit(c, routeArtifactsCorrect, id) {
		return
	}
	var req correctBindingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	next, res, err := s.ledger.CorrectBinding(c.Request.Context(), usecase.CorrectBindingRequest{
		ArtifactID:   c.Param("artifact_id"),
		CaseNumber:   req.CaseNumber,
		Jurisdiction: req.Jurisdiction,
		Metadata:     req.Metadata,
		Submitter:    id,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(submitStatus(res.Outcome), correctBindingResponse{
		Binding:     next,
		Outcome:     res.Outcome,
		ContentHash: res.ContentHash,
	})
}

func (s *Server) handleArtifactChain(c *gin.Context) {
	if _, ok := s.authenticate(c); !ok {
		return
	}
	chain, err := s.ledger.GetArtifactChain(c.Request.Context(), c.Param("artifact_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	history := make([]custodyResponse, 0, len(chain.CustodyHistory))
	for _, ev := range chain.CustodyHistory {
		history = append(history, buildCustodyResponse(ev))
	}
	c.JSON(http.StatusOK, chainResponse{
		ArtifactID:        chain.ArtifactID,
		Binding:           chain.Binding,
		BindingVersions:   chain.BindingVersions,
		ContentHash:       chain.ContentHash,
		CustodyHistory:    history,
		OwningBlockHeight: chain.OwningBlockHeight,
		MerkleProof:       chain.MerkleProof,
	})
}

func (s *Server) handleVerifyArtifact(c *gin.Context) {
	if _, ok := s.authenticate(c); !ok {
		return
	}
	var req verifyArtifactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	candidate := strings.ToLower(strings.TrimSpace(req.ContentHash))
	if req.ContentBase64 != "" {
		content, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_CONTENT_ENCODING", "content_base64 is not valid base64")
			return
		}
		computed := crypto.SumHex(content)
		if candidate != "" && candidate != computed {
			writeError(c, domain.NewValidationError("content_hash", "does not match content_base64"))
			return
		}
		candidate = computed
	}
	artifactID := c.Param("artifact_id")
	intact, err := s.ledger.VerifyArtifactIntegrity(c.Request.Context(), artifactID, candidate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyArtifactResponse{ArtifactID: artifactID, ContentHash: candidate, Intact: intact})
}

func (s *Server) handleRecordCustody(c *gin.Context) {
	id, ok := s.authenticate(c)
	if !ok || !s.enforceRateLimit(c, routeCustodyRecord, id) {
		return
	}
	var req recordCustodyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	ev, outcome, err := s.ledger.RecordCustody(c.Request.Context(), usecase.RecordRequest{
		ArtifactID:   c.Param("artifact_id"),
		EventType:    domain.CustodyEventType(req.EventType),
		Actor:        id,
		Note:         req.Note,
		AnchorTxHash: strings.ToLower(strings.TrimSpace(req.AnchorTxHash)),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if outcome == domain.OutcomeAccepted {
		status = http.StatusCreated
	}
	c.JSON(status, recordCustodyResponse{Outcome: outcome, Event: buildCustodyResponse(ev)})
}

func (s *Server) handleVerifyCustody(c *gin.Context) {
	if _, ok := s.authenticate(c); !ok {
		return
	}
	out, err := s.ledger.VerifyCustody(c.Request.Context(), c.Param("artifact_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// handleGetBlock accepts either a height or a 64 hex block hash.
func (s *Server) handleGetBlock(c *gin.Context) {
	if _, ok := s.authenticate(c); !ok {
		return
	}
	ref := c.Param("ref")
	var (
		block domain.Block
		err   error
	)
	if len(ref) == 64 {
		block, err = s.ledger.GetBlockByHash(c.Request.Context(), strings.ToLower(ref))
	} else {
		height, perr := strconv.ParseInt(ref, 10, 64)
		if perr != nil || height < 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_HEIGHT", "height must be a non-negative integer or a block hash")
			return
		}
		block, err = s.ledger.GetBlock(c.Request.Context(), height)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	out, err := buildBlockResponse(block)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleProof(c *gin.Context) {
	if _, ok := s.authenticate(c); !ok {
		return
	}
	hash := strings.ToLower(c.Param("content_hash"))
	if !domain.ValidDigest(hash) {
		writeError(c, domain.NewValidationError("content_hash", "must be 64 lowercase hex chars"))
		return
	}
	proof, err := s.ledger.ProofFor(c.Request.Context(), hash)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proof)
}

func (s *Server) handleValidateLedger(c *gin.Context) {
	if _, ok := s.authenticate(c); !ok {
		return
	}
	out, err := s.ledger.ValidateLedger(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRunAssembly(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	res, err := s.ledger.RunAssembly(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := assemblyResponse{
		State:     res.State,
		BatchSize: res.BatchSize,
		Score:     res.Report.Score,
		Passed:    res.Report.Passed,
		Total:     res.Report.Total,
		Failed:    res.Report.Failed,
	}
	if res.Block != nil {
		out.Height = &res.Block.Height
		out.BlockHash = res.Block.BlockHash
	}
	if res.Rejection != nil {
		out.Evicted = res.Rejection.Evicted
	}
	c.JSON(http.StatusOK, out)
}

// handleNoRoute serves paths with a colon verb, which the router cannot
// express as a static segment.
func (s *Server) handleNoRoute(c *gin.Context) {
	if c.Request.Method == http.MethodPost && c.Request.URL.Path == "/v1/assembly:run" {
		s.handleRunAssembly(c)
		return
	}
	writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "route not found")
}

func submitStatus(outcome domain.Outcome) int {
	if outcome == domain.OutcomeAccepted {
		return http.StatusAccepted
	}
	return http.StatusOK
}

func buildBlockResponse(b domain.Block) (blockResponse, error) {
	txs := make([]transactionResponse, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		payload, err := json.Marshal(tx.Payload)
		if err != nil {
			return blockResponse{}, fmt.Errorf("encode payload of %s: %w", tx.ContentHash, err)
		}
		txs = append(txs, transactionResponse{
			Type:        tx.Kind,
			ContentHash: tx.ContentHash,
			CreatedAt:   crypto.FormatTime(tx.CreatedAt),
			Submitter:   tx.Submitter,
			Payload:     payload,
		})
	}
	return blockResponse{
		Height:       b.Height,
		PreviousHash: b.PreviousHash,
		MerkleRoot:   b.MerkleRoot,
		AuditScore:   b.AuditScore,
		Nonce:        b.Nonce,
		Timestamp:    crypto.FormatTime(b.Timestamp),
		BlockHash:    b.BlockHash,
		Transactions: txs,
	}, nil
}

func buildCustodyResponse(ev domain.CustodyEvent) custodyResponse {
	return custodyResponse{
		ID:           ev.ID,
		ArtifactID:   ev.ArtifactID,
		EventType:    string(ev.EventType),
		Actor:        ev.Actor,
		Timestamp:    crypto.FormatTime(ev.Timestamp),
		Note:         ev.Note,
		AnchorTxHash: ev.AnchorTxHash,
		Height:       ev.Height,
		Index:        ev.Index,
		Seq:          ev.Seq,
	}
}

func writeError(c *gin.Context, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, errorResponse{
			Code:    "VALIDATION_FAILED",
			Message: verr.Error(),
			Details: map[string]any{"field": verr.Field, "reason": verr.Reason},
		})
		return
	}
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrValidation):
		status, code = http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrDuplicateTransaction):
		status, code = http.StatusConflict, "DUPLICATE_TRANSACTION"
	case errors.Is(err, domain.ErrAnchorNotCommitted):
		status, code = http.StatusConflict, "ANCHOR_NOT_COMMITTED"
	case errors.Is(err, domain.ErrForkRejected):
		status, code = http.StatusConflict, "FORK_REJECTED"
	case errors.Is(err, domain.ErrConsensusRejected):
		status, code = http.StatusConflict, "CONSENSUS_REJECTED"
	case errors.Is(err, domain.ErrPoolFull):
		status, code = http.StatusServiceUnavailable, "POOL_FULL"
	case errors.Is(err, domain.ErrIntegrityViolation):
		status, code = http.StatusInternalServerError, "INTEGRITY_VIOLATION"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	case errors.Is(err, domain.ErrForbidden):
		status, code = http.StatusForbidden, "FORBIDDEN"
	}
	message := err.Error()
	if status == http.StatusInternalServerError && code == "INTERNAL" {
		message = "internal error"
	}
	writeErrorCode(c, status, code, message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
