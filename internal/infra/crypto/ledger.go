package crypto

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"custodia/internal/domain"
	"custodia/internal/infra/merkle"
)

// TransactionHash commits to type, payload, submitter and creation time.
func TransactionHash(tx domain.Transaction) (string, error) {
	payload, err := EncodePayload(tx.Payload)
	if err != nil {
		return "", err
	}
	submitter, err := EncodeIdentity(tx.Submitter)
	if err != nil {
		return "", fmt.Errorf("encode submitter: %w", err)
	}
	return HashFields(
		[]byte(tx.Kind),
		payload,
		submitter,
		[]byte(FormatTime(tx.CreatedAt)),
	), nil
}

// SealTransaction normalizes CreatedAt and fills ContentHash.
func SealTransaction(tx domain.Transaction) (domain.Transaction, error) {
	tx.CreatedAt = domain.NormalizeTime(tx.CreatedAt)
	tx.Submitter = tx.Submitter.Clone()
	hash, err := TransactionHash(tx)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx.ContentHash = hash
	return tx, nil
}

// BlockHash covers the header only. The transactions are covered through
// MerkleRoot.
func BlockHash(b domain.Block) string {
	return HashStrings(
		strconv.FormatInt(b.Height, 10),
		b.PreviousHash,
		b.MerkleRoot,
		FormatScore(b.AuditScore),
		strconv.FormatUint(b.Nonce, 10),
		FormatTime(b.Timestamp),
	)
}

// MerkleRoot of an empty list is ZeroHash.
func MerkleRoot(contentHashes []string) (string, error) {
	if len(contentHashes) == 0 {
		return domain.ZeroHash, nil
	}
	leaves, err := decodeLeaves(contentHashes)
	if err != nil {
		return "", err
	}
	root, err := merkle.Root(leaves)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(root), nil
}

// SealBlock fills MerkleRoot and BlockHash from the other fields.
func SealBlock(b domain.Block) (domain.Block, error) {
	b.Timestamp = domain.NormalizeTime(b.Timestamp)
	root, err := MerkleRoot(b.TransactionHashes())
	if err != nil {
		return domain.Block{}, err
	}
	b.MerkleRoot = root
	b.BlockHash = BlockHash(b)
	return b, nil
}

func Genesis(at time.Time) domain.Block {
	b := domain.Block{
		Height:       0,
		PreviousHash: domain.ZeroHash,
		MerkleRoot:   domain.ZeroHash,
		AuditScore:   100,
		Nonce:        0,
		Timestamp:    domain.NormalizeTime(at),
	}
	b.BlockHash = BlockHash(b)
	return b
}

func InclusionProof(b domain.Block, index int) (domain.InclusionProof, error) {
	if index < 0 || index >= len(b.Transactions) {
		return domain.InclusionProof{}, domain.ErrNotFound
	}
	leaves, err := decodeLeaves(b.TransactionHashes())
	if err != nil {
		return domain.InclusionProof{}, err
	}
	steps, err := merkle.Proof(leaves, index)
	if err != nil {
		return domain.InclusionProof{}, err
	}
	path := make([]domain.ProofStep, 0, len(steps))
	for _, s := range steps {
		side := domain.SideRight
		if s.Side == merkle.Left {
			side = domain.SideLeft
		}
		path = append(path, domain.ProofStep{Sibling: hex.EncodeToString(s.Sibling), Side: side})
	}
	return domain.InclusionProof{
		ContentHash: b.Transactions[index].ContentHash,
		Height:      b.Height,
		Index:       index,
		BlockHash:   b.BlockHash,
		MerkleRoot:  b.MerkleRoot,
		Path:        path,
	}, nil
}

// VerifyInclusion checks the proof against its own MerkleRoot. Callers that
// distrust the proof's root compare it with the committed block first.
func VerifyInclusion(p domain.InclusionProof) bool {
	leaf, err := DecodeDigest(p.ContentHash)
	if err != nil {
		return false
	}
	root, err := DecodeDigest(p.MerkleRoot)
	if err != nil {
		return false
	}
	steps := make([]merkle.Step, 0, len(p.Path))
	for _, s := range p.Path {
		sib, err := DecodeDigest(s.Sibling)
		if err != nil {
			return false
		}
		var side merkle.Side
		switch s.Side {
		case domain.SideLeft:
			side = merkle.Left
		case domain.SideRight:
			side = merkle.Right
		default:
			return false
		}
		steps = append(steps, merkle.Step{Sibling: sib, Side: side})
	}
	return merkle.VerifyProof(leaf, steps, root)
}

func decodeLeaves(hashes []string) ([][]byte, error) {
	leaves := make([][]byte, len(hashes))
	for i, h := range hashes {
		raw, err := DecodeDigest(h)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = raw
	}
	return leaves, nil
}
