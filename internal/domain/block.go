package domain

import "time"

// ZeroHash is the previous hash of the genesis block and the merkle root of
// an empty block.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

type Block struct {
	Height       int64
	PreviousHash string
	MerkleRoot   string
	Transactions []Transaction
	AuditScore   float64
	Nonce        uint64
	Timestamp    time.Time
	BlockHash    string
}

func (b Block) IsGenesis() bool {
	return b.Height == 0
}

func (b Block) TransactionHashes() []string {
	out := make([]string, 0, len(b.Transactions))
	for _, tx := range b.Transactions {
		out = append(out, tx.ContentHash)
	}
	return out
}

// Clone copies the transaction slice so callers cannot reach stored state.
func (b Block) Clone() Block {
	out := b
	if b.Transactions != nil {
		out.Transactions = make([]Transaction, len(b.Transactions))
		copy(out.Transactions, b.Transactions)
	}
	return out
}

type ProofSide string

const (
	SideLeft  ProofSide = "left"
	SideRight ProofSide = "right"
)

type ProofStep struct {
	Sibling string    `json:"sibling"`
	Side    ProofSide `json:"side"`
}

// InclusionProof is the audit path from a transaction to its block's
// merkle root.
type InclusionProof struct {
	ContentHash string      `json:"content_hash"`
	Height      int64       `json:"height"`
	Index       int         `json:"index"`
	BlockHash   string      `json:"block_hash"`
	MerkleRoot  string      `json:"merkle_root"`
	Path        []ProofStep `json:"path"`
}

type ChainValidation struct {
	Valid              bool   `json:"valid"`
	FirstInvalidHeight *int64 `json:"first_invalid_height,omitempty"`
	Reason             string `json:"reason,omitempty"`
	Height             int64  `json:"height"`
}
