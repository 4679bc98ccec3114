package merkle

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

const HashSize = 32

var (
	ErrEmptyTree      = errors.New("empty merkle tree")
	ErrInvalidHashLen = errors.New("invalid hash length")
	ErrInvalidIndex   = errors.New("invalid leaf index")
	ErrInvalidSide    = errors.New("invalid proof side")
)

// Side says where the sibling sits relative to the running hash.
type Side uint8

const (
	Left Side = iota + 1
	Right
)

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

type Step struct {
	Sibling []byte
	Side    Side
}

func NodeHash(left, right []byte) []byte {
	hasher := sha256.New()
	hasher.Write(left)
	hasher.Write(right)
	return hasher.Sum(nil)
}

// Root folds the leaves pairwise, level by level. A level with an odd number
// of nodes pairs its last node with itself.
func Root(leaves [][]byte) ([]byte, error) {
	level, err := cloneAndValidateLeaves(leaves)
	if err != nil {
		return nil, err
	}
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// Proof returns the sibling path for leafIndex ordered from the leaf up.
func Proof(leaves [][]byte, leafIndex int) ([]Step, error) {
	level, err := cloneAndValidateLeaves(leaves)
	if err != nil {
		return nil, err
	}
	if leafIndex < 0 || leafIndex >= len(level) {
		return nil, ErrInvalidIndex
	}

	path := make([]Step, 0)
	idx := leafIndex
	for len(level) > 1 {
		var step Step
		if idx%2 == 0 {
			sibling := idx + 1
			if sibling >= len(level) {
				sibling = idx
			}
			step = Step{Sibling: cloneHash(level[sibling]), Side: Right}
		} else {
			step = Step{Sibling: cloneHash(level[idx-1]), Side: Left}
		}
		path = append(path, step)
		level = nextLevel(level)
		idx /= 2
	}
	return path, nil
}

// RootFromProof recomputes the root implied by leaf and proof.
func RootFromProof(leaf []byte, proof []Step) ([]byte, error) {
	if err := validateHash(leaf); err != nil {
		return nil, err
	}
	hash := cloneHash(leaf)
	for i, step := range proof {
		if err := validateHash(step.Sibling); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		switch step.Side {
		case Left:
			hash = NodeHash(step.Sibling, hash)
		case Right:
			hash = NodeHash(hash, step.Sibling)
		default:
			return nil, fmt.Errorf("step %d: %w", i, ErrInvalidSide)
		}
	}
	return hash, nil
}

func VerifyProof(leaf []byte, proof []Step, expectedRoot []byte) bool {
	if validateHash(expectedRoot) != nil {
		return false
	}
	root, err := RootFromProof(leaf, proof)
	if err != nil {
		return false
	}
	return bytes.Equal(root, expectedRoot)
}

func nextLevel(level [][]byte) [][]byte {
	next := make([][]byte, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		left := level[i]
		right := left
		if i+1 < len(level) {
			right = level[i+1]
		}
		next = append(next, NodeHash(left, right))
	}
	return next
}

func cloneAndValidateLeaves(leaves [][]byte) ([][]byte, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyTree
	}
	out := make([][]byte, len(leaves))
	for i, leaf := range leaves {
		if err := validateHash(leaf); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		out[i] = cloneHash(leaf)
	}
	return out, nil
}

func validateHash(hash []byte) error {
	if len(hash) != HashSize {
		return ErrInvalidHashLen
	}
	return nil
}

func cloneHash(hash []byte) []byte {
	if hash == nil {
		return nil
	}
	out := make([]byte, len(hash))
	copy(out, hash)
	return out
}
