package ledger

import (
	"fmt"
	"time"

	"github.com/jmerrifield20/mutualboard/internal/merkle"
)

// EmptyRoot is the root recorded for a tree with no messages.
const EmptyRoot = "0000000000000000000000000000000000000000000000000000000000000000"

// Tree is the ledger header for one account.
type Tree struct {
	AccountHash string    `json:"account_hash"`
	AccountID   string    `json:"account_id"`
	MerkleRoot  string    `json:"merkle_root"`
	LeafCount   int       `json:"leaf_count"`
	ProofFileID string    `json:"proof_file_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Message is one committed leaf. The body itself is never stored.
type Message struct {
	Hash              string    `json:"hash"`
	ParentAccountHash string    `json:"parent_account_hash"`
	OrnamentID        int       `json:"ornament_id"`
	Nickname          string    `json:"nickname"`
	MerkleIdx         int       `json:"merkle_idx"`
	MerkleProof       string    `json:"merkle_proof"`
	ProofFileID       string    `json:"proof_file_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// Snapshot is a tree together with its messages in index order.
type Snapshot struct {
	Tree     *Tree
	Messages []*Message
}

// Leaves decodes the message hashes into leaf digests.
func (s *Snapshot) Leaves() ([]merkle.Digest, error) {
	leaves := make([]merkle.Digest, len(s.Messages))
	for i, m := range s.Messages {
		d, err := merkle.DigestFromHex(m.Hash)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", m.MerkleIdx, err)
		}
		leaves[i] = d
	}
	return leaves, nil
}

// RootOf returns the hex root over leaves, or EmptyRoot when there are none.
func RootOf(leaves []merkle.Digest) string {
	root, err := merkle.Root(leaves)
	if err != nil {
		return EmptyRoot
	}
	return root.Hex()
}

// Verify replays the snapshot and checks that indices are dense, that the
// stored root matches the replayed root, and that every stored proof verifies
// against the root of the tree as it was when that message was inserted.
// Cost is quadratic in the number of messages.
func (s *Snapshot) Verify() error {
	leaves, err := s.Leaves()
	if err != nil {
		return err
	}
	if s.Tree.LeafCount != len(leaves) {
		return fmt.Errorf("tree records %d leaves, found %d messages", s.Tree.LeafCount, len(leaves))
	}
	for i, m := range s.Messages {
		if m.MerkleIdx != i {
			return fmt.Errorf("message at position %d has index %d", i, m.MerkleIdx)
		}
		root, err := merkle.Root(leaves[:i+1])
		if err != nil {
			return err
		}
		proof, err := merkle.DecodeProofHex(m.MerkleProof)
		if err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
		if !merkle.Verify(root, i, leaves[i], proof, i+1) {
			return fmt.Errorf("message %d has an invalid inclusion proof", i)
		}
	}
	if got := RootOf(leaves); got != s.Tree.MerkleRoot {
		return fmt.Errorf("stored root %s does not match replayed root %s", s.Tree.MerkleRoot, got)
	}
	return nil
}
