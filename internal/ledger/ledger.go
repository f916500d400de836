// Package ledger stores the per-account Merkle ledgers of messages.
//
// Every account has one Tree and an ordered run of Messages. The tree's
// MerkleRoot always equals the root over its committed message hashes, and a
// tree with no messages carries EmptyRoot. Appends are compare-and-swap on the
// stored root: a writer states the root and leaf count it built on, and the
// store rejects the write with ErrRootInconsistent if either has moved.
//
// Three implementations of the Store interface are provided:
//   - MemoryStore: in-process, for testing and development.
//   - PostgresStore: durable, for production use.
//   - SQLiteStore: durable, single-node deployments.
package ledger

import (
	"context"
	"errors"
)

var (
	// ErrTreeNotFound is returned when no tree exists for an account hash.
	ErrTreeNotFound = errors.New("tree not found")

	// ErrTreeExists is returned when creating a tree for an account that already has one.
	ErrTreeExists = errors.New("tree already exists")

	// ErrRootInconsistent is returned when the stored root or leaf count no
	// longer matches the view an append was computed from.
	ErrRootInconsistent = errors.New("merkle root inconsistent with stored tree")
)

// Store is the persistence interface for account ledgers.
type Store interface {
	// CreateTree inserts a new tree. tree.MerkleRoot should be EmptyRoot.
	CreateTree(ctx context.Context, tree *Tree) error

	// GetTree returns the tree for accountHash.
	GetTree(ctx context.Context, accountHash string) (*Tree, error)

	// Snapshot returns the tree and all of its messages from a single
	// consistent read.
	Snapshot(ctx context.Context, accountHash string) (*Snapshot, error)

	// ListMessages returns the messages of accountHash in index order.
	ListMessages(ctx context.Context, accountHash string) ([]*Message, error)

	// Append commits msg as leaf msg.MerkleIdx and sets the tree root to
	// newRoot, provided the stored root is still expectedRoot and the stored
	// leaf count is still msg.MerkleIdx.
	Append(ctx context.Context, msg *Message, expectedRoot, newRoot string) error
}
