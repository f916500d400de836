package ledger

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory, thread-safe Store implementation.
// It is primarily useful for testing and for single-process deployments
// that do not require durable persistence across restarts.
type MemoryStore struct {
	mu    sync.RWMutex
	trees map[string]*memoryTree
}

type memoryTree struct {
	tree     Tree
	messages []Message
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{trees: make(map[string]*memoryTree)}
}

// CreateTree implements Store.
func (s *MemoryStore) CreateTree(_ context.Context, tree *Tree) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.trees[tree.AccountHash]; ok {
		return ErrTreeExists
	}
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = time.Now().UTC()
	}
	s.trees[tree.AccountHash] = &memoryTree{tree: *tree}
	return nil
}

// GetTree implements Store.
func (s *MemoryStore) GetTree(_ context.Context, accountHash string) (*Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[accountHash]
	if !ok {
		return nil, ErrTreeNotFound
	}
	cp := t.tree
	return &cp, nil
}

// Snapshot implements Store.
func (s *MemoryStore) Snapshot(_ context.Context, accountHash string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[accountHash]
	if !ok {
		return nil, ErrTreeNotFound
	}
	tree := t.tree
	return &Snapshot{Tree: &tree, Messages: copyMessages(t.messages)}, nil
}

// ListMessages implements Store.
func (s *MemoryStore) ListMessages(_ context.Context, accountHash string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trees[accountHash]
	if !ok {
		return nil, ErrTreeNotFound
	}
	return copyMessages(t.messages), nil
}

// Append implements Store.
func (s *MemoryStore) Append(_ context.Context, msg *Message, expectedRoot, newRoot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trees[msg.ParentAccountHash]
	if !ok {
		return ErrTreeNotFound
	}
	if t.tree.MerkleRoot != expectedRoot || t.tree.LeafCount != msg.MerkleIdx {
		return ErrRootInconsistent
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	t.messages = append(t.messages, *msg)
	t.tree.MerkleRoot = newRoot
	t.tree.LeafCount++
	return nil
}

func copyMessages(in []Message) []*Message {
	out := make([]*Message, len(in))
	for i := range in {
		cp := in[i]
		out[i] = &cp
	}
	return out
}
