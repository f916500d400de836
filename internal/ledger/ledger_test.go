package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jmerrifield20/mutualboard/internal/ledger"
	"github.com/jmerrifield20/mutualboard/internal/ledger/migrations"
	"github.com/jmerrifield20/mutualboard/internal/merkle"
	"go.uber.org/zap"
)

var ctx = context.Background()

const account = "2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90"

func newSQLiteStore(t *testing.T) ledger.Store {
	t.Helper()
	db, err := ledger.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := migrations.SQLiteUp(db); err != nil {
		t.Fatal(err)
	}
	return ledger.NewSQLiteStore(db, zap.NewNop())
}

func stores(t *testing.T) map[string]func(t *testing.T) ledger.Store {
	return map[string]func(t *testing.T) ledger.Store{
		"memory": func(*testing.T) ledger.Store { return ledger.NewMemoryStore() },
		"sqlite": newSQLiteStore,
	}
}

func newTree(t *testing.T, s ledger.Store) {
	t.Helper()
	err := s.CreateTree(ctx, &ledger.Tree{
		AccountHash: account,
		AccountID:   "1234",
		MerkleRoot:  ledger.EmptyRoot,
		ProofFileID: "file-0",
	})
	if err != nil {
		t.Fatal(err)
	}
}

// appendBody computes the next message the way the service does and commits it.
func appendBody(t *testing.T, s ledger.Store, body string) (*ledger.Message, error) {
	t.Helper()
	snap, err := s.Snapshot(ctx, account)
	if err != nil {
		t.Fatal(err)
	}
	leaves, err := snap.Leaves()
	if err != nil {
		t.Fatal(err)
	}
	leaf := merkle.HashContent([]byte(body))
	root, proof, idx, err := merkle.AppendAndProve(leaves, leaf)
	if err != nil {
		t.Fatal(err)
	}
	msg := &ledger.Message{
		Hash:              leaf.Hex(),
		ParentAccountHash: account,
		OrnamentID:        1,
		Nickname:          "nick",
		MerkleIdx:         idx,
		MerkleProof:       proof.Hex(),
		ProofFileID:       fmt.Sprintf("file-%d", idx+1),
	}
	return msg, s.Append(ctx, msg, snap.Tree.MerkleRoot, root.Hex())
}

func TestStore_createAndGet(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			newTree(t, s)

			tree, err := s.GetTree(ctx, account)
			if err != nil {
				t.Fatal(err)
			}
			if tree.MerkleRoot != ledger.EmptyRoot || tree.LeafCount != 0 || tree.AccountID != "1234" {
				t.Errorf("unexpected tree: %+v", tree)
			}
			if tree.CreatedAt.IsZero() {
				t.Error("CreatedAt not set")
			}

			msgs, err := s.ListMessages(ctx, account)
			if err != nil {
				t.Fatal(err)
			}
			if len(msgs) != 0 {
				t.Errorf("expected no messages, got %d", len(msgs))
			}
		})
	}
}

func TestStore_duplicateTree(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			newTree(t, s)
			err := s.CreateTree(ctx, &ledger.Tree{AccountHash: account, MerkleRoot: ledger.EmptyRoot})
			if !errors.Is(err, ledger.ErrTreeExists) {
				t.Errorf("expected ErrTreeExists, got %v", err)
			}
		})
	}
}

func TestStore_notFound(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			if _, err := s.GetTree(ctx, "missing"); !errors.Is(err, ledger.ErrTreeNotFound) {
				t.Errorf("GetTree: expected ErrTreeNotFound, got %v", err)
			}
			if _, err := s.Snapshot(ctx, "missing"); !errors.Is(err, ledger.ErrTreeNotFound) {
				t.Errorf("Snapshot: expected ErrTreeNotFound, got %v", err)
			}
			if _, err := s.ListMessages(ctx, "missing"); !errors.Is(err, ledger.ErrTreeNotFound) {
				t.Errorf("ListMessages: expected ErrTreeNotFound, got %v", err)
			}
			err := s.Append(ctx, &ledger.Message{ParentAccountHash: "missing"}, ledger.EmptyRoot, ledger.EmptyRoot)
			if !errors.Is(err, ledger.ErrTreeNotFound) {
				t.Errorf("Append: expected ErrTreeNotFound, got %v", err)
			}
		})
	}
}

func TestStore_appendDenseIndices(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			newTree(t, s)

			const k = 7
			for i := 0; i < k; i++ {
				msg, err := appendBody(t, s, fmt.Sprintf("body %d", i))
				if err != nil {
					t.Fatalf("append %d: %v", i, err)
				}
				if msg.MerkleIdx != i {
					t.Errorf("append %d got index %d", i, msg.MerkleIdx)
				}
			}

			snap, err := s.Snapshot(ctx, account)
			if err != nil {
				t.Fatal(err)
			}
			for i, m := range snap.Messages {
				if m.MerkleIdx != i {
					t.Errorf("position %d holds index %d", i, m.MerkleIdx)
				}
			}
			if snap.Tree.LeafCount != k {
				t.Errorf("leaf count = %d, want %d", snap.Tree.LeafCount, k)
			}
			if err := snap.Verify(); err != nil {
				t.Errorf("Verify() on valid ledger: %v", err)
			}
		})
	}
}

func TestStore_staleRootRejected(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			newTree(t, s)
			if _, err := appendBody(t, s, "hello"); err != nil {
				t.Fatal(err)
			}
			before, _ := s.GetTree(ctx, account)

			stale := &ledger.Message{
				Hash:              merkle.HashContent([]byte("again")).Hex(),
				ParentAccountHash: account,
				MerkleIdx:         0,
			}
			if err := s.Append(ctx, stale, ledger.EmptyRoot, "ff"); !errors.Is(err, ledger.ErrRootInconsistent) {
				t.Errorf("stale root: expected ErrRootInconsistent, got %v", err)
			}

			stale.MerkleIdx = 1
			if err := s.Append(ctx, stale, "not-the-root", "ff"); !errors.Is(err, ledger.ErrRootInconsistent) {
				t.Errorf("wrong root: expected ErrRootInconsistent, got %v", err)
			}

			stale.MerkleIdx = 5
			if err := s.Append(ctx, stale, before.MerkleRoot, "ff"); !errors.Is(err, ledger.ErrRootInconsistent) {
				t.Errorf("gap index: expected ErrRootInconsistent, got %v", err)
			}

			after, _ := s.GetTree(ctx, account)
			if after.MerkleRoot != before.MerkleRoot || after.LeafCount != before.LeafCount {
				t.Errorf("rejected appends mutated the tree: before %+v after %+v", before, after)
			}
		})
	}
}

func TestStore_concurrentAppendsSameView(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			newTree(t, s)
			snap, _ := s.Snapshot(ctx, account)

			const writers = 8
			var wg sync.WaitGroup
			errs := make([]error, writers)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					leaf := merkle.HashContent([]byte(fmt.Sprintf("w%d", i)))
					root, proof, idx, _ := merkle.AppendAndProve(nil, leaf)
					errs[i] = s.Append(ctx, &ledger.Message{
						Hash: leaf.Hex(), ParentAccountHash: account,
						MerkleIdx: idx, MerkleProof: proof.Hex(),
					}, snap.Tree.MerkleRoot, root.Hex())
				}(i)
			}
			wg.Wait()

			ok := 0
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case !errors.Is(err, ledger.ErrRootInconsistent):
					t.Errorf("unexpected error: %v", err)
				}
			}
			if ok != 1 {
				t.Errorf("expected exactly one commit, got %d", ok)
			}
			msgs, _ := s.ListMessages(ctx, account)
			if len(msgs) != 1 {
				t.Errorf("expected 1 message, got %d", len(msgs))
			}
		})
	}
}

func TestSnapshotVerify_detectsTampering(t *testing.T) {
	s := ledger.NewMemoryStore()
	newTree(t, s)
	for _, b := range []string{"a", "b", "c"} {
		if _, err := appendBody(t, s, b); err != nil {
			t.Fatal(err)
		}
	}

	snap, _ := s.Snapshot(ctx, account)
	snap.Messages[1].Hash = merkle.HashContent([]byte("forged")).Hex()
	if err := snap.Verify(); err == nil {
		t.Error("expected Verify to fail on a forged leaf")
	}

	snap, _ = s.Snapshot(ctx, account)
	snap.Tree.MerkleRoot = ledger.EmptyRoot
	if err := snap.Verify(); err == nil {
		t.Error("expected Verify to fail on a rewound root")
	}

	snap, _ = s.Snapshot(ctx, account)
	snap.Messages = snap.Messages[:2]
	if err := snap.Verify(); err == nil {
		t.Error("expected Verify to fail on a dropped message")
	}
}

func TestRootOf(t *testing.T) {
	if got := ledger.RootOf(nil); got != ledger.EmptyRoot {
		t.Errorf("RootOf(nil) = %q, want EmptyRoot", got)
	}
	leaf := merkle.HashContent([]byte("hello"))
	if got := ledger.RootOf([]merkle.Digest{leaf}); got != leaf.Hex() {
		t.Errorf("RootOf single leaf = %q, want %q", got, leaf.Hex())
	}
}
