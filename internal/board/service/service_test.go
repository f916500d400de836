package service_test

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jmerrifield20/mutualboard/internal/account"
	"github.com/jmerrifield20/mutualboard/internal/artifact"
	"github.com/jmerrifield20/mutualboard/internal/board/service"
	"github.com/jmerrifield20/mutualboard/internal/claims"
	"github.com/jmerrifield20/mutualboard/internal/ledger"
	"github.com/jmerrifield20/mutualboard/internal/merkle"
	"github.com/jmerrifield20/mutualboard/internal/notary"
	"github.com/jmerrifield20/mutualboard/internal/receipt"
	"go.uber.org/zap"
)

type fixture struct {
	svc       *service.Service
	store     *ledger.MemoryStore
	artifacts *artifact.MemoryStore
	verifier  *notary.Verifier
	notary    *notary.Notary
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, nil)
}

// newFixtureWithStore builds a service over a fresh MemoryStore, optionally
// wrapped by wrap.
func newFixtureWithStore(t *testing.T, wrap func(ledger.Store) ledger.Store) *fixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatal(err)
	}
	trust := notary.NewTrustRoot()
	trust.Add("test-notary", pub)

	mem := ledger.NewMemoryStore()
	var store ledger.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}
	arts := artifact.NewMemoryStore()
	verifier := notary.NewVerifier(trust)
	return &fixture{
		svc:       service.New(store, verifier, arts, zap.NewNop()),
		store:     mem,
		artifacts: arts,
		verifier:  verifier,
		notary:    notary.NewNotary("test-notary", priv),
	}
}

// proof notarizes a relationship response for handle, redacting each hidden
// substring.
func (f *fixture) proof(t *testing.T, handle string, followedBy bool, hidden ...string) string {
	t.Helper()
	body := fmt.Sprintf(`{"relationship":{"source":{"screen_name":%q,"following":true,"followed_by":%t}}}`, handle, followedBy)
	return f.notarize(t, body, hidden...)
}

// notarize encodes a presentation of body with every occurrence of each
// hidden substring redacted.
func (f *fixture) notarize(t *testing.T, body string, hidden ...string) string {
	t.Helper()
	var ranges []notary.Range
	for _, h := range hidden {
		for from := 0; ; {
			i := strings.Index(body[from:], h)
			if i < 0 {
				break
			}
			ranges = append(ranges, notary.Range{Start: from + i, End: from + i + len(h)})
			from += i + len(h)
		}
	}

	p, err := f.notary.Notarize(
		notary.Session{ServerName: "api.x.com", Received: []byte(body)},
		notary.Reveal{Received: notary.Complement(len(body), ranges...)},
	)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := p.Encode()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func (f *fixture) createTree(t *testing.T, handle string) *ledger.Tree {
	t.Helper()
	tree, err := f.svc.CreateTree(context.Background(), "acct-"+handle, f.proof(t, handle, false))
	if err != nil {
		t.Fatalf("CreateTree(%s): %v", handle, err)
	}
	return tree
}

func (f *fixture) appendReq(t *testing.T, handle, body string) service.AppendRequest {
	t.Helper()
	return service.AppendRequest{
		AccountHash:     account.Hash(handle),
		OrnamentID:      7,
		Nickname:        "pal",
		Body:            body,
		FriendshipProof: f.proof(t, handle, true),
	}
}

func rootHex(bodies ...string) string {
	leaves := make([]merkle.Digest, len(bodies))
	for i, b := range bodies {
		leaves[i] = merkle.HashContent([]byte(b))
	}
	return ledger.RootOf(leaves)
}

func TestCreateTree(t *testing.T) {
	f := newFixture(t)
	tree := f.createTree(t, "alice")

	if tree.AccountHash != account.Hash("alice") {
		t.Errorf("AccountHash = %s, want sha256(alice)", tree.AccountHash)
	}
	if tree.MerkleRoot != ledger.EmptyRoot {
		t.Errorf("MerkleRoot = %s, want EmptyRoot", tree.MerkleRoot)
	}
	if tree.ProofFileID == "" {
		t.Error("expected ownership proof file id")
	}
	if f.artifacts.Len() != 1 {
		t.Errorf("artifacts = %d, want 1", f.artifacts.Len())
	}

	msgs, err := f.svc.ListMessages(context.Background(), tree.AccountHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestCreateTree_duplicate(t *testing.T) {
	f := newFixture(t)
	f.createTree(t, "alice")

	_, err := f.svc.CreateTree(context.Background(), "again", f.proof(t, "alice", false))
	if !errors.Is(err, ledger.ErrTreeExists) {
		t.Fatalf("expected ErrTreeExists, got %v", err)
	}
	if f.artifacts.Len() != 1 {
		t.Errorf("duplicate create must not upload; artifacts = %d", f.artifacts.Len())
	}
}

func TestCreateTree_maskedHandle(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTree(context.Background(), "acct", f.proof(t, "alice", false, "alice"))
	if !errors.Is(err, claims.ErrIdentityMissing) {
		t.Fatalf("expected ErrIdentityMissing, got %v", err)
	}
}

func TestCreateTree_badProof(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateTree(context.Background(), "acct", "not-hex")
	if !errors.Is(err, notary.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if !service.IsClientFault(err) {
		t.Error("decode errors are client faults")
	}
}

func TestAppendMessage_helloWorld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.createTree(t, "alice")
	if tree.AccountHash != "2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90" {
		t.Fatalf("unexpected account hash %s", tree.AccountHash)
	}

	first, err := f.svc.AppendMessage(ctx, f.appendReq(t, "alice", "hello"))
	if err != nil {
		t.Fatalf("append hello: %v", err)
	}
	if first.MerkleIdx != 0 {
		t.Errorf("first idx = %d, want 0", first.MerkleIdx)
	}
	if first.MerkleRoot != rootHex("hello") {
		t.Errorf("first root = %s, want root([hello])", first.MerkleRoot)
	}
	if first.Body != "hello" {
		t.Errorf("Body = %q, want hello", first.Body)
	}

	second, err := f.svc.AppendMessage(ctx, f.appendReq(t, "alice", "world"))
	if err != nil {
		t.Fatalf("append world: %v", err)
	}
	if second.MerkleIdx != 1 {
		t.Errorf("second idx = %d, want 1", second.MerkleIdx)
	}
	if second.MerkleRoot != rootHex("hello", "world") {
		t.Errorf("second root = %s, want root([hello, world])", second.MerkleRoot)
	}

	msgs, err := f.svc.ListMessages(ctx, tree.AccountHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	for _, m := range msgs {
		if m.MerkleRoot != second.MerkleRoot {
			t.Errorf("message %d echoes root %s, want current root", m.MerkleIdx, m.MerkleRoot)
		}
		if m.Body != "" {
			t.Errorf("listed message %d must not carry a body", m.MerkleIdx)
		}
	}

	// The first stored proof verifies against the first root with count 1,
	// and not against the second root.
	proof, err := merkle.DecodeProofHex(msgs[0].MerkleProof)
	if err != nil {
		t.Fatal(err)
	}
	leaf := merkle.HashContent([]byte("hello"))
	firstRoot, _ := merkle.DigestFromHex(first.MerkleRoot)
	secondRoot, _ := merkle.DigestFromHex(second.MerkleRoot)
	if !merkle.Verify(firstRoot, 0, leaf, proof, 1) {
		t.Error("first proof should verify against the first root")
	}
	if merkle.Verify(secondRoot, 0, leaf, proof, 2) {
		t.Error("first proof must not verify against the second root")
	}

	if err := f.svc.VerifyTree(ctx, tree.AccountHash); err != nil {
		t.Errorf("VerifyTree: %v", err)
	}
}

func TestAppendMessage_sequentialIndices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tree := f.createTree(t, "alice")

	const k = 12
	for i := 0; i < k; i++ {
		if _, err := f.svc.AppendMessage(ctx, f.appendReq(t, "alice", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := f.svc.ListMessages(ctx, tree.AccountHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != k {
		t.Fatalf("expected %d messages, got %d", k, len(msgs))
	}
	for i, m := range msgs {
		if m.MerkleIdx != i {
			t.Errorf("position %d has idx %d", i, m.MerkleIdx)
		}
	}
	if err := f.svc.VerifyTree(ctx, tree.AccountHash); err != nil {
		t.Errorf("VerifyTree: %v", err)
	}
}

func assertUnchanged(t *testing.T, f *fixture, accountHash string) {
	t.Helper()
	tree, err := f.store.GetTree(context.Background(), accountHash)
	if err != nil {
		t.Fatal(err)
	}
	if tree.MerkleRoot != ledger.EmptyRoot || tree.LeafCount != 0 {
		t.Errorf("ledger mutated: root=%s count=%d", tree.MerkleRoot, tree.LeafCount)
	}
	if f.artifacts.Len() != 1 {
		t.Errorf("rejected append must not upload; artifacts = %d", f.artifacts.Len())
	}
}

func TestAppendMessage_rejections(t *testing.T) {
	tests := []struct {
		name string
		req  func(t *testing.T, f *fixture) service.AppendRequest
		want error
	}{
		{
			name: "not followed back",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.FriendshipProof = f.proof(t, "alice", false)
				return r
			},
			want: claims.ErrRelationshipNotMutual,
		},
		{
			name: "followed_by masked",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.FriendshipProof = f.proof(t, "alice", true, `"followed_by":true`)
				return r
			},
			want: claims.ErrRelationshipNotMutual,
		},
		{
			name: "handle of another account",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.FriendshipProof = f.proof(t, "mallory", true)
				return r
			},
			want: account.ErrAccountMismatch,
		},
		{
			name: "corrupt proof",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.FriendshipProof = "zz"
				return r
			},
			want: notary.ErrDecode,
		},
		{
			name: "empty body",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				return f.appendReq(t, "alice", "")
			},
			want: service.ErrInvalidInput,
		},
		{
			name: "malformed account hash",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.AccountHash = "ALICE"
				return r
			},
			want: account.ErrAccountMismatch,
		},
		{
			name: "uppercase account hash",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.AccountHash = strings.ToUpper(r.AccountHash)
				return r
			},
			want: account.ErrAccountMismatch,
		},
		{
			name: "target handle behind a redacted source",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.FriendshipProof = f.notarize(t,
					`{"relationship":{"source":{"screen_name":"mallory","following":true,"followed_by":false},`+
						`"target":{"screen_name":"alice","following":false,"followed_by":true}}}`,
					`"screen_name":"mallory",`, `"followed_by":false`, `"following":false,`)
				return r
			},
			want: claims.ErrIdentityMissing,
		},
		{
			name: "false flag redacted beside a true sibling",
			req: func(t *testing.T, f *fixture) service.AppendRequest {
				r := f.appendReq(t, "alice", "hi")
				r.FriendshipProof = f.notarize(t,
					`{"relationship":{"source":{"screen_name":"alice","following":true,"followed_by":false},`+
						`"target":{"screen_name":"bob","following":true,"followed_by":true}}}`,
					`,"followed_by":false`)
				return r
			},
			want: claims.ErrRelationshipNotMutual,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tree := f.createTree(t, "alice")

			_, err := f.svc.AppendMessage(context.Background(), tc.req(t, f))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !service.IsClientFault(err) {
				t.Errorf("%v should be a client fault", err)
			}
			assertUnchanged(t, f, tree.AccountHash)
		})
	}
}

func TestAppendMessage_treeNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AppendMessage(context.Background(), f.appendReq(t, "carol", "hi"))
	if !errors.Is(err, ledger.ErrTreeNotFound) {
		t.Fatalf("expected ErrTreeNotFound, got %v", err)
	}
	if f.artifacts.Len() != 0 {
		t.Errorf("expected no uploads, got %d", f.artifacts.Len())
	}
}

// tamperedStore reports a stored root that disagrees with the stored leaves.
type tamperedStore struct {
	ledger.Store
}

func (s tamperedStore) Snapshot(ctx context.Context, accountHash string) (*ledger.Snapshot, error) {
	snap, err := s.Store.Snapshot(ctx, accountHash)
	if err != nil {
		return nil, err
	}
	snap.Tree.MerkleRoot = rootHex("out-of-band")
	return snap, nil
}

func TestAppendMessage_storedRootMismatch(t *testing.T) {
	f := newFixtureWithStore(t, func(s ledger.Store) ledger.Store { return tamperedStore{s} })
	tree := f.createTree(t, "alice")

	_, err := f.svc.AppendMessage(context.Background(), f.appendReq(t, "alice", "hi"))
	if !errors.Is(err, ledger.ErrRootInconsistent) {
		t.Fatalf("expected ErrRootInconsistent, got %v", err)
	}
	assertUnchanged(t, f, tree.AccountHash)
}

// barrierStore holds every Snapshot until n callers have read, so they all
// observe the same root.
type barrierStore struct {
	ledger.Store
	wg *sync.WaitGroup
}

func (s barrierStore) Snapshot(ctx context.Context, accountHash string) (*ledger.Snapshot, error) {
	snap, err := s.Store.Snapshot(ctx, accountHash)
	s.wg.Done()
	s.wg.Wait()
	return snap, err
}

func TestAppendMessage_concurrentSameRoot(t *testing.T) {
	var barrier sync.WaitGroup
	f := newFixtureWithStore(t, func(s ledger.Store) ledger.Store { return barrierStore{s, &barrier} })
	if _, err := f.svc.CreateTree(context.Background(), "acct", f.proof(t, "alice", false)); err != nil {
		t.Fatal(err)
	}

	reqs := []service.AppendRequest{
		f.appendReq(t, "alice", "first"),
		f.appendReq(t, "alice", "second"),
	}
	barrier.Add(len(reqs))

	errs := make([]error, len(reqs))
	var wg sync.WaitGroup
	for i := range reqs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AppendMessage(context.Background(), reqs[i])
		}(i)
	}
	wg.Wait()

	var ok, inconsistent int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ledger.ErrRootInconsistent):
			inconsistent++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || inconsistent != 1 {
		t.Fatalf("expected one commit and one ErrRootInconsistent, got %d and %d", ok, inconsistent)
	}

	tree, err := f.store.GetTree(context.Background(), account.Hash("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if tree.LeafCount != 1 {
		t.Errorf("LeafCount = %d, want 1", tree.LeafCount)
	}
}

type failingArtifacts struct{}

func (failingArtifacts) Put(context.Context, string, string, []byte) (string, error) {
	return "", errors.New("gateway timeout")
}

func (failingArtifacts) Get(context.Context, string) ([]byte, error) {
	return nil, artifact.ErrNotFound
}

func TestAppendMessage_uploadFailure(t *testing.T) {
	f := newFixture(t)
	tree := f.createTree(t, "alice")

	svc := service.New(f.store, f.verifier, failingArtifacts{}, zap.NewNop())
	_, err := svc.AppendMessage(context.Background(), f.appendReq(t, "alice", "hi"))
	if !errors.Is(err, service.ErrUpload) {
		t.Fatalf("expected ErrUpload, got %v", err)
	}
	if service.IsClientFault(err) {
		t.Error("upload failures are not client faults")
	}
	assertUnchanged(t, f, tree.AccountHash)
}

func TestAppendMessage_receipt(t *testing.T) {
	f := newFixture(t)
	signer, err := receipt.GenerateSigner("")
	if err != nil {
		t.Fatal(err)
	}
	f.svc.SetReceiptSigner(signer)
	f.createTree(t, "alice")

	if _, err := f.svc.AppendMessage(context.Background(), f.appendReq(t, "alice", "hello")); err != nil {
		t.Fatal(err)
	}
	rec, err := f.svc.AppendMessage(context.Background(), f.appendReq(t, "alice", "world"))
	if err != nil {
		t.Fatal(err)
	}
	if rec.Receipt == "" {
		t.Fatal("expected a receipt")
	}

	c, err := receipt.NewVerifier(signer.PublicKey(), "").Verify(rec.Receipt)
	if err != nil {
		t.Fatalf("verify receipt: %v", err)
	}
	if c.AccountHash != account.Hash("alice") || c.Root != rec.MerkleRoot || c.Size != 2 {
		t.Errorf("receipt claims = %+v", c)
	}
}

func TestListMessages_unknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.ListMessages(context.Background(), account.Hash("nobody"))
	if !errors.Is(err, ledger.ErrTreeNotFound) {
		t.Fatalf("expected ErrTreeNotFound, got %v", err)
	}
}

func TestRevealMessages(t *testing.T) {
	f := newFixture(t)
	tree := f.createTree(t, "alice")
	ctx := context.Background()

	var proofs []string
	for _, body := range []string{"hello", "world"} {
		req := f.appendReq(t, "alice", body)
		proofs = append(proofs, req.FriendshipProof)
		if _, err := f.svc.AppendMessage(ctx, req); err != nil {
			t.Fatal(err)
		}
	}

	recs, err := f.svc.RevealMessages(ctx, tree.AccountHash, f.proof(t, "alice", false))
	if err != nil {
		t.Fatalf("RevealMessages: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	for i, rec := range recs {
		if rec.MerkleIdx != i {
			t.Errorf("record %d: MerkleIdx = %d", i, rec.MerkleIdx)
		}
		if rec.FriendshipProof != proofs[i] {
			t.Errorf("record %d: friendship proof does not match the one appended", i)
		}
		if rec.MerkleRoot != rootHex("hello", "world") {
			t.Errorf("record %d: MerkleRoot = %s", i, rec.MerkleRoot)
		}
	}

	// The public listing never carries the proofs.
	listed, err := f.svc.ListMessages(ctx, tree.AccountHash)
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range listed {
		if rec.FriendshipProof != "" {
			t.Error("ListMessages leaked a friendship proof")
		}
	}
}

func TestRevealMessages_rejections(t *testing.T) {
	tests := []struct {
		name  string
		proof func(t *testing.T, f *fixture) string
		want  error
	}{
		{
			name:  "another account's proof",
			proof: func(t *testing.T, f *fixture) string { return f.proof(t, "mallory", false) },
			want:  account.ErrAccountMismatch,
		},
		{
			name:  "masked handle",
			proof: func(t *testing.T, f *fixture) string { return f.proof(t, "alice", false, "alice") },
			want:  claims.ErrIdentityMissing,
		},
		{
			name:  "corrupt proof",
			proof: func(*testing.T, *fixture) string { return "zz" },
			want:  notary.ErrDecode,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tree := f.createTree(t, "alice")
			if _, err := f.svc.AppendMessage(context.Background(), f.appendReq(t, "alice", "hi")); err != nil {
				t.Fatal(err)
			}

			_, err := f.svc.RevealMessages(context.Background(), tree.AccountHash, tc.proof(t, f))
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if !service.IsClientFault(err) {
				t.Errorf("%v should be a client fault", err)
			}
		})
	}
}

func TestRevealMessages_missingArtifact(t *testing.T) {
	f := newFixture(t)
	tree := f.createTree(t, "alice")
	if _, err := f.svc.AppendMessage(context.Background(), f.appendReq(t, "alice", "hi")); err != nil {
		t.Fatal(err)
	}

	svc := service.New(f.store, f.verifier, failingArtifacts{}, zap.NewNop())
	_, err := svc.RevealMessages(context.Background(), tree.AccountHash, f.proof(t, "alice", false))
	if !errors.Is(err, service.ErrUpload) || !errors.Is(err, artifact.ErrNotFound) {
		t.Fatalf("expected ErrUpload wrapping ErrNotFound, got %v", err)
	}
}

func TestRevealMessages_unknownAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RevealMessages(context.Background(), account.Hash("alice"), f.proof(t, "alice", false))
	if !errors.Is(err, ledger.ErrTreeNotFound) {
		t.Fatalf("expected ErrTreeNotFound, got %v", err)
	}
}
