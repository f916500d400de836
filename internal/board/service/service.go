// Package service implements the board's ledger gate: the ordered checks that
// turn a notarized proof into a ledger mutation.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/jmerrifield20/mutualboard/internal/account"
	"github.com/jmerrifield20/mutualboard/internal/artifact"
	"github.com/jmerrifield20/mutualboard/internal/claims"
	"github.com/jmerrifield20/mutualboard/internal/ledger"
	"github.com/jmerrifield20/mutualboard/internal/merkle"
	"github.com/jmerrifield20/mutualboard/internal/notary"
	"github.com/jmerrifield20/mutualboard/internal/receipt"
	"go.uber.org/zap"
)

const (
	// DefaultUploadTimeout bounds a single artifact upload or fetch.
	DefaultUploadTimeout = 10 * time.Second

	// MaxNicknameLen is the longest accepted nickname, in bytes.
	MaxNicknameLen = 64

	// MaxBodyLen is the longest accepted message body, in bytes.
	MaxBodyLen = 4096

	proofContentType = "application/json"
)

// ProofVerifier turns an encoded presentation into a masked transcript.
// *notary.Verifier satisfies this interface.
type ProofVerifier interface {
	Verify(rawHex string) (*notary.Transcript, error)
}

// AppendRequest is the input of AppendMessage.
type AppendRequest struct {
	AccountHash     string
	OrnamentID      int
	Nickname        string
	Body            string
	FriendshipProof string
}

// MessageRecord is a committed message as returned to callers.
type MessageRecord struct {
	Hash        string
	OrnamentID  int
	Nickname    string
	MerkleRoot  string
	MerkleIdx   int
	MerkleProof string
	CreatedAt   time.Time

	// Body is only set on the AppendMessage success path.
	Body string

	// Receipt is a signed tree head covering the root after this message.
	// Empty when the service has no receipt signer.
	Receipt string

	// FriendshipProof is the stored presentation that authorised the
	// message. Only RevealMessages sets it.
	FriendshipProof string
}

// Service runs tree creation and message appends.
type Service struct {
	store         ledger.Store
	verifier      ProofVerifier
	artifacts     artifact.Store
	receipts      *receipt.Signer // nil = no receipts
	uploadTimeout time.Duration
	logger        *zap.Logger
}

// New creates a Service.
func New(store ledger.Store, verifier ProofVerifier, artifacts artifact.Store, logger *zap.Logger) *Service {
	return &Service{
		store:         store,
		verifier:      verifier,
		artifacts:     artifacts,
		uploadTimeout: DefaultUploadTimeout,
		logger:        logger,
	}
}

// SetReceiptSigner configures the signer used for tree-head receipts.
func (s *Service) SetReceiptSigner(signer *receipt.Signer) {
	s.receipts = signer
}

// SetUploadTimeout replaces the per-transfer artifact timeout. Non-positive values are ignored.
func (s *Service) SetUploadTimeout(d time.Duration) {
	if d > 0 {
		s.uploadTimeout = d
	}
}

// CreateTree verifies an ownership proof for accountID and seeds an empty
// ledger for the derived account hash.
func (s *Service) CreateTree(ctx context.Context, accountID, ownershipProof string) (*ledger.Tree, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidInput)
	}

	transcript, err := s.verifier.Verify(ownershipProof)
	if err != nil {
		return nil, fmt.Errorf("verify ownership proof: %w", err)
	}
	handle, err := claims.ExtractIdentity(transcript)
	if err != nil {
		return nil, fmt.Errorf("extract identity: %w", err)
	}
	accountHash := account.Hash(handle)

	if _, err := s.store.GetTree(ctx, accountHash); err == nil {
		return nil, ledger.ErrTreeExists
	} else if !errors.Is(err, ledger.ErrTreeNotFound) {
		return nil, fmt.Errorf("%w: load tree: %w", ErrStorage, err)
	}

	fileID, err := s.upload(ctx, "ownership-"+accountHash[:16], ownershipProof)
	if err != nil {
		return nil, err
	}

	tree := &ledger.Tree{
		AccountHash: accountHash,
		AccountID:   accountID,
		MerkleRoot:  ledger.EmptyRoot,
		ProofFileID: fileID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateTree(ctx, tree); err != nil {
		if errors.Is(err, ledger.ErrTreeExists) {
			s.logger.Warn("tree created concurrently; ownership artifact left in place",
				zap.String("account_hash", accountHash),
				zap.String("file_id", fileID),
			)
			return nil, err
		}
		return nil, fmt.Errorf("%w: create tree: %w", ErrStorage, err)
	}

	s.logger.Info("tree created",
		zap.String("account_hash", accountHash),
		zap.String("server_name", transcript.ServerName),
	)
	return tree, nil
}

// GetTree returns the tree header for accountHash.
func (s *Service) GetTree(ctx context.Context, accountHash string) (*ledger.Tree, error) {
	tree, err := s.store.GetTree(ctx, accountHash)
	if err != nil {
		return nil, storageErr("load tree", err)
	}
	return tree, nil
}

// ListMessages returns the messages of accountHash in index order, each
// echoing the tree's current root.
func (s *Service) ListMessages(ctx context.Context, accountHash string) ([]*MessageRecord, error) {
	snap, err := s.store.Snapshot(ctx, accountHash)
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}
	return newRecords(snap), nil
}

// RevealMessages lists the messages of accountHash together with the
// friendship proofs that authorised them. The caller must present an
// ownership proof whose handle hashes to accountHash.
func (s *Service) RevealMessages(ctx context.Context, accountHash, ownershipProof string) ([]*MessageRecord, error) {
	transcript, err := s.verifier.Verify(ownershipProof)
	if err != nil {
		return nil, fmt.Errorf("verify ownership proof: %w", err)
	}
	handle, err := claims.ExtractIdentity(transcript)
	if err != nil {
		return nil, fmt.Errorf("extract identity: %w", err)
	}
	if err := account.Bind(handle, accountHash); err != nil {
		return nil, err
	}

	snap, err := s.store.Snapshot(ctx, accountHash)
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}
	records := newRecords(snap)
	for i, m := range snap.Messages {
		proof, err := s.fetch(ctx, m.ProofFileID)
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", m.MerkleIdx, err)
		}
		records[i].FriendshipProof = proof
	}

	s.logger.Info("messages revealed",
		zap.String("account_hash", accountHash),
		zap.Int("count", len(records)),
	)
	return records, nil
}

func newRecords(snap *ledger.Snapshot) []*MessageRecord {
	records := make([]*MessageRecord, len(snap.Messages))
	for i, m := range snap.Messages {
		records[i] = &MessageRecord{
			Hash:        m.Hash,
			OrnamentID:  m.OrnamentID,
			Nickname:    m.Nickname,
			MerkleRoot:  snap.Tree.MerkleRoot,
			MerkleIdx:   m.MerkleIdx,
			MerkleProof: m.MerkleProof,
			CreatedAt:   m.CreatedAt,
		}
	}
	return records
}

// VerifyTree audits the stored ledger of accountHash. It returns nil when the
// ledger is intact, a ledger.ErrTreeNotFound or ErrStorage wrapped error when
// it cannot be read, and any other error when the audit itself fails.
func (s *Service) VerifyTree(ctx context.Context, accountHash string) error {
	snap, err := s.store.Snapshot(ctx, accountHash)
	if err != nil {
		return storageErr("load snapshot", err)
	}
	return snap.Verify()
}

// AppendMessage verifies a friendship proof and appends req.Body to the
// ledger of req.AccountHash. Any failure leaves the ledger unchanged.
func (s *Service) AppendMessage(ctx context.Context, req AppendRequest) (*MessageRecord, error) {
	if err := validateAppend(req); err != nil {
		return nil, err
	}

	transcript, err := s.verifier.Verify(req.FriendshipProof)
	if err != nil {
		return nil, fmt.Errorf("verify friendship proof: %w", err)
	}
	c, err := claims.Extract(transcript)
	if err != nil {
		return nil, fmt.Errorf("extract claims: %w", err)
	}
	if err := account.Bind(c.ScreenName, req.AccountHash); err != nil {
		return nil, err
	}

	snap, err := s.store.Snapshot(ctx, req.AccountHash)
	if err != nil {
		return nil, storageErr("load snapshot", err)
	}
	existing, err := snap.Leaves()
	if err != nil {
		return nil, fmt.Errorf("%w: decode leaves: %w", ErrStorage, err)
	}

	leaf := merkle.HashContent([]byte(req.Body))
	newRoot, proof, idx, err := merkle.AppendAndProve(existing, leaf)
	if err != nil {
		return nil, fmt.Errorf("append leaf: %w", err)
	}

	expectedRoot := ledger.RootOf(existing)
	if snap.Tree.MerkleRoot != expectedRoot || snap.Tree.LeafCount != len(existing) {
		s.logger.Warn("stored root does not match leaves",
			zap.String("account_hash", req.AccountHash),
			zap.String("stored_root", snap.Tree.MerkleRoot),
			zap.String("rebuilt_root", expectedRoot),
		)
		return nil, ledger.ErrRootInconsistent
	}
	if !merkle.Verify(newRoot, idx, leaf, proof, idx+1) {
		return nil, fmt.Errorf("%w: generated proof does not verify", ErrStorage)
	}

	fileID, err := s.upload(ctx, "friendship-"+req.AccountHash[:16], req.FriendshipProof)
	if err != nil {
		return nil, err
	}

	msg := &ledger.Message{
		Hash:              leaf.Hex(),
		ParentAccountHash: req.AccountHash,
		OrnamentID:        req.OrnamentID,
		Nickname:          req.Nickname,
		MerkleIdx:         idx,
		MerkleProof:       proof.Hex(),
		ProofFileID:       fileID,
		CreatedAt:         time.Now().UTC(),
	}
	if err := s.store.Append(ctx, msg, expectedRoot, newRoot.Hex()); err != nil {
		if errors.Is(err, ledger.ErrRootInconsistent) {
			s.logger.Info("append lost the race; friendship artifact left in place",
				zap.String("account_hash", req.AccountHash),
				zap.Int("merkle_idx", idx),
				zap.String("file_id", fileID),
			)
		}
		return nil, storageErr("append message", err)
	}

	rec := &MessageRecord{
		Hash:        msg.Hash,
		OrnamentID:  msg.OrnamentID,
		Nickname:    msg.Nickname,
		MerkleRoot:  newRoot.Hex(),
		MerkleIdx:   idx,
		MerkleProof: msg.MerkleProof,
		CreatedAt:   msg.CreatedAt,
		Body:        req.Body,
	}
	if s.receipts != nil {
		token, err := s.receipts.Sign(req.AccountHash, rec.MerkleRoot, idx+1)
		if err != nil {
			// The message is committed; a missing receipt is not a failure.
			s.logger.Error("sign receipt", zap.Error(err))
		} else {
			rec.Receipt = token
		}
	}

	s.logger.Info("message appended",
		zap.String("account_hash", req.AccountHash),
		zap.Int("merkle_idx", idx),
		zap.String("merkle_root", rec.MerkleRoot),
	)
	return rec, nil
}

// proofArtifact is the uploaded form of a proof, matching the request body.
type proofArtifact struct {
	Data string `json:"data"`
}

// upload stores a proof artifact under a bounded timeout.
func (s *Service) upload(ctx context.Context, name, data string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	body, err := json.Marshal(proofArtifact{Data: data})
	if err != nil {
		return "", fmt.Errorf("%w: encode artifact: %w", ErrUpload, err)
	}
	fileID, err := s.artifacts.Put(ctx, name+".json", proofContentType, body)
	if err != nil {
		s.logger.Error("artifact upload failed", zap.String("name", name), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return fileID, nil
}

// fetch downloads a proof artifact and returns the presentation it holds.
func (s *Service) fetch(ctx context.Context, fileID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.uploadTimeout)
	defer cancel()

	body, err := s.artifacts.Get(ctx, fileID)
	if err != nil {
		s.logger.Error("artifact fetch failed", zap.String("file_id", fileID), zap.Error(err))
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	var a proofArtifact
	if err := json.Unmarshal(body, &a); err != nil {
		return "", fmt.Errorf("%w: decode artifact %s: %w", ErrUpload, fileID, err)
	}
	return a.Data, nil
}

// validateAppend checks the request shape. The account hash is left to
// account.Bind, which rejects anything that is not the handle's exact digest.
func validateAppend(req AppendRequest) error {
	switch {
	case req.Body == "":
		return fmt.Errorf("%w: body is required", ErrInvalidInput)
	case len(req.Body) > MaxBodyLen:
		return fmt.Errorf("%w: body exceeds %d bytes", ErrInvalidInput, MaxBodyLen)
	case len(req.Nickname) > MaxNicknameLen:
		return fmt.Errorf("%w: nickname exceeds %d bytes", ErrInvalidInput, MaxNicknameLen)
	case !utf8.ValidString(req.Nickname) || !utf8.ValidString(req.Body):
		return fmt.Errorf("%w: nickname and body must be valid UTF-8", ErrInvalidInput)
	case req.OrnamentID < 0:
		return fmt.Errorf("%w: ornament id must be non-negative", ErrInvalidInput)
	}
	return nil
}

// storageErr passes the ledger's domain errors through and wraps everything
// else as ErrStorage.
func storageErr(op string, err error) error {
	for _, target := range []error{ledger.ErrTreeNotFound, ledger.ErrTreeExists, ledger.ErrRootInconsistent} {
		if errors.Is(err, target) {
			return err
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
