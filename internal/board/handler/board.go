package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmerrifield20/mutualboard/internal/board/service"
	"github.com/jmerrifield20/mutualboard/internal/ledger"
	"go.uber.org/zap"
)

// BoardHandler exposes the board's trees and messages over HTTP.
type BoardHandler struct {
	svc    *service.Service
	logger *zap.Logger
}

// NewBoardHandler creates a new BoardHandler.
func NewBoardHandler(svc *service.Service, logger *zap.Logger) *BoardHandler {
	return &BoardHandler{svc: svc, logger: logger}
}

// Register mounts the board routes on the given router group.
func (h *BoardHandler) Register(rg *gin.RouterGroup) {
	t := rg.Group("/trees")
	{
		t.POST("", h.CreateTree)
		t.GET("/:account_hash", h.GetTree)
		t.GET("/:account_hash/messages", h.ListMessages)
		t.POST("/:account_hash/messages", h.AppendMessage)
		t.POST("/:account_hash/messages/reveal", h.RevealMessages)
		t.GET("/:account_hash/verify", h.VerifyTree)
	}
}

type proofData struct {
	Data string `json:"data"`
}

type createTreeRequest struct {
	AccountID    string    `json:"accountId"`
	AccountProof proofData `json:"accountProof"`
}

type appendMessageRequest struct {
	OrnamentID      int       `json:"ornamentId"`
	Nickname        string    `json:"nickname"`
	Body            string    `json:"body"`
	FriendshipProof proofData `json:"friendshipProof"`
}

type revealMessagesRequest struct {
	AccountProof proofData `json:"accountProof"`
}

type treeResponse struct {
	AccountHash string    `json:"accountHash"`
	AccountID   string    `json:"accountId"`
	MerkleRoot  string    `json:"merkleRoot"`
	LeafCount   int       `json:"leafCount"`
	ProofFileID string    `json:"proofFileId"`
	CreatedAt   time.Time `json:"createdAt"`
}

type messageResponse struct {
	Hash        string `json:"hash"`
	OrnamentID  int    `json:"ornamentId"`
	Nickname    string `json:"nickname"`
	MerkleRoot  string `json:"merkleRoot"`
	MerkleIdx   int    `json:"merkleIdx"`
	MerkleProof string `json:"merkleProof"`
	Body        string `json:"body,omitempty"`
	Receipt     string `json:"receipt,omitempty"`

	FriendshipProof *proofData `json:"friendshipProof,omitempty"`
}

func newTreeResponse(t *ledger.Tree) treeResponse {
	return treeResponse{
		AccountHash: t.AccountHash,
		AccountID:   t.AccountID,
		MerkleRoot:  t.MerkleRoot,
		LeafCount:   t.LeafCount,
		ProofFileID: t.ProofFileID,
		CreatedAt:   t.CreatedAt,
	}
}

func newMessageResponse(m *service.MessageRecord) messageResponse {
	resp := messageResponse{
		Hash:        m.Hash,
		OrnamentID:  m.OrnamentID,
		Nickname:    m.Nickname,
		MerkleRoot:  m.MerkleRoot,
		MerkleIdx:   m.MerkleIdx,
		MerkleProof: m.MerkleProof,
		Body:        m.Body,
		Receipt:     m.Receipt,
	}
	if m.FriendshipProof != "" {
		resp.FriendshipProof = &proofData{Data: m.FriendshipProof}
	}
	return resp
}

func newMessageResponses(records []*service.MessageRecord) []messageResponse {
	resp := make([]messageResponse, len(records))
	for i, r := range records {
		resp[i] = newMessageResponse(r)
	}
	return resp
}

// CreateTree handles POST /trees — binds an ownership proof to a new ledger.
func (h *BoardHandler) CreateTree(c *gin.Context) {
	var req createTreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.AccountID == "" || req.AccountProof.Data == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountId and accountProof.data are required"})
		return
	}

	tree, err := h.svc.CreateTree(c.Request.Context(), req.AccountID, req.AccountProof.Data)
	if err != nil {
		recordProofRejection("create_tree", err)
		h.fail(c, "create tree", err)
		return
	}

	RecordTreeCreated()
	c.JSON(http.StatusCreated, newTreeResponse(tree))
}

// GetTree handles GET /trees/:account_hash — returns the tree header.
func (h *BoardHandler) GetTree(c *gin.Context) {
	tree, err := h.svc.GetTree(c.Request.Context(), c.Param("account_hash"))
	if err != nil {
		h.fail(c, "get tree", err)
		return
	}
	c.JSON(http.StatusOK, newTreeResponse(tree))
}

// ListMessages handles GET /trees/:account_hash/messages.
func (h *BoardHandler) ListMessages(c *gin.Context) {
	records, err := h.svc.ListMessages(c.Request.Context(), c.Param("account_hash"))
	if err != nil {
		h.fail(c, "list messages", err)
		return
	}

	c.JSON(http.StatusOK, newMessageResponses(records))
}

// RevealMessages handles POST /trees/:account_hash/messages/reveal. The tree
// owner trades an ownership proof for the friendship proofs behind each
// message.
func (h *BoardHandler) RevealMessages(c *gin.Context) {
	var req revealMessagesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.AccountProof.Data == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accountProof.data is required"})
		return
	}

	records, err := h.svc.RevealMessages(c.Request.Context(), c.Param("account_hash"), req.AccountProof.Data)
	if err != nil {
		recordProofRejection("reveal_messages", err)
		h.fail(c, "reveal messages", err)
		return
	}
	c.JSON(http.StatusOK, newMessageResponses(records))
}

// AppendMessage handles POST /trees/:account_hash/messages.
func (h *BoardHandler) AppendMessage(c *gin.Context) {
	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.FriendshipProof.Data == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "friendshipProof.data is required"})
		return
	}

	rec, err := h.svc.AppendMessage(c.Request.Context(), service.AppendRequest{
		AccountHash:     c.Param("account_hash"),
		OrnamentID:      req.OrnamentID,
		Nickname:        req.Nickname,
		Body:            req.Body,
		FriendshipProof: req.FriendshipProof.Data,
	})
	if err != nil {
		RecordAppend(appendResult(err))
		recordProofRejection("append_message", err)
		h.fail(c, "append message", err)
		return
	}

	RecordAppend("committed")
	c.JSON(http.StatusCreated, newMessageResponse(rec))
}

// VerifyTree handles GET /trees/:account_hash/verify — replays the ledger and
// reports its integrity.
func (h *BoardHandler) VerifyTree(c *gin.Context) {
	accountHash := c.Param("account_hash")
	err := h.svc.VerifyTree(c.Request.Context(), accountHash)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"valid": true})
	case errors.Is(err, ledger.ErrTreeNotFound), errors.Is(err, service.ErrStorage):
		h.fail(c, "verify tree", err)
	default:
		h.logger.Warn("ledger integrity check failed",
			zap.String("account_hash", accountHash),
			zap.Error(err),
		)
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
	}
}

// fail writes the error response for err.
func (h *BoardHandler) fail(c *gin.Context, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, zap.Error(err))
		c.JSON(status, gin.H{"error": http.StatusText(status)})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
