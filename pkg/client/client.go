package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 8 << 20

// ErrNotFound is matched by errors.Is for 404 responses.
var ErrNotFound = errors.New("not found")

// ErrConflict is matched by errors.Is for 409 responses: the tree already
// exists, or the ledger moved between read and commit.
var ErrConflict = errors.New("conflict")

// APIError is a non-2xx response from the board.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("board error %d: %s", e.StatusCode, e.Message)
}

// Is maps well-known status codes onto ErrNotFound and ErrConflict.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	}
	return false
}

// Tree is an account ledger header.
type Tree struct {
	AccountHash string    `json:"accountHash"`
	AccountID   string    `json:"accountId"`
	MerkleRoot  string    `json:"merkleRoot"`
	LeafCount   int       `json:"leafCount"`
	ProofFileID string    `json:"proofFileId"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Message is a committed ledger message. Body and Receipt are only set on
// the response to AppendMessage; FriendshipProof only by RevealMessages.
type Message struct {
	Hash        string `json:"hash"`
	OrnamentID  int    `json:"ornamentId"`
	Nickname    string `json:"nickname"`
	MerkleRoot  string `json:"merkleRoot"`
	MerkleIdx   int    `json:"merkleIdx"`
	MerkleProof string `json:"merkleProof"`
	Body        string `json:"body,omitempty"`
	Receipt     string `json:"receipt,omitempty"`

	FriendshipProof *struct {
		Data string `json:"data"`
	} `json:"friendshipProof,omitempty"`
}

// AppendMessageRequest is the payload for AppendMessage. FriendshipProof is
// the hex-encoded notarized presentation.
type AppendMessageRequest struct {
	OrnamentID      int
	Nickname        string
	Body            string
	FriendshipProof string
}

// Verification is the result of a server-side ledger audit.
type Verification struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

// Client talks to a board server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client must not be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		c.httpClient = &http.Client{Timeout: d}
		return nil
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) error {
		c.userAgent = ua
		return nil
	}
}

// New creates a Client for the board at baseURL.
//
//	c, err := client.New("http://localhost:8080", client.WithTimeout(5*time.Second))
func New(baseURL string, opts ...Option) (*Client, error) {
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		userAgent:  "mutualboard-go",
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

type proofData struct {
	Data string `json:"data"`
}

// CreateTree seeds a ledger for the account proven by ownershipProof.
func (c *Client) CreateTree(ctx context.Context, accountID, ownershipProof string) (*Tree, error) {
	body := struct {
		AccountID    string    `json:"accountId"`
		AccountProof proofData `json:"accountProof"`
	}{accountID, proofData{ownershipProof}}

	var tree Tree
	if err := c.do(ctx, http.MethodPost, "/v1/trees", body, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// GetTree returns the ledger header of accountHash.
func (c *Client) GetTree(ctx context.Context, accountHash string) (*Tree, error) {
	var tree Tree
	if err := c.do(ctx, http.MethodGet, treePath(accountHash), nil, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// ListMessages returns the messages of accountHash in index order.
func (c *Client) ListMessages(ctx context.Context, accountHash string) ([]Message, error) {
	var msgs []Message
	if err := c.do(ctx, http.MethodGet, treePath(accountHash)+"/messages", nil, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// RevealMessages returns the messages of accountHash with the friendship
// proof behind each. ownershipProof must prove the caller owns the account.
func (c *Client) RevealMessages(ctx context.Context, accountHash, ownershipProof string) ([]Message, error) {
	body := struct {
		AccountProof proofData `json:"accountProof"`
	}{proofData{ownershipProof}}

	var msgs []Message
	if err := c.do(ctx, http.MethodPost, treePath(accountHash)+"/messages/reveal", body, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// AppendMessage posts a message to the ledger of accountHash.
func (c *Client) AppendMessage(ctx context.Context, accountHash string, req AppendMessageRequest) (*Message, error) {
	body := struct {
		OrnamentID      int       `json:"ornamentId"`
		Nickname        string    `json:"nickname"`
		Body            string    `json:"body"`
		FriendshipProof proofData `json:"friendshipProof"`
	}{req.OrnamentID, req.Nickname, req.Body, proofData{req.FriendshipProof}}

	var msg Message
	if err := c.do(ctx, http.MethodPost, treePath(accountHash)+"/messages", body, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// VerifyTree asks the board to audit the ledger of accountHash.
func (c *Client) VerifyTree(ctx context.Context, accountHash string) (*Verification, error) {
	var v Verification
	if err := c.do(ctx, http.MethodGet, treePath(accountHash)+"/verify", nil, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func treePath(accountHash string) string {
	return "/v1/trees/" + url.PathEscape(accountHash)
}

// do sends a JSON request and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var payload struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			msg = payload.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
