package client_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jmerrifield20/mutualboard/pkg/client"
)

const accountHash = "2bd806c97f0e00af1a1fc3328fa763a9269723c8db8fac4f93af71db186d6e90"

// ── Stub server ─────────────────────────────────────────────────────────

func stubBoardServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/trees", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AccountID    string `json:"accountId"`
			AccountProof struct {
				Data string `json:"data"`
			} `json:"accountProof"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountProof.Data == "" {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		if req.AccountID == "taken" {
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":"tree already exists"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"accountHash": accountHash,
			"accountId":   req.AccountID,
			"merkleRoot":  "00",
			"leafCount":   0,
		})
	})

	mux.HandleFunc("GET /v1/trees/{hash}/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("hash") != accountHash {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error":"tree not found"}`))
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"hash": "aa", "merkleIdx": 0, "merkleRoot": "bb", "ornamentId": 1, "nickname": "bob"},
		})
	})

	mux.HandleFunc("POST /v1/trees/{hash}/messages", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		json.NewDecoder(r.Body).Decode(&req)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{
			"hash":       "cc",
			"merkleIdx":  1,
			"ornamentId": req["ornamentId"],
			"nickname":   req["nickname"],
			"body":       req["body"],
			"receipt":    "e30.e30.sig",
		})
	})

	mux.HandleFunc("POST /v1/trees/{hash}/messages/reveal", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AccountProof struct {
				Data string `json:"data"`
			} `json:"accountProof"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AccountProof.Data != "0wner" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"identity does not match account"}`))
			return
		}
		json.NewEncoder(w).Encode([]map[string]any{
			{"hash": "aa", "merkleIdx": 0, "friendshipProof": map[string]string{"data": "f00d"}},
		})
	})

	mux.HandleFunc("GET /v1/trees/{hash}/verify", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"valid": true})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *client.Client {
	t.Helper()
	c, err := client.New(stubBoardServer(t).URL)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

// ── Tests ────────────────────────────────────────────────────────────────

func TestCreateTree(t *testing.T) {
	c := newClient(t)

	tree, err := c.CreateTree(context.Background(), "12345", "deadbeef")
	if err != nil {
		t.Fatalf("CreateTree: %v", err)
	}
	if tree.AccountHash != accountHash || tree.AccountID != "12345" {
		t.Errorf("unexpected tree: %+v", tree)
	}
}

func TestCreateTree_conflict(t *testing.T) {
	c := newClient(t)

	_, err := c.CreateTree(context.Background(), "taken", "deadbeef")
	if !errors.Is(err, client.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "tree already exists" {
		t.Errorf("expected APIError with server message, got %v", err)
	}
}

func TestListMessages(t *testing.T) {
	c := newClient(t)

	msgs, err := c.ListMessages(context.Background(), accountHash)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Nickname != "bob" || msgs[0].MerkleRoot != "bb" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}

func TestListMessages_notFound(t *testing.T) {
	c := newClient(t)

	_, err := c.ListMessages(context.Background(), "ffff")
	if !errors.Is(err, client.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevealMessages(t *testing.T) {
	c := newClient(t)

	msgs, err := c.RevealMessages(context.Background(), accountHash, "0wner")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].FriendshipProof == nil || msgs[0].FriendshipProof.Data != "f00d" {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	_, err = c.RevealMessages(context.Background(), accountHash, "someone-else")
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 APIError, got %v", err)
	}
}

func TestAppendMessage(t *testing.T) {
	c := newClient(t)

	msg, err := c.AppendMessage(context.Background(), accountHash, client.AppendMessageRequest{
		OrnamentID:      4,
		Nickname:        "carol",
		Body:            "hi",
		FriendshipProof: "deadbeef",
	})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Body != "hi" || msg.OrnamentID != 4 || msg.Nickname != "carol" || msg.Receipt == "" {
		t.Errorf("unexpected message: %+v", msg)
	}
}

func TestVerifyTree(t *testing.T) {
	c := newClient(t)

	v, err := c.VerifyTree(context.Background(), accountHash)
	if err != nil {
		t.Fatal(err)
	}
	if !v.Valid {
		t.Error("expected valid ledger")
	}
}

func TestNew_invalidURL(t *testing.T) {
	if _, err := client.New("::not a url"); err == nil {
		t.Error("expected error for invalid base URL")
	}
}
