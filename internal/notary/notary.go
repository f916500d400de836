// Package notary verifies notarized TLS session presentations and rebuilds
// the received-direction transcript with every unauthenticated byte masked.
//
// A presentation carries a notary-signed attestation header listing hash
// commitments to byte ranges of the session transcript, and a set of
// openings that reveal the plaintext behind some of those commitments. Only
// bytes revealed by an opening whose commitment appears in the signed header
// are considered authenticated; all other positions are replaced by Sentinel.
package notary

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Sentinel overwrites every transcript byte not covered by an opening.
const Sentinel byte = 'X'

const (
	// Version is the only presentation version accepted by Verify.
	Version = 1

	// MaxTranscriptSize bounds each transcript direction.
	MaxTranscriptSize = 1 << 20

	// MaxPresentationSize bounds the decoded presentation payload.
	MaxPresentationSize = 4 << 20
)

var (
	// ErrDecode is returned when the presentation is not well-formed hex/JSON.
	ErrDecode = errors.New("malformed presentation encoding")

	// ErrProofInvalid is returned when a signature, commitment or range check fails.
	ErrProofInvalid = errors.New("presentation failed verification")
)

// TrustRoot holds the notary public keys a Verifier accepts, indexed by key ID.
// Key IDs are case-insensitive.
type TrustRoot struct {
	keys map[string]ed25519.PublicKey
}

// NewTrustRoot returns an empty TrustRoot.
func NewTrustRoot() *TrustRoot {
	return &TrustRoot{keys: make(map[string]ed25519.PublicKey)}
}

// Add trusts pub under keyID.
func (r *TrustRoot) Add(keyID string, pub ed25519.PublicKey) {
	r.keys[strings.ToLower(keyID)] = pub
}

// Len returns the number of trusted keys.
func (r *TrustRoot) Len() int {
	return len(r.keys)
}

func (r *TrustRoot) lookup(keyID string) (ed25519.PublicKey, bool) {
	if r == nil {
		return nil, false
	}
	k, ok := r.keys[strings.ToLower(keyID)]
	return k, ok
}

// ParseTrustRoot builds a TrustRoot from hex-encoded Ed25519 public keys.
func ParseTrustRoot(hexKeys map[string]string) (*TrustRoot, error) {
	root := NewTrustRoot()
	for id, h := range hexKeys {
		b, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("notary key %q: %w", id, err)
		}
		if len(b) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("notary key %q: want %d bytes, got %d", id, ed25519.PublicKeySize, len(b))
		}
		root.Add(id, ed25519.PublicKey(b))
	}
	return root, nil
}
