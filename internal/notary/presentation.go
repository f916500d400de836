package notary

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Direction identifies one side of the TLS session.
type Direction string

const (
	Sent     Direction = "sent"
	Received Direction = "received"
)

// Supported commitment hash algorithms.
const (
	HashSHA256    = "sha256"
	HashBlake2b   = "blake2b-256"
	HashKeccak256 = "keccak-256"
)

const headerDomain = "mutualboard/attestation/v1\n"

// Header is the notary-signed part of an attestation.
type Header struct {
	Version     int      `json:"version"`
	NotaryKeyID string   `json:"notary_key_id"`
	ServerName  string   `json:"server_name"`
	Time        int64    `json:"time"`
	HashAlg     string   `json:"hash_alg"`
	SentLen     int      `json:"sent_len"`
	RecvLen     int      `json:"recv_len"`
	Commitments []string `json:"commitments"`
}

// signingBytes returns the exact message the notary signs.
func (h *Header) signingBytes() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return append([]byte(headerDomain), b...), nil
}

// Attestation is a signed header.
type Attestation struct {
	Header    Header `json:"header"`
	Signature []byte `json:"signature"`
}

// Opening reveals the plaintext of Ranges in one direction of the transcript.
type Opening struct {
	Direction Direction `json:"direction"`
	Ranges    []Range   `json:"ranges"`
	Data      []byte    `json:"data"`
	Blinder   []byte    `json:"blinder"`
}

// Presentation is what a prover submits for verification.
type Presentation struct {
	Attestation Attestation `json:"attestation"`
	Openings    []Opening   `json:"openings"`
}

// Encode returns the hex wire form accepted by Verifier.Verify.
func (p *Presentation) Encode() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal presentation: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func newHash(alg string) (hash.Hash, error) {
	switch alg {
	case HashSHA256:
		return sha256.New(), nil
	case HashBlake2b:
		return blake2b.New256(nil)
	case HashKeccak256:
		return sha3.NewLegacyKeccak256(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", alg)
	}
}

// commitment computes the hex digest binding an opening's direction, ranges,
// plaintext and blinder.
func commitment(alg string, o *Opening) (string, error) {
	h, err := newHash(alg)
	if err != nil {
		return "", err
	}
	var n [8]byte
	h.Write([]byte(o.Direction))
	h.Write([]byte{0})
	binary.BigEndian.PutUint64(n[:], uint64(len(o.Ranges)))
	h.Write(n[:])
	for _, r := range o.Ranges {
		binary.BigEndian.PutUint64(n[:], uint64(r.Start))
		h.Write(n[:])
		binary.BigEndian.PutUint64(n[:], uint64(r.End))
		h.Write(n[:])
	}
	binary.BigEndian.PutUint64(n[:], uint64(len(o.Data)))
	h.Write(n[:])
	h.Write(o.Data)
	h.Write(o.Blinder)
	return hex.EncodeToString(h.Sum(nil)), nil
}
