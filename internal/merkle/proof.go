package merkle

import (
	"encoding/hex"
	"fmt"
)

// Proof is an audit path: the sibling digests from the leaf level upwards.
// Levels where the node had no sibling contribute nothing.
type Proof []Digest

// Encode serialises the proof as the concatenation of its sibling digests.
func (p Proof) Encode() []byte {
	out := make([]byte, 0, len(p)*DigestSize)
	for _, d := range p {
		out = append(out, d[:]...)
	}
	return out
}

// Hex returns the hex encoding of Encode.
func (p Proof) Hex() string {
	return hex.EncodeToString(p.Encode())
}

// DecodeProof parses the output of Proof.Encode.
func DecodeProof(b []byte) (Proof, error) {
	if len(b)%DigestSize != 0 {
		return nil, fmt.Errorf("proof length %d is not a multiple of %d", len(b), DigestSize)
	}
	if len(b) == 0 {
		return nil, nil
	}
	p := make(Proof, len(b)/DigestSize)
	for i := range p {
		copy(p[i][:], b[i*DigestSize:(i+1)*DigestSize])
	}
	return p, nil
}

// DecodeProofHex parses the output of Proof.Hex.
func DecodeProofHex(s string) (Proof, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return DecodeProof(b)
}
