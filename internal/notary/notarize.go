package notary

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"
)

// Session is a plaintext TLS transcript before notarization.
type Session struct {
	ServerName string
	Sent       []byte
	Received   []byte
}

// Reveal selects which ranges of each direction become openings.
type Reveal struct {
	Sent     []Range
	Received []Range
}

// Notary signs attestations over sessions. It is used by the operator CLI and
// by tests to produce presentations a Verifier with the matching key accepts.
type Notary struct {
	keyID   string
	key     ed25519.PrivateKey
	hashAlg string
	now     func() time.Time
}

// NewNotary creates a Notary signing with key under keyID using SHA-256 commitments.
func NewNotary(keyID string, key ed25519.PrivateKey) *Notary {
	return &Notary{keyID: keyID, key: key, hashAlg: HashSHA256, now: time.Now}
}

// WithHashAlg returns a copy of n committing with alg.
func (n *Notary) WithHashAlg(alg string) *Notary {
	cp := *n
	cp.hashAlg = alg
	return &cp
}

// Notarize commits to each revealed range separately, signs the header and
// returns the resulting presentation.
func (n *Notary) Notarize(s Session, r Reveal) (*Presentation, error) {
	hdr := Header{
		Version:     Version,
		NotaryKeyID: n.keyID,
		ServerName:  s.ServerName,
		Time:        n.now().UTC().Unix(),
		HashAlg:     n.hashAlg,
		SentLen:     len(s.Sent),
		RecvLen:     len(s.Received),
	}

	var openings []Opening
	add := func(dir Direction, src []byte, ranges []Range) error {
		for _, rg := range ranges {
			if rg.Start < 0 || rg.End > len(src) || rg.End <= rg.Start {
				return fmt.Errorf("reveal range [%d,%d) outside %s transcript", rg.Start, rg.End, dir)
			}
			blinder := make([]byte, 16)
			if _, err := rand.Read(blinder); err != nil {
				return fmt.Errorf("generate blinder: %w", err)
			}
			o := Opening{
				Direction: dir,
				Ranges:    []Range{rg},
				Data:      append([]byte(nil), src[rg.Start:rg.End]...),
				Blinder:   blinder,
			}
			c, err := commitment(n.hashAlg, &o)
			if err != nil {
				return err
			}
			hdr.Commitments = append(hdr.Commitments, c)
			openings = append(openings, o)
		}
		return nil
	}
	if err := add(Sent, s.Sent, r.Sent); err != nil {
		return nil, err
	}
	if err := add(Received, s.Received, r.Received); err != nil {
		return nil, err
	}

	msg, err := hdr.signingBytes()
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	return &Presentation{
		Attestation: Attestation{Header: hdr, Signature: ed25519.Sign(n.key, msg)},
		Openings:    openings,
	}, nil
}
