package notary

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Verifier checks presentations against an injected TrustRoot.
// It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	trust *TrustRoot
}

// NewVerifier creates a Verifier that accepts attestations signed by keys in trust.
func NewVerifier(trust *TrustRoot) *Verifier {
	return &Verifier{trust: trust}
}

// Verify decodes rawHex, checks the attestation signature and every opening,
// and returns the masked received transcript.
func (v *Verifier) Verify(rawHex string) (*Transcript, error) {
	rawHex = strings.TrimSpace(rawHex)
	if len(rawHex) > 2*MaxPresentationSize {
		return nil, fmt.Errorf("%w: presentation exceeds %d bytes", ErrDecode, MaxPresentationSize)
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	var p Presentation
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after presentation", ErrDecode)
	}

	if err := v.verifyAttestation(&p.Attestation); err != nil {
		return nil, err
	}

	hdr := &p.Attestation.Header
	committed := make(map[string]struct{}, len(hdr.Commitments))
	for _, c := range hdr.Commitments {
		committed[strings.ToLower(c)] = struct{}{}
	}

	sent := newBuffer(hdr.SentLen)
	recv := newBuffer(hdr.RecvLen)
	for i := range p.Openings {
		o := &p.Openings[i]
		var buf *buffer
		switch o.Direction {
		case Sent:
			buf = sent
		case Received:
			buf = recv
		default:
			return nil, fmt.Errorf("%w: opening %d: unknown direction %q", ErrProofInvalid, i, o.Direction)
		}

		digest, err := commitment(hdr.HashAlg, o)
		if err != nil {
			return nil, fmt.Errorf("%w: opening %d: %v", ErrProofInvalid, i, err)
		}
		if _, ok := committed[digest]; !ok {
			return nil, fmt.Errorf("%w: opening %d is not covered by the attestation", ErrProofInvalid, i)
		}
		if err := buf.open(o); err != nil {
			return nil, fmt.Errorf("%w: opening %d: %v", ErrProofInvalid, i, err)
		}
	}

	recv.mask()
	return &Transcript{
		ServerName: hdr.ServerName,
		Time:       hdr.Time,
		data:       recv.data,
		authed:     recv.authed,
	}, nil
}

func (v *Verifier) verifyAttestation(a *Attestation) error {
	hdr := &a.Header
	if hdr.Version != Version {
		return fmt.Errorf("%w: unsupported version %d", ErrProofInvalid, hdr.Version)
	}
	pub, ok := v.trust.lookup(hdr.NotaryKeyID)
	if !ok {
		return fmt.Errorf("%w: untrusted notary key %q", ErrProofInvalid, hdr.NotaryKeyID)
	}
	msg, err := hdr.signingBytes()
	if err != nil {
		return fmt.Errorf("%w: encode header: %v", ErrProofInvalid, err)
	}
	if len(a.Signature) != ed25519.SignatureSize || !ed25519.Verify(pub, msg, a.Signature) {
		return fmt.Errorf("%w: attestation signature does not verify", ErrProofInvalid)
	}
	if _, err := newHash(hdr.HashAlg); err != nil {
		return fmt.Errorf("%w: %v", ErrProofInvalid, err)
	}
	if hdr.SentLen < 0 || hdr.SentLen > MaxTranscriptSize || hdr.RecvLen < 0 || hdr.RecvLen > MaxTranscriptSize {
		return fmt.Errorf("%w: transcript length out of bounds", ErrProofInvalid)
	}
	return nil
}

// buffer accumulates revealed bytes for one direction.
type buffer struct {
	data   []byte
	authed []bool
}

func newBuffer(n int) *buffer {
	return &buffer{data: make([]byte, n), authed: make([]bool, n)}
}

func (b *buffer) open(o *Opening) error {
	if len(o.Ranges) == 0 {
		return fmt.Errorf("no ranges")
	}
	total, prevEnd := 0, 0
	for i, r := range o.Ranges {
		if r.Start < 0 || r.End <= r.Start || r.End > len(b.data) {
			return fmt.Errorf("range [%d,%d) outside transcript of %d bytes", r.Start, r.End, len(b.data))
		}
		if i > 0 && r.Start < prevEnd {
			return fmt.Errorf("ranges overlap or are unordered at [%d,%d)", r.Start, r.End)
		}
		prevEnd = r.End
		total += r.Len()
	}
	if total != len(o.Data) {
		return fmt.Errorf("data length %d does not match ranges (%d)", len(o.Data), total)
	}

	off := 0
	for _, r := range o.Ranges {
		for pos := r.Start; pos < r.End; pos++ {
			c := o.Data[off]
			off++
			if b.authed[pos] && b.data[pos] != c {
				return fmt.Errorf("conflicting byte at offset %d", pos)
			}
			b.data[pos] = c
			b.authed[pos] = true
		}
	}
	return nil
}

func (b *buffer) mask() {
	for i, ok := range b.authed {
		if !ok {
			b.data[i] = Sentinel
		}
	}
}
