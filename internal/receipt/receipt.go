// Package receipt issues signed tree-head receipts. A receipt is an EdDSA JWT
// binding an account hash to the Merkle root and leaf count the board
// committed, so a poster can later prove what the board acknowledged.
package receipt

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Issuer is the default "iss" claim.
const Issuer = "mutualboard"

// ErrInvalid is returned when a receipt fails verification.
var ErrInvalid = errors.New("invalid receipt")

// Claims are the JWT claims of a tree-head receipt.
type Claims struct {
	jwt.RegisteredClaims
	AccountHash string `json:"account_hash"`
	Root        string `json:"root"`
	Size        int    `json:"size"`
}

// Signer signs receipts with an Ed25519 key.
type Signer struct {
	key    ed25519.PrivateKey
	issuer string
	now    func() time.Time
}

// NewSigner creates a Signer. An empty issuer falls back to Issuer.
func NewSigner(key ed25519.PrivateKey, issuer string) *Signer {
	if issuer == "" {
		issuer = Issuer
	}
	return &Signer{key: key, issuer: issuer, now: time.Now}
}

// GenerateSigner creates a Signer with a fresh random key.
func GenerateSigner(issuer string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate receipt key: %w", err)
	}
	return NewSigner(priv, issuer), nil
}

// ParseSeed decodes a hex-encoded 32-byte Ed25519 seed.
func ParseSeed(seedHex string) (ed25519.PrivateKey, error) {
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode receipt seed: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("receipt seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Sign issues a receipt for the tree head (root, size) of accountHash.
func (s *Signer) Sign(accountHash, root string, size int) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   s.issuer,
			Subject:  accountHash,
			IssuedAt: jwt.NewNumericDate(s.now().UTC()),
			ID:       uuid.New().String(),
		},
		AccountHash: accountHash,
		Root:        root,
		Size:        size,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign receipt: %w", err)
	}
	return signed, nil
}

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.key.Public().(ed25519.PublicKey) }

// PublicKeyHex returns the verification key as hex.
func (s *Signer) PublicKeyHex() string { return hex.EncodeToString(s.PublicKey()) }

// Verifier checks receipts against a known public key.
type Verifier struct {
	pub    ed25519.PublicKey
	issuer string
}

// NewVerifier creates a Verifier. An empty issuer falls back to Issuer.
func NewVerifier(pub ed25519.PublicKey, issuer string) *Verifier {
	if issuer == "" {
		issuer = Issuer
	}
	return &Verifier{pub: pub, issuer: issuer}
}

// ParseVerifier builds a Verifier from a hex-encoded public key.
func ParseVerifier(pubHex, issuer string) (*Verifier, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return nil, fmt.Errorf("decode receipt public key: %w", err)
	}
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("receipt public key must be %d bytes, got %d", ed25519.PublicKeySize, len(pub))
	}
	return NewVerifier(ed25519.PublicKey(pub), issuer), nil
}

// Verify parses and validates a receipt, returning its claims on success.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return v.pub, nil
		},
		jwt.WithIssuer(v.issuer),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Subject != claims.AccountHash {
		return nil, fmt.Errorf("%w: subject does not match account hash", ErrInvalid)
	}
	return claims, nil
}
