// Package merkle implements the binary Merkle construction used by the
// message ledger, together with inclusion proofs over it.
//
// Interior nodes are SHA-256(left || right). When a level has an odd number
// of nodes the last one is promoted to the next level unchanged, so a tree of
// one leaf has that leaf as its root. Proofs therefore depend on the total
// leaf count at generation time; a proof is only guaranteed to verify against
// the root of the tree size it was produced for.
package merkle

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// DigestSize is the byte length of every leaf and node hash.
const DigestSize = sha256.Size

// ErrEmptyTree is returned when a root is requested over zero leaves.
var ErrEmptyTree = errors.New("merkle tree has no leaves")

// ErrIndexOutOfRange is returned when a proof is requested for a missing leaf.
var ErrIndexOutOfRange = errors.New("leaf index out of range")

// Digest is a single SHA-256 node value.
type Digest [DigestSize]byte

// Hex returns the lowercase hex encoding of d.
func (d Digest) Hex() string {
	return hex.EncodeToString(d[:])
}

// HashContent returns the leaf digest for an opaque piece of content.
func HashContent(data []byte) Digest {
	return sha256.Sum256(data)
}

// DigestFromHex parses a 64-character hex string into a Digest.
func DigestFromHex(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("decode digest: %w", err)
	}
	if len(b) != DigestSize {
		return d, fmt.Errorf("digest must be %d bytes, got %d", DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func hashPair(left, right Digest) Digest {
	var buf [2 * DigestSize]byte
	copy(buf[:DigestSize], left[:])
	copy(buf[DigestSize:], right[:])
	return sha256.Sum256(buf[:])
}

// nextLevel reduces one level of the tree to its parent level.
func nextLevel(level []Digest) []Digest {
	parents := make([]Digest, 0, (len(level)+1)/2)
	for i := 0; i < len(level); i += 2 {
		if i+1 == len(level) {
			parents = append(parents, level[i])
			continue
		}
		parents = append(parents, hashPair(level[i], level[i+1]))
	}
	return parents
}

// Root returns the root over leaves in order.
func Root(leaves []Digest) (Digest, error) {
	if len(leaves) == 0 {
		return Digest{}, ErrEmptyTree
	}
	level := leaves
	for len(level) > 1 {
		level = nextLevel(level)
	}
	return level[0], nil
}

// ProofFor returns the inclusion proof for leaves[index] against Root(leaves).
func ProofFor(leaves []Digest, index int) (Proof, error) {
	if index < 0 || index >= len(leaves) {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(leaves))
	}

	var proof Proof
	level := leaves
	idx := index
	for len(level) > 1 {
		sibling := idx ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		level = nextLevel(level)
		idx /= 2
	}
	return proof, nil
}

// AppendAndProve builds the tree over existing plus leaf, and returns the new
// root, the inclusion proof for leaf, and its index.
func AppendAndProve(existing []Digest, leaf Digest) (Digest, Proof, int, error) {
	leaves := make([]Digest, len(existing), len(existing)+1)
	copy(leaves, existing)
	leaves = append(leaves, leaf)
	index := len(existing)

	root, err := Root(leaves)
	if err != nil {
		return Digest{}, nil, 0, err
	}
	proof, err := ProofFor(leaves, index)
	if err != nil {
		return Digest{}, nil, 0, err
	}
	return root, proof, index, nil
}

// Verify reports whether proof shows leaf at index in a tree of total leaves
// with the given root. Every sibling in proof must be consumed.
func Verify(root Digest, index int, leaf Digest, proof Proof, total int) bool {
	if total <= 0 || index < 0 || index >= total {
		return false
	}

	node := leaf
	idx, width := index, total
	used := 0
	for width > 1 {
		if idx^1 < width {
			if used >= len(proof) {
				return false
			}
			if idx%2 == 0 {
				node = hashPair(node, proof[used])
			} else {
				node = hashPair(proof[used], node)
			}
			used++
		}
		idx /= 2
		width = (width + 1) / 2
	}
	return used == len(proof) && node == root
}
