// Package account binds a verified identity handle to an on-ledger account hash.
package account

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// ErrAccountMismatch is returned when the handle does not hash to the claimed account.
var ErrAccountMismatch = errors.New("identity does not match account")

// Hash returns hex(SHA-256(handle)). The handle is hashed exactly as given.
func Hash(handle string) string {
	sum := sha256.Sum256([]byte(handle))
	return hex.EncodeToString(sum[:])
}

// Bind succeeds only if Hash(handle) equals claimed byte for byte.
func Bind(handle, claimed string) error {
	derived := Hash(handle)
	if subtle.ConstantTimeCompare([]byte(derived), []byte(claimed)) != 1 {
		return ErrAccountMismatch
	}
	return nil
}
