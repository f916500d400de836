package service

import (
	"errors"

	"github.com/jmerrifield20/mutualboard/internal/account"
	"github.com/jmerrifield20/mutualboard/internal/claims"
	"github.com/jmerrifield20/mutualboard/internal/ledger"
	"github.com/jmerrifield20/mutualboard/internal/merkle"
	"github.com/jmerrifield20/mutualboard/internal/notary"
)

var (
	// ErrStorage wraps failures of the ledger store.
	ErrStorage = errors.New("storage failure")

	// ErrUpload wraps failures of the artifact store, on upload and on fetch.
	ErrUpload = errors.New("artifact store failure")

	// ErrInvalidInput is returned for requests that are malformed before any
	// proof is looked at.
	ErrInvalidInput = errors.New("invalid input")
)

// IsClientFault reports whether err is a rejection the caller can fix and
// retry, as opposed to an infrastructure failure.
func IsClientFault(err error) bool {
	for _, target := range []error{
		ErrInvalidInput,
		notary.ErrDecode,
		notary.ErrProofInvalid,
		claims.ErrClaimMissing,
		claims.ErrRelationshipNotMutual,
		account.ErrAccountMismatch,
		ledger.ErrTreeNotFound,
		ledger.ErrTreeExists,
		ledger.ErrRootInconsistent,
		merkle.ErrEmptyTree,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
