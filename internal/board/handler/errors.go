package handler

import (
	"errors"
	"net/http"

	"github.com/jmerrifield20/mutualboard/internal/account"
	"github.com/jmerrifield20/mutualboard/internal/board/service"
	"github.com/jmerrifield20/mutualboard/internal/claims"
	"github.com/jmerrifield20/mutualboard/internal/ledger"
	"github.com/jmerrifield20/mutualboard/internal/notary"
)

// StatusFor maps a service error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrTreeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrTreeExists), errors.Is(err, ledger.ErrRootInconsistent):
		return http.StatusConflict
	case errors.Is(err, service.ErrUpload):
		return http.StatusBadGateway
	case service.IsClientFault(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// appendResult labels a failed append for metrics.
func appendResult(err error) string {
	switch {
	case errors.Is(err, ledger.ErrRootInconsistent):
		return "conflict"
	case service.IsClientFault(err):
		return "rejected"
	default:
		return "error"
	}
}

// proofRejectionReason labels a failed proof check, or returns "" when err
// is not a proof failure.
func proofRejectionReason(err error) string {
	switch {
	case errors.Is(err, notary.ErrDecode):
		return "decode"
	case errors.Is(err, notary.ErrProofInvalid):
		return "invalid"
	case errors.Is(err, claims.ErrRelationshipNotMutual):
		return "not_mutual"
	case errors.Is(err, claims.ErrClaimMissing):
		return "claim_missing"
	case errors.Is(err, account.ErrAccountMismatch):
		return "account_mismatch"
	}
	return ""
}
