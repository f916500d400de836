// Package claims extracts the identity handle and relationship flags from a
// masked session transcript.
//
// The transcript is untrusted input. The response body is parsed as JSON and
// the claims are read from a single object: the first one, in document order
// of completion, that carries a screen_name member. Every byte from the start
// of the body to the end of that object must be authenticated by the notary.
// A redacted byte anywhere in that span fails extraction, so hiding whole
// members cannot move the handle or the flags to another object.
package claims

import (
	"errors"
	"fmt"

	"github.com/jmerrifield20/mutualboard/internal/notary"
)

// MaxHandleLen bounds the accepted screen name length.
const MaxHandleLen = 64

const (
	keyScreenName = "screen_name"
	keyFollowedBy = "followed_by"
	keyFollowing  = "following"
)

var (
	// ErrClaimMissing is the parent of every "required claim absent" error.
	ErrClaimMissing = errors.New("required claim missing")

	// ErrIdentityMissing is returned when no authenticated screen name is present.
	ErrIdentityMissing = fmt.Errorf("identity handle: %w", ErrClaimMissing)

	// ErrRelationshipNotMutual is returned unless the object holding the
	// handle also holds followed_by and following, each exactly once and each
	// an authenticated true.
	ErrRelationshipNotMutual = errors.New("relationship is not mutual")
)

// Claims are the facts extracted from a transcript.
type Claims struct {
	ScreenName string
	FollowedBy bool
	Following  bool
}

// Extract requires a mutual relationship and an identity handle, both read
// from the same object.
func Extract(t *notary.Transcript) (*Claims, error) {
	obj, afterHandle, err := claimObject(t)
	if err != nil {
		if afterHandle {
			return nil, fmt.Errorf("%w: %v", ErrRelationshipNotMutual, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrIdentityMissing, err)
	}
	handle, err := obj.handle()
	if err != nil {
		return nil, err
	}
	for _, key := range []string{keyFollowedBy, keyFollowing} {
		if err := obj.flag(key); err != nil {
			return nil, err
		}
	}
	return &Claims{ScreenName: handle, FollowedBy: true, Following: true}, nil
}

// ExtractIdentity requires only the identity handle. It is used for the
// account-ownership proof, which carries no relationship.
func ExtractIdentity(t *notary.Transcript) (string, error) {
	obj, _, err := claimObject(t)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIdentityMissing, err)
	}
	return obj.handle()
}

// handle returns the single screen_name member as a plain string of
// 1..MaxHandleLen bytes.
func (o *object) handle() (string, error) {
	ms := o.lookup(keyScreenName)
	switch {
	case len(ms) != 1:
		return "", fmt.Errorf("%w: screen_name appears %d times", ErrIdentityMissing, len(ms))
	case ms[0].kind != kindString:
		return "", fmt.Errorf("%w: value is not a string", ErrIdentityMissing)
	case ms[0].escaped:
		return "", fmt.Errorf("%w: unsupported character in value", ErrIdentityMissing)
	case len(ms[0].str) == 0 || len(ms[0].str) > MaxHandleLen:
		return "", fmt.Errorf("%w: value is empty or too long", ErrIdentityMissing)
	}
	return ms[0].str, nil
}

func (o *object) flag(key string) error {
	ms := o.lookup(key)
	switch {
	case len(ms) == 0:
		return fmt.Errorf("%w: %s absent", ErrRelationshipNotMutual, key)
	case len(ms) > 1:
		return fmt.Errorf("%w: %s appears %d times", ErrRelationshipNotMutual, key, len(ms))
	case ms[0].kind != kindTrue:
		return fmt.Errorf("%w: %s is not true", ErrRelationshipNotMutual, key)
	}
	return nil
}
