// Package artifact uploads proof artifacts to external object storage and
// hands back an opaque file ID that the ledger records alongside the tree or
// message the artifact authorised.
package artifact

import (
	"context"
	"errors"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Get for an unknown file ID.
var ErrNotFound = errors.New("artifact not found")

// Store is an external artifact store.
type Store interface {
	// Put uploads data and returns its file ID. name is a human-readable
	// hint folded into the object key; it need not be unique.
	Put(ctx context.Context, name, contentType string, data []byte) (string, error)

	// Get downloads a previously stored artifact.
	Get(ctx context.Context, fileID string) ([]byte, error)
}

// objectKey returns a unique key under prefix for an artifact named name.
func objectKey(prefix, name string) string {
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, name)
	if len(name) > 80 {
		name = name[:80]
	}
	key := uuid.New().String()
	if name != "" {
		key += "-" + name
	}
	return path.Join(prefix, key)
}
