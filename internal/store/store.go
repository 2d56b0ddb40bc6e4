// Package store defines the hierarchical key-path document store the
// lifecycle engine runs against. Paths are slash-joined segments, e.g.
// "users/<id>" or "users/<id>/badges/<badgeClassId>". The store owns all
// persistent entities; the engine keeps no state across requests.
package store

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when no document exists at the requested path.
var ErrNotFound = errors.New("store: not found")

// Store is the read/write/push-new-key contract every backend implements.
// Values are marshalled to and from JSON; dst in Get must be a pointer.
type Store interface {
	// Get reads the document (or sub-document) at path into dst.
	Get(ctx context.Context, path string, dst any) error
	// Set writes value at path, replacing whatever was there.
	Set(ctx context.Context, path string, value any) error
	// Push reserves a new unique child key under path. When value is nil
	// only the key is generated; nothing is written.
	Push(ctx context.Context, path string, value any) (string, error)
	// Delete removes the document at path. Deleting a missing path is a no-op.
	Delete(ctx context.Context, path string) error
}

// Join builds a slash-separated path from non-empty segments.
func Join(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "/")
}

func split(path string) []string {
	var out []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
