package ids

import (
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier suitable for storage keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Prefixed returns a new identifier carrying a deployment-stage tag,
// e.g. "dev-01H...". An empty prefix yields a bare identifier.
func Prefixed(prefix string) string {
	id := New()
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}
