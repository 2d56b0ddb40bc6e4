package badge

import (
	"sync"
	"time"

	"openbackpack.org/internal/store"
)

// Service runs the assertion lifecycle against a document store.
type Service struct {
	store     store.Store
	envPrefix string
	baseURL   string
	history   bool

	now func() time.Time

	issueLocks keyedMutex
}

// Options configures a Service.
type Options struct {
	// EnvPrefix tags new assertion identifiers with the deployment stage.
	EnvPrefix string
	// BaseURL is the public base for hosted badge/assertion URLs.
	BaseURL string
	// History enables append-only history events on issuance.
	History bool
	// Now overrides the clock (tests). Defaults to time.Now.
	Now func() time.Time
}

// New wires a Service to its store.
func New(st store.Store, opts Options) *Service {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:      st,
		envPrefix:  opts.EnvPrefix,
		baseURL:    opts.BaseURL,
		history:    opts.History,
		now:        now,
		issueLocks: keyedMutex{entries: make(map[string]*lockEntry)},
	}
}

// --- store paths ---

func userPath(id string) string      { return store.Join("users", id) }
func projectPath(id string) string   { return store.Join("projects", id) }
func badgePath(id string) string     { return store.Join("badges", id) }
func issuerPath(id string) string    { return store.Join("issuers", id) }
func coursePath(id string) string    { return store.Join("courses", id) }
func assertionPath(id string) string { return store.Join("assertions", id) }
func revokedPath(id string) string   { return store.Join("revoked", id) }

// keyedMutex serializes issuance per (user, badge class) pair so two
// concurrent Issue calls cannot both pass the duplicate check. Entries are
// refcounted and removed when the last holder unlocks.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
