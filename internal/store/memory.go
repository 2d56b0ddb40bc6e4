package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"openbackpack.org/internal/ids"
)

// InMemory implements Store with in-process concurrency safety.
// Used by tests and by demo mode when no DSN is configured.
type InMemory struct {
	mu   sync.RWMutex
	root map[string]any
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty document tree.
func NewInMemory() *InMemory {
	return &InMemory{root: make(map[string]any)}
}

func (s *InMemory) Get(ctx context.Context, path string, dst any) error {
	segments := split(path)
	if len(segments) == 0 {
		return errors.New("store: empty path")
	}

	s.mu.RLock()
	node, ok := lookup(s.root, segments)
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	// JSON round-trip keeps backends interchangeable: callers always see
	// what they would have read back from a real document store.
	raw, err := json.Marshal(node)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func (s *InMemory) Set(ctx context.Context, path string, value any) error {
	segments := split(path)
	if len(segments) == 0 {
		return errors.New("store: empty path")
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := parent[seg].(map[string]any)
		if !ok {
			child = make(map[string]any)
			parent[seg] = child
		}
		parent = child
	}
	parent[segments[len(segments)-1]] = node
	return nil
}

func (s *InMemory) Push(ctx context.Context, path string, value any) (string, error) {
	key := ids.New()
	if value == nil {
		return key, nil
	}
	return key, s.Set(ctx, Join(path, key), value)
}

func (s *InMemory) Delete(ctx context.Context, path string) error {
	segments := split(path)
	if len(segments) == 0 {
		return errors.New("store: empty path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := parent[seg].(map[string]any)
		if !ok {
			return nil
		}
		parent = child
	}
	delete(parent, segments[len(segments)-1])
	return nil
}

func lookup(node map[string]any, segments []string) (any, bool) {
	var cur any = node
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
