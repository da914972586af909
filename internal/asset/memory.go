package asset

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryItem is an in-memory Item. A non-nil Err makes Open fail.
type MemoryItem struct {
	Identifier string
	Data       []byte
	Err        error
}

// ID returns the item identifier.
func (m *MemoryItem) ID() string { return m.Identifier }

// Open returns a reader over Data.
func (m *MemoryItem) Open() (io.ReadCloser, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return io.NopCloser(bytes.NewReader(m.Data)), nil
}

// MemorySource is an append-only Source held in memory.
type MemorySource struct {
	mu    sync.RWMutex
	items []Item
	byID  map[string]Item
}

// NewMemorySource creates a source holding items.
func NewMemorySource(items ...Item) *MemorySource {
	s := &MemorySource{byID: make(map[string]Item)}
	s.Append(items...)
	return s
}

// Append adds items to the end of the collection.
func (s *MemorySource) Append(items ...Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range items {
		s.items = append(s.items, it)
		s.byID[it.ID()] = it
	}
}

// Count returns the number of items.
func (s *MemorySource) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

// Enumerate calls fn for each item in insertion order.
func (s *MemorySource) Enumerate(ctx context.Context, fn func(Item) bool) error {
	s.mu.RLock()
	items := s.items[:len(s.items):len(s.items)]
	s.mu.RUnlock()

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(it) {
			return nil
		}
	}
	return nil
}

// FetchByIdentifiers returns the known items among ids.
func (s *MemorySource) FetchByIdentifiers(ctx context.Context, ids []string) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		if it, ok := s.byID[id]; ok {
			items = append(items, it)
		}
	}
	return items, nil
}
