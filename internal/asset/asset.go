package asset

import (
	"context"
	"io"
)

// Item is an opaque handle to one media item. Implementations are immutable
// and safe for concurrent use; bytes are read lazily through Open.
type Item interface {
	// ID returns the stable identifier of the item within its source.
	ID() string
	// Open returns a reader over the item's raw bytes.
	Open() (io.ReadCloser, error)
}

// Source enumerates an append-only collection of items.
type Source interface {
	// Count returns the number of items currently in the collection.
	Count(ctx context.Context) (int, error)
	// Enumerate calls fn for every item, in a stable order, until fn returns
	// false or the collection is exhausted. Each call is a fresh pass.
	Enumerate(ctx context.Context, fn func(Item) bool) error
	// FetchByIdentifiers resolves identifiers to items. Unknown identifiers
	// are skipped and the result order is not guaranteed to match ids.
	FetchByIdentifiers(ctx context.Context, ids []string) ([]Item, error)
}

// IDs returns the identifiers of items in order.
func IDs(items []Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID()
	}
	return ids
}

// SameIDs reports whether a and b hold the same identifiers in the same order.
func SameIDs(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID() != b[i].ID() {
			return false
		}
	}
	return true
}
