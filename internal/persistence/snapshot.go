package persistence

import (
	"context"
	"errors"
	"fmt"
)

// DefaultFileName is the snapshot file name inside the data directory.
const DefaultFileName = "scanData.json"

var (
	// ErrNoSnapshot is returned by Load when nothing has been saved yet.
	ErrNoSnapshot = errors.New("no saved snapshot")

	// ErrCorruptSnapshot is returned by Load when the saved data cannot be
	// parsed. It wraps ErrNoSnapshot so callers may treat both alike.
	ErrCorruptSnapshot = fmt.Errorf("corrupt snapshot: %w", ErrNoSnapshot)
)

// Snapshot is the saved form of a scan state.
type Snapshot struct {
	Processed int                 `json:"processed"`
	Total     int                 `json:"total"`
	Groups    map[string][]string `json:"groups"`
	Others    []string            `json:"others"`
}

// Store saves and loads snapshots. Save overwrites any previous snapshot.
type Store interface {
	Save(ctx context.Context, s Snapshot) error
	Load(ctx context.Context) (*Snapshot, error)
}

// Identifiers returns the number of identifiers held by the snapshot.
func (s *Snapshot) Identifiers() int {
	n := len(s.Others)
	for _, ids := range s.Groups {
		n += len(ids)
	}
	return n
}

func (s *Snapshot) validate() error {
	if s.Processed < 0 || s.Total < 0 {
		return fmt.Errorf("negative counters processed=%d total=%d", s.Processed, s.Total)
	}
	for name := range s.Groups {
		if name == "" {
			return fmt.Errorf("empty group name")
		}
	}
	return nil
}
