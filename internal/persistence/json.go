package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"

	"github.com/spf13/afero"
)

const jsonBackend = "json"

// JSONStore keeps the snapshot in a single JSON file.
type JSONStore struct {
	fs   afero.Fs
	path string
}

// NewJSONStore creates a store writing to path on fs.
func NewJSONStore(fs afero.Fs, path string) *JSONStore {
	return &JSONStore{fs: fs, path: path}
}

// Path returns the snapshot file location.
func (s *JSONStore) Path() string { return s.path }

// Save writes the snapshot to a temporary file and renames it over the
// previous one.
func (s *JSONStore) Save(ctx context.Context, snap Snapshot) error {
	start := time.Now()
	err := s.save(ctx, snap)
	metrics.SnapshotSaveDuration.WithLabelValues(jsonBackend).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.SnapshotSavesTotal.WithLabelValues(jsonBackend, "error").Inc()
		return err
	}
	metrics.SnapshotSavesTotal.WithLabelValues(jsonBackend, "success").Inc()
	logging.Debug("Saved snapshot to %s (processed=%d, total=%d)", s.path, snap.Processed, snap.Total)
	return nil
}

func (s *JSONStore) save(ctx context.Context, snap Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, dir, ".scanData-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		logging.Debug("snapshot sync failed for %s: %v", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot. A missing file yields ErrNoSnapshot and an
// unparseable one ErrCorruptSnapshot.
func (s *JSONStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			metrics.SnapshotLoadsTotal.WithLabelValues(jsonBackend, "missing").Inc()
			return nil, ErrNoSnapshot
		}
		metrics.SnapshotLoadsTotal.WithLabelValues(jsonBackend, "error").Inc()
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues(jsonBackend, "corrupt").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if err := snap.validate(); err != nil {
		metrics.SnapshotLoadsTotal.WithLabelValues(jsonBackend, "corrupt").Inc()
		return nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	metrics.SnapshotLoadsTotal.WithLabelValues(jsonBackend, "success").Inc()
	return &snap, nil
}
