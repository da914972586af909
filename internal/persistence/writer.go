package persistence

import (
	"context"
	"sync"
	"time"

	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"
)

// saveTimeout bounds a single background write.
const saveTimeout = 30 * time.Second

// Writer saves snapshots in the background. Save never blocks on I/O; a
// single goroutine drains the pending snapshot until none is left.
type Writer struct {
	store Store

	mu      sync.Mutex
	pending *Snapshot
	running bool
	idle    chan struct{}
	lastErr error
}

// NewWriter creates a Writer in front of store.
func NewWriter(store Store) *Writer {
	return &Writer{store: store}
}

// Store returns the underlying store.
func (w *Writer) Store() Store { return w.store }

// Save queues snap for writing. If an older snapshot is still queued it is
// replaced, since snap supersedes it.
func (w *Writer) Save(snap Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		metrics.SnapshotSavesCoalesced.Inc()
	}
	w.pending = &snap

	if !w.running {
		w.running = true
		w.idle = make(chan struct{})
		go w.run()
	}
}

func (w *Writer) run() {
	for {
		w.mu.Lock()
		snap := w.pending
		w.pending = nil
		if snap == nil {
			w.running = false
			close(w.idle)
			w.mu.Unlock()
			return
		}
		w.mu.Unlock()

		err := w.write(*snap)

		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
	}
}

func (w *Writer) write(snap Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.store.Save(ctx, snap); err != nil {
		logging.Error("Failed to save scan snapshot: %v", err)
		return err
	}
	return nil
}

// Flush waits until every queued snapshot has been written, or ctx is done.
// It returns the error of the last write, if any.
func (w *Writer) Flush(ctx context.Context) error {
	for {
		w.mu.Lock()
		if !w.running {
			err := w.lastErr
			w.mu.Unlock()
			return err
		}
		idle := w.idle
		w.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
