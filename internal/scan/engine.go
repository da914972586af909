package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/classifier"
	"photo-scanner/internal/fingerprint"
	"photo-scanner/internal/logging"
	"photo-scanner/internal/metrics"
	"photo-scanner/internal/persistence"
	"photo-scanner/internal/workers"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
)

// OthersLabel is the metrics label for items that matched no group.
const OthersLabel = "others"

// ErrScanInProgress is returned when a run is still scanning or draining.
var ErrScanInProgress = errors.New("scan already in progress")

// Saver accepts snapshots for background persistence.
type Saver interface {
	Save(s persistence.Snapshot)
}

// Loader reads the last saved snapshot.
type Loader interface {
	Load(ctx context.Context) (*persistence.Snapshot, error)
}

// batchResult is the classification of one batch, built without locking.
type batchResult struct {
	groups map[classifier.Group][]asset.Item
	others []asset.Item
	count  int
}

// Engine runs resumable, cancellable classification scans.
type Engine struct {
	source     asset.Source
	classifier classifier.Classifier
	loader     Loader
	saver      Saver
	state      *State
	pool       *ants.Pool
	opts       options

	cancelled atomic.Bool

	// mu is the merge point. It guards every field below.
	mu          sync.Mutex
	groups      map[classifier.Group][]asset.Item
	others      []asset.Item
	known       map[string]struct{}
	processed   int
	total       int
	hasState    bool
	running     bool
	runID       string
	done        chan struct{}
	stopRun     context.CancelFunc
	lastPublish time.Time
	lastSave    time.Time
}

// NewEngine creates an Engine. loader may be nil when nothing should be
// restored; saver may be nil to disable persistence.
func NewEngine(source asset.Source, c classifier.Classifier, loader Loader, saver Saver, opts ...Option) (*Engine, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	pool, err := workers.NewPool("scan", o.workers, false)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		source:     source,
		classifier: c,
		loader:     loader,
		saver:      saver,
		state:      NewState(),
		pool:       pool,
		opts:       o,
	}
	e.resetLocked()
	return e, nil
}

// State returns the observable state.
func (e *Engine) State() *State { return e.state }

// Running reports whether a run is scanning or still draining.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Restore loads the last saved snapshot and resolves its identifiers against
// the source. Identifiers the source no longer knows are dropped. A missing
// or corrupt snapshot leaves the state empty.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrScanInProgress
	}
	e.mu.Unlock()

	if e.loader == nil {
		return nil
	}

	snap, err := e.loader.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, persistence.ErrCorruptSnapshot):
		logging.Warn("Ignoring unreadable scan snapshot: %v", err)
		return nil
	case errors.Is(err, persistence.ErrNoSnapshot):
		logging.Info("No saved scan snapshot, starting empty")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		logging.Warn("Failed to load scan snapshot: %v", err)
		return nil
	}

	ids := make([]string, 0, snap.Identifiers())
	for _, group := range snap.Groups {
		ids = append(ids, group...)
	}
	ids = append(ids, snap.Others...)

	items, err := e.source.FetchByIdentifiers(ctx, ids)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logging.Warn("Failed to resolve saved scan items: %v", err)
		return nil
	}
	byID := make(map[string]asset.Item, len(items))
	for _, it := range items {
		byID[it.ID()] = it
	}

	valid := make(map[classifier.Group]bool)
	for _, g := range e.classifier.Groups() {
		valid[g] = true
	}

	groups := make(map[classifier.Group][]asset.Item, len(valid))
	known := make(map[string]struct{}, len(items))
	resolve := func(ids []string) []asset.Item {
		var out []asset.Item
		for _, id := range ids {
			it, ok := byID[id]
			if !ok {
				continue
			}
			if _, dup := known[id]; dup {
				continue
			}
			known[id] = struct{}{}
			out = append(out, it)
		}
		return out
	}
	for name, ids := range snap.Groups {
		g := classifier.Group(name)
		if !valid[g] {
			logging.Debug("Dropping %d saved items from unknown group %q", len(ids), name)
			continue
		}
		if resolved := resolve(ids); len(resolved) > 0 {
			groups[g] = resolved
		}
	}
	others := resolve(snap.Others)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrScanInProgress
	}

	e.groups = groups
	e.others = others
	e.known = known
	e.processed = len(known)
	e.total = max(snap.Total, e.processed)
	e.hasState = true
	e.publishLocked(false)

	logging.Info("Restored scan snapshot: %d of %d saved items resolved (total %d)",
		e.processed, snap.Identifiers(), e.total)
	return nil
}

// Start begins a run in the background. With reset, or when no state has
// been loaded, the state is cleared first; otherwise items already
// classified are skipped. Cancelling ctx cancels the run.
func (e *Engine) Start(ctx context.Context, reset bool) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrScanInProgress
	}
	e.running = true
	e.done = make(chan struct{})
	e.runID = uuid.NewString()
	e.cancelled.Store(false)
	runCtx, stopRun := context.WithCancel(ctx)
	e.stopRun = stopRun
	runID := e.runID
	e.mu.Unlock()

	metrics.ScanRunning.Set(1)
	logging.Info("Scan %s starting (reset=%v)", runID, reset)

	go e.run(runCtx, runID, reset)
	return nil
}

// Cancel stops the current run. Observers see scanning=false immediately;
// workers finish their current item, batches waiting on the throttle give
// up, and the run drains in the background.
func (e *Engine) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked("")
}

// cancelLocked cancels the current run. A non-empty runID limits it to that
// run, so a late context callback cannot stop a newer run.
func (e *Engine) cancelLocked(runID string) {
	if !e.running || e.cancelled.Load() {
		return
	}
	if runID != "" && runID != e.runID {
		return
	}
	e.cancelled.Store(true)
	e.stopRun()
	e.publishLocked(false)
	logging.Info("Scan %s cancelled", e.runID)
}

// Wait blocks until the current run, if any, has fully drained.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any run, waits for it to drain and releases the pool.
func (e *Engine) Close() {
	e.Cancel()
	if err := e.Wait(context.Background()); err != nil {
		logging.Warn("scan engine close: %v", err)
	}
	e.pool.Release()
}

func (e *Engine) run(ctx context.Context, runID string, reset bool) {
	start := time.Now()
	stop := context.AfterFunc(ctx, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.cancelLocked(runID)
	})
	defer stop()

	count, err := e.source.Count(ctx)
	if err != nil {
		if ctx.Err() != nil || e.cancelled.Load() {
			e.finish(runID, start, "cancelled")
			return
		}
		logging.Error("Scan %s: failed to count items: %v", runID, err)
		e.finish(runID, start, "failed")
		return
	}

	e.mu.Lock()
	if reset || !e.hasState {
		e.resetLocked()
	}
	e.hasState = true
	e.mu.Unlock()

	pending, err := e.collectPending(ctx)
	if e.cancelled.Load() || ctx.Err() != nil {
		e.finish(runID, start, "cancelled")
		return
	}
	if err != nil {
		logging.Error("Scan %s: failed to enumerate items: %v", runID, err)
		e.finish(runID, start, "failed")
		return
	}

	e.mu.Lock()
	e.total = max(count, e.processed+len(pending))
	if e.total == 0 || len(pending) == 0 {
		known := e.processed
		e.mu.Unlock()
		logging.Info("Scan %s: nothing to classify (%d items known)", runID, known)
		e.finish(runID, start, "empty")
		return
	}
	now := e.opts.now()
	e.lastPublish = now
	e.lastSave = now
	e.publishLocked(true)
	e.mu.Unlock()

	logging.Info("Scan %s: classifying %d new items of %d", runID, len(pending), count)

	var wg sync.WaitGroup
	for i := 0; i < len(pending); i += e.opts.batchSize {
		if e.cancelled.Load() {
			break
		}
		batch := pending[i:min(i+e.opts.batchSize, len(pending))]

		wg.Add(1)
		task := func() {
			defer wg.Done()
			e.processBatch(ctx, batch)
		}
		if err := e.pool.Submit(task); err != nil {
			logging.Warn("Scan %s: pool rejected batch, running it directly: %v", runID, err)
			go task()
		}
	}
	wg.Wait()

	outcome := "completed"
	if e.cancelled.Load() {
		outcome = "cancelled"
	}
	e.finish(runID, start, outcome)
}

// collectPending enumerates the source and returns the items not yet
// classified. Only the run goroutine writes known before batches start, so
// it is read here without the lock.
func (e *Engine) collectPending(ctx context.Context) ([]asset.Item, error) {
	var pending []asset.Item
	seen := make(map[string]struct{})

	err := e.source.Enumerate(ctx, func(it asset.Item) bool {
		if e.cancelled.Load() {
			return false
		}
		id := it.ID()
		if _, ok := e.known[id]; ok {
			return true
		}
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
		pending = append(pending, it)
		return true
	})
	return pending, err
}

func (e *Engine) processBatch(ctx context.Context, items []asset.Item) {
	if e.cancelled.Load() {
		return
	}
	start := time.Now()
	if e.opts.throttle != nil && !e.opts.throttle.WaitIfPausedContext(ctx) {
		if e.cancelled.Load() || ctx.Err() != nil {
			return
		}
		logging.Debug("Memory monitor stopped while scan batch was waiting")
	}

	result := batchResult{groups: make(map[classifier.Group][]asset.Item)}
	for _, it := range items {
		if e.cancelled.Load() {
			break
		}
		e.classify(it, &result)
	}

	e.merge(&result)
	metrics.ScanBatchDuration.Observe(time.Since(start).Seconds())
}

// classify adds one item to result. Items that cannot be read are kept with
// those matching no group so they are never lost.
func (e *Engine) classify(it asset.Item, result *batchResult) {
	result.count++

	fp, err := fingerprint.Compute(it)
	if err != nil {
		metrics.ScanFingerprintErrors.Inc()
		logging.Warn("Failed to fingerprint %s: %v", it.ID(), err)
		result.others = append(result.others, it)
		return
	}

	if g, ok := e.classifier.Classify(fp); ok {
		result.groups[g] = append(result.groups[g], it)
		return
	}
	result.others = append(result.others, it)
}

// merge folds a batch into the shared state and, unless the run was
// cancelled, publishes and saves when their intervals have elapsed.
func (e *Engine) merge(result *batchResult) {
	if result.count == 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for g, items := range result.groups {
		e.groups[g] = append(e.groups[g], items...)
		for _, it := range items {
			e.known[it.ID()] = struct{}{}
		}
		metrics.ScanItemsClassified.WithLabelValues(string(g)).Add(float64(len(items)))
	}
	e.others = append(e.others, result.others...)
	for _, it := range result.others {
		e.known[it.ID()] = struct{}{}
	}
	metrics.ScanItemsClassified.WithLabelValues(OthersLabel).Add(float64(len(result.others)))

	e.processed += result.count
	metrics.ScanItemsProcessed.Add(float64(result.count))

	if e.cancelled.Load() {
		return
	}

	now := e.opts.now()
	if now.Sub(e.lastPublish) > e.opts.publishInterval {
		e.publishLocked(true)
		e.lastPublish = now
	}
	if now.Sub(e.lastSave) > e.opts.saveInterval {
		e.saveLocked()
		e.lastSave = now
	}
}

// finish ends the run. A completed run publishes its final state; every run
// that got past counting saves what it merged.
func (e *Engine) finish(runID string, start time.Time, outcome string) {
	e.mu.Lock()
	switch outcome {
	case "completed", "empty":
		e.publishLocked(false)
		e.saveLocked()
	case "cancelled":
		e.saveLocked()
	case "failed":
		e.publishLocked(false)
	}
	processed, total := e.processed, e.total
	e.running = false
	e.stopRun()
	done := e.done
	e.mu.Unlock()

	duration := time.Since(start)
	metrics.ScanRunsTotal.WithLabelValues(outcome).Inc()
	metrics.ScanLastRunDuration.Set(duration.Seconds())
	metrics.ScanRunning.Set(0)

	logging.Info("Scan %s %s in %v: %d/%d processed", runID, outcome, duration, processed, total)
	close(done)
}

// resetLocked clears the accumulated state.
func (e *Engine) resetLocked() {
	e.groups = make(map[classifier.Group][]asset.Item)
	e.others = nil
	e.known = make(map[string]struct{})
	e.processed = 0
	e.total = 0
}

// publishLocked hands a copy of the state to observers. Slices are clipped
// so later appends never show through.
func (e *Engine) publishLocked(scanning bool) {
	groups := make(map[classifier.Group][]asset.Item, len(e.groups))
	for g, items := range e.groups {
		groups[g] = items[:len(items):len(items)]
	}

	progress := 0.0
	if e.total > 0 {
		progress = min(float64(e.processed)/float64(e.total), 1)
	}

	e.state.publish(Snapshot{
		RunID:     e.runID,
		Groups:    groups,
		Others:    e.others[:len(e.others):len(e.others)],
		Processed: e.processed,
		Total:     e.total,
		Progress:  progress,
		Scanning:  scanning,
	})
	metrics.ScanPublishesTotal.Inc()
}

// saveLocked queues a snapshot of the state for the background writer.
func (e *Engine) saveLocked() {
	if e.saver == nil {
		return
	}

	snap := persistence.Snapshot{
		Processed: e.processed,
		Total:     e.total,
		Groups:    make(map[string][]string, len(e.groups)),
		Others:    asset.IDs(e.others),
	}
	for g, items := range e.groups {
		snap.Groups[string(g)] = asset.IDs(items)
	}
	e.saver.Save(snap)
}

// String describes the engine for logs.
func (e *Engine) String() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fmt.Sprintf("scan.Engine{processed=%d total=%d running=%v}", e.processed, e.total, e.running)
}
