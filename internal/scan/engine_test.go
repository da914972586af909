package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"photo-scanner/internal/asset"
	"photo-scanner/internal/classifier"
	"photo-scanner/internal/fingerprint"
	"photo-scanner/internal/metrics"
	"photo-scanner/internal/persistence"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
)

// recordingSaver keeps every snapshot handed to it.
type recordingSaver struct {
	mu    sync.Mutex
	saved []persistence.Snapshot
}

func (r *recordingSaver) Save(s persistence.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func (r *recordingSaver) last() persistence.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saved[len(r.saved)-1]
}

// gatedItem blocks in Open until its gate is closed.
type gatedItem struct {
	id     string
	gate   <-chan struct{}
	opened chan<- string
}

func (g *gatedItem) ID() string { return g.id }

func (g *gatedItem) Open() (io.ReadCloser, error) {
	if g.opened != nil {
		g.opened <- g.id
	}
	<-g.gate
	return io.NopCloser(strings.NewReader(g.id)), nil
}

func newItems(prefix string, n int) []asset.Item {
	items := make([]asset.Item, n)
	for i := range items {
		id := fmt.Sprintf("%s-%04d", prefix, i)
		items[i] = &asset.MemoryItem{Identifier: id, Data: []byte(id)}
	}
	return items
}

func mod3(t *testing.T) *classifier.ModuloClassifier {
	t.Helper()
	c, err := classifier.NewModulo(3, "A", "B")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestEngine(t *testing.T, src asset.Source, loader Loader, saver Saver, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithWorkers(4)}, opts...)
	e, err := NewEngine(src, mod3(t), loader, saver, opts...)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func runToCompletion(t *testing.T, e *Engine, reset bool) Snapshot {
	t.Helper()
	if err := e.Start(context.Background(), reset); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return e.State().Snapshot()
}

// checkPartition verifies every identifier appears exactly once and the
// counters agree with the buckets.
func checkPartition(t *testing.T, snap Snapshot) map[string]string {
	t.Helper()
	where := make(map[string]string)
	for g, items := range snap.Groups {
		for _, it := range items {
			if prev, dup := where[it.ID()]; dup {
				t.Errorf("%s in both %s and %s", it.ID(), prev, g)
			}
			where[it.ID()] = string(g)
		}
	}
	for _, it := range snap.Others {
		if prev, dup := where[it.ID()]; dup {
			t.Errorf("%s in both %s and others", it.ID(), prev)
		}
		where[it.ID()] = OthersLabel
	}
	if snap.Processed != len(where) {
		t.Errorf("Processed = %d, but %d items are classified", snap.Processed, len(where))
	}
	if snap.Processed > snap.Total {
		t.Errorf("Processed %d > Total %d", snap.Processed, snap.Total)
	}
	return where
}

func TestEngineClassifiesEveryItem(t *testing.T) {
	items := newItems("img", 250)
	saver := &recordingSaver{}
	e := newTestEngine(t, asset.NewMemorySource(items...), nil, saver)

	snap := runToCompletion(t, e, false)

	if snap.Scanning {
		t.Error("Scanning should be false after completion")
	}
	if snap.Processed != 250 || snap.Total != 250 {
		t.Errorf("Processed/Total = %d/%d, want 250/250", snap.Processed, snap.Total)
	}
	if snap.Progress != 1 {
		t.Errorf("Progress = %v, want 1", snap.Progress)
	}
	if snap.RunID == "" {
		t.Error("RunID should be set")
	}

	where := checkPartition(t, snap)
	c := mod3(t)
	for _, it := range items {
		want := OthersLabel
		if g, ok := c.Classify(fingerprint.FromBytes([]byte(it.ID()))); ok {
			want = string(g)
		}
		if where[it.ID()] != want {
			t.Errorf("%s classified as %q, want %q", it.ID(), where[it.ID()], want)
		}
	}

	if saver.count() == 0 {
		t.Fatal("completed run was not saved")
	}
	if last := saver.last(); last.Processed != 250 || last.Identifiers() != 250 {
		t.Errorf("last save = %d processed, %d identifiers", last.Processed, last.Identifiers())
	}
}

func TestEngineRescanIsIdempotent(t *testing.T) {
	e := newTestEngine(t, asset.NewMemorySource(newItems("img", 250)...), nil, nil)

	first := runToCompletion(t, e, false)
	second := runToCompletion(t, e, false)

	if second.Processed != 250 || second.Total != 250 {
		t.Errorf("Processed/Total = %d/%d after rescan", second.Processed, second.Total)
	}
	for g, items := range first.Groups {
		if !asset.SameIDs(items, second.Groups[g]) {
			t.Errorf("group %s changed on rescan", g)
		}
	}
	if !asset.SameIDs(first.Others, second.Others) {
		t.Error("others changed on rescan")
	}
}

func TestEngineResumesWithNewItems(t *testing.T) {
	src := asset.NewMemorySource(newItems("old", 120)...)
	e := newTestEngine(t, src, nil, nil)

	first := runToCompletion(t, e, false)

	src.Append(newItems("new", 30)...)
	second := runToCompletion(t, e, false)

	if second.Processed != 150 || second.Total != 150 {
		t.Errorf("Processed/Total = %d/%d, want 150/150", second.Processed, second.Total)
	}
	checkPartition(t, second)

	for g, items := range first.Groups {
		got := second.Groups[g]
		if len(got) < len(items) || !asset.SameIDs(items, got[:len(items)]) {
			t.Errorf("prior classification of group %s was not preserved", g)
		}
	}
}

func TestEngineReset(t *testing.T) {
	e := newTestEngine(t, asset.NewMemorySource(newItems("img", 40)...), nil, nil)
	runToCompletion(t, e, false)

	snap := runToCompletion(t, e, true)
	if snap.Processed != 40 {
		t.Errorf("Processed = %d after reset, want 40", snap.Processed)
	}
	checkPartition(t, snap)
}

func TestEngineEmptySource(t *testing.T) {
	saver := &recordingSaver{}
	e := newTestEngine(t, asset.NewMemorySource(), nil, saver)

	snap := runToCompletion(t, e, false)
	if snap.Scanning || snap.Processed != 0 || snap.Total != 0 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Progress != 0 {
		t.Errorf("Progress = %v, want 0", snap.Progress)
	}
}

func TestEngineUnreadableItemGoesToOthers(t *testing.T) {
	bad := &asset.MemoryItem{Identifier: "broken", Err: errors.New("io error")}
	items := append(newItems("img", 5), bad)
	e := newTestEngine(t, asset.NewMemorySource(items...), nil, nil)

	snap := runToCompletion(t, e, false)
	where := checkPartition(t, snap)
	if where["broken"] != OthersLabel {
		t.Errorf("broken item classified as %q, want others", where["broken"])
	}
	if snap.Processed != 6 {
		t.Errorf("Processed = %d, want 6", snap.Processed)
	}
}

func TestEngineRejectsConcurrentStart(t *testing.T) {
	gate := make(chan struct{})
	opened := make(chan string, 1)
	src := asset.NewMemorySource(&gatedItem{id: "slow", gate: gate, opened: opened})
	e := newTestEngine(t, src, nil, nil)

	if err := e.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	<-opened

	if err := e.Start(context.Background(), false); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("second Start() error = %v, want ErrScanInProgress", err)
	}
	if err := e.Restore(context.Background()); !errors.Is(err, ErrScanInProgress) {
		t.Errorf("Restore() during scan error = %v, want ErrScanInProgress", err)
	}

	close(gate)
	if err := e.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e.Running() {
		t.Error("engine still running after Wait")
	}
}

func TestEngineCancel(t *testing.T) {
	gate := make(chan struct{})
	opened := make(chan string, 1)

	items := []asset.Item{&gatedItem{id: "first", gate: gate, opened: opened}}
	items = append(items, newItems("img", 99)...)

	saver := &recordingSaver{}
	e := newTestEngine(t, asset.NewMemorySource(items...), nil, saver,
		WithWorkers(1), WithBatchSize(10))

	if err := e.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	<-opened

	sub := e.State().Subscribe()
	defer e.State().Unsubscribe(sub)
	<-sub.C

	e.Cancel()

	snap := e.State().Snapshot()
	if snap.Scanning {
		t.Error("Scanning should be false immediately after Cancel")
	}
	<-sub.C // the cancellation publish

	close(gate)
	if err := e.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case late := <-sub.C:
		t.Errorf("draining workers published %+v", late)
	default:
	}

	if saver.count() != 1 {
		t.Fatalf("saves = %d, want exactly the final cancelled save", saver.count())
	}
	saved := saver.last()
	if saved.Processed != 1 || saved.Identifiers() != 1 {
		t.Errorf("saved processed=%d identifiers=%d, want 1/1", saved.Processed, saved.Identifiers())
	}
	if saved.Processed > saved.Total {
		t.Errorf("saved processed %d > total %d", saved.Processed, saved.Total)
	}

	// A later run picks up where the cancelled one stopped.
	resumed := runToCompletion(t, e, false)
	if resumed.Processed != 100 {
		t.Errorf("Processed = %d after resume, want 100", resumed.Processed)
	}
	checkPartition(t, resumed)
}

func TestEngineCancelViaContext(t *testing.T) {
	gate := make(chan struct{})
	opened := make(chan string, 1)
	src := asset.NewMemorySource(&gatedItem{id: "slow", gate: gate, opened: opened})
	e := newTestEngine(t, src, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	if err := e.Start(ctx, false); err != nil {
		t.Fatal(err)
	}
	<-opened
	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for e.State().Snapshot().Scanning && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if e.State().Snapshot().Scanning {
		t.Error("cancelling the start context should stop the scan")
	}
	close(gate)
}

func TestEngineCancelWhenIdle(t *testing.T) {
	e := newTestEngine(t, asset.NewMemorySource(), nil, nil)
	e.Cancel()
	if err := e.Wait(context.Background()); err != nil {
		t.Errorf("Wait() error = %v", err)
	}
}

func TestEngineSaveThrottle(t *testing.T) {
	tests := []struct {
		name      string
		step      time.Duration
		wantSaves int
	}{
		// Frozen clock: only the final save happens.
		{"frozen clock", 0, 1},
		// Every merge sees more than a second pass: three batches plus final.
		{"fast clock", 2 * time.Second, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ticks atomic.Int64
			base := time.Unix(0, 0)
			clock := func() time.Time {
				return base.Add(time.Duration(ticks.Add(1)) * tt.step)
			}

			saver := &recordingSaver{}
			e := newTestEngine(t, asset.NewMemorySource(newItems("img", 250)...), nil, saver,
				WithClock(clock), WithWorkers(1))

			runToCompletion(t, e, false)
			if got := saver.count(); got != tt.wantSaves {
				t.Errorf("saves = %d, want %d", got, tt.wantSaves)
			}
		})
	}
}

func TestEnginePublishThrottle(t *testing.T) {
	tests := []struct {
		name          string
		step          time.Duration
		wantPublishes int
	}{
		// Frozen clock: the start and final publications only.
		{"frozen clock", 0, 2},
		// Merges 30 ms apart never exceed the interval.
		{"under interval", 30 * time.Millisecond, 2},
		// 50 ms apart: only the third merge is past the interval.
		{"half interval", 50 * time.Millisecond, 3},
		// Every merge is past the interval: start, three batches and final.
		{"fast clock", 200 * time.Millisecond, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ticks atomic.Int64
			base := time.Unix(0, 0)
			clock := func() time.Time {
				return base.Add(time.Duration(ticks.Add(1)) * tt.step)
			}

			e := newTestEngine(t, asset.NewMemorySource(newItems("img", 250)...), nil, nil,
				WithClock(clock), WithWorkers(1))

			before := testutil.ToFloat64(metrics.ScanPublishesTotal)
			runToCompletion(t, e, false)
			got := int(testutil.ToFloat64(metrics.ScanPublishesTotal) - before)
			if got != tt.wantPublishes {
				t.Errorf("publishes = %d, want %d", got, tt.wantPublishes)
			}
		})
	}
}

func TestEngineEverySnapshotIsConsistent(t *testing.T) {
	var ticks atomic.Int64
	base := time.Unix(0, 0)
	clock := func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * 200 * time.Millisecond)
	}

	const n = 1000
	e := newTestEngine(t, asset.NewMemorySource(newItems("img", n)...), nil, nil,
		WithClock(clock), WithWorkers(4))

	sub := e.State().Subscribe()
	var (
		seen int
		last Snapshot
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		for snap := range sub.C {
			checkPartition(t, snap)
			seen++
			last = snap
		}
	}()

	runToCompletion(t, e, false)
	e.State().Unsubscribe(sub)
	<-done

	if seen == 0 {
		t.Fatal("no snapshots observed")
	}
	if last.Scanning || last.Processed != n || last.Total != n {
		t.Errorf("last snapshot scanning=%v processed=%d total=%d, want false/%d/%d",
			last.Scanning, last.Processed, last.Total, n, n)
	}
}

func TestEngineRestore(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := persistence.NewJSONStore(fs, "/data/scanData.json")
	ctx := context.Background()

	items := newItems("img", 10)
	src := asset.NewMemorySource(items[:8]...)

	if err := store.Save(ctx, persistence.Snapshot{
		Processed: 9,
		Total:     12,
		Groups: map[string][]string{
			"A":       {"img-0000", "img-0001", "img-0009"},
			"B":       {"img-0002"},
			"Retired": {"img-0003"},
		},
		Others: []string{"img-0004", "img-0000"},
	}); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t, src, store, nil)
	if err := e.Restore(ctx); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	snap := e.State().Snapshot()
	// img-0009 is gone from the source, img-0000 is duplicated and the
	// Retired group is unknown.
	if snap.Processed != 4 {
		t.Errorf("Processed = %d, want 4", snap.Processed)
	}
	if snap.Total != 12 {
		t.Errorf("Total = %d, want 12", snap.Total)
	}
	if got := asset.IDs(snap.Groups["A"]); len(got) != 2 || got[0] != "img-0000" || got[1] != "img-0001" {
		t.Errorf("group A = %v", got)
	}
	checkPartition(t, snap)

	// Resuming classifies the four unknown items only.
	resumed := runToCompletion(t, e, false)
	if resumed.Processed != 8 {
		t.Errorf("Processed = %d after resume, want 8", resumed.Processed)
	}
	if !asset.SameIDs(resumed.Groups["B"][:1], snap.Groups["B"]) {
		t.Error("restored group B was reclassified")
	}
	checkPartition(t, resumed)
}

func TestEngineRestoreCorrupt(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/scanData.json", []byte("{garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	store := persistence.NewJSONStore(fs, "/scanData.json")

	e := newTestEngine(t, asset.NewMemorySource(newItems("img", 3)...), store, nil)
	if err := e.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if snap := e.State().Snapshot(); snap.Processed != 0 {
		t.Errorf("Processed = %d, want empty state", snap.Processed)
	}

	snap := runToCompletion(t, e, false)
	if snap.Processed != 3 {
		t.Errorf("Processed = %d, want 3", snap.Processed)
	}
}

func TestEnginePersistenceRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := persistence.NewJSONStore(fs, "/data/scanData.json")
	writer := persistence.NewWriter(store)
	src := asset.NewMemorySource(newItems("img", 150)...)

	e := newTestEngine(t, src, store, writer)
	original := runToCompletion(t, e, false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := writer.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	restored := newTestEngine(t, src, store, nil)
	if err := restored.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	got := restored.State().Snapshot()

	if got.Processed != original.Processed || got.Total != original.Total {
		t.Errorf("counters = %d/%d, want %d/%d", got.Processed, got.Total, original.Processed, original.Total)
	}
	for g, items := range original.Groups {
		if !asset.SameIDs(items, got.Groups[g]) {
			t.Errorf("group %s differs after round trip", g)
		}
	}
	if !asset.SameIDs(original.Others, got.Others) {
		t.Error("others differ after round trip")
	}
}

type pausingThrottle struct{ calls atomic.Int32 }

func (p *pausingThrottle) WaitIfPausedContext(context.Context) bool {
	p.calls.Add(1)
	return true
}

func TestEngineConsultsThrottle(t *testing.T) {
	throttle := &pausingThrottle{}
	e := newTestEngine(t, asset.NewMemorySource(newItems("img", 250)...), nil, nil,
		WithThrottle(throttle))

	runToCompletion(t, e, false)
	if got := throttle.calls.Load(); got != 3 {
		t.Errorf("throttle consulted %d times, want once per batch (3)", got)
	}
}

// parkedThrottle stays paused until the waiter gives up.
type parkedThrottle struct{ waiting chan struct{} }

func (p *parkedThrottle) WaitIfPausedContext(ctx context.Context) bool {
	select {
	case p.waiting <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return false
}

func TestEngineCancelWhileThrottled(t *testing.T) {
	throttle := &parkedThrottle{waiting: make(chan struct{}, 1)}
	saver := &recordingSaver{}
	e := newTestEngine(t, asset.NewMemorySource(newItems("img", 250)...), nil, saver,
		WithThrottle(throttle), WithWorkers(2))

	if err := e.Start(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	<-throttle.waiting

	e.Cancel()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v, want the run to drain past the throttle", err)
	}

	if saver.count() != 1 {
		t.Fatalf("saves = %d, want the single cancelled save", saver.count())
	}
	if saved := saver.last(); saved.Processed != 0 || saved.Identifiers() != 0 {
		t.Errorf("saved processed=%d identifiers=%d, want nothing classified", saved.Processed, saved.Identifiers())
	}
	checkPartition(t, e.State().Snapshot())
}
