package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectUpdatesGauges(t *testing.T) {
	provider := StatsFunc(func() Stats {
		return Stats{
			Processed:    50,
			Total:        200,
			Scanning:     true,
			GroupSizes:   map[string]int{"alpha": 7, "others": 3},
			PendingFetch: 4,
		}
	})

	c := NewCollector(provider, time.Hour)
	c.collect()

	if got := testutil.ToFloat64(ScanProgressRatio); got != 0.25 {
		t.Errorf("ScanProgressRatio = %v, want 0.25", got)
	}
	if got := testutil.ToFloat64(ScanRunning); got != 1 {
		t.Errorf("ScanRunning = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ScanGroupSize.WithLabelValues("alpha")); got != 7 {
		t.Errorf("ScanGroupSize{alpha} = %v, want 7", got)
	}
	if got := testutil.ToFloat64(ImageRequestsPending); got != 4 {
		t.Errorf("ImageRequestsPending = %v, want 4", got)
	}
}

func TestCollectZeroTotal(t *testing.T) {
	c := NewCollector(StatsFunc(func() Stats { return Stats{} }), time.Hour)
	c.collect()

	if got := testutil.ToFloat64(ScanProgressRatio); got != 0 {
		t.Errorf("ScanProgressRatio = %v, want 0", got)
	}
	if got := testutil.ToFloat64(ScanRunning); got != 0 {
		t.Errorf("ScanRunning = %v, want 0", got)
	}
}

func TestCollectNilProvider(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("collect() with nil provider panicked: %v", r)
		}
	}()
	c := NewCollector(nil, time.Hour)
	c.collect()
}

func TestCollectorStartStop(t *testing.T) {
	calls := make(chan struct{}, 10)
	c := NewCollector(StatsFunc(func() Stats {
		select {
		case calls <- struct{}{}:
		default:
		}
		return Stats{}
	}), 10*time.Millisecond)

	c.Start()
	select {
	case <-calls:
	case <-time.After(time.Second):
		t.Fatal("collector never collected")
	}
	c.Stop()
}

func TestInitializeMetrics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Errorf("InitializeMetrics() panicked: %v", r)
		}
	}()
	InitializeMetrics([]string{"alpha", "others"})
	InitializeMetrics([]string{"alpha", "others"})
}

func TestFilesystemObserverRecords(t *testing.T) {
	o := NewFilesystemObserver()
	before := testutil.ToFloat64(FilesystemRetryAttempts.WithLabelValues("open", "library"))
	o.ObserveRetryAttempt("open", "library")
	after := testutil.ToFloat64(FilesystemRetryAttempts.WithLabelValues("open", "library"))
	if after != before+1 {
		t.Errorf("retry attempts = %v, want %v", after, before+1)
	}
}
