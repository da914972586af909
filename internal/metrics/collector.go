package metrics

import (
	"time"

	"photo-scanner/internal/logging"
)

// StatsProvider interface for collecting stats
type StatsProvider interface {
	GetStats() Stats
}

// Stats holds the current statistics
type Stats struct {
	Processed    int
	Total        int
	Scanning     bool
	GroupSizes   map[string]int
	PendingFetch int
}

// StatsFunc adapts a function to StatsProvider.
type StatsFunc func() Stats

// GetStats calls f.
func (f StatsFunc) GetStats() Stats { return f() }

// Collector periodically collects and updates metrics
type Collector struct {
	statsProvider StatsProvider
	interval      time.Duration
	stopChan      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider StatsProvider, interval time.Duration) *Collector {
	return &Collector{
		statsProvider: provider,
		interval:      interval,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.statsProvider == nil {
		return
	}

	stats := c.statsProvider.GetStats()

	if stats.Total > 0 {
		ScanProgressRatio.Set(float64(stats.Processed) / float64(stats.Total))
	} else {
		ScanProgressRatio.Set(0)
	}
	if stats.Scanning {
		ScanRunning.Set(1)
	} else {
		ScanRunning.Set(0)
	}
	for group, size := range stats.GroupSizes {
		ScanGroupSize.WithLabelValues(group).Set(float64(size))
	}
	ImageRequestsPending.Set(float64(stats.PendingFetch))

	logging.Debug("Metrics collected: processed=%d/%d, scanning=%v, groups=%d, pending=%d",
		stats.Processed, stats.Total, stats.Scanning, len(stats.GroupSizes), stats.PendingFetch)
}
