package workers

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"photo-scanner/internal/logging"

	"github.com/panjf2000/ants/v2"
)

// OverrideEnv names the environment variable that pins the worker count.
const OverrideEnv = "SCAN_WORKERS"

// Count returns the optimal number of workers for a given task type.
// It respects container CPU limits via GOMAXPROCS (Go 1.19+).
//
// The multiplier adjusts for task characteristics:
//   - 1.0 for CPU-bound tasks
//   - 2.0 for I/O-bound tasks
//   - 1.5 for mixed tasks
//
// The limit parameter caps the worker count to prevent resource exhaustion.
// Use 0 for no limit.
//
// Can be overridden with the SCAN_WORKERS environment variable.
func Count(multiplier float64, limit int) int {
	if override := os.Getenv(OverrideEnv); override != "" {
		if count, err := strconv.Atoi(override); err == nil && count > 0 {
			if limit > 0 && count > limit {
				return limit
			}
			return count
		}
	}

	available := runtime.GOMAXPROCS(0)

	workers := int(float64(available) * multiplier)

	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}

	return workers
}

// ForCPU returns worker count for CPU-bound tasks (1 per CPU).
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO returns worker count for I/O-bound tasks (2 per CPU).
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForMixed returns worker count for mixed tasks (1.5 per CPU).
// Fingerprinting reads every byte of an item, so it is the default for scans.
func ForMixed(limit int) int {
	return Count(1.5, limit)
}

// NewPool creates a named goroutine pool of the given size. When nonblocking
// is false, Submit waits for a free worker, which gives callers natural
// backpressure. Panics in tasks are logged instead of crashing the process.
func NewPool(name string, size int, nonblocking bool) (*ants.Pool, error) {
	if size < 1 {
		size = 1
	}

	pool, err := ants.NewPool(size,
		ants.WithNonblocking(nonblocking),
		ants.WithPanicHandler(func(p interface{}) {
			logging.Error("%s pool: task panicked: %v", name, p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s pool: %w", name, err)
	}

	logging.Debug("%s pool created with %d workers (nonblocking=%v)", name, size, nonblocking)
	return pool, nil
}
