// Package memory keeps scans from exhausting the container's memory.
//
// Call [ConfigureFromEnv] early in main to derive GOMEMLIMIT from the
// container limit:
//
//   - GOMEMLIMIT: standard Go variable, takes precedence when set.
//   - MEMORY_LIMIT: container memory limit in bytes, typically injected
//     through the Kubernetes Downward API.
//   - MEMORY_RATIO: share of MEMORY_LIMIT given to the Go heap, between 0
//     and 1. Defaults to 0.85, leaving room for libvips and decode buffers.
//
// A [Monitor] samples heap usage against that limit. Once usage crosses the
// critical watermark it pauses; scan workers call [Monitor.WaitIfPausedContext]
// before each batch and block until usage falls below the high watermark.
package memory
