/*
Package workers sizes and builds the goroutine pools used by the scanner and
the image provider.

Worker counts are derived from GOMAXPROCS rather than runtime.NumCPU, so a
container limited to 2 CPUs on a 64-core node gets 2-ish workers instead of
64:

	numWorkers := workers.ForMixed(16) // fingerprinting: read + hash
	numWorkers := workers.ForIO(32)    // thumbnail decode with disk cache

Operators can pin the count with the SCAN_WORKERS environment variable; the
limit argument still caps it.

Pools are github.com/panjf2000/ants/v2 pools. A blocking pool makes Submit
wait for a free worker, which is how the scan engine applies backpressure
when scheduling batches. A nonblocking pool returns ants.ErrPoolOverload
instead, letting latency-sensitive callers fall back to a plain goroutine.
*/
package workers
