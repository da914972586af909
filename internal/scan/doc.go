// Package scan classifies every item of an asset.Source into groups.
//
// An Engine enumerates the source, skips items it has already classified,
// and splits the rest into fixed-size batches that run on a worker pool.
// Each batch fingerprints and classifies its items without locking, then
// folds its result into the shared state in one short critical section.
// From that critical section the engine publishes the state to observers at
// most every 100 ms and hands a snapshot to the background writer at most
// every second. The final state of a completed run is always published and
// saved.
//
// Cancellation is cooperative. Cancel marks the run cancelled and publishes
// scanning=false at once; workers stop before their next item, their
// partial results are still merged, and nothing is published or saved until
// the drained run writes one last snapshot.
//
// Observers read the state through State: Snapshot for a point-in-time copy,
// Subscribe for a latest-wins channel of every publication, and WatchGroup
// or WatchOthers for channels that only fire when the ordered item list of
// one bucket changes.
package scan
