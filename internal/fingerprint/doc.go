// Package fingerprint derives a stable 64-bit content fingerprint for media
// items. Fingerprints are computed by streaming the item's bytes through
// xxHash, so large files never have to be held in memory.
package fingerprint
