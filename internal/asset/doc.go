// Package asset defines the media item handle and the collection it comes
// from.
//
// An Item is an identifier plus lazy access to raw bytes. A Source counts,
// enumerates and re-resolves items by identifier. The collection is treated
// as append-only: scans resume by skipping identifiers they have already
// classified.
//
// FileSource serves image files below a directory on any afero.Fs; files
// without an extension are sniffed with h2non/filetype. MemorySource backs
// tests and embedded uses. Watch turns filesystem activity into debounced
// change notifications so a host can trigger resume scans.
package asset
