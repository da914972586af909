// Package imagecache tracks preview image requests by list position.
//
// A Manager mirrors an ordered list of items (usually one scan group) and
// keeps at most one outstanding Provider request per position. Preload takes
// the currently visible positions, requests every position within Margin of
// them and cancels pending requests that fall outside that window. Images
// already delivered are kept when a position leaves the window.
//
// Providers may deliver a fast degraded preview before the final image. A
// degraded image never replaces a final one. Cancelled deliveries are not
// errors; failed deliveries clear the request so the position can be retried.
//
// The pending-request table is guarded by a single mutex. Provider calls are
// always made outside it, so providers may deliver synchronously from
// Request.
package imagecache
