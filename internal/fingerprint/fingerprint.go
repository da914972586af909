package fingerprint

import (
	"fmt"
	"io"

	"photo-scanner/internal/asset"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint is a 64-bit content hash.
type Fingerprint uint64

// String returns the fingerprint as 16 lowercase hex digits.
func (f Fingerprint) String() string {
	return fmt.Sprintf("%016x", uint64(f))
}

// Compute streams the item's content and returns its fingerprint.
func Compute(item asset.Item) (Fingerprint, error) {
	rc, err := item.Open()
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", item.ID(), err)
	}
	defer rc.Close()

	return FromReader(rc)
}

// FromReader hashes everything read from r.
func FromReader(r io.Reader) (Fingerprint, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return 0, fmt.Errorf("read content: %w", err)
	}
	return Fingerprint(h.Sum64()), nil
}

// FromBytes hashes b directly.
func FromBytes(b []byte) Fingerprint {
	return Fingerprint(xxhash.Sum64(b))
}
