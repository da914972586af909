package classifier

import (
	"fmt"

	"photo-scanner/internal/fingerprint"
)

// Group names a classification bucket.
type Group string

// Default group names.
const (
	GroupA Group = "A"
	GroupB Group = "B"
	GroupC Group = "C"
	GroupD Group = "D"
	GroupE Group = "E"
	GroupF Group = "F"
	GroupG Group = "G"
)

// Classifier maps a fingerprint to at most one group.
type Classifier interface {
	// Classify returns the group for f and true, or false when f matches
	// no group.
	Classify(f fingerprint.Fingerprint) (Group, bool)

	// Groups lists every group Classify can return, in display order.
	Groups() []Group
}

// ModuloClassifier buckets fingerprints by f mod Modulus. Remainder i maps to
// Names[i]; remainders past the end of Names match no group.
type ModuloClassifier struct {
	Names   []Group
	Modulus uint64
}

// NewModulo creates a ModuloClassifier. The modulus must be non-zero.
func NewModulo(modulus uint64, names ...Group) (*ModuloClassifier, error) {
	if modulus == 0 {
		return nil, fmt.Errorf("classifier modulus must be positive")
	}
	if uint64(len(names)) > modulus {
		return nil, fmt.Errorf("classifier has %d groups but modulus %d", len(names), modulus)
	}
	seen := make(map[Group]bool, len(names))
	for _, n := range names {
		if n == "" {
			return nil, fmt.Errorf("classifier group name must not be empty")
		}
		if seen[n] {
			return nil, fmt.Errorf("duplicate classifier group %q", n)
		}
		seen[n] = true
	}
	return &ModuloClassifier{Names: names, Modulus: modulus}, nil
}

// Default returns the seven-group classifier used by the server. One
// remainder in eight matches no group.
func Default() *ModuloClassifier {
	return &ModuloClassifier{
		Names:   []Group{GroupA, GroupB, GroupC, GroupD, GroupE, GroupF, GroupG},
		Modulus: 8,
	}
}

// Classify implements Classifier. A zero Modulus matches nothing.
func (c *ModuloClassifier) Classify(f fingerprint.Fingerprint) (Group, bool) {
	if c.Modulus == 0 {
		return "", false
	}
	idx := uint64(f) % c.Modulus
	if idx >= uint64(len(c.Names)) {
		return "", false
	}
	return c.Names[idx], true
}

// Groups implements Classifier.
func (c *ModuloClassifier) Groups() []Group {
	out := make([]Group, len(c.Names))
	copy(out, c.Names)
	return out
}

// Strings converts groups to their names.
func Strings(groups []Group) []string {
	out := make([]string, len(groups))
	for i, g := range groups {
		out[i] = string(g)
	}
	return out
}
