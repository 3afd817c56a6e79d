// Package version classifies and orders migration version identifiers.
package version

import (
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes the two supported identifier schemes.
type Kind int

const (
	// Sequential is a legacy bare-number identifier such as "001" or "42".
	Sequential Kind = iota
	// Timestamp is a 14-digit YYYYMMDDHHmmss identifier.
	Timestamp
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case Sequential:
		return "sequential"
	case Timestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// ErrInvalidVersion is returned when an identifier matches neither scheme.
var ErrInvalidVersion = errors.New("invalid migration version")

const (
	sequentialMaxDigits = 3
	timestampDigits     = 14
)

// Version is an immutable, parsed migration identifier.
type Version struct {
	raw  string
	kind Kind
	key  string
}

// Parse classifies a raw identifier by shape. Bare decimal strings of up to
// three digits are Sequential; exactly fourteen digits are Timestamp.
// Anything else fails with ErrInvalidVersion.
func Parse(raw string) (Version, error) {
	if raw == "" {
		return Version{}, fmt.Errorf("%w: empty identifier", ErrInvalidVersion)
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return Version{}, fmt.Errorf("%w: %q is not a decimal identifier", ErrInvalidVersion, raw)
		}
	}

	switch {
	case len(raw) <= sequentialMaxDigits:
		padded := strings.Repeat("0", sequentialMaxDigits-len(raw)) + raw
		return Version{raw: raw, kind: Sequential, key: "0:" + padded}, nil
	case len(raw) == timestampDigits:
		return Version{raw: raw, kind: Timestamp, key: "1:" + raw}, nil
	default:
		return Version{}, fmt.Errorf("%w: %q has %d digits, want at most %d or exactly %d",
			ErrInvalidVersion, raw, len(raw), sequentialMaxDigits, timestampDigits)
	}
}

// MustParse parses raw and panics on failure. Intended for tests and
// compile-time-constant identifiers.
func MustParse(raw string) Version {
	v, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// Kind returns the identifier scheme.
func (v Version) Kind() Kind { return v.kind }

// String returns the identifier as originally written.
func (v Version) String() string { return v.raw }

// Key returns the normalized sort key. Two versions compare equal iff their
// keys are equal, so the key doubles as the duplicate-detection identity.
func (v Version) Key() string { return v.key }

// IsZero reports whether v is the zero Version.
func (v Version) IsZero() bool { return v.key == "" }

// Compare defines the total order over versions: every Sequential identifier
// sorts strictly before every Timestamp identifier, and within a kind the
// fixed-width numeric keys compare lexically. Returns -1, 0 or 1.
func Compare(a, b Version) int {
	return strings.Compare(a.key, b.key)
}

// Less reports whether v orders strictly before o.
func (v Version) Less(o Version) bool {
	return Compare(v, o) < 0
}

// Equal reports whether v and o normalize to the same identifier.
func (v Version) Equal(o Version) bool {
	return Compare(v, o) == 0
}
