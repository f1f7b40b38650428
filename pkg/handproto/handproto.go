// Package handproto negotiates the loader/kernel hand-off protocol
// version. The version travels as the header's version word, major in the
// high 16 bits and minor in the low 16; this package lifts that word into
// semantic versions so compatibility is a constraint check, not bit
// fiddling at the call site.
package handproto

import (
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Current protocol version spoken by this loader.
const (
	CurrentMajor = 1
	CurrentMinor = 0
)

// DefaultConstraint accepts any protocol the current loader can emit:
// same major, any minor at or above zero.
const DefaultConstraint = "^1.0.0"

// ErrUnsupportedVersion reports a kernel protocol version outside the
// accepted range.
var ErrUnsupportedVersion = errors.New("unsupported hand-off protocol version")

// CurrentWord returns the version word this loader writes.
func CurrentWord() uint32 {
	return uint32(CurrentMajor)<<16 | uint32(CurrentMinor)
}

// DecodeWord lifts a header version word into a semantic version. Patch is
// always zero; the wire format does not carry one.
func DecodeWord(word uint32) *semver.Version {
	return semver.New(uint64(word>>16), uint64(word&0xFFFF), 0, "", "")
}

// EncodeWord packs a semantic version into a header version word. The
// patch component is dropped; majors and minors above 16 bits do not fit.
func EncodeWord(v *semver.Version) (uint32, error) {
	if v.Major() > 0xFFFF || v.Minor() > 0xFFFF {
		return 0, fmt.Errorf("version %s does not fit a 32-bit version word", v)
	}
	return uint32(v.Major())<<16 | uint32(v.Minor()), nil
}

// Gate decides whether a kernel's protocol version is acceptable.
type Gate struct {
	constraint *semver.Constraints
}

// NewGate builds a gate from a semver constraint expression.
func NewGate(constraint string) (*Gate, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, fmt.Errorf("handproto: bad constraint %q: %w", constraint, err)
	}
	return &Gate{constraint: c}, nil
}

// DefaultGate accepts DefaultConstraint. It cannot fail; the constraint is
// a compile-time literal.
func DefaultGate() *Gate {
	g, err := NewGate(DefaultConstraint)
	if err != nil {
		panic(err)
	}
	return g
}

// Accept checks a header version word against the gate. On success the
// decoded version is returned for reporting.
func (g *Gate) Accept(word uint32) (*semver.Version, error) {
	v := DecodeWord(word)
	if !g.constraint.Check(v) {
		return nil, fmt.Errorf("%w: kernel speaks %s, loader accepts %s",
			ErrUnsupportedVersion, v, g.constraint)
	}
	return v, nil
}
