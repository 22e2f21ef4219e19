// Package constellation describes the fixed gap pattern a candidate base
// must satisfy: starting at n, each successive member is n plus the
// cumulative sum of o[1..i]. A pattern is expressed as gaps (o[0]=0,
// o[1], ..., o[L-1], each a positive even number) rather than absolute
// offsets, matching how the candidate-generation pipeline advances n by
// o[f] at each step of the constellation walk (see the fermat package).
package constellation

import "fmt"

// Pattern is a validated constellation gap list plus its derived span.
type Pattern struct {
	Offsets []uint64 // gaps: o[0]=0, o[1], ..., o[L-1]
	Span    uint64   // sum of all gaps == distance from base to last member
}

// New validates a gap list and builds the derived Pattern. offsets[0]
// must be 0 and every later offset must be a positive even number (a
// property every real constellation has, since every member past the
// first is an odd prime and gaps between odd numbers are always even;
// the remainder worker does not depend on this for correctness, it is
// checked here only because a pattern violating it is not a valid
// prime constellation).
func New(offsets []uint64) (Pattern, error) {
	if len(offsets) < 2 {
		return Pattern{}, fmt.Errorf("constellation: pattern needs at least 2 offsets, got %d", len(offsets))
	}
	if offsets[0] != 0 {
		return Pattern{}, fmt.Errorf("constellation: offsets[0] must be 0, got %d", offsets[0])
	}

	var span uint64
	for i, o := range offsets {
		if i > 0 {
			if o == 0 {
				return Pattern{}, fmt.Errorf("constellation: offset[%d] must be positive", i)
			}
			if o%2 != 0 {
				return Pattern{}, fmt.Errorf("constellation: offset[%d]=%d is odd", i, o)
			}
		}
		span += o
	}

	return Pattern{Offsets: offsets, Span: span}, nil
}

// Len is the constellation length L (number of primes sought per base).
func (p Pattern) Len() int { return len(p.Offsets) }

// AbsolutePositions returns the cumulative offsets from the base n, i.e.
// the positions n, n+o[1], n+o[1]+o[2], ... — the conventional way
// constellations are written in the literature.
func (p Pattern) AbsolutePositions() []uint64 {
	out := make([]uint64, len(p.Offsets))
	var acc uint64
	for i, o := range p.Offsets {
		acc += o
		out[i] = acc
	}
	return out
}

// DistinctOffsets returns every unique gap value used past family 0,
// the set the remainder worker needs an inverse multiplier for. The
// distilled source hard-codes a fixed-size lattice valid only for the
// small gap set {2,4,6}; this generalizes to any pattern by building
// the exact set actually used.
func (p Pattern) DistinctOffsets() []uint64 {
	seen := make(map[uint64]bool, len(p.Offsets))
	var out []uint64
	for _, o := range p.Offsets[1:] {
		if !seen[o] {
			seen[o] = true
			out = append(out, o)
		}
	}
	return out
}

// Known constellation patterns, expressed as gaps. Names follow the
// traditional classification of the corresponding absolute pattern.
var (
	// Sexy sextuplet, absolute form (0, 4, 6, 10, 12, 16).
	Sextuplet = []uint64{0, 4, 2, 4, 2, 4}
	// Prime octuplet, absolute form (0, 2, 6, 8, 12, 18, 20, 26).
	Octuplet = []uint64{0, 2, 4, 2, 4, 6, 2, 6}
)

// Registry maps a human-friendly pattern name to its gap list, for CLI
// configuration (e.g. --pattern=sextuplet).
var Registry = map[string][]uint64{
	"sextuplet": Sextuplet,
	"octuplet":  Octuplet,
}

// Lookup resolves a registered pattern name into a validated Pattern.
func Lookup(name string) (Pattern, error) {
	offsets, ok := Registry[name]
	if !ok {
		return Pattern{}, fmt.Errorf("constellation: unknown pattern %q", name)
	}
	return New(offsets)
}
