// Package posid implements the fractional position-identifier algebra
// that gives the replicated text engine its total order over
// characters. A PosId is a non-empty vector of integers compared
// lexicographically; allocateBetween manufactures a fresh identifier
// strictly between two existing ones, growing in depth only when the
// interval at the current depth is too narrow to hold a fresh midpoint.
//
// Uniqueness of a PosId across replicas is NOT guaranteed by this package
// alone: two sites can legally allocate the identical vector when editing
// concurrently at the same place. Disambiguating those collisions is the
// job of the (lamport, site) tuple carried alongside a PosId on every
// character — see package replica.
package posid

import (
	"strconv"
	"strings"

	"github.com/lyolishe/collaborative-text-editor/errs"
)

// Base is the fixed radix of the algebra. Every replica in a deployment
// must agree on this constant since identifiers generated on one replica
// are compared on another; changing it is a wire-incompatible protocol
// revision.
const Base uint32 = 1 << 20

// PosId is a variable-depth vector of non-negative integers, most
// significant component first.
type PosId []uint32

// Clone returns an independent copy of p.
func (p PosId) Clone() PosId {
	if p == nil {
		return nil
	}
	c := make(PosId, len(p))
	copy(c, p)
	return c
}

// Equal reports whether a and b have identical length and components.
func Equal(a, b PosId) bool {
	return Compare(a, b) == 0
}

// Compare gives the lexicographic total order over PosIds: components are
// compared pairwise, the first differing component decides, and if one
// sequence is a strict prefix of the other the shorter one is less.
func Compare(a, b PosId) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// AllocateBetween returns a fresh PosId p such that lo < p < hi, where a
// nil lo means "lower than anything" and a nil hi means "higher than
// anything". It implements a depth-walking midpoint algorithm with one
// asymmetric special case:
//
//   - lo == nil, hi == nil: the document is empty; return (Base).
//   - lo != nil, hi == nil: appending at the end always returns
//     (lo[0]+Base), which leaves a full Base of headroom for every
//     subsequent append instead of bisecting the remaining space down
//     to nothing after a few appends.
//
// All other combinations fall out of the general per-depth walk, which
// already reproduces the first case (both nil) and the lo-nil/hi-given
// case without special-casing them.
//
// lo[0]+Base is unchecked uint32 addition: roughly 4096 consecutive
// end-appends (2^32 / Base) overflow lo[0] and wrap to a value below the
// previous tail, which would silently reorder the document. A single
// session is nowhere near that many appends in one place, but a
// long-lived document accumulating end-appends over its lifetime could
// be; nothing here detects the wrap.
func AllocateBetween(lo, hi PosId) (PosId, error) {
	if lo != nil && hi != nil && Compare(lo, hi) >= 0 {
		return nil, errs.ErrInvalidBounds
	}
	if lo != nil && hi == nil {
		return PosId{lo[0] + Base}, nil
	}
	return walk(lo, hi), nil
}

// walk performs the per-depth midpoint search. At each depth it reads
// lo[d]/hi[d], defaulting to 0 and 2*Base
// respectively once the corresponding input is exhausted; if the gap at
// this depth is wide enough it emits the midpoint, otherwise it commits
// the floor value to the result prefix and descends one level deeper.
func walk(lo, hi PosId) PosId {
	var prefix []uint32
	for d := 0; ; d++ {
		var loV, hiV uint32
		if d < len(lo) {
			loV = lo[d]
		}
		if d < len(hi) {
			hiV = hi[d]
		} else {
			hiV = 2 * Base
		}
		if hiV-loV >= 2 {
			mid := loV + (hiV-loV)/2
			return append(append(PosId{}, prefix...), mid)
		}
		prefix = append(prefix, loV)
	}
}

// Depth returns the number of components in p.
func (p PosId) Depth() int {
	return len(p)
}

// String renders p as a comma-joined decimal sequence. This is the
// canonical correlation id the relay echoes back in an operation_ack's
// operationId field, since the wire protocol's `id` is an array but
// operationId must be a single string.
func (p PosId) String() string {
	parts := make([]string, len(p))
	for i, v := range p {
		parts[i] = strconv.FormatUint(uint64(v), 10)
	}
	return strings.Join(parts, ",")
}
