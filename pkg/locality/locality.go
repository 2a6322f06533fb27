// Package locality identifies the fixed set of nodes a shad runtime spans.
//
// The set of localities is fixed at process start (§1 non-goals: no elastic
// membership). An ID is an opaque integer in [0, N); it supports equality,
// ordering and conversion to an integer, and nothing else — localities carry
// no routing metadata of their own, that lives in the transport backend.
package locality

import "fmt"

// ID identifies one node among the fixed set of participating localities.
// It occupies the high 16 bits of an object id (see pkg/objectid), so it
// never exceeds 16 bits.
type ID uint16

// None is not a valid member of any locality set; it is used as a sentinel
// by callers that need to express "no locality" without an extra bool.
const None ID = ^ID(0)

func (id ID) String() string {
	if id == None {
		return "none"
	}
	return fmt.Sprintf("L%d", uint16(id))
}

// Set is the fixed membership of a shad runtime: N localities numbered
// [0, N), fixed for the process lifetime.
type Set struct {
	n int
}

// NewSet fixes a locality set of size n. n must be > 0.
func NewSet(n int) Set {
	if n <= 0 {
		panic("locality: set size must be positive")
	}
	return Set{n: n}
}

// N returns the number of participating localities.
func (s Set) N() int { return s.n }

// Valid reports whether id names a member of this set.
func (s Set) Valid(id ID) bool {
	return int(id) >= 0 && int(id) < s.n
}

// All returns every locality in the set, in order.
func (s Set) All() []ID {
	ids := make([]ID, s.n)
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}
