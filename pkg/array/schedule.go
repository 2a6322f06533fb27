// Package array implements the distributed array of §4.7: a fixed number
// of elements n partitioned as evenly as possible across the N localities
// of a runtime, addressed by a single global position, plus a collective
// exclusive prefix scan.
package array

import (
	"encoding/binary"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/shadrt/shad/pkg/locality"
)

// Schedule is the pure partition function of §4.7: n elements divided into
// N chunks of size q = n/N or q+1, with the first p = N - (n mod N)
// localities (or all of them, if N divides n evenly) getting the smaller
// chunk and the remainder getting one extra element apiece. It carries no
// state beyond n and N, so Locate and ChunkSize are safe to call
// concurrently from anywhere without synchronization.
type Schedule struct {
	n, N  uint64
	q, r  uint64
	pivot uint64 // locality index where chunk size steps from q to q+1
}

// NewSchedule computes the partition schedule for n elements over N
// localities. N must be positive.
func NewSchedule(n uint64, N int) Schedule {
	if N <= 0 {
		panic("array: locality count must be positive")
	}
	nn := uint64(N)
	q, r := n/nn, n%nn
	pivot := nn
	if r != 0 {
		pivot = nn - r
	}
	return Schedule{n: n, N: nn, q: q, r: r, pivot: pivot}
}

// Len returns the total number of elements n.
func (s Schedule) Len() uint64 { return s.n }

// ChunkSize returns how many elements locality loc holds.
func (s Schedule) ChunkSize(loc locality.ID) uint64 {
	if uint64(loc) < s.pivot {
		return s.q
	}
	return s.q + 1
}

// Locate maps a global position to the (locality, local offset) pair that
// holds it. It is a pure function of pos, q, r and pivot: no lookup table
// is consulted, so it is always safe to call without locking regardless of
// what else is happening to the array.
func (s Schedule) Locate(pos uint64) (loc locality.ID, offset uint64) {
	pivotPos := s.pivot * s.q
	if pos < pivotPos {
		return locality.ID(pos / s.q), pos % s.q
	}
	rem := pos - pivotPos
	step := s.q + 1
	return locality.ID(s.pivot + rem/step), rem % step
}

// RangeTable is a locality -> [first, last] global-position lookup built
// once from a Schedule, used by iterators and diagnostics that want a
// locality's span without recomputing ChunkSize for every predecessor. It
// is immutable once built: the underlying radix tree is never mutated
// after BuildRangeTable returns, so concurrent Range calls need no lock.
type RangeTable struct {
	tree *iradix.Tree
}

type span struct {
	first, last uint64
	size        uint64
}

func encodeLocality(loc locality.ID) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(loc))
	return buf
}

// BuildRangeTable computes every locality's [first, last] global-position
// span under schedule over a set of n localities.
func BuildRangeTable(schedule Schedule, n int) *RangeTable {
	tree := iradix.New()
	var pos uint64
	for i := 0; i < n; i++ {
		loc := locality.ID(i)
		size := schedule.ChunkSize(loc)
		sp := span{first: pos, size: size}
		if size > 0 {
			sp.last = pos + size - 1
		} else {
			sp.last = pos
		}
		tree, _, _ = tree.Insert(encodeLocality(loc), sp)
		pos += size
	}
	return &RangeTable{tree: tree}
}

// Range returns loc's [first, last] global-position span and whether loc
// is known to the table.
func (rt *RangeTable) Range(loc locality.ID) (first, last uint64, ok bool) {
	v, ok := rt.tree.Get(encodeLocality(loc))
	if !ok {
		return 0, 0, false
	}
	sp := v.(span)
	return sp.first, sp.last, true
}
