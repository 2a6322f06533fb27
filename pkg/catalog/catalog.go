// Package catalog implements the per-locality, per-container-type registry
// of live local objects described in §4.3: a dense dynamic array indexed by
// the local-slot bits of an object id, insert/erase under a coarse lock,
// and a lock-free lookup that is safe because the array only grows.
package catalog

import (
	"strconv"
	"sync/atomic"

	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/metrics"
	"github.com/shadrt/shad/pkg/objectid"
)

// row holds one locality's slice of the catalog for a single container
// type. Growth happens under mu via copy-on-write: a reader takes an
// atomic snapshot of the slice header so indexed reads never race with a
// concurrent append reallocating the backing array.
type row[T any] struct {
	mu   chan struct{} // 1-buffered mutex, see lock()/unlock() below
	objs atomic.Pointer[[]*atomic.Pointer[T]]
}

func newRow[T any]() *row[T] {
	r := &row[T]{mu: make(chan struct{}, 1)}
	empty := make([]*atomic.Pointer[T], 0)
	r.objs.Store(&empty)
	return r
}

func (r *row[T]) lock()   { r.mu <- struct{}{} }
func (r *row[T]) unlock() { <-r.mu }

func (r *row[T]) ensure(slot uint64) []*atomic.Pointer[T] {
	cur := *r.objs.Load()
	if uint64(len(cur)) > slot {
		return cur
	}
	r.lock()
	defer r.unlock()
	cur = *r.objs.Load()
	if uint64(len(cur)) > slot {
		return cur
	}
	grown := make([]*atomic.Pointer[T], slot+1)
	copy(grown, cur)
	for i := len(cur); i <= int(slot); i++ {
		grown[i] = new(atomic.Pointer[T])
	}
	r.objs.Store(&grown)
	return grown
}

func (r *row[T]) put(slot uint64, obj *T) {
	objs := r.ensure(slot)
	objs[slot].Store(obj)
}

func (r *row[T]) get(slot uint64) *T {
	cur := *r.objs.Load()
	if slot >= uint64(len(cur)) {
		return nil
	}
	return cur[slot].Load()
}

func (r *row[T]) clear(slot uint64) {
	cur := *r.objs.Load()
	if slot < uint64(len(cur)) {
		cur[slot].Store(nil)
	}
}

// Catalog is the singleton registry for one container type T, spanning
// every locality in the process's locality set. Per §4.3 it is a singleton
// per (container-type, process); callers obtain theirs through
// pkg/distobj's NewRegistry rather than a package-level global, so that
// multiple independent runtimes (as used in tests) never share state.
type Catalog[T any] struct {
	typeName string
	rows     []*row[T]
	counters []*objectid.Counter
}

// New builds an empty catalog for n localities.
func New[T any](typeName string, n int) *Catalog[T] {
	c := &Catalog[T]{
		typeName: typeName,
		rows:     make([]*row[T], n),
		counters: make([]*objectid.Counter, n),
	}
	for i := 0; i < n; i++ {
		c.rows[i] = newRow[T]()
		c.counters[i] = objectid.NewCounter(locality.ID(i))
	}
	return c
}

// Allocate mints a fresh id owned by loc. It does not store anything; the
// caller publishes the object into every locality's row via Put.
func (c *Catalog[T]) Allocate(loc locality.ID) objectid.ID {
	return c.counters[loc].Next()
}

// Put installs obj at id's slot in here's row. here need not equal
// id.Locality(): every locality keeps its own local instance of a
// distributed object under the same slot number, since the slot is chosen
// once collectively at creation time (§4.4).
func (c *Catalog[T]) Put(id objectid.ID, here locality.ID, obj *T) {
	c.rows[here].put(id.Slot(), obj)
	metrics.CatalogEntriesTotal.WithLabelValues(c.typeName, strconv.Itoa(int(here))).Inc()
}

// Get returns here's local instance for id, or nil if absent.
func (c *Catalog[T]) Get(id objectid.ID, here locality.ID) *T {
	return c.rows[here].get(id.Slot())
}

// Delete clears here's row for id. Only when here is id's owning locality
// is the slot recycled (§4.3): other localities' rows for that slot simply
// go empty, since only the owner's counter ever allocates from it again.
func (c *Catalog[T]) Delete(id objectid.ID, here locality.ID) {
	c.rows[here].clear(id.Slot())
	metrics.CatalogEntriesTotal.WithLabelValues(c.typeName, strconv.Itoa(int(here))).Dec()
	if here == id.Locality() {
		c.counters[here].Recycle(id.Slot())
		metrics.CatalogSlotsRecycledTotal.WithLabelValues(c.typeName).Inc()
	}
}
