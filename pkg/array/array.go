package array

import (
	"fmt"
	"sync"

	"github.com/shadrt/shad/pkg/aggregate"
	"github.com/shadrt/shad/pkg/distobj"
	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/objectid"
	"github.com/shadrt/shad/pkg/transport"
)

// chunk is one locality's contiguous slice of a distributed array.
type chunk[T any] struct {
	mu   sync.RWMutex
	data []T
}

// Array is a distributed array of n elements of type T, partitioned across
// a runtime's localities per Schedule (§4.7). Every method is safe to call
// from any locality: Get/Set transparently dispatch to whichever locality
// actually holds the target position.
type Array[T any] struct {
	rt       *transport.Runtime
	reg      *distobj.Registry[chunk[T]]
	id       objectid.ID
	schedule Schedule
	ranges   *RangeTable

	buffersOnce sync.Once
	buffers     *aggregate.BuffersVector[writeEntry[T]]
}

// writeEntry is one buffered positional write, batched per destination
// locality by BufferedInsertAt/BufferedAsyncInsertAt.
type writeEntry[T any] struct {
	offset uint64
	value  T
}

// New collectively creates a distributed array of n elements, each locality
// allocating its own chunk of the schedule's size and filling it with zero.
func New[T any](rt *transport.Runtime, typeName string, n uint64, zero T) *Array[T] {
	reg := distobj.NewRegistry[chunk[T]](rt, typeName)
	schedule := NewSchedule(n, rt.Localities().N())
	ranges := BuildRangeTable(schedule, rt.Localities().N())

	id := distobj.Create(rt, reg, locality.ID(0), func(_ objectid.ID, here locality.ID) *chunk[T] {
		size := schedule.ChunkSize(here)
		data := make([]T, size)
		for i := range data {
			data[i] = zero
		}
		return &chunk[T]{data: data}
	})

	return &Array[T]{rt: rt, reg: reg, id: id, schedule: schedule, ranges: ranges}
}

// Destroy collectively frees the array's per-locality chunks.
func (a *Array[T]) Destroy() {
	distobj.Destroy(a.rt, a.reg, a.id)
}

// Len returns the array's total element count.
func (a *Array[T]) Len() uint64 { return a.schedule.Len() }

// Size is §4.7's spec name for Len.
func (a *Array[T]) Size() uint64 { return a.schedule.Len() }

// Empty reports whether the array holds zero elements.
func (a *Array[T]) Empty() bool { return a.schedule.Len() == 0 }

// Schedule exposes the array's partition schedule.
func (a *Array[T]) Schedule() Schedule { return a.schedule }

// Ranges exposes the array's locality -> [first,last] span table.
func (a *Array[T]) Ranges() *RangeTable { return a.ranges }

// Get returns the element at global position pos (§4.7 at/operator[]).
func (a *Array[T]) Get(pos uint64) T {
	loc, offset := a.schedule.Locate(pos)
	return transport.ExecuteAtWithRet(a.rt, loc, func(c transport.Ctx) T {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.RLock()
		defer ck.mu.RUnlock()
		return ck.data[offset]
	})
}

// Set stores value at global position pos.
func (a *Array[T]) Set(pos uint64, value T) {
	loc, offset := a.schedule.Locate(pos)
	a.rt.ExecuteAt(loc, func(c transport.Ctx) {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.Lock()
		ck.data[offset] = value
		ck.mu.Unlock()
	})
}

// At is §4.7's spec name for Get.
func (a *Array[T]) At(pos uint64) T { return a.Get(pos) }

// AsyncAt is the asynchronous form of Get: it returns immediately,
// delivering the element through the returned channel once h has been
// waited (§4.7 asyncAt).
func (a *Array[T]) AsyncAt(h *transport.Handle, pos uint64) <-chan T {
	loc, offset := a.schedule.Locate(pos)
	return transport.AsyncExecuteAtWithRet(a.rt, h, loc, func(c transport.Ctx) T {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.RLock()
		defer ck.mu.RUnlock()
		return ck.data[offset]
	})
}

// InsertAt is §4.7's spec name for Set.
func (a *Array[T]) InsertAt(pos uint64, value T) { a.Set(pos, value) }

// AsyncInsertAt is the asynchronous form of Set, registering its dispatch
// against h (§4.7 asyncInsertAt).
func (a *Array[T]) AsyncInsertAt(h *transport.Handle, pos uint64, value T) {
	loc, offset := a.schedule.Locate(pos)
	a.rt.AsyncExecuteAt(h, loc, func(c transport.Ctx) {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.Lock()
		ck.data[offset] = value
		ck.mu.Unlock()
	})
}

const arrayBufferCapacity = 64

func (a *Array[T]) bufferedWrites() *aggregate.BuffersVector[writeEntry[T]] {
	a.buffersOnce.Do(func() {
		a.buffers = aggregate.NewBuffersVector(a.rt, arrayBufferCapacity, func(c transport.Ctx, entries []writeEntry[T]) {
			ck := distobj.GetPtr(a.reg, a.id, c.Here)
			ck.mu.Lock()
			for _, e := range entries {
				ck.data[e.offset] = e.value
			}
			ck.mu.Unlock()
		})
	})
	return a.buffers
}

// BufferedAsyncInsertAt buffers a positional write for eventual replay on
// pos's owning locality, registering any fill-triggered flush against h,
// and returns immediately (§4.7 bufferedAsyncInsertAt, §4.9). Per the
// buffering contract, a write sitting below its destination's buffer
// capacity is not replayed until FlushBuffers runs.
func (a *Array[T]) BufferedAsyncInsertAt(h *transport.Handle, pos uint64, value T) {
	loc, offset := a.schedule.Locate(pos)
	a.bufferedWrites().Insert(h, loc, writeEntry[T]{offset: offset, value: value})
}

// BufferedInsertAt is the blocking form of BufferedAsyncInsertAt: it waits
// a private handle, so it only blocks if this particular write happens to
// fill its destination's buffer and trigger a flush (§4.7 bufferedInsertAt).
func (a *Array[T]) BufferedInsertAt(pos uint64, value T) {
	h := transport.NewHandle()
	a.BufferedAsyncInsertAt(h, pos, value)
	h.Wait()
}

// FlushBuffers flushes every locality's buffered-write queue, registering
// the dispatches against h. Callers must have already waited every handle
// used for BufferedAsyncInsertAt before calling this (§4.9's ordering
// contract).
func (a *Array[T]) FlushBuffers(h *transport.Handle) {
	a.bufferedWrites().FlushAll(h)
}

// Apply invokes fn with a pointer to the element at pos, on whichever
// locality holds it, so fn may mutate it in place (§4.7 apply).
func (a *Array[T]) Apply(pos uint64, fn func(value *T)) {
	loc, offset := a.schedule.Locate(pos)
	a.rt.ExecuteAt(loc, func(c transport.Ctx) {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.Lock()
		defer ck.mu.Unlock()
		fn(&ck.data[offset])
	})
}

// AsyncApply is the asynchronous form of Apply, registering its dispatch
// against h (§4.7 asyncApply).
func (a *Array[T]) AsyncApply(h *transport.Handle, pos uint64, fn func(value *T)) {
	loc, offset := a.schedule.Locate(pos)
	a.rt.AsyncExecuteAt(h, loc, func(c transport.Ctx) {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.Lock()
		defer ck.mu.Unlock()
		fn(&ck.data[offset])
	})
}

// ApplyWithReturnBuffer invokes fn with a pointer to the element at pos and
// returns whatever fn computes, so a caller can read a value derived from
// the mutation in one round trip instead of an Apply followed by a Get
// (§4.7 applyWithReturnBuffer). It is a package-level function rather than
// a method because Go methods cannot declare a type parameter beyond their
// receiver's.
func ApplyWithReturnBuffer[T, R any](a *Array[T], pos uint64, fn func(value *T) R) R {
	loc, offset := a.schedule.Locate(pos)
	return transport.ExecuteAtWithRet(a.rt, loc, func(c transport.Ctx) R {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.Lock()
		defer ck.mu.Unlock()
		return fn(&ck.data[offset])
	})
}

// LocalitySpan names how many elements of a queried range live on one
// locality, and at what local offset they start.
type LocalitySpan struct {
	Loc   locality.ID
	First uint64
	Count uint64
}

// Partitions returns, in locality order, how the range [start, start+count)
// splits across the localities it spans — the lookup range-based parallel
// algorithms use to dispatch one work item per locality instead of
// resolving every position's owner individually (§6 distribution helper).
func (a *Array[T]) Partitions(start, count uint64) []LocalitySpan {
	var spans []LocalitySpan
	end := start + count
	for _, loc := range a.rt.Localities().All() {
		first, last, ok := a.ranges.Range(loc)
		if !ok || a.schedule.ChunkSize(loc) == 0 {
			continue
		}
		segStart := max(first, start)
		segEnd := min(last+1, end)
		if segStart >= segEnd {
			continue
		}
		spans = append(spans, LocalitySpan{Loc: loc, First: segStart - first, Count: segEnd - segStart})
	}
	return spans
}

// ForEachInRange invokes fn for every position in [start, start+count),
// visiting each locality the range spans in turn and blocking until all
// have been visited (§4.7 forEachInRange).
func (a *Array[T]) ForEachInRange(start, count uint64, fn func(pos uint64, value T)) {
	for _, sp := range a.Partitions(start, count) {
		first, _, _ := a.ranges.Range(sp.Loc)
		a.rt.ExecuteAt(sp.Loc, func(c transport.Ctx) {
			ck := distobj.GetPtr(a.reg, a.id, c.Here)
			ck.mu.RLock()
			defer ck.mu.RUnlock()
			for i := uint64(0); i < sp.Count; i++ {
				fn(first+sp.First+i, ck.data[sp.First+i])
			}
		})
	}
}

// AsyncForEachInRange is the asynchronous form of ForEachInRange,
// registering one dispatch per locality spanned against h (§4.7
// asyncForEachInRange).
func (a *Array[T]) AsyncForEachInRange(h *transport.Handle, start, count uint64, fn func(pos uint64, value T)) {
	for _, sp := range a.Partitions(start, count) {
		first, _, _ := a.ranges.Range(sp.Loc)
		a.rt.AsyncExecuteAt(h, sp.Loc, func(c transport.Ctx) {
			ck := distobj.GetPtr(a.reg, a.id, c.Here)
			ck.mu.RLock()
			defer ck.mu.RUnlock()
			for i := uint64(0); i < sp.Count; i++ {
				fn(first+sp.First+i, ck.data[sp.First+i])
			}
		})
	}
}

// AsyncForEach is the asynchronous, whole-array form of ForEach (§4.7
// asyncForEach).
func (a *Array[T]) AsyncForEach(h *transport.Handle, fn func(pos uint64, value T)) {
	a.AsyncForEachInRange(h, 0, a.Len(), fn)
}

// AsyncGetElements gathers [start, start+count) into dst, dispatching one
// bulk transfer per locality the range spans (§4.7 asyncGetElements). Each
// locality's span is first copied, under that locality's chunk lock, into a
// private snapshot slice local to the dispatch; the snapshot is then handed
// to transport.AsyncDma for the actual transfer into dst, since AsyncDma
// itself performs a bare, lock-free copy and assumes both slices are
// already safe to read concurrently. dst must have room for count elements.
func (a *Array[T]) AsyncGetElements(h *transport.Handle, dst []T, start, count uint64) {
	if uint64(len(dst)) < count {
		panic(fmt.Sprintf("array: AsyncGetElements destination too small: have %d, need %d", len(dst), count))
	}
	for _, sp := range a.Partitions(start, count) {
		loc := sp.Loc
		first, _, _ := a.ranges.Range(loc)
		segStart := first + sp.First
		destOffset := segStart - start
		n := sp.Count
		a.rt.AsyncExecuteAt(h, loc, func(c transport.Ctx) {
			ck := distobj.GetPtr(a.reg, a.id, c.Here)
			ck.mu.RLock()
			snapshot := make([]T, n)
			copy(snapshot, ck.data[sp.First:sp.First+n])
			ck.mu.RUnlock()
			transport.AsyncDma(a.rt, h, loc, dst[destOffset:destOffset+n], snapshot)
		})
	}
}

// ForEachLocal invokes fn once per element of loc's local chunk, passing
// each element's global position and value, without crossing localities
// (§4.7 local iterator range). Call it from outside any dispatch already
// running on loc: it submits its own job to loc's worker pool and blocks
// until that job completes, so calling it from within a callback already
// executing on loc can deadlock a pool with few workers.
func (a *Array[T]) ForEachLocal(loc locality.ID, fn func(pos uint64, value T)) {
	first, _, ok := a.ranges.Range(loc)
	if !ok {
		return
	}
	rt := a.rt
	rt.ExecuteAt(loc, func(c transport.Ctx) {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.RLock()
		defer ck.mu.RUnlock()
		for i, v := range ck.data {
			fn(first+uint64(i), v)
		}
	})
}

// ForEach invokes fn once per element of the whole array, in position
// order, by visiting each locality's local chunk in turn (§4.7 global
// iterator range). It blocks until every locality has been visited.
func (a *Array[T]) ForEach(fn func(pos uint64, value T)) {
	for _, loc := range a.rt.Localities().All() {
		a.ForEachLocal(loc, fn)
	}
}

// ExclusiveScan replaces every element with the combination of all
// elements strictly before it, seeded by identity, using combine as the
// associative operator (§4.7 exclusiveScan / scan). It is realized as a
// single chain of locality-local passes: each locality performs its own
// local exclusive scan seeded by the running carry-in, then asynchronously
// kicks off the next locality's scan under the same handle. The passes run
// one after another in locality order; no locality starts on its chunk
// before its predecessor has finished, and there is no separate parallel
// local-prefix phase.
func (a *Array[T]) ExclusiveScan(combine func(acc, v T) T, identity T) {
	h := transport.NewHandle()
	a.scanFrom(h, locality.ID(0), identity, combine)
	h.Wait()
}

func (a *Array[T]) scanFrom(h *transport.Handle, loc locality.ID, carry T, combine func(acc, v T) T) {
	if int(loc) >= a.rt.Localities().N() {
		return
	}
	a.rt.AsyncExecuteAt(h, loc, func(c transport.Ctx) {
		ck := distobj.GetPtr(a.reg, a.id, c.Here)
		ck.mu.Lock()
		next := carry
		for i, v := range ck.data {
			ck.data[i] = next
			next = combine(next, v)
		}
		ck.mu.Unlock()
		a.scanFrom(h, loc+1, next, combine)
	})
}

// Iterator is a forward cursor over an array's global position space,
// tracked as a (locality, offset) pair rather than a single global index so
// that advancing past a locality's chunk boundary is the only time a new
// locality needs to be resolved — an ordinary Next never consults the
// schedule or the range table (§3, §4.7's iterator). It moves one element
// at a time: there is no backward step and no jump by an offset.
type Iterator[T any] struct {
	a      *Array[T]
	loc    locality.ID
	offset uint64
	n      uint64 // this locality's chunk size, cached at construction/crossing
}

// Begin returns an iterator positioned at the array's first element:
// locality 0, unless the array is smaller than the locality count, in
// which case the lower localities hold empty chunks and iteration starts
// at the schedule's pivot locality instead (§4.7 begin).
func (a *Array[T]) Begin() *Iterator[T] {
	if a.Len() == 0 {
		return a.End()
	}
	loc := locality.ID(0)
	if a.Len() < uint64(a.rt.Localities().N()) {
		for _, l := range a.rt.Localities().All() {
			if a.schedule.ChunkSize(l) > 0 {
				loc = l
				break
			}
		}
	}
	return &Iterator[T]{a: a, loc: loc, n: a.schedule.ChunkSize(loc)}
}

// End returns the sentinel iterator one past the array's last element,
// used only as a loop bound — it is never dereferenced.
func (a *Array[T]) End() *Iterator[T] {
	last := locality.ID(a.rt.Localities().N() - 1)
	return &Iterator[T]{a: a, loc: last + 1}
}

// Pos returns the iterator's current global position.
func (it *Iterator[T]) Pos() uint64 {
	first, _, _ := it.a.ranges.Range(it.loc)
	return first + it.offset
}

// Equal reports whether it and other denote the same (locality, offset).
func (it *Iterator[T]) Equal(other *Iterator[T]) bool {
	return it.loc == other.loc && it.offset == other.offset
}

// Next advances the iterator by one element, crossing into the next
// locality's chunk when offset reaches this one's chunk size.
func (it *Iterator[T]) Next() {
	it.offset++
	if it.offset >= it.n {
		it.loc++
		it.offset = 0
		if int(it.loc) < it.a.rt.Localities().N() {
			it.n = it.a.schedule.ChunkSize(it.loc)
		}
	}
}

// Value dereferences the iterator, dispatching to whichever locality
// currently holds it (§3's "cached chunk pointer" becomes, in this
// runtime's in-process model, a dispatch scoped to exactly it.loc rather
// than a raw pointer a caller could read from the wrong locality).
func (it *Iterator[T]) Value() T {
	loc, offset := it.loc, it.offset
	return transport.ExecuteAtWithRet(it.a.rt, loc, func(c transport.Ctx) T {
		ck := distobj.GetPtr(it.a.reg, it.a.id, c.Here)
		ck.mu.RLock()
		defer ck.mu.RUnlock()
		return ck.data[offset]
	})
}
