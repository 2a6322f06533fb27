// Package dset implements the distributed hash set described alongside
// the distributed map in §4.8: a hash(value) mod N overlay over one
// pkg/localset.Set per locality.
package dset

import (
	"context"
	"sync"

	"github.com/shadrt/shad/pkg/aggregate"
	"github.com/shadrt/shad/pkg/distobj"
	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/localset"
	"github.com/shadrt/shad/pkg/objectid"
	"github.com/shadrt/shad/pkg/transport"
)

const localBuckets = 64
const bufferCapacity = 64

// Set is a distributed hash set of elements T, sharded across a runtime's
// localities by hashFn(value) mod N.
type Set[T comparable] struct {
	rt     *transport.Runtime
	reg    *distobj.Registry[localset.Set[T]]
	id     objectid.ID
	hashFn func(T) uint64

	buffersOnce sync.Once
	buffers     *aggregate.BuffersVector[T]
}

// New collectively creates a distributed set, sharding elements with
// hashFn.
func New[T comparable](rt *transport.Runtime, typeName string, hashFn func(T) uint64) *Set[T] {
	reg := distobj.NewRegistry[localset.Set[T]](rt, typeName)
	id := distobj.Create(rt, reg, locality.ID(0), func(_ objectid.ID, _ locality.ID) *localset.Set[T] {
		return localset.New[T](typeName, localBuckets, hashFn)
	})
	return &Set[T]{rt: rt, reg: reg, id: id, hashFn: hashFn}
}

// Destroy collectively frees the set's per-locality shards.
func (s *Set[T]) Destroy() {
	distobj.Destroy(s.rt, s.reg, s.id)
}

func (s *Set[T]) owner(value T) locality.ID {
	return locality.ID(s.hashFn(value) % uint64(s.rt.Localities().N()))
}

// Insert adds value to its owning locality's shard and reports whether it
// was newly inserted.
func (s *Set[T]) Insert(value T) bool {
	loc := s.owner(value)
	return transport.ExecuteAtWithRet(s.rt, loc, func(c transport.Ctx) bool {
		shard := distobj.GetPtr(s.reg, s.id, c.Here)
		return shard.Insert(value)
	})
}

func (s *Set[T]) bufferedInserts() *aggregate.BuffersVector[T] {
	s.buffersOnce.Do(func() {
		s.buffers = aggregate.NewBuffersVector(s.rt, bufferCapacity, func(c transport.Ctx, entries []T) {
			shard := distobj.GetPtr(s.reg, s.id, c.Here)
			for _, v := range entries {
				shard.Insert(v)
			}
		})
	})
	return s.buffers
}

// BufferedAsyncInsert buffers value for eventual replay on its owning
// locality, registering any fill-triggered flush against h, and returns
// immediately (§4.8 bufferedAsyncInsert, §4.9).
func (s *Set[T]) BufferedAsyncInsert(h *transport.Handle, value T) {
	s.bufferedInserts().Insert(h, s.owner(value), value)
}

// BufferedInsert is the blocking form of BufferedAsyncInsert: it waits a
// private handle, so it only blocks if this particular insert happens to
// fill its destination locality's buffer and trigger a flush (§4.8
// bufferedInsert).
func (s *Set[T]) BufferedInsert(value T) {
	h := transport.NewHandle()
	s.BufferedAsyncInsert(h, value)
	h.Wait()
}

// FlushBuffers flushes every locality's buffered-insert queue, registering
// the dispatches against h (§4.9 flushAll).
func (s *Set[T]) FlushBuffers(h *transport.Handle) {
	s.bufferedInserts().FlushAll(h)
}

// Contains reports whether value is a member.
func (s *Set[T]) Contains(value T) bool {
	loc := s.owner(value)
	return transport.ExecuteAtWithRet(s.rt, loc, func(c transport.Ctx) bool {
		shard := distobj.GetPtr(s.reg, s.id, c.Here)
		return shard.Contains(value)
	})
}

// Erase removes value from its owning locality's shard and reports whether
// it was present.
func (s *Set[T]) Erase(value T) bool {
	loc := s.owner(value)
	return transport.ExecuteAtWithRet(s.rt, loc, func(c transport.Ctx) bool {
		shard := distobj.GetPtr(s.reg, s.id, c.Here)
		return shard.Erase(value)
	})
}

// Size blocks while summing every locality's shard size.
func (s *Set[T]) Size() int64 {
	var total int64
	totals := make([]int64, s.rt.Localities().N())
	_ = s.rt.ExecuteOnAll(context.Background(), func(c transport.Ctx) error {
		shard := distobj.GetPtr(s.reg, s.id, c.Here)
		totals[int(c.Here)] = shard.Size()
		return nil
	})
	for _, t := range totals {
		total += t
	}
	return total
}

// ForEach invokes fn for every live element across every locality's shard,
// in locality order.
func (s *Set[T]) ForEach(fn func(value T)) {
	for _, loc := range s.rt.Localities().All() {
		loc := loc
		s.rt.ExecuteAt(loc, func(c transport.Ctx) {
			shard := distobj.GetPtr(s.reg, s.id, c.Here)
			shard.ForEach(fn)
		})
	}
}
