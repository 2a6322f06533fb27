// Package dmap implements the distributed hash map of §4.8: a thin
// hash(key) mod N overlay over one pkg/localmap.Map per locality, so a key
// always resolves to exactly one owning locality regardless of which
// locality issues the call.
package dmap

import (
	"context"
	"sync"

	"github.com/shadrt/shad/pkg/aggregate"
	"github.com/shadrt/shad/pkg/distobj"
	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/localmap"
	"github.com/shadrt/shad/pkg/objectid"
	"github.com/shadrt/shad/pkg/transport"
)

const localBuckets = 64
const bufferCapacity = 64

// bufferedEntry is one buffered key/value pair, batched per owning
// locality by BufferedInsert/BufferedAsyncInsert.
type bufferedEntry[K comparable, V any] struct {
	key   K
	value V
}

// Map is a distributed hash map of keys K to values V, sharded across a
// runtime's localities by hashFn(key) mod N.
type Map[K comparable, V any] struct {
	rt     *transport.Runtime
	reg    *distobj.Registry[localmap.Map[K, V]]
	id     objectid.ID
	hashFn func(K) uint64
	policy localmap.InsertPolicy[V]

	buffersOnce sync.Once
	buffers     *aggregate.BuffersVector[bufferedEntry[K, V]]
}

// New collectively creates a distributed map, sharding keys with hashFn and
// resolving same-key inserts with policy (localmap.Overwriter or
// localmap.Updater).
func New[K comparable, V any](rt *transport.Runtime, typeName string, hashFn func(K) uint64, policy localmap.InsertPolicy[V]) *Map[K, V] {
	reg := distobj.NewRegistry[localmap.Map[K, V]](rt, typeName)
	id := distobj.Create(rt, reg, locality.ID(0), func(_ objectid.ID, _ locality.ID) *localmap.Map[K, V] {
		return localmap.New[K, V](typeName, localBuckets, hashFn, policy)
	})
	return &Map[K, V]{rt: rt, reg: reg, id: id, hashFn: hashFn, policy: policy}
}

// Destroy collectively frees the map's per-locality shards.
func (m *Map[K, V]) Destroy() {
	distobj.Destroy(m.rt, m.reg, m.id)
}

func (m *Map[K, V]) owner(key K) locality.ID {
	return locality.ID(m.hashFn(key) % uint64(m.rt.Localities().N()))
}

// Insert stores value under key on its owning locality and reports whether
// the map's policy wrote a value (§4.8 insert): Overwriter always reports
// true, Updater reports false for a key that was already present.
func (m *Map[K, V]) Insert(key K, value V) bool {
	loc := m.owner(key)
	return transport.ExecuteAtWithRet(m.rt, loc, func(c transport.Ctx) bool {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		return shard.Insert(key, value)
	})
}

func (m *Map[K, V]) bufferedInserts() *aggregate.BuffersVector[bufferedEntry[K, V]] {
	m.buffersOnce.Do(func() {
		m.buffers = aggregate.NewBuffersVector(m.rt, bufferCapacity, func(c transport.Ctx, entries []bufferedEntry[K, V]) {
			shard := distobj.GetPtr(m.reg, m.id, c.Here)
			for _, e := range entries {
				shard.Insert(e.key, e.value)
			}
		})
	})
	return m.buffers
}

// BufferedAsyncInsert buffers key/value for eventual replay on key's
// owning locality, registering any fill-triggered flush against h, and
// returns immediately (§4.8 bufferedAsyncInsert, §4.9). Per the buffering
// contract, an insert sitting below its destination's buffer capacity is
// not replayed until FlushBuffers runs; callers must Wait h for every
// insert issued against it, then call FlushBuffers and Wait the handle
// passed to it, before relying on the insert being visible to Lookup.
func (m *Map[K, V]) BufferedAsyncInsert(h *transport.Handle, key K, value V) {
	m.bufferedInserts().Insert(h, m.owner(key), bufferedEntry[K, V]{key: key, value: value})
}

// BufferedInsert is the blocking form of BufferedAsyncInsert: it waits a
// private handle, so it only blocks if this particular insert happens to
// fill its destination locality's buffer and trigger a flush (§4.8
// bufferedInsert).
func (m *Map[K, V]) BufferedInsert(key K, value V) {
	h := transport.NewHandle()
	m.BufferedAsyncInsert(h, key, value)
	h.Wait()
}

// FlushBuffers flushes every locality's buffered-insert queue, registering
// the dispatches against h (§4.9 flushAll).
func (m *Map[K, V]) FlushBuffers(h *transport.Handle) {
	m.bufferedInserts().FlushAll(h)
}

// Lookup returns the value stored for key and whether it was present
// (§4.8 lookup).
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	loc := m.owner(key)
	return transport.ExecuteAtWithRet(m.rt, loc, func(c transport.Ctx) lookupResult[V] {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		v, ok := shard.Lookup(key)
		return lookupResult[V]{v, ok}
	}).unpack()
}

type lookupResult[V any] struct {
	value V
	ok    bool
}

func (r lookupResult[V]) unpack() (V, bool) { return r.value, r.ok }

// Apply invokes fn on the value stored for key, on its owning locality, and
// reports whether key was present (§4.8 apply).
func (m *Map[K, V]) Apply(key K, fn func(value V)) bool {
	loc := m.owner(key)
	return transport.ExecuteAtWithRet(m.rt, loc, func(c transport.Ctx) bool {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		return shard.Apply(key, fn)
	})
}

// Erase removes key from its owning locality and reports whether it was
// present (§4.8 erase).
func (m *Map[K, V]) Erase(key K) bool {
	loc := m.owner(key)
	return transport.ExecuteAtWithRet(m.rt, loc, func(c transport.Ctx) bool {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		return shard.Erase(key)
	})
}

// Size blocks while summing every locality's shard size, per §4.8's note
// that size() is a heavyweight collective operation rather than an O(1)
// counter.
func (m *Map[K, V]) Size() int64 {
	var total int64
	totals := make([]int64, m.rt.Localities().N())
	_ = m.rt.ExecuteOnAll(context.Background(), func(c transport.Ctx) error {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		totals[int(c.Here)] = shard.Size()
		return nil
	})
	for _, t := range totals {
		total += t
	}
	return total
}

// ForEach invokes fn for every live key/value pair across every locality's
// shard, in locality order (§4.8 global iterator range).
func (m *Map[K, V]) ForEach(fn func(key K, value V)) {
	for _, loc := range m.rt.Localities().All() {
		loc := loc
		m.rt.ExecuteAt(loc, func(c transport.Ctx) {
			shard := distobj.GetPtr(m.reg, m.id, c.Here)
			shard.ForEachEntry(fn)
		})
	}
}
