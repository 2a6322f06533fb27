// Package replicated implements a fully-replicated hash map: every locality
// holds a complete copy, so lookups never cross the network and only
// writes pay a broadcast cost. This supplements the spec's partitioned
// pkg/dmap with the companion structure from the original SHAD library
// (replicated_hashmap.h), useful for small, read-heavy, write-rare tables
// such as configuration or lookup dictionaries shared by every locality.
package replicated

import (
	"context"

	"github.com/shadrt/shad/pkg/distobj"
	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/localmap"
	"github.com/shadrt/shad/pkg/objectid"
	"github.com/shadrt/shad/pkg/transport"
)

const localBuckets = 64

// Map is a hash map replicated in full on every locality of a runtime.
type Map[K comparable, V any] struct {
	rt     *transport.Runtime
	reg    *distobj.Registry[localmap.Map[K, V]]
	id     objectid.ID
	hashFn func(K) uint64
	policy localmap.InsertPolicy[V]
}

// New collectively creates a replicated map: every locality gets its own
// independent local map instance, kept in sync by broadcasting every
// mutation to all of them.
func New[K comparable, V any](rt *transport.Runtime, typeName string, hashFn func(K) uint64, policy localmap.InsertPolicy[V]) *Map[K, V] {
	reg := distobj.NewRegistry[localmap.Map[K, V]](rt, typeName)
	id := distobj.Create(rt, reg, locality.ID(0), func(_ objectid.ID, _ locality.ID) *localmap.Map[K, V] {
		return localmap.New[K, V](typeName, localBuckets, hashFn, policy)
	})
	return &Map[K, V]{rt: rt, reg: reg, id: id, hashFn: hashFn, policy: policy}
}

// Destroy collectively frees every locality's copy.
func (m *Map[K, V]) Destroy() {
	distobj.Destroy(m.rt, m.reg, m.id)
}

// Insert applies key/value to every locality's copy and reports whether the
// map's policy wrote a value on locality 0, the copies' common reference
// point — every copy
// started identical and every mutation is broadcast the same way, so they
// never disagree.
func (m *Map[K, V]) Insert(key K, value V) bool {
	results := make([]bool, m.rt.Localities().N())
	_ = m.rt.ExecuteOnAll(context.Background(), func(c transport.Ctx) error {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		results[int(c.Here)] = shard.Insert(key, value)
		return nil
	})
	return results[0]
}

// Erase removes key from every locality's copy and reports whether it was
// present on locality 0.
func (m *Map[K, V]) Erase(key K) bool {
	results := make([]bool, m.rt.Localities().N())
	_ = m.rt.ExecuteOnAll(context.Background(), func(c transport.Ctx) error {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		results[int(c.Here)] = shard.Erase(key)
		return nil
	})
	return results[0]
}

// LookupAt reads key from here's local copy with one dispatch to here; no
// other locality is involved, which is the whole point of replication.
func (m *Map[K, V]) LookupAt(here locality.ID, key K) (V, bool) {
	type result struct {
		value V
		ok    bool
	}
	r := transport.ExecuteAtWithRet(m.rt, here, func(c transport.Ctx) result {
		shard := distobj.GetPtr(m.reg, m.id, c.Here)
		v, ok := shard.Lookup(key)
		return result{v, ok}
	})
	return r.value, r.ok
}
