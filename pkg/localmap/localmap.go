// Package localmap implements the per-locality chained hash map of §4.5: a
// fixed array of buckets, each carrying a lazily-allocated entry slab and an
// optional singly-linked overflow bucket, with per-entry atomic state used
// to make concurrent insert/erase/lookup safe without a global lock.
package localmap

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/shadrt/shad/pkg/metrics"
)

type state int32

const (
	stateEmpty state = iota
	statePendingInsert
	stateUsed
	statePendingUpdate
)

// entry is one key/value slot. state is the FSM tag that mediates
// concurrent access: readers only trust key/value once state observes
// stateUsed via the atomic load that precedes them.
type entry[K comparable, V any] struct {
	state atomic.Int32
	key   K
	value V
}

func (e *entry[K, V]) load() state { return state(e.state.Load()) }

func (e *entry[K, V]) cas(from, to state) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

// InsertPolicy decides what value an entry ends up holding on insert or
// update, and whether that counts as the policy having written a value.
// sameKey is true when the policy is being invoked because the key already
// existed (§4.5 Updater), false on first insertion. Insert returns the
// policy's own bool verbatim, not a value determined by which branch ran.
type InsertPolicy[V any] func(existing V, sameKey bool, incoming V) (V, bool)

// Overwriter always replaces the stored value with the incoming one and
// always reports that it wrote.
func Overwriter[V any](_ V, _ bool, incoming V) (V, bool) { return incoming, true }

// Updater writes the incoming value only on first insertion of a key; on a
// repeat insertion of an already-present key it leaves the stored value
// untouched and reports no write (§4.5: "writes only on first insertion of
// the key and otherwise returns false").
func Updater[V any]() InsertPolicy[V] {
	return func(existing V, sameKey bool, incoming V) (V, bool) {
		if sameKey {
			return existing, false
		}
		return incoming, true
	}
}

const entriesPerBucket = 8

type bucket[K comparable, V any] struct {
	entriesOnce sync.Mutex
	entries     atomic.Pointer[[entriesPerBucket]entry[K, V]]
	overflow    atomic.Pointer[bucket[K, V]]
}

func (b *bucket[K, V]) ensureEntries() *[entriesPerBucket]entry[K, V] {
	if e := b.entries.Load(); e != nil {
		return e
	}
	b.entriesOnce.Lock()
	defer b.entriesOnce.Unlock()
	if e := b.entries.Load(); e != nil {
		return e
	}
	fresh := new([entriesPerBucket]entry[K, V])
	b.entries.Store(fresh)
	return fresh
}

func (b *bucket[K, V]) nextOverflow() *bucket[K, V] {
	if next := b.overflow.Load(); next != nil {
		return next
	}
	fresh := &bucket[K, V]{}
	if b.overflow.CompareAndSwap(nil, fresh) {
		metrics.BucketOverflowAllocationsTotal.Inc()
		return fresh
	}
	return b.overflow.Load()
}

// Map is a fixed-bucket-count concurrent hash map local to one locality.
// Keys hash via hashFn into one of numBuckets chains; each chain grows
// overflow buckets on demand and never shrinks, so a key's bucket is stable
// for the container's lifetime even though entries within it are erased and
// reused.
type Map[K comparable, V any] struct {
	typeName string
	hashFn   func(K) uint64
	policy   InsertPolicy[V]
	buckets  []bucket[K, V]
	size     atomic.Int64
}

// New builds a map with numBuckets chains, hashing keys with hashFn and
// resolving insert-of-existing-key collisions with policy (Overwriter or
// Updater).
func New[K comparable, V any](typeName string, numBuckets int, hashFn func(K) uint64, policy InsertPolicy[V]) *Map[K, V] {
	if numBuckets <= 0 {
		panic("localmap: numBuckets must be positive")
	}
	return &Map[K, V]{
		typeName: typeName,
		hashFn:   hashFn,
		policy:   policy,
		buckets:  make([]bucket[K, V], numBuckets),
	}
}

// Size returns the number of live key/value pairs.
func (m *Map[K, V]) Size() int64 { return m.size.Load() }

func (m *Map[K, V]) bucketFor(key K) *bucket[K, V] {
	h := m.hashFn(key) % uint64(len(m.buckets))
	return &m.buckets[h]
}

// Insert stores value under key, applying the map's policy if key is
// already present, and reports whether the policy wrote a value — true on
// first insertion, and on a repeat insertion whatever the policy itself
// decides (Overwriter: true; Updater: false) (§4.5 insert).
func (m *Map[K, V]) Insert(key K, value V) (inserted bool) {
	b := m.bucketFor(key)
	for {
		entries := b.ensureEntries()
		var firstEmpty *entry[K, V]
		for i := range entries {
			e := &entries[i]
		retryEntry:
			switch e.load() {
			case stateEmpty:
				if firstEmpty == nil {
					firstEmpty = e
				}
			case stateUsed:
				if e.key == key {
					if !e.cas(stateUsed, statePendingUpdate) {
						runtime.Gosched()
						goto retryEntry
					}
					var wrote bool
					e.value, wrote = m.policy(e.value, true, value)
					e.state.Store(int32(stateUsed))
					return wrote
				}
			case statePendingInsert, statePendingUpdate:
				runtime.Gosched()
				goto retryEntry
			}
		}
		if firstEmpty != nil {
			if !firstEmpty.cas(stateEmpty, statePendingInsert) {
				metrics.CASRetriesTotal.WithLabelValues("insert").Inc()
				continue
			}
			firstEmpty.key = key
			var wrote bool
			firstEmpty.value, wrote = m.policy(firstEmpty.value, false, value)
			firstEmpty.state.Store(int32(stateUsed))
			m.size.Add(1)
			return wrote
		}
		next := b.nextOverflow()
		b = next
	}
}

// Lookup returns the value stored for key and whether it was present
// (§4.5 lookup).
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	b := m.bucketFor(key)
	for {
		entries := b.entries.Load()
		if entries == nil {
			var zero V
			return zero, false
		}
		for i := range entries {
			e := &entries[i]
			if e.load() == stateUsed && e.key == key {
				return e.value, true
			}
		}
		next := b.overflow.Load()
		if next == nil {
			var zero V
			return zero, false
		}
		b = next
	}
}

// Apply invokes fn on the value stored for key, if any, and reports whether
// key was present (§4.5 apply). fn runs with the entry held in
// statePendingUpdate, so concurrent inserts of the same key wait for it.
func (m *Map[K, V]) Apply(key K, fn func(value V)) bool {
	b := m.bucketFor(key)
	for {
		entries := b.entries.Load()
		if entries == nil {
			next := b.overflow.Load()
			if next == nil {
				return false
			}
			b = next
			continue
		}
		for i := range entries {
			e := &entries[i]
		retryEntry:
			if e.load() == stateUsed && e.key == key {
				if !e.cas(stateUsed, statePendingUpdate) {
					runtime.Gosched()
					goto retryEntry
				}
				fn(e.value)
				e.state.Store(int32(stateUsed))
				return true
			}
		}
		next := b.overflow.Load()
		if next == nil {
			return false
		}
		b = next
	}
}

// findUsed scans the chain starting at startBucket for an entry matching
// key, marking it statePendingInsert once found so the caller may safely
// relocate or clear it. It returns the entry and the bucket it lives in, or
// nil if the key is absent.
func (m *Map[K, V]) findUsed(startBucket *bucket[K, V], key K) (*entry[K, V], *bucket[K, V]) {
	b := startBucket
	for {
		entries := b.entries.Load()
		if entries != nil {
			for i := range entries {
				e := &entries[i]
				if e.load() == stateUsed && e.key == key {
					if e.cas(stateUsed, statePendingInsert) {
						return e, b
					}
					return nil, nil // contested; caller restarts
				}
			}
		}
		next := b.overflow.Load()
		if next == nil {
			return nil, b
		}
		b = next
	}
}

// lastUsedFrom scans forward from (afterBucket, afterIdx) for the last
// stateUsed entry in the chain, followed immediately by the entry just past
// it if that one is stateEmpty (the erase-contiguity endpoint, §4.5 erase
// step 3). Per step 3, every stateUsed entry it passes over is itself locked
// (CAS USED → PENDING_INSERT) before being considered "the last one so
// far" — any earlier candidate superseded by a later one is released back
// to stateUsed, so at most one entry across the whole scan is ever left
// claimed. It returns that last-used entry (nil if none follow), still held
// in statePendingInsert, and the endpoint it claimed via CAS into
// statePendingInsert (nil if no trailing empty slot exists in this scan,
// e.g. a fully-packed overflow chain). On contention anywhere in the scan it
// releases any claimed entry and returns (nil, nil, nil) so the caller
// retries the whole erase. A scan that starts past the chain's last slot
// also returns (nil, nil, nil); Erase tells that case apart itself.
func (m *Map[K, V]) lastUsedFrom(afterBucket *bucket[K, V], afterIdx int) (lastUsed *entry[K, V], lastBucket *bucket[K, V], endpoint *entry[K, V]) {
	release := func() {
		if lastUsed != nil {
			lastUsed.state.Store(int32(stateUsed))
			lastUsed = nil
		}
	}
	b := afterBucket
	idx := afterIdx
	for {
		entries := b.entries.Load()
		if entries == nil {
			return lastUsed, lastBucket, endpoint
		}
		for i := idx; i < len(entries); i++ {
			e := &entries[i]
			switch e.load() {
			case stateUsed:
				if !e.cas(stateUsed, statePendingInsert) {
					// contested: another writer raced this entry. Bail out
					// entirely rather than risk relocating a stale payload.
					release()
					return nil, nil, nil
				}
				release() // only the entry just claimed stays held
				lastUsed, lastBucket = e, b
			case stateEmpty:
				if e.cas(stateEmpty, statePendingInsert) {
					return lastUsed, lastBucket, e
				}
				// contested empty slot: another writer is active here too;
				// treat as if the chain ended at the last confirmed USED
				// entry, which is still safely held via its own CAS above.
				return lastUsed, lastBucket, nil
			default:
				// a concurrent writer holds this slot pending; stop the
				// scan here and let the caller retry the whole erase.
				release()
				return nil, nil, nil
			}
		}
		next := b.overflow.Load()
		if next == nil {
			return lastUsed, lastBucket, endpoint
		}
		b, idx = next, 0
	}
}

func (m *Map[K, V]) indexOf(b *bucket[K, V], target *entry[K, V]) int {
	entries := b.entries.Load()
	for i := range entries {
		if &entries[i] == target {
			return i
		}
	}
	return -1
}

// Erase removes key, preserving the contiguity invariant of §4.5: the run
// of stateUsed entries reachable by scanning forward from any bucket head
// has no interior stateEmpty gaps, so lookups can stop at the first empty
// slot. It reports whether key was present.
func (m *Map[K, V]) Erase(key K) bool {
	b := m.bucketFor(key)
	for {
		target, targetBucket := m.findUsed(b, key)
		if targetBucket == nil && target == nil {
			runtime.Gosched()
			continue // contested; restart the whole erase
		}
		if target == nil {
			return false // key absent
		}

		idx := m.indexOf(targetBucket, target)
		lastUsed, lastBucket, endpoint := m.lastUsedFrom(targetBucket, idx+1)
		// no slot follows target at all: an all-nil result then means the
		// chain ended, not contention.
		next := targetBucket.overflow.Load()
		atTail := idx == entriesPerBucket-1 && (next == nil || next.entries.Load() == nil)
		if lastUsed == nil && lastBucket == nil && endpoint == nil && !atTail {
			// scan hit contention; roll back target and retry.
			target.state.Store(int32(stateUsed))
			runtime.Gosched()
			continue
		}

		if lastUsed == nil {
			// target is the last used entry in its chain: just clear it.
			var zeroK K
			var zeroV V
			target.key, target.value = zeroK, zeroV
			target.state.Store(int32(stateEmpty))
			if endpoint != nil && endpoint != target {
				endpoint.state.Store(int32(stateEmpty))
			}
			m.size.Add(-1)
			return true
		}

		// lastUsed arrives already claimed (CAS USED → PENDING_INSERT inside
		// lastUsedFrom), so it is safe to read and clear here without racing
		// a concurrent Insert/Apply/Erase on the same entry. Move its
		// payload into target's slot, then clear the vacated slot and the
		// endpoint marker.
		target.key, target.value = lastUsed.key, lastUsed.value
		target.state.Store(int32(stateUsed))

		var zeroK K
		var zeroV V
		lastUsed.key, lastUsed.value = zeroK, zeroV
		lastUsed.state.Store(int32(stateEmpty))
		if endpoint != nil && endpoint != lastUsed {
			endpoint.state.Store(int32(stateEmpty))
		}
		m.size.Add(-1)
		return true
	}
}

// ForEachEntry invokes fn for every live key/value pair. fn must not call
// back into the map.
func (m *Map[K, V]) ForEachEntry(fn func(key K, value V)) {
	for bi := range m.buckets {
		b := &m.buckets[bi]
		for b != nil {
			entries := b.entries.Load()
			if entries != nil {
				for i := range entries {
					e := &entries[i]
					if e.load() == stateUsed {
						fn(e.key, e.value)
					}
				}
			}
			b = b.overflow.Load()
		}
	}
}

// ForEachKey invokes fn for every live key.
func (m *Map[K, V]) ForEachKey(fn func(key K)) {
	m.ForEachEntry(func(key K, _ V) { fn(key) })
}

// Clear removes every entry, resetting the map to empty. It is not safe to
// call concurrently with other mutators.
func (m *Map[K, V]) Clear() {
	for bi := range m.buckets {
		b := &m.buckets[bi]
		for b != nil {
			entries := b.entries.Load()
			if entries != nil {
				for i := range entries {
					entries[i] = entry[K, V]{}
				}
			}
			b = b.overflow.Load()
		}
	}
	m.size.Store(0)
}
