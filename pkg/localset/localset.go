// Package localset implements the per-locality concurrent hash set of
// §4.6: the same chained-bucket, atomic-FSM structure as pkg/localmap, with
// the update state dropped since a set element carries no payload to
// revise — a second insert of an already-present element is simply a no-op
// that reports false.
package localset

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
)

type entry[T comparable] struct {
	state atomic.Int32
	value T
}

func (e *entry[T]) load() state { return state(e.state.Load()) }

func (e *entry[T]) cas(from, to state) bool {
	return e.state.CompareAndSwap(int32(from), int32(to))
}

const entriesPerBucket = 8

type bucket[T comparable] struct {
	entriesOnce sync.Mutex
	entries     atomic.Pointer[[entriesPerBucket]entry[T]]
	overflow    atomic.Pointer[bucket[T]]
}

func (b *bucket[T]) ensureEntries() *[entriesPerBucket]entry[T] {
	if e := b.entries.Load(); e != nil {
		return e
	}
	b.entriesOnce.Lock()
	defer b.entriesOnce.Unlock()
	if e := b.entries.Load(); e != nil {
		return e
	}
	fresh := new([entriesPerBucket]entry[T])
	b.entries.Store(fresh)
	return fresh
}

func (b *bucket[T]) nextOverflow() *bucket[T] {
	if next := b.overflow.Load(); next != nil {
		return next
	}
	fresh := &bucket[T]{}
	if b.overflow.CompareAndSwap(nil, fresh) {
		metrics.BucketOverflowAllocationsTotal.Inc()
		return fresh
	}
	return b.overflow.Load()
}

// Set is a fixed-bucket-count concurrent hash set local to one locality.
type Set[T comparable] struct {
	typeName string
	hashFn   func(T) uint64
	buckets  []bucket[T]
	size     atomic.Int64
}

// New builds a set with numBuckets chains, hashing elements with hashFn.
func New[T comparable](typeName string, numBuckets int, hashFn func(T) uint64) *Set[T] {
	if numBuckets <= 0 {
		panic("localset: numBuckets must be positive")
	}
	return &Set[T]{
		typeName: typeName,
		hashFn:   hashFn,
		buckets:  make([]bucket[T], numBuckets),
	}
}

// Size returns the number of live elements.
func (s *Set[T]) Size() int64 { return s.size.Load() }

// Reset discards every element and pre-sizes the bucket array for expected
// elements, matching §4.6's reset(expected_size) used to reuse a set across
// rounds without repeated overflow-chain growth.
func (s *Set[T]) Reset(expected int) {
	numBuckets := len(s.buckets)
	if expected > 0 {
		n := expected / entriesPerBucket
		if n < 1 {
			n = 1
		}
		numBuckets = n
	}
	s.buckets = make([]bucket[T], numBuckets)
	s.size.Store(0)
}

func (s *Set[T]) bucketFor(value T) *bucket[T] {
	h := s.hashFn(value) % uint64(len(s.buckets))
	return &s.buckets[h]
}

// Insert adds value if absent and reports whether it was newly inserted
// (§4.6 insert).
func (s *Set[T]) Insert(value T) (inserted bool) {
	b := s.bucketFor(value)
	for {
		entries := b.ensureEntries()
		var firstEmpty *entry[T]
		for i := range entries {
			e := &entries[i]
		retryEntry:
			switch e.load() {
			case stateEmpty:
				if firstEmpty == nil {
					firstEmpty = e
				}
			case stateUsed:
				if e.value == value {
					return false
				}
			case statePendingInsert:
				runtime.Gosched()
				goto retryEntry
			}
		}
		if firstEmpty != nil {
			if !firstEmpty.cas(stateEmpty, statePendingInsert) {
				metrics.CASRetriesTotal.WithLabelValues("insert").Inc()
				continue
			}
			firstEmpty.value = value
			firstEmpty.state.Store(int32(stateUsed))
			s.size.Add(1)
			return true
		}
		b = b.nextOverflow()
	}
}

// Contains reports whether value is a member (§4.6 lookup).
func (s *Set[T]) Contains(value T) bool {
	b := s.bucketFor(value)
	for {
		entries := b.entries.Load()
		if entries == nil {
			return false
		}
		for i := range entries {
			e := &entries[i]
			if e.load() == stateUsed && e.value == value {
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

func (s *Set[T]) findUsed(startBucket *bucket[T], value T) (*entry[T], *bucket[T]) {
	b := startBucket
	for {
		entries := b.entries.Load()
		if entries != nil {
			for i := range entries {
				e := &entries[i]
				if e.load() == stateUsed && e.value == value {
					if e.cas(stateUsed, statePendingInsert) {
						return e, b
					}
					return nil, nil
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

// lastUsedFrom mirrors pkg/localmap's method of the same name: every
// stateUsed entry passed over is locked (CAS USED → PENDING_INSERT) before
// being treated as "the last one so far", with any superseded candidate
// released back to stateUsed, so at most one entry is ever left claimed.
// Contention anywhere in the scan releases any claimed entry and returns
// (nil, nil, nil), signaling the caller to retry the whole erase. A scan
// that starts past the chain's last slot also returns (nil, nil, nil);
// Erase tells that case apart itself.
func (s *Set[T]) lastUsedFrom(afterBucket *bucket[T], afterIdx int) (lastUsed *entry[T], lastBucket *bucket[T], endpoint *entry[T]) {
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
					release()
					return nil, nil, nil
				}
				release()
				lastUsed, lastBucket = e, b
			case stateEmpty:
				if e.cas(stateEmpty, statePendingInsert) {
					return lastUsed, lastBucket, e
				}
				return lastUsed, lastBucket, nil
			default:
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

func (s *Set[T]) indexOf(b *bucket[T], target *entry[T]) int {
	entries := b.entries.Load()
	for i := range entries {
		if &entries[i] == target {
			return i
		}
	}
	return -1
}

// Erase removes value, preserving the same contiguity invariant as
// pkg/localmap's Erase, and reports whether it was present (§4.6 erase).
func (s *Set[T]) Erase(value T) bool {
	b := s.bucketFor(value)
	for {
		target, targetBucket := s.findUsed(b, value)
		if targetBucket == nil && target == nil {
			runtime.Gosched()
			continue
		}
		if target == nil {
			return false
		}

		idx := s.indexOf(targetBucket, target)
		lastUsed, lastBucket, endpoint := s.lastUsedFrom(targetBucket, idx+1)
		// no slot follows target at all: an all-nil result then means the
		// chain ended, not contention.
		next := targetBucket.overflow.Load()
		atTail := idx == entriesPerBucket-1 && (next == nil || next.entries.Load() == nil)
		if lastUsed == nil && lastBucket == nil && endpoint == nil && !atTail {
			target.state.Store(int32(stateUsed))
			runtime.Gosched()
			continue
		}

		if lastUsed == nil {
			var zero T
			target.value = zero
			target.state.Store(int32(stateEmpty))
			if endpoint != nil && endpoint != target {
				endpoint.state.Store(int32(stateEmpty))
			}
			s.size.Add(-1)
			return true
		}

		target.value = lastUsed.value
		target.state.Store(int32(stateUsed))

		var zero T
		lastUsed.value = zero
		lastUsed.state.Store(int32(stateEmpty))
		if endpoint != nil && endpoint != lastUsed {
			endpoint.state.Store(int32(stateEmpty))
		}
		s.size.Add(-1)
		return true
	}
}

// ForEach invokes fn for every live element.
func (s *Set[T]) ForEach(fn func(value T)) {
	for bi := range s.buckets {
		b := &s.buckets[bi]
		for b != nil {
			entries := b.entries.Load()
			if entries != nil {
				for i := range entries {
					e := &entries[i]
					if e.load() == stateUsed {
						fn(e.value)
					}
				}
			}
			b = b.overflow.Load()
		}
	}
}
