// Package aggregate implements the per-destination buffering layer of
// §4.9: entries destined for a locality accumulate in a fixed-capacity
// buffer and are replayed there in one batch, either because the buffer
// filled up or because the caller explicitly flushed it.
//
// Ordering contract: callers that insert asynchronously must call
// (*Handle).Wait on every handle used for insertion before calling
// FlushAll. Flushing while inserts are still in flight can race a
// fill-triggered flush against an explicit one and reorder entries.
package aggregate

import (
	"sync"

	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/metrics"
	"github.com/shadrt/shad/pkg/transport"
)

// ReplayFn applies a batch of buffered entries at the locality the batch
// was destined for. It runs inside a dispatch to that locality, so it may
// freely touch locality-local state (e.g. inserting into a local map).
type ReplayFn[E any] func(c transport.Ctx, entries []E)

// Buffer accumulates entries destined for one locality, replaying them in
// batches of at most capacity (§4.9 Buffer).
type Buffer[E any] struct {
	rt       *transport.Runtime
	loc      locality.ID
	capacity int
	replay   ReplayFn[E]

	mu      sync.Mutex
	entries []E
}

func newBuffer[E any](rt *transport.Runtime, loc locality.ID, capacity int, replay ReplayFn[E]) *Buffer[E] {
	if capacity <= 0 {
		panic("aggregate: buffer capacity must be positive")
	}
	return &Buffer[E]{
		rt:       rt,
		loc:      loc,
		capacity: capacity,
		replay:   replay,
		entries:  make([]E, 0, capacity),
	}
}

// Insert appends entry to the buffer, registering any triggered flush
// against h. If the insert fills the buffer to capacity, it is flushed
// immediately (§4.9 bufferEntryInsert).
func (b *Buffer[E]) Insert(h *transport.Handle, entry E) {
	b.mu.Lock()
	b.entries = append(b.entries, entry)
	var batch []E
	if len(b.entries) >= b.capacity {
		batch = b.entries
		b.entries = make([]E, 0, b.capacity)
	}
	b.mu.Unlock()

	if batch != nil {
		b.dispatch(h, batch, "full")
	}
}

// Flush replays whatever is currently buffered, even if below capacity
// (§4.9 explicit flush), registering the dispatch against h.
func (b *Buffer[E]) Flush(h *transport.Handle) {
	b.mu.Lock()
	batch := b.entries
	b.entries = make([]E, 0, b.capacity)
	b.mu.Unlock()

	if len(batch) > 0 {
		b.dispatch(h, batch, "explicit")
	}
}

func (b *Buffer[E]) dispatch(h *transport.Handle, batch []E, trigger string) {
	metrics.BufferFlushesTotal.WithLabelValues(b.loc.String(), trigger).Inc()
	metrics.BufferEntriesFlushed.Observe(float64(len(batch)))
	b.rt.AsyncExecuteAt(h, b.loc, func(c transport.Ctx) {
		b.replay(c, batch)
	})
}

// BuffersVector holds one Buffer per locality in a runtime, the standard
// shape for fan-out aggregation: a producer inserts into whichever
// locality's buffer an entry is destined for, then flushes all of them once
// its asynchronous inserts have completed (§4.9 BuffersVector).
type BuffersVector[E any] struct {
	buffers []*Buffer[E]
}

// NewBuffersVector builds one buffer of the given capacity per locality in
// rt, each replaying its batches with replay.
func NewBuffersVector[E any](rt *transport.Runtime, capacity int, replay ReplayFn[E]) *BuffersVector[E] {
	bv := &BuffersVector[E]{buffers: make([]*Buffer[E], rt.Localities().N())}
	for _, loc := range rt.Localities().All() {
		bv.buffers[loc] = newBuffer(rt, loc, capacity, replay)
	}
	return bv
}

// Insert appends entry to the buffer destined for loc.
func (bv *BuffersVector[E]) Insert(h *transport.Handle, loc locality.ID, entry E) {
	bv.buffers[loc].Insert(h, entry)
}

// FlushAll flushes every locality's buffer. Per the package's ordering
// contract, callers must have already waited on every handle used for
// Insert before calling this.
func (bv *BuffersVector[E]) FlushAll(h *transport.Handle) {
	for _, b := range bv.buffers {
		b.Flush(h)
	}
}
