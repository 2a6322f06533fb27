// Package objectid mints and decomposes the 64-bit global identifiers that
// name distributed objects (§3, §4.2). An ID packs the owning locality into
// its high 16 bits and a monotone, per-type, per-locality slot counter into
// its low 48 bits, so the owning locality is recoverable without consulting
// any table.
package objectid

import (
	"fmt"
	"sync"

	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/log"
)

const (
	slotBits = 48
	slotMask = (uint64(1) << slotBits) - 1
)

// ID is a portable 64-bit reference to a distributed object.
type ID uint64

// Null is the reserved value naming no object. It is distinguishable from
// every real id because no locality set ever reaches 0xFFFF members.
const Null ID = ^ID(0)

// New packs a locality and a 48-bit slot into an ID.
func New(loc locality.ID, slot uint64) ID {
	if slot > slotMask {
		log.Fatal("objectid: slot exceeds 48 bits")
	}
	return ID(uint64(loc)<<slotBits | (slot & slotMask))
}

// Locality recovers the owning locality from the high bits alone.
func (id ID) Locality() locality.ID {
	return locality.ID(uint64(id) >> slotBits)
}

// Slot recovers the low-48-bit local slot.
func (id ID) Slot() uint64 {
	return uint64(id) & slotMask
}

// IsNull reports whether id is the reserved null value.
func (id ID) IsNull() bool {
	return id == Null
}

func (id ID) String() string {
	if id.IsNull() {
		return "oid(null)"
	}
	return fmt.Sprintf("oid(%s/%d)", id.Locality(), id.Slot())
}

// Counter is the per-container-type, per-locality slot allocator described
// in §4.2. post-increment hands out the current low-bits value then
// advances it; erased slots are pushed back here (§4.3) and are consulted
// before minting a fresh one, so live ids are never reused while the object
// they name might still be referenced.
type Counter struct {
	self locality.ID

	mu   sync.Mutex
	free []uint64
	next uint64
}

// NewCounter creates a counter whose minted ids are all owned by self.
func NewCounter(self locality.ID) *Counter {
	return &Counter{self: self}
}

// Next returns a fresh id: a recycled slot if one is queued, otherwise the
// next unused slot. Saturating the 48-bit space is a fatal programming
// error (§7) — at one allocation per microsecond it would take over eight
// years, so it signals a counter leak rather than legitimate load.
func (c *Counter) Next() ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	var slot uint64
	if n := len(c.free); n > 0 {
		slot = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		if c.next > slotMask {
			log.Fatal("objectid: counter saturated")
		}
		slot = c.next
		c.next++
	}
	return New(c.self, slot)
}

// Recycle returns a slot to the free list once the object it named has been
// observed erased everywhere (§3 invariant: no reuse while live).
func (c *Counter) Recycle(slot uint64) {
	c.mu.Lock()
	c.free = append(c.free, slot)
	c.mu.Unlock()
}
