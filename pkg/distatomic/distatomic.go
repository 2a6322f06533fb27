// Package distatomic implements a distributed atomic scalar: a single
// numeric value living on one home locality, mutated by any locality
// through remote fetch-add and compare-and-swap dispatches rather than
// local hardware atomics. This supplements the spec with the companion
// primitive from the original SHAD library (atomic.h), used where a
// distributed container needs a shared counter or generation number instead
// of a whole hash map entry.
package distatomic

import (
	"sync"

	"github.com/shadrt/shad/pkg/distobj"
	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/objectid"
	"github.com/shadrt/shad/pkg/transport"
)

// Number is the set of scalar types distatomic can hold.
type Number interface {
	~int | ~int32 | ~int64 | ~uint | ~uint32 | ~uint64 | ~float32 | ~float64
}

type cell[T Number] struct {
	mu    sync.Mutex
	value T
}

// Atomic is a distributed scalar of type T, physically stored on one home
// locality. Every operation dispatches to home, so repeated local use from
// a non-home locality pays a round trip per access — callers that need
// frequent local access should prefer pkg/replicated or keep their own
// locality-local cache and reconcile through Atomic only periodically.
type Atomic[T Number] struct {
	rt   *transport.Runtime
	reg  *distobj.Registry[cell[T]]
	id   objectid.ID
	home locality.ID
}

// New collectively creates a distributed atomic seeded with initial,
// physically backed on home.
func New[T Number](rt *transport.Runtime, typeName string, home locality.ID, initial T) *Atomic[T] {
	reg := distobj.NewRegistry[cell[T]](rt, typeName)
	id := distobj.Create(rt, reg, home, func(_ objectid.ID, here locality.ID) *cell[T] {
		if here == home {
			return &cell[T]{value: initial}
		}
		return &cell[T]{}
	})
	return &Atomic[T]{rt: rt, reg: reg, id: id, home: home}
}

// Destroy collectively frees the atomic.
func (a *Atomic[T]) Destroy() {
	distobj.Destroy(a.rt, a.reg, a.id)
}

// Load returns the current value.
func (a *Atomic[T]) Load() T {
	return transport.ExecuteAtWithRet(a.rt, a.home, func(c transport.Ctx) T {
		cl := distobj.GetPtr(a.reg, a.id, c.Here)
		cl.mu.Lock()
		defer cl.mu.Unlock()
		return cl.value
	})
}

// Store sets the value unconditionally.
func (a *Atomic[T]) Store(v T) {
	a.rt.ExecuteAt(a.home, func(c transport.Ctx) {
		cl := distobj.GetPtr(a.reg, a.id, c.Here)
		cl.mu.Lock()
		cl.value = v
		cl.mu.Unlock()
	})
}

// FetchAdd adds delta to the value and returns the value as it was before
// the addition.
func (a *Atomic[T]) FetchAdd(delta T) T {
	return transport.ExecuteAtWithRet(a.rt, a.home, func(c transport.Ctx) T {
		cl := distobj.GetPtr(a.reg, a.id, c.Here)
		cl.mu.Lock()
		defer cl.mu.Unlock()
		old := cl.value
		cl.value += delta
		return old
	})
}

// CompareAndSwap sets the value to newValue if and only if it currently
// equals old, reporting whether the swap happened.
func (a *Atomic[T]) CompareAndSwap(old, newValue T) bool {
	return transport.ExecuteAtWithRet(a.rt, a.home, func(c transport.Ctx) bool {
		cl := distobj.GetPtr(a.reg, a.id, c.Here)
		cl.mu.Lock()
		defer cl.mu.Unlock()
		if cl.value != old {
			return false
		}
		cl.value = newValue
		return true
	})
}
