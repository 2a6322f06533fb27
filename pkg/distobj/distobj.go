// Package distobj implements the collective lifecycle of a distributed
// object (§4.4): a single global id naming one local instance per
// locality, created and destroyed together across the whole locality set.
package distobj

import (
	"github.com/shadrt/shad/pkg/catalog"
	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/log"
	"github.com/shadrt/shad/pkg/objectid"
	"github.com/shadrt/shad/pkg/transport"
)

// Registry holds the singleton catalog for one container type T, shared by
// every Create/Destroy/GetPtr call against that type within a Runtime.
// Each distributed container package (pkg/array, pkg/dmap, pkg/dset, ...)
// keeps one Registry per type it defines.
type Registry[T any] struct {
	typeName string
	catalog  *catalog.Catalog[T]
}

// NewRegistry builds a registry for typeName spanning the runtime's
// localities.
func NewRegistry[T any](rt *transport.Runtime, typeName string) *Registry[T] {
	return &Registry[T]{
		typeName: typeName,
		catalog:  catalog.New[T](typeName, rt.Localities().N()),
	}
}

// Create collectively allocates one global id and constructs a local
// instance on every locality via build, which receives the new id and the
// locality it is being built for. The id is minted once on driver (the
// locality the caller is logically running on, conventionally locality 0
// for top-level creates) and reused verbatim as every other locality's
// catalog slot (§4.4).
func Create[T any](rt *transport.Runtime, reg *Registry[T], driver locality.ID, build func(id objectid.ID, here locality.ID) *T) objectid.ID {
	id := reg.catalog.Allocate(driver)

	h := transport.NewHandle()
	for _, loc := range rt.Localities().All() {
		loc := loc
		rt.AsyncExecuteAt(h, loc, func(c transport.Ctx) {
			obj := build(id, c.Here)
			reg.catalog.Put(id, c.Here, obj)
		})
	}
	h.Wait()

	log.WithComponent("distobj").Debug().Str("type", reg.typeName).Str("oid", id.String()).Msg("created")
	return id
}

// Destroy collectively removes every locality's instance of id. Calling
// Destroy twice for the same id, or calling it for an id the registry never
// created, is a programming error per §7 and terminates the process.
func Destroy[T any](rt *transport.Runtime, reg *Registry[T], id objectid.ID) {
	h := transport.NewHandle()
	for _, loc := range rt.Localities().All() {
		loc := loc
		rt.AsyncExecuteAt(h, loc, func(c transport.Ctx) {
			if reg.catalog.Get(id, c.Here) == nil {
				log.Fatal("distobj: destroy of unknown or already-destroyed object")
			}
			reg.catalog.Delete(id, c.Here)
		})
	}
	h.Wait()

	log.WithComponent("distobj").Debug().Str("type", reg.typeName).Str("oid", id.String()).Msg("destroyed")
}

// GetPtr returns here's local instance of id, or nil if here has no
// instance (§4.4 getPtr — a benign absence, not an error; see §7).
func GetPtr[T any](reg *Registry[T], id objectid.ID, here locality.ID) *T {
	return reg.catalog.Get(id, here)
}
