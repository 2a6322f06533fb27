package replicated

import (
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"

	"github.com/shadrt/shad/pkg/localmap"
	"github.com/shadrt/shad/pkg/transport"
)

func TestInsertIsVisibleOnEveryLocalityWithoutFurtherDispatch(t *testing.T) {
	rt := transport.New(4, 2)
	defer rt.Close()

	m := New[string, int](rt, "test-replicated", xxhash.Sum64String, localmap.Overwriter[int])
	defer m.Destroy()

	assert.True(t, m.Insert("k", 7))

	for _, loc := range rt.Localities().All() {
		v, ok := m.LookupAt(loc, "k")
		assert.True(t, ok, "locality %d should have its own copy", loc)
		assert.Equal(t, 7, v)
	}
}

func TestEraseRemovesFromEveryLocality(t *testing.T) {
	rt := transport.New(3, 2)
	defer rt.Close()

	m := New[string, int](rt, "test-replicated-2", xxhash.Sum64String, localmap.Overwriter[int])
	defer m.Destroy()

	m.Insert("k", 1)
	assert.True(t, m.Erase("k"))

	for _, loc := range rt.Localities().All() {
		_, ok := m.LookupAt(loc, "k")
		assert.False(t, ok)
	}
}
