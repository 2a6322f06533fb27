package dmap

import (
	"strconv"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"

	"github.com/shadrt/shad/pkg/localmap"
	"github.com/shadrt/shad/pkg/transport"
)

func TestInsertLookupEraseRoundTrip(t *testing.T) {
	rt := transport.New(4, 2)
	defer rt.Close()

	m := New[string, int](rt, "test-dmap", xxhash.Sum64String, localmap.Overwriter[int])
	defer m.Destroy()

	assert.True(t, m.Insert("a", 1))
	assert.True(t, m.Insert("a", 2), "Overwriter reports a write even when the key already exists")

	v, ok := m.Lookup("a")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	assert.True(t, m.Erase("a"))
	_, ok = m.Lookup("a")
	assert.False(t, ok)
}

// TestManyKeysAcrossLocalities drives 10,000 distinct keys through a
// four-locality map and checks every key's owning-locality placement is
// both deterministic and internally consistent: size and per-key lookup
// agree regardless of which locality issues the call.
func TestManyKeysAcrossLocalities(t *testing.T) {
	rt := transport.New(4, 4)
	defer rt.Close()

	m := New[string, int](rt, "test-dmap-2", xxhash.Sum64String, localmap.Overwriter[int])
	defer m.Destroy()

	const n = 10000
	for i := 0; i < n; i++ {
		key := strconv.Itoa(i)
		assert.True(t, m.Insert(key, i))
	}

	assert.EqualValues(t, n, m.Size())

	for i := 0; i < n; i++ {
		key := strconv.Itoa(i)
		v, ok := m.Lookup(key)
		assert.True(t, ok)
		assert.Equal(t, i, v)
	}
}

func hashInt(k int) uint64 {
	return xxhash.Sum64String(strconv.Itoa(k))
}

// TestBufferedAsyncInsertThenFlushThenErase drives 10,001 keys (0..10000)
// through bufferedAsyncInsert on a single handle, waits that handle, flushes
// every buffer, and checks every insert became visible — then erases every
// key that is not a multiple of 3 and checks size and lookups agree
// with the survivors.
func TestBufferedAsyncInsertThenFlushThenErase(t *testing.T) {
	rt := transport.New(4, 4)
	defer rt.Close()

	m := New[int, int](rt, "test-dmap-buffered", hashInt, localmap.Overwriter[int])
	defer m.Destroy()

	const n = 10001
	h := transport.NewHandle()
	for k := 0; k < n; k++ {
		m.BufferedAsyncInsert(h, k, k+11)
	}
	h.Wait()
	flush := transport.NewHandle()
	m.FlushBuffers(flush)
	flush.Wait()

	assert.EqualValues(t, n, m.Size())
	for k := 0; k < n; k++ {
		v, ok := m.Lookup(k)
		assert.True(t, ok)
		assert.Equal(t, k+11, v)
	}

	for k := 0; k < n; k++ {
		if k%3 != 0 {
			assert.True(t, m.Erase(k))
		}
	}

	expected := (n + 2) / 3
	assert.EqualValues(t, expected, m.Size())
	for k := 0; k < n; k++ {
		v, ok := m.Lookup(k)
		if k%3 != 0 {
			assert.False(t, ok, "key %d should have been erased", k)
		} else {
			assert.True(t, ok, "key %d should have survived", k)
			assert.Equal(t, k+11, v)
		}
	}
}

func TestForEachVisitsEveryShard(t *testing.T) {
	rt := transport.New(4, 2)
	defer rt.Close()

	m := New[string, int](rt, "test-dmap-3", xxhash.Sum64String, localmap.Overwriter[int])
	defer m.Destroy()

	for i := 0; i < 40; i++ {
		m.Insert(strconv.Itoa(i), i)
	}

	seen := make(map[string]int)
	m.ForEach(func(k string, v int) { seen[k] = v })
	assert.Len(t, seen, 40)
}
