package dset

import (
	"strconv"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"

	"github.com/shadrt/shad/pkg/transport"
)

func hashString(v string) uint64 { return xxhash.Sum64String(v) }

func TestInsertContainsEraseRoundTrip(t *testing.T) {
	rt := transport.New(4, 2)
	defer rt.Close()

	s := New[string](rt, "test-dset", hashString)
	defer s.Destroy()

	assert.True(t, s.Insert("a"))
	assert.False(t, s.Insert("a"))
	assert.True(t, s.Contains("a"))

	assert.True(t, s.Erase("a"))
	assert.False(t, s.Contains("a"))
}

func TestSizeAggregatesAcrossShards(t *testing.T) {
	rt := transport.New(4, 2)
	defer rt.Close()

	s := New[string](rt, "test-dset-2", hashString)
	defer s.Destroy()

	for i := 0; i < 500; i++ {
		s.Insert(strconv.Itoa(i))
	}
	assert.EqualValues(t, 500, s.Size())
}

// TestBufferedAsyncInsertThenFlush drives 2,000 elements through
// bufferedAsyncInsert on a single handle, waits it, flushes every buffer,
// and checks every element became a member (§4.8/§4.9's buffered-insert
// ordering contract, mirrored from pkg/dmap's analogous test).
func TestBufferedAsyncInsertThenFlush(t *testing.T) {
	rt := transport.New(4, 4)
	defer rt.Close()

	s := New[string](rt, "test-dset-buffered", hashString)
	defer s.Destroy()

	const n = 2000
	h := transport.NewHandle()
	for i := 0; i < n; i++ {
		s.BufferedAsyncInsert(h, strconv.Itoa(i))
	}
	h.Wait()
	flush := transport.NewHandle()
	s.FlushBuffers(flush)
	flush.Wait()

	assert.EqualValues(t, n, s.Size())
	for i := 0; i < n; i++ {
		assert.True(t, s.Contains(strconv.Itoa(i)))
	}
}

func TestForEachVisitsEveryElement(t *testing.T) {
	rt := transport.New(3, 2)
	defer rt.Close()

	s := New[string](rt, "test-dset-3", hashString)
	defer s.Destroy()

	for i := 0; i < 30; i++ {
		s.Insert(strconv.Itoa(i))
	}

	seen := make(map[string]bool)
	s.ForEach(func(v string) { seen[v] = true })
	assert.Len(t, seen, 30)
}
