package localset

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
)

func hashInt(v int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%d", v))
}

func TestInsertReportsNewMembership(t *testing.T) {
	s := New[int]("demo", 4, hashInt)

	assert.True(t, s.Insert(1))
	assert.False(t, s.Insert(1), "a second insert of an already-present element reports false")
	assert.True(t, s.Contains(1))
}

func TestEraseThenContainsMisses(t *testing.T) {
	s := New[int]("demo", 1, hashInt)
	for i := 0; i < 16; i++ {
		s.Insert(i)
	}
	for i := 0; i < 16; i += 2 {
		assert.True(t, s.Erase(i))
	}
	for i := 0; i < 16; i++ {
		if i%2 == 0 {
			assert.False(t, s.Contains(i))
		} else {
			assert.True(t, s.Contains(i))
		}
	}
	assert.False(t, s.Erase(9999))
}

func TestSizeAccounting(t *testing.T) {
	s := New[int]("demo", 2, hashInt)
	for i := 0; i < 20; i++ {
		s.Insert(i)
	}
	assert.EqualValues(t, 20, s.Size())
	s.Erase(5)
	assert.EqualValues(t, 19, s.Size())
}

func TestResetClearsAndResizes(t *testing.T) {
	s := New[int]("demo", 4, hashInt)
	for i := 0; i < 10; i++ {
		s.Insert(i)
	}
	s.Reset(256)
	assert.EqualValues(t, 0, s.Size())
	assert.False(t, s.Contains(3))

	assert.True(t, s.Insert(3))
	assert.True(t, s.Contains(3))
}

func TestConcurrentInsertersOfOverlappingKeys(t *testing.T) {
	s := New[int]("demo", 8, hashInt)

	const workers = 32
	const keys = 50
	var wg sync.WaitGroup
	var successfulInserts [keys]int32

	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for k := 0; k < keys; k++ {
				if s.Insert(k) {
					successfulInserts[k]++
				}
			}
		}()
	}
	wg.Wait()

	for k := 0; k < keys; k++ {
		assert.Equal(t, int32(1), successfulInserts[k], "key %d should have been inserted exactly once across all racing workers", k)
	}
	assert.EqualValues(t, keys, s.Size())
}

// TestConcurrentEraseAgainstConcurrentInserts mirrors pkg/localmap's
// analogous test: Erase for one set of elements runs concurrently with
// repeated re-Insert of a disjoint set of elements, all sharing a
// single-bucket chain, so Erase's forward scan for the chain's tail entry
// passes over entries other goroutines are actively touching. Without a CAS
// claim on each stateUsed entry considered "last so far", Erase could
// relocate a live element out from under a concurrent Insert, duplicating
// it into two slots.
func TestConcurrentEraseAgainstConcurrentInserts(t *testing.T) {
	s := New[int]("demo", 1, hashInt)

	const n = 90
	for i := 0; i < n; i++ {
		assert.True(t, s.Insert(i))
	}

	var eraseSet, keepSet []int
	for i := 0; i < n; i++ {
		if i%3 == 0 {
			eraseSet = append(eraseSet, i)
		} else {
			keepSet = append(keepSet, i)
		}
	}

	var wg sync.WaitGroup
	wg.Add(len(eraseSet) + len(keepSet))

	for _, v := range eraseSet {
		v := v
		go func() {
			defer wg.Done()
			assert.True(t, s.Erase(v))
		}()
	}
	for _, v := range keepSet {
		v := v
		go func() {
			defer wg.Done()
			for r := 0; r < 20; r++ {
				s.Insert(v)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, len(keepSet), s.Size())

	seen := make(map[int]bool)
	s.ForEach(func(v int) {
		assert.False(t, seen[v], "element %d appeared twice in the chain after concurrent erase", v)
		seen[v] = true
	})
	assert.Len(t, seen, len(keepSet))

	for _, v := range keepSet {
		assert.True(t, s.Contains(v), "element %d should have survived", v)
	}
	for _, v := range eraseSet {
		assert.False(t, s.Contains(v), "element %d should have been erased", v)
	}
}

func TestForEachVisitsEveryLiveElement(t *testing.T) {
	s := New[int]("demo", 4, hashInt)
	for i := 0; i < 10; i++ {
		s.Insert(i)
	}
	s.Erase(4)

	seen := make(map[int]bool)
	s.ForEach(func(v int) { seen[v] = true })

	assert.Len(t, seen, 9)
	assert.False(t, seen[4])
}
