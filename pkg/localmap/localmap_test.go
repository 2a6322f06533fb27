package localmap

import (
	"fmt"
	"sync"
	"testing"

	"github.com/cespare/xxhash/v2"
	"github.com/stretchr/testify/assert"
)

func hashInt(k int) uint64 {
	return xxhash.Sum64String(fmt.Sprintf("%d", k))
}

func TestInsertLookupRoundTrip(t *testing.T) {
	m := New[int, string]("demo", 4, hashInt, Overwriter[string])

	inserted := m.Insert(1, "one")
	assert.True(t, inserted)

	v, ok := m.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	_, ok = m.Lookup(2)
	assert.False(t, ok)
}

func TestUpdaterWritesOnlyOnFirstInsertion(t *testing.T) {
	m := New[int, int]("demo", 4, hashInt, Updater[int]())

	assert.True(t, m.Insert(1, 10))
	assert.False(t, m.Insert(1, 5), "Updater reports no write on a repeat insertion of an existing key")

	v, ok := m.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, 10, v, "Updater leaves the first-inserted value untouched")
}

func TestOverwriterAlwaysReportsWrite(t *testing.T) {
	m := New[int, int]("demo", 4, hashInt, Overwriter[int])

	assert.True(t, m.Insert(1, 10))
	assert.True(t, m.Insert(1, 20), "Overwriter always writes and returns true, even on an existing key")

	v, ok := m.Lookup(1)
	assert.True(t, ok)
	assert.Equal(t, 20, v)
}

func TestSizeAccounting(t *testing.T) {
	m := New[int, int]("demo", 2, hashInt, Overwriter[int])
	for i := 0; i < 10; i++ {
		m.Insert(i, i)
	}
	assert.EqualValues(t, 10, m.Size())

	m.Erase(3)
	m.Erase(7)
	assert.EqualValues(t, 8, m.Size())

	assert.False(t, m.Erase(999), "erasing an absent key reports false")
	assert.EqualValues(t, 8, m.Size())
}

func TestEraseThenLookupMisses(t *testing.T) {
	m := New[int, int]("demo", 1, hashInt, Overwriter[int])
	for i := 0; i < 20; i++ {
		m.Insert(i, i*i)
	}

	for i := 0; i < 20; i += 2 {
		assert.True(t, m.Erase(i))
	}

	for i := 0; i < 20; i++ {
		v, ok := m.Lookup(i)
		if i%2 == 0 {
			assert.False(t, ok, "key %d should have been erased", i)
		} else {
			assert.True(t, ok, "key %d should still be present", i)
			assert.Equal(t, i*i, v)
		}
	}
}

// TestEraseContiguity drives many overlapping insert/erase pairs through a
// single-bucket chain (so every key collides) and checks that lookups for
// every surviving key still succeed afterward — the observable consequence
// of the no-interior-gap invariant erase is supposed to maintain.
func TestEraseContiguity(t *testing.T) {
	m := New[int, int]("demo", 1, hashInt, Overwriter[int])

	const n = 64
	for i := 0; i < n; i++ {
		assert.True(t, m.Insert(i, i))
	}
	for i := 0; i < n; i += 3 {
		assert.True(t, m.Erase(i))
	}
	for i := 0; i < n; i++ {
		v, ok := m.Lookup(i)
		if i%3 == 0 {
			assert.False(t, ok)
		} else {
			assert.True(t, ok)
			assert.Equal(t, i, v)
		}
	}
	expected := n - (n+2)/3
	assert.EqualValues(t, expected, m.Size())
}

func TestApplyMutatesInPlace(t *testing.T) {
	m := New[int, []int]("demo", 2, hashInt, Overwriter[[]int])
	m.Insert(1, []int{1})

	ok := m.Apply(1, func(v []int) {
		v[0] = 42
	})
	assert.True(t, ok)

	v, _ := m.Lookup(1)
	assert.Equal(t, []int{42}, v)

	assert.False(t, m.Apply(999, func([]int) {}))
}

// TestConcurrentInserters hammers a small-bucket map from many goroutines
// with distinct keys and checks every key survives, exercising the
// CAS-mediated insert path under real contention.
func TestConcurrentInserters(t *testing.T) {
	m := New[int, int]("demo", 8, hashInt, Overwriter[int])

	const workers = 64
	const perWorker = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		w := w
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := w*perWorker + i
				m.Insert(key, key*2)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, workers*perWorker, m.Size())
	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			key := w*perWorker + i
			v, ok := m.Lookup(key)
			assert.True(t, ok)
			assert.Equal(t, key*2, v)
		}
	}
}

// TestConcurrentEraseAgainstConcurrentInsertAndApply drives Erase for one
// set of keys concurrently with repeated Insert/Apply calls on a disjoint
// set of keys, all sharing a single-bucket chain so every Erase's forward
// scan for the chain's tail entry passes over entries other goroutines are
// actively writing. This exercises lastUsedFrom's CAS claim on each
// stateUsed entry it considers "last so far": without it, Erase could
// relocate a live entry out from under a concurrent writer, corrupting its
// value or leaving the same key in two slots at once.
func TestConcurrentEraseAgainstConcurrentInsertAndApply(t *testing.T) {
	m := New[int, int]("demo", 1, hashInt, Overwriter[int])

	const n = 90
	for i := 0; i < n; i++ {
		assert.True(t, m.Insert(i, i))
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

	for _, k := range eraseSet {
		k := k
		go func() {
			defer wg.Done()
			assert.True(t, m.Erase(k))
		}()
	}
	for _, k := range keepSet {
		k := k
		go func() {
			defer wg.Done()
			for r := 0; r < 20; r++ {
				if r%2 == 0 {
					m.Insert(k, k)
				} else {
					m.Apply(k, func(int) {})
				}
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, len(keepSet), m.Size())

	seen := make(map[int]int)
	m.ForEachEntry(func(key, v int) {
		_, dup := seen[key]
		assert.False(t, dup, "key %d appeared twice in the chain after concurrent erase", key)
		seen[key] = v
	})
	assert.Len(t, seen, len(keepSet))

	for _, k := range keepSet {
		v, ok := m.Lookup(k)
		assert.True(t, ok, "key %d should have survived", k)
		assert.Equal(t, k, v)
	}
	for _, k := range eraseSet {
		_, ok := m.Lookup(k)
		assert.False(t, ok, "key %d should have been erased", k)
	}
}

func TestForEachEntryVisitsEveryLiveKey(t *testing.T) {
	m := New[int, int]("demo", 4, hashInt, Overwriter[int])
	for i := 0; i < 10; i++ {
		m.Insert(i, i)
	}
	m.Erase(5)

	seen := make(map[int]int)
	m.ForEachEntry(func(k, v int) { seen[k] = v })

	assert.Len(t, seen, 9)
	_, ok := seen[5]
	assert.False(t, ok)
}

func TestClearResetsToEmpty(t *testing.T) {
	m := New[int, int]("demo", 2, hashInt, Overwriter[int])
	for i := 0; i < 5; i++ {
		m.Insert(i, i)
	}
	m.Clear()
	assert.EqualValues(t, 0, m.Size())
	_, ok := m.Lookup(0)
	assert.False(t, ok)
}
