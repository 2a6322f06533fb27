package distatomic

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/transport"
)

func TestLoadStoreRoundTrip(t *testing.T) {
	rt := transport.New(3, 2)
	defer rt.Close()

	a := New[int64](rt, "test-atomic", locality.ID(1), 5)
	defer a.Destroy()

	assert.EqualValues(t, 5, a.Load())
	a.Store(42)
	assert.EqualValues(t, 42, a.Load())
}

func TestFetchAddIsAtomicUnderConcurrency(t *testing.T) {
	rt := transport.New(4, 4)
	defer rt.Close()

	a := New[int64](rt, "test-atomic-2", locality.ID(0), 0)
	defer a.Destroy()

	const workers = 50
	const perWorker = 20
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				a.FetchAdd(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, workers*perWorker, a.Load())
}

func TestCompareAndSwap(t *testing.T) {
	rt := transport.New(2, 2)
	defer rt.Close()

	a := New[int64](rt, "test-atomic-3", locality.ID(0), 10)
	defer a.Destroy()

	assert.False(t, a.CompareAndSwap(999, 1))
	assert.EqualValues(t, 10, a.Load())

	assert.True(t, a.CompareAndSwap(10, 20))
	assert.EqualValues(t, 20, a.Load())
}
