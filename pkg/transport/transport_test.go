package transport

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shadrt/shad/pkg/locality"
)

func TestExecuteAtBlocksUntilComplete(t *testing.T) {
	rt := New(4, 2)
	defer rt.Close()

	var ran atomic.Bool
	rt.ExecuteAt(locality.ID(1), func(c Ctx) {
		assert.Equal(t, locality.ID(1), c.Here)
		ran.Store(true)
	})
	assert.True(t, ran.Load())
}

func TestExecuteAtWithRetReturnsValue(t *testing.T) {
	rt := New(2, 2)
	defer rt.Close()

	v := ExecuteAtWithRet(rt, locality.ID(0), func(c Ctx) int { return 42 })
	assert.Equal(t, 42, v)
}

func TestAsyncExecuteAtCompletesBeforeWaitReturns(t *testing.T) {
	rt := New(3, 2)
	defer rt.Close()

	h := NewHandle()
	var counter atomic.Int64
	for i := 0; i < 100; i++ {
		loc := locality.ID(i % 3)
		rt.AsyncExecuteAt(h, loc, func(c Ctx) {
			counter.Add(1)
		})
	}
	h.Wait()
	assert.EqualValues(t, 100, counter.Load())
}

func TestHandleNestsSafely(t *testing.T) {
	rt := New(2, 2)
	defer rt.Close()

	h := NewHandle()
	var counter atomic.Int64
	rt.AsyncExecuteAt(h, locality.ID(0), func(c Ctx) {
		counter.Add(1)
		rt.AsyncExecuteAt(h, locality.ID(1), func(c Ctx) {
			counter.Add(1)
		})
	})
	h.Wait()
	assert.EqualValues(t, 2, counter.Load())
}

func TestExecuteOnAllVisitsEveryLocality(t *testing.T) {
	rt := New(5, 2)
	defer rt.Close()

	var visited [5]atomic.Bool
	err := rt.ExecuteOnAll(context.Background(), func(c Ctx) error {
		visited[c.Here].Store(true)
		return nil
	})
	assert.NoError(t, err)
	for i := range visited {
		assert.True(t, visited[i].Load(), "locality %d was not visited", i)
	}
}

func TestForEachAtRunsEveryItem(t *testing.T) {
	rt := New(2, 4)
	defer rt.Close()

	var seen [50]atomic.Bool
	rt.ForEachAt(locality.ID(0), 50, func(c Ctx, i int) {
		seen[i].Store(true)
	})
	for i := range seen {
		assert.True(t, seen[i].Load())
	}
}

func TestAsyncDmaCopiesUnderHandle(t *testing.T) {
	rt := New(2, 2)
	defer rt.Close()

	src := []int{1, 2, 3, 4}
	dst := make([]int, 4)

	h := NewHandle()
	AsyncDma(rt, h, locality.ID(0), dst, src)
	h.Wait()

	assert.Equal(t, src, dst)
}

func TestYieldForRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok := YieldFor(ctx, func() bool { return false })
	assert.False(t, ok)
}
