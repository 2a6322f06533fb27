// Package transport implements the distribution core's dispatch layer
// (§4.1): a fixed-size worker pool per locality, the six dispatch
// primitives (executeAt family, executeOnAll family, forEachAt family) and
// asynchronous DMA-style transfer, all driven in-process over goroutines.
//
// A Runtime stands in for what a production SHAD deployment would spread
// across physical nodes connected by a network transport; here every
// locality is a worker pool inside the same process, so ExecuteAt is just a
// channel send to the target locality's pool instead of a wire round-trip.
// Runtime has no network backend: pkg/transport/grpctransport is a separate
// named-function RPC server and client, and nothing in this package
// dispatches through it.
package transport

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/shadrt/shad/pkg/locality"
	"github.com/shadrt/shad/pkg/log"
	"github.com/shadrt/shad/pkg/metrics"
)

// Handle tracks completion of one or more asynchronous dispatches, mirroring
// the op_handle_t of §4.1. Handles nest safely: Add always happens on the
// spawning goroutine before the work that might call Done is scheduled, so a
// callee may be handed the same Handle and enqueue further async work under
// it without a race.
type Handle struct {
	wg sync.WaitGroup
}

// NewHandle returns a ready-to-use, empty handle.
func NewHandle() *Handle {
	return &Handle{}
}

func (h *Handle) add(n int) { h.wg.Add(n) }
func (h *Handle) done()     { h.wg.Done() }

// Wait blocks until every dispatch registered against h has completed.
func (h *Handle) Wait() {
	timer := metrics.NewTimer()
	h.wg.Wait()
	timer.ObserveDuration(metrics.HandleWaitDuration)
}

// Ctx is the per-dispatch context handed to a remote function: the
// locality it is running on and, for ExecuteAtWithRet/asyncExecuteAtWithRet
// style primitives with caller-visible arguments, nothing more — shad
// functions close over their own state rather than receiving it
// positionally, matching the C++ lambda-capture style in §4.1's examples.
type Ctx struct {
	Here locality.ID
}

type pool struct {
	loc  locality.ID
	jobs chan func()
	wg   sync.WaitGroup
}

func newPool(loc locality.ID, workers int) *pool {
	p := &pool{loc: loc, jobs: make(chan func(), 1024)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

func (p *pool) submit(job func()) {
	p.jobs <- job
}

// Runtime is the process-wide distribution core: the fixed locality set
// plus one worker pool per locality. All dispatch primitives are methods on
// Runtime or package functions taking one; a dispatched function learns
// which locality it runs on from its Ctx. ExecuteOnAll always runs on every
// locality, and no "skip self" variant is offered.
type Runtime struct {
	set   locality.Set
	pools []*pool
}

// New builds a Runtime over n localities with workersPerLocality goroutines
// servicing each one. workersPerLocality <= 0 defaults to runtime.GOMAXPROCS.
func New(n, workersPerLocality int) *Runtime {
	if workersPerLocality <= 0 {
		workersPerLocality = runtime.GOMAXPROCS(0)
	}
	set := locality.NewSet(n)
	rt := &Runtime{set: set, pools: make([]*pool, n)}
	for _, id := range set.All() {
		rt.pools[id] = newPool(id, workersPerLocality)
	}
	log.WithComponent("transport").Info().Int("localities", n).Int("workers_per_locality", workersPerLocality).Msg("runtime started")
	return rt
}

// Localities returns the fixed locality set this runtime spans.
func (rt *Runtime) Localities() locality.Set { return rt.set }

// Close drains and stops every worker pool. It blocks until in-flight jobs
// finish.
func (rt *Runtime) Close() {
	for _, p := range rt.pools {
		close(p.jobs)
		p.wg.Wait()
	}
}

func (rt *Runtime) dispatch(loc locality.ID, primitive string, job func()) {
	metrics.DispatchesTotal.WithLabelValues(primitive, strconv.Itoa(int(loc))).Inc()
	rt.pools[loc].submit(job)
}

// ExecuteAt runs fn synchronously on loc and blocks the caller until it
// completes (§4.1 executeAt).
func (rt *Runtime) ExecuteAt(loc locality.ID, fn func(Ctx)) {
	done := make(chan struct{})
	timer := metrics.NewTimer()
	rt.dispatch(loc, "executeAt", func() {
		defer close(done)
		fn(Ctx{Here: loc})
	})
	<-done
	timer.ObserveDurationVec(metrics.DispatchDuration, "executeAt")
}

// ExecuteAtWithRet runs fn synchronously on loc and returns its result
// (§4.1 executeAtWithRet).
func ExecuteAtWithRet[R any](rt *Runtime, loc locality.ID, fn func(Ctx) R) R {
	resultCh := make(chan R, 1)
	timer := metrics.NewTimer()
	rt.dispatch(loc, "executeAtWithRet", func() {
		resultCh <- fn(Ctx{Here: loc})
	})
	r := <-resultCh
	timer.ObserveDurationVec(metrics.DispatchDuration, "executeAtWithRet")
	return r
}

// AsyncExecuteAt schedules fn on loc and registers its completion against h,
// returning immediately (§4.1 asyncExecuteAt). fn may itself call back into
// h (e.g. via further AsyncExecuteAt calls) before returning.
func (rt *Runtime) AsyncExecuteAt(h *Handle, loc locality.ID, fn func(Ctx)) {
	h.add(1)
	timer := metrics.NewTimer()
	rt.dispatch(loc, "asyncExecuteAt", func() {
		defer h.done()
		fn(Ctx{Here: loc})
		timer.ObserveDurationVec(metrics.DispatchDuration, "asyncExecuteAt")
	})
}

// AsyncExecuteAtWithRet schedules fn on loc, registers it against h, and
// delivers its result through the returned channel once h's caller has
// waited (§4.1 asyncExecuteAtWithRet). Reading the channel before Wait
// returns may block; reading it after is immediate.
func AsyncExecuteAtWithRet[R any](rt *Runtime, h *Handle, loc locality.ID, fn func(Ctx) R) <-chan R {
	resultCh := make(chan R, 1)
	h.add(1)
	timer := metrics.NewTimer()
	rt.dispatch(loc, "asyncExecuteAtWithRet", func() {
		defer h.done()
		resultCh <- fn(Ctx{Here: loc})
		timer.ObserveDurationVec(metrics.DispatchDuration, "asyncExecuteAtWithRet")
	})
	return resultCh
}

// ExecuteOnAll runs fn synchronously on every locality in the set and
// blocks until all have completed, propagating the first error if any
// invocation returns one (§4.1 executeOnAll).
func (rt *Runtime) ExecuteOnAll(ctx context.Context, fn func(Ctx) error) error {
	g, _ := errgroup.WithContext(ctx)
	for _, id := range rt.set.All() {
		id := id
		g.Go(func() error {
			errCh := make(chan error, 1)
			rt.dispatch(id, "executeOnAll", func() {
				errCh <- fn(Ctx{Here: id})
			})
			return <-errCh
		})
	}
	return g.Wait()
}

// AsyncExecuteOnAll schedules fn on every locality and registers each
// dispatch against h, returning immediately (§4.1 asyncExecuteOnAll).
func (rt *Runtime) AsyncExecuteOnAll(h *Handle, fn func(Ctx)) {
	for _, id := range rt.set.All() {
		rt.AsyncExecuteAt(h, id, fn)
	}
}

// ForEachAt runs fn once per item in [0, count) on loc, synchronously,
// blocking until every invocation completes (§4.1 forEachAt). Invocations
// for the same loc may run concurrently against each other, bounded by that
// locality's worker pool size.
func (rt *Runtime) ForEachAt(loc locality.ID, count int, fn func(Ctx, int)) {
	var wg sync.WaitGroup
	wg.Add(count)
	timer := metrics.NewTimer()
	for i := 0; i < count; i++ {
		i := i
		rt.dispatch(loc, "forEachAt", func() {
			defer wg.Done()
			fn(Ctx{Here: loc}, i)
		})
	}
	wg.Wait()
	timer.ObserveDurationVec(metrics.DispatchDuration, "forEachAt")
}

// AsyncForEachAt schedules fn once per item in [0, count) on loc and
// registers each invocation against h (§4.1 asyncForEachAt).
func (rt *Runtime) AsyncForEachAt(h *Handle, loc locality.ID, count int, fn func(Ctx, int)) {
	for i := 0; i < count; i++ {
		i := i
		rt.AsyncExecuteAt(h, loc, func(c Ctx) { fn(c, i) })
	}
}

// AsyncDma copies len(src) elements of T into dst (which must have at least
// that much room) on the caller's behalf, registering completion against h
// (§4.1 asyncDma). The copy runs as one job on loc's worker pool, like the
// other primitives.
func AsyncDma[T any](rt *Runtime, h *Handle, loc locality.ID, dst []T, src []T) {
	if len(dst) < len(src) {
		panic(fmt.Sprintf("transport: AsyncDma destination too small: have %d, need %d", len(dst), len(src)))
	}
	h.add(1)
	rt.dispatch(loc, "asyncDma", func() {
		defer h.done()
		copy(dst, src)
	})
}

// Yield cooperatively gives up the current goroutine's turn, standing in
// for SHAD's cooperative yield() used while spinning on a contended entry
// state (§4.5, §4.6). It is deliberately cheap: callers spin-and-yield
// rather than blocking on a condition variable, because contention windows
// in the local containers are expected to be microseconds wide.
func Yield() {
	runtime.Gosched()
}

// YieldFor spins, calling Yield between attempts, until cond reports true
// or the context is done. It returns false only if ctx expires first.
func YieldFor(ctx context.Context, cond func() bool) bool {
	for !cond() {
		select {
		case <-ctx.Done():
			return false
		default:
			Yield()
		}
	}
	return true
}
