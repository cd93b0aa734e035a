// Package hostctx provides the host-side services an Executor needs but
// does not implement itself: where asynchronous kernel continuations run,
// and how a function invocation is told to cancel. See spec.md §6
// ("Host context") -- the core treats it as an opaque collaborator.
package hostctx

import (
	"os"
	"strconv"
	"sync/atomic"

	"k8s.io/klog/v2"

	"github.com/gomlx/asyncexec/internal/workerpool"
	"github.com/gomlx/asyncexec/pkg/asyncvalue"
)

// EnvMaxParallelism, when set to a parseable integer, overrides the
// worker pool's parallelism for hosts constructed via New without an
// explicit WithMaxParallelism option. A negative value means unlimited,
// mirroring internal/workerpool's own convention.
const EnvMaxParallelism = "ASYNCEXEC_MAX_PARALLELISM"

// Context is what the executor's dispatch loop asks the host for: a place
// to run asynchronous kernel completions (so a slow kernel's continuation
// doesn't run inline on whatever goroutine settled its dependency) and a
// per-run cancellation signal non-strict kernels and the dispatch loop can
// observe. See spec.md §4.7 ("seed anyErrorArgument from the host's
// cancellation value") and §9 ("Cancellation").
type Context struct {
	pool      *workerpool.Pool
	cancel    *asyncvalue.AsyncValue
	cancelled atomic.Bool
}

// Option configures a Context constructed by New.
type Option func(*options)

type options struct {
	maxParallelism *int
}

// WithMaxParallelism overrides EnvMaxParallelism and the runtime-CPU
// default. n < 0 means unlimited, matching internal/workerpool.
func WithMaxParallelism(n int) Option {
	return func(o *options) { o.maxParallelism = &n }
}

// New returns a Context backed by a fresh worker pool and a cancellation
// value that starts unconstructed (never fires) until Cancel is called.
// Parallelism defaults to EnvMaxParallelism if set, else the number of
// CPUs, matching the teacher's GOMLX_BACKEND-style environment override
// convention.
func New(opts ...Option) *Context {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	maxParallelism := resolveMaxParallelism(&o)
	return &Context{
		pool:   workerpool.New(maxParallelism),
		cancel: asyncvalue.NewUnconstructed(),
	}
}

func resolveMaxParallelism(o *options) int {
	if o.maxParallelism != nil {
		return *o.maxParallelism
	}
	if raw, ok := os.LookupEnv(EnvMaxParallelism); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			klog.Warningf("hostctx: ignoring malformed %s=%q: %v", EnvMaxParallelism, raw, err)
		} else {
			return n
		}
	}
	return workerpool.NumCPUParallelism()
}

// Go schedules an asynchronous continuation to run on the host's worker
// pool rather than inline. Kernels that dispatch work and settle their
// result later (such as toykernels' copy_with_delay) use this; the
// executor itself does not call it (spec.md §4.8, "asynchronous
// dispatch").
func (c *Context) Go(task func()) {
	c.pool.Go(task)
}

// Cancellation returns the AsyncValue the dispatch loop treats as an
// implicit extra error input to every kernel: once it settles into an
// error state, every not-yet-dispatched kernel observes an errored
// argument: strict kernels short-circuit to error results, non-strict
// kernels still run, per spec.md §9. It never settles on its
// own; call Cancel to trigger it.
func (c *Context) Cancellation() *asyncvalue.AsyncValue {
	return c.cancel
}

// Cancel settles the cancellation value with err, if it hasn't already
// settled. Calling Cancel more than once is a no-op after the first.
func (c *Context) Cancel(err error) {
	if c.cancelled.CompareAndSwap(false, true) {
		c.cancel.SetError(err)
	}
}
