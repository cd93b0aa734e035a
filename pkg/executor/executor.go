// Package executor implements the dataflow dispatch core: given a decoded
// function image and a set of argument values, it runs every kernel
// exactly once, in whatever order their dependencies become ready, and
// publishes the function's results. See spec.md §4 ("Executor core").
package executor

import (
	"k8s.io/klog/v2"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/gomlx/asyncexec/pkg/asyncvalue"
	"github.com/gomlx/asyncexec/pkg/hostctx"
	"github.com/gomlx/asyncexec/pkg/image"
	"github.com/gomlx/asyncexec/pkg/kernel"
	"github.com/gomlx/asyncexec/pkg/location"
	"github.com/gomlx/asyncexec/pkg/register"
)

// executor holds everything one Execute call's dispatch loop needs. It is
// never exposed to callers directly and carries no self-refcounting: every
// closure that must outlive the call (an AndThen continuation registered
// on a not-yet-available result) simply captures this struct, and Go's
// garbage collector keeps it reachable for as long as that closure exists.
// The protocol's own refcounts -- on AsyncValues and on the location
// handler -- are unrelated to memory safety and are tracked explicitly
// below exactly as spec.md §8 describes.
type executor struct {
	id         string
	host       *hostctx.Context
	registry   kernel.Registry
	img        *image.Image
	locHandler *location.Handler
	stream     []uint32
	registers  []*register.Info
	kernels    []*kernel.Info
	resultRegs []uint32
	hasArgsPK  bool
}

// Execute decodes descriptor's function from img and runs it against
// arguments, returning one AsyncValue per declared result register. A
// returned result may still be Unconstructed if its producing kernel
// dispatched asynchronously (spec.md §4.8); callers observe completion via
// AsyncValue.AndThen or the asyncvalue.Await test helper.
//
// The caller retains its own reference to each element of arguments;
// Execute takes the references it needs without consuming the caller's.
func Execute(host *hostctx.Context, registry kernel.Registry, img *image.Image, descriptor image.Descriptor, arguments []*asyncvalue.AsyncValue) ([]*asyncvalue.AsyncValue, error) {
	if len(arguments) != len(descriptor.ArgumentTypes) {
		return nil, errors.Errorf("executor: function %q declares %d arguments, got %d", descriptor.Name, len(descriptor.ArgumentTypes), len(arguments))
	}

	decoded, err := img.ReadFunction(descriptor.FunctionOffset)
	if err != nil {
		return nil, errors.Wrapf(err, "executor: reading function %q", descriptor.Name)
	}

	e := &executor{
		id:         uuid.NewString(),
		host:       host,
		registry:   registry,
		img:        img,
		locHandler: location.New(img),
		stream:     decoded.KernelsStream,
		registers:  decoded.Registers,
		kernels:    decoded.Kernels,
		resultRegs: decoded.ResultRegs,
		hasArgsPK:  len(arguments) > 0,
	}
	klog.V(2).Infof("executor[%s]: running %q with %d arguments, %d kernels, %d registers", e.id, descriptor.Name, len(arguments), len(e.kernels), len(e.registers))

	var worklist []uint32
	if e.hasArgsPK {
		e.processArgumentsPseudoKernel(arguments, &worklist)
	}
	startID := 0
	if e.hasArgsPK {
		startID = 1
	}
	// Every kernel's ArgumentsNotReady starts at 1+numArguments; the "1" is
	// consumed here, once, regardless of whether the kernel has any
	// arguments at all. A kernel fed by a function argument may already
	// have had one or more of its argument decrements applied above, by
	// processArgumentsPseudoKernel's own fan-out -- this loop never
	// touches those, it only ever applies the bias decrement.
	for id := len(e.kernels) - 1; id >= startID; id-- {
		if e.decrementArgumentsNotReadyCount(uint32(id)) {
			worklist = append(worklist, uint32(id))
		}
	}

	e.runReadyKernels(worklist)

	results := make([]*asyncvalue.AsyncValue, len(e.resultRegs))
	for i, reg := range e.resultRegs {
		results[i] = e.registers[reg].GetOrCreate()
	}
	// Every result register's value now carries the +1 reference Execute's
	// caller is expected to own. Each result that is not yet available takes
	// its own location handler reference, dropped once it settles, so
	// kernels dispatched asynchronously can still resolve locations when
	// reporting errors after this function returns; the reference this call
	// took at construction is dropped right away.
	for _, result := range results {
		e.completeResult(result, nil, nil)
	}
	e.locHandler.DropRef()

	return results, nil
}
