// Package toykernels implements a handful of trivial kernels -- const,
// add1, sum, share_to_two, copy_with_delay, fail -- grounded on the
// original's own test kernel set (tfrt_test.add, tfrt_test.share_to_two,
// the async copy kernel, tfrt_test.fail and friends in
// lib/test_kernels/simple_kernels.cc). They exist to exercise the executor
// end to end: synchronous chains, fan-out, asynchronous dispatch and
// error propagation. See SPEC_FULL.md §13.
package toykernels

import (
	"encoding/binary"
	"time"

	"github.com/pkg/errors"

	"github.com/gomlx/asyncexec/pkg/asyncvalue"
	"github.com/gomlx/asyncexec/pkg/hostctx"
	"github.com/gomlx/asyncexec/pkg/kernel"
)

// Dispatch codes for the toy registry. A real registry would generate
// these from kernel names resolved at decode time; here they're just
// small integers a test or demo wires directly into a kernel record.
const (
	CodeConst = iota + 1
	CodeAdd1
	CodeSum
	CodeShareToTwo
	CodeCopyWithDelay
	CodeFail
)

// EncodeIntAttr packs n into the 8-byte little-endian encoding constKernel
// expects as its sole attribute entry.
func EncodeIntAttr(n int) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(n))
	return buf
}

func decodeIntAttr(b []byte) int {
	return int(binary.LittleEndian.Uint64(b))
}

// NewRegistry returns the toy kernel set, with CodeCopyWithDelay's
// continuation scheduled on host.
func NewRegistry(host *hostctx.Context) kernel.Registry {
	return kernel.MapRegistry{
		CodeConst:         constKernel,
		CodeAdd1:          add1Kernel,
		CodeSum:           sumKernel,
		CodeShareToTwo:    shareToTwoKernel,
		CodeCopyWithDelay: copyWithDelayKernel(host),
		CodeFail:          failKernel,
	}
}

// constKernel ignores its (zero) arguments and publishes its sole
// attribute, an int packed via EncodeIntAttr, as its result.
func constKernel(f *kernel.Frame) {
	f.SetResult(0, asyncvalue.New(decodeIntAttr(f.Attributes[0])))
}

func sumKernel(f *kernel.Frame) {
	total := 0
	for _, arg := range f.Args {
		total += arg.Payload().(int)
	}
	f.SetResult(0, asyncvalue.New(total))
}

func add1Kernel(f *kernel.Frame) {
	v := f.Args[0].Payload().(int)
	f.SetResult(0, asyncvalue.New(v+1))
}

// shareToTwoKernel republishes its single argument's value into both of
// its results, sharing one underlying AsyncValue between two registers --
// each result slot gets its own owning reference.
func shareToTwoKernel(f *kernel.Frame) {
	v := f.Args[0]
	v.AddRef(2)
	f.SetResult(0, v)
	f.SetResult(1, v)
}

// copyWithDelayKernel returns a kernel that publishes its argument's value
// after a short delay, on host's worker pool, to exercise the executor's
// asynchronous-dispatch path (spec.md §4.8): the kernel returns having set
// an Unconstructed placeholder, and settles it later from a different
// goroutine.
func copyWithDelayKernel(host *hostctx.Context) kernel.Func {
	return func(f *kernel.Frame) {
		arg := f.Args[0]
		arg.AddRef(1)
		placeholder := asyncvalue.NewUnconstructed()
		f.SetResult(0, placeholder)
		host.Go(func() {
			defer arg.DropRef(1)
			time.Sleep(time.Millisecond)
			if arg.IsError() {
				placeholder.SetError(arg.Error())
				return
			}
			placeholder.SetPayload(arg.Payload())
		})
	}
}

// failKernel always produces an Error result, for exercising strict and
// non-strict error propagation.
func failKernel(f *kernel.Frame) {
	err := errors.New("toykernels: fail kernel invoked")
	for i := 0; i < f.NumResults(); i++ {
		f.SetResult(i, asyncvalue.NewError(err))
	}
}
