package kernel

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/asyncexec/pkg/asyncvalue"
)

// Location identifies where, in the source function, a kernel invocation
// occurred, for diagnostics. Handler resolves Token through the function
// image; kernels that never report errors may ignore it.
type Location struct {
	Handler LocationResolver
	Token   uint32
}

// LocationResolver is the minimal interface a KernelFrame needs to resolve
// a Location -- satisfied by *location.Handler, kept as an interface here
// to avoid an import cycle between pkg/kernel and pkg/location.
type LocationResolver interface {
	DecodeLocation(token uint32) (string, error)
}

// Frame is the per-invocation scratch space passed to a kernel
// implementation: ordered arguments, ordered attribute byte slices,
// ordered sub-function handles, a location, and result slots. See spec.md
// §3 component "KernelFrame".
//
// A Frame is reused across kernel invocations by the executor's dispatch
// loop (see spec.md §4.7, "Allocates a single KernelFrame scratch and
// reuses it across iterations"); Reset clears it between uses.
type Frame struct {
	Args       []*asyncvalue.AsyncValue
	Attributes [][]byte
	Functions  []FunctionHandle
	Location   Location

	results []*asyncvalue.AsyncValue
}

// FunctionHandle is an opaque reference to a sub-function, for kernels
// implementing control flow (If, While, Sort, ...). The core never
// interprets it; it is handed back verbatim from the decoded function
// image.
type FunctionHandle any

// Reset clears the frame for reuse, preserving the backing arrays'
// capacity.
func (f *Frame) Reset() {
	f.Args = f.Args[:0]
	f.Attributes = f.Attributes[:0]
	f.Functions = f.Functions[:0]
	f.Location = Location{}
	f.results = f.results[:0]
}

// SetNumResults sizes the result slots to n, all initially nil. The kernel
// implementation must fill every slot via SetResult before returning.
func (f *Frame) SetNumResults(n int) {
	if cap(f.results) < n {
		f.results = make([]*asyncvalue.AsyncValue, n)
		return
	}
	f.results = f.results[:n]
	for i := range f.results {
		f.results[i] = nil
	}
}

// NumResults returns the number of result slots.
func (f *Frame) NumResults() int { return len(f.results) }

// SetResult installs value as the kernel's i-th result. The kernel owns no
// refcount bookkeeping beyond this: it must hand over a value with a +1
// reference that the executor will account for when installing it into the
// destination register.
func (f *Frame) SetResult(i int, value *asyncvalue.AsyncValue) {
	if value == nil {
		exceptions.Panicf("kernel.Frame.SetResult: result %d set to nil", i)
	}
	f.results[i] = value
}

// ResultAt returns the kernel's i-th result; it panics if the kernel
// returned without populating the slot, the "missing result publication"
// assertion violation from spec.md §7.
func (f *Frame) ResultAt(i int) *asyncvalue.AsyncValue {
	v := f.results[i]
	if v == nil {
		exceptions.Panicf("kernel.Frame.ResultAt: kernel did not set result %d before returning", i)
	}
	return v
}

// Func is the kernel ABI: a kernel reads f.Args/f.Attributes/f.Functions
// and must populate every result slot in f via SetResult before returning.
// It owns no refcounts on its arguments -- refcount accounting is the
// executor's responsibility, per spec.md §6.
type Func func(f *Frame)

// Registry looks up a kernel implementation by its dispatch code. The
// executor treats this as an opaque collaborator -- the registry and the
// kernel implementations it holds are out of this core's scope (spec.md
// §1).
type Registry interface {
	Lookup(code uint32) (Func, bool)
}

// MapRegistry is a trivial Registry backed by a map, useful for tests and
// small embedders that don't need a generated dispatch table.
type MapRegistry map[uint32]Func

// Lookup implements Registry.
func (m MapRegistry) Lookup(code uint32) (Func, bool) {
	fn, ok := m[code]
	return fn, ok
}
