// Package image defines the decoded function image the executor consumes:
// a packed kernel stream, register/kernel metadata, a function's result
// registers, and location decoding. Parsing the actual on-disk encoding
// into these arrays is the decoder's job and out of this core's scope
// (spec.md §1, §6) -- this package only carries the already-decoded
// result, plus a Builder for assembling one in memory (used by tests and
// the demo CLI, in lieu of a real decoder).
package image

import (
	"github.com/gomlx/asyncexec/pkg/kernel"
	"github.com/gomlx/asyncexec/pkg/register"
	"github.com/pkg/errors"
)

// Descriptor is what a caller holds to ask for a function to run: its
// offset into the image, its parameter/result arity, and a name used only
// for diagnostics. See spec.md §6 ("Inputs").
type Descriptor struct {
	FunctionOffset uint32
	ArgumentTypes  []string
	ResultTypes    []string
	Name           string
}

// Function is one decoded, ready-to-run function: its packed kernel
// stream, the static UserCount/argument-count template for each register
// and kernel, its result registers, and whether kernel id 0 is the
// arguments pseudo-kernel (present whenever the function has arguments;
// see spec.md §4.1 step 4).
type Function struct {
	// KernelsStream is the packed []uint32 entry stream covering every
	// kernel of this function, including the arguments pseudo-kernel at
	// word 0 if HasArgumentsPseudoKernel.
	KernelsStream []uint32

	// RegisterUserCounts[i] is the static UserCount of register i.
	RegisterUserCounts []uint32

	// KernelOffsets[i] is kernel i's byte offset into KernelsStream.
	KernelOffsets []uint32

	// KernelNumArguments[i] is kernel i's argument count, used to
	// initialize ArgumentsNotReady = 1+numArguments. It is 0 (unused) for
	// the arguments pseudo-kernel.
	KernelNumArguments []int

	// ResultRegs[i] is the register index holding the function's i-th
	// output.
	ResultRegs []uint32

	// HasArgumentsPseudoKernel is true when this function has at least one
	// argument, in which case kernel id 0 is the synthetic pseudo-kernel
	// that republishes arguments into their registers.
	HasArgumentsPseudoKernel bool

	// LocationOffset is forwarded to callers uninterpreted; the core
	// doesn't use it directly, it's bookkeeping the decoder's readers
	// expect to round-trip. See spec.md §6.
	LocationOffset uint32
}

// ReadResult is what ReadFunction returns: fresh, mutable per-call state
// derived from a Function's immutable template (KernelInfo.
// ArgumentsNotReady and RegisterInfo.value are mutated during execution,
// so each Execute call needs its own).
type ReadResult struct {
	KernelsStream  []uint32
	Registers      []*register.Info
	Kernels        []*kernel.Info
	ResultRegs     []uint32
	LocationOffset uint32
}

// Image is a decoded function image: an attribute table, zero or more
// functions addressable by offset, and a location table. See spec.md §3
// ("Function image").
type Image struct {
	// Attributes is the table a kernel record's attribute entries index
	// into: attribute entry i in a record is the index into this slice, not
	// a byte offset -- parsing an attribute's own internal encoding is left
	// entirely to the kernel that owns it.
	Attributes [][]byte

	functions map[uint32]*Function
	locations map[uint32]string
	subFns    map[uint32]kernel.FunctionHandle
}

// New returns an empty Image ready for functions to be registered into via
// AddFunction.
func New() *Image {
	return &Image{
		functions: make(map[uint32]*Function),
		locations: make(map[uint32]string),
		subFns:    make(map[uint32]kernel.FunctionHandle),
	}
}

// AddAttribute appends attr to the attribute table and returns its index,
// for use as a kernel record's attribute entry.
func (img *Image) AddAttribute(attr []byte) uint32 {
	idx := uint32(len(img.Attributes))
	img.Attributes = append(img.Attributes, attr)
	return idx
}

// AddFunction registers fn at offset, for later lookup by ReadFunction.
func (img *Image) AddFunction(offset uint32, fn *Function) {
	img.functions[offset] = fn
}

// AddLocation registers the diagnostic string decoded for token.
func (img *Image) AddLocation(token uint32, decoded string) {
	img.locations[token] = decoded
}

// AddSubFunction registers the handle a kernel.Frame should receive when a
// kernel record references sub-function index idx.
func (img *Image) AddSubFunction(idx uint32, handle kernel.FunctionHandle) {
	img.subFns[idx] = handle
}

// SubFunction resolves a function-table index to the handle kernels
// receive via Frame.Functions.
func (img *Image) SubFunction(idx uint32) (kernel.FunctionHandle, bool) {
	h, ok := img.subFns[idx]
	return h, ok
}

// ReadFunction decodes the function at offset into fresh per-call state:
// RegisterInfo and KernelInfo arrays sized and initialized from the
// function's static template, ready for an Executor to run. See spec.md
// §4.1 step 1 and §6.
func (img *Image) ReadFunction(offset uint32) (ReadResult, error) {
	fn, ok := img.functions[offset]
	if !ok {
		return ReadResult{}, errors.Errorf("image: no function at offset %d", offset)
	}

	registers := make([]*register.Info, len(fn.RegisterUserCounts))
	for i, uc := range fn.RegisterUserCounts {
		registers[i] = &register.Info{UserCount: uc}
	}

	kernels := make([]*kernel.Info, len(fn.KernelOffsets))
	for i, off := range fn.KernelOffsets {
		info := &kernel.Info{Offset: off}
		if !(i == 0 && fn.HasArgumentsPseudoKernel) {
			info.InitArgumentsNotReady(fn.KernelNumArguments[i])
		}
		kernels[i] = info
	}

	return ReadResult{
		KernelsStream:  fn.KernelsStream,
		Registers:      registers,
		Kernels:        kernels,
		ResultRegs:     fn.ResultRegs,
		LocationOffset: fn.LocationOffset,
	}, nil
}

// DecodeLocation implements location.Decoder by looking up token in the
// image's location table.
func (img *Image) DecodeLocation(token uint32) (string, error) {
	decoded, ok := img.locations[token]
	if !ok {
		return "", errors.Errorf("image: no location registered for token %d", token)
	}
	return decoded, nil
}
