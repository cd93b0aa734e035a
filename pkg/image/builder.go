package image

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/asyncexec/pkg/kernel"
)

// Builder assembles a Function in memory, in the style of the teacher's
// own graph builder (backends/simplego.Builder): kernels are appended in
// DAG order -- a kernel's argument registers must already exist -- and
// Build() packs everything into the []uint32 stream format spec.md §3
// describes, computing each register's UserCount from how many kernels
// actually read it, plus one for each time it is declared a function result.
//
// This stands in for the real decoder spec.md declares out of scope; it
// exists so tests and the demo CLI can construct function images without
// hand-computing byte offsets.
type Builder struct {
	numArguments  int
	numRegisters  int
	usedBys       [][]uint32 // usedBys[reg] = consumer kernel ids, in append order.
	kernelSpecs   []kernelSpec
	hasArgs       bool
	resultRegs    []uint32
}

type kernelSpec struct {
	code            uint32
	specialMetadata uint32
	locationToken   uint32
	args            []uint32
	attrs           []uint32
	fns             []uint32
	results         []uint32
}

// NewBuilder starts a Builder for a function with numArguments parameters;
// registers 0..numArguments-1 are pre-allocated for them.
func NewBuilder(numArguments int) *Builder {
	b := &Builder{
		numArguments: numArguments,
		numRegisters: numArguments,
		hasArgs:      numArguments > 0,
	}
	b.usedBys = make([][]uint32, numArguments)
	return b
}

// newRegister allocates and returns a fresh register index.
func (b *Builder) newRegister() uint32 {
	idx := uint32(b.numRegisters)
	b.numRegisters++
	b.usedBys = append(b.usedBys, nil)
	return idx
}

// AddKernel appends a kernel that reads args (existing register indices),
// attrs (indices into the image's Attributes table), fns
// (sub-function indices), and produces numResults fresh registers, whose
// indices are returned in order. code is the dispatch key the kernel
// registry will look up at run time; set SpecialNonStrict in
// specialMetadata for a non-strict kernel; locationToken is resolved by
// the image's location table.
func (b *Builder) AddKernel(code, specialMetadata, locationToken uint32, args, attrs, fns []uint32, numResults int) []uint32 {
	kernelID := uint32(len(b.kernelSpecs))
	if b.hasArgs {
		kernelID++ // kernel id 0 is reserved for the arguments pseudo-kernel.
	}
	for _, reg := range args {
		if int(reg) >= len(b.usedBys) {
			exceptions.Panicf("image.Builder.AddKernel: argument register %d does not exist yet", reg)
		}
		b.usedBys[reg] = append(b.usedBys[reg], kernelID)
	}

	results := make([]uint32, numResults)
	for i := range results {
		results[i] = b.newRegister()
	}

	b.kernelSpecs = append(b.kernelSpecs, kernelSpec{
		code:            code,
		specialMetadata: specialMetadata,
		locationToken:   locationToken,
		args:            append([]uint32(nil), args...),
		attrs:           append([]uint32(nil), attrs...),
		fns:             append([]uint32(nil), fns...),
		results:         results,
	})
	return results
}

// SetResults declares which registers are the function's outputs, in
// order. It only records them; Build then counts each declared result as
// one implicit consumer of its register, so a result register never has
// UserCount 0 even when no kernel within the function reads it.
func (b *Builder) SetResults(regs ...uint32) {
	b.resultRegs = append([]uint32(nil), regs...)
}

// Build packs the accumulated kernels into a Function.
func (b *Builder) Build() *Function {
	registerUserCounts := make([]uint32, b.numRegisters)
	for reg, consumers := range b.usedBys {
		registerUserCounts[reg] = uint32(len(consumers))
	}
	// A register that is also a function output has one implicit consumer
	// beyond any internal kernel use: the caller of Execute, who reads it
	// back out via Image.ReadFunction's ResultRegs. Without this, a
	// register that's purely an output (zero internal uses) would carry
	// UserCount 0 and, per register.Info's "a zero-UserCount register is
	// never populated" contract, never actually get a value installed.
	for _, reg := range b.resultRegs {
		registerUserCounts[reg]++
	}

	numKernels := len(b.kernelSpecs)
	if b.hasArgs {
		numKernels++
	}
	kernelOffsets := make([]uint32, numKernels)
	kernelNumArguments := make([]int, numKernels)

	var stream []uint32
	appendWord := func(w uint32) { stream = append(stream, w) }

	emitKernel := func(kernelIdx int, code, specialMetadata, locationToken uint32, args, attrs, fns, results []uint32) {
		kernelOffsets[kernelIdx] = uint32(len(stream)) * kernel.EntryAlignment
		kernelNumArguments[kernelIdx] = len(args)

		appendWord(code)
		appendWord(specialMetadata)
		appendWord(locationToken)
		appendWord(uint32(len(args)))
		appendWord(uint32(len(attrs)))
		appendWord(uint32(len(fns)))
		appendWord(uint32(len(results)))
		for _, reg := range results {
			appendWord(uint32(len(b.usedBys[reg])))
		}
		for _, v := range args {
			appendWord(v)
		}
		for _, v := range attrs {
			appendWord(v)
		}
		for _, v := range fns {
			appendWord(v)
		}
		for _, v := range results {
			appendWord(v)
		}
		for _, reg := range results {
			for _, consumer := range b.usedBys[reg] {
				appendWord(consumer)
			}
		}
	}

	kernelIdx := 0
	if b.hasArgs {
		argRegs := make([]uint32, b.numArguments)
		for i := range argRegs {
			argRegs[i] = uint32(i)
		}
		emitKernel(kernelIdx, 0, 0, 0, nil, nil, nil, argRegs)
		kernelIdx++
	}
	for _, spec := range b.kernelSpecs {
		emitKernel(kernelIdx, spec.code, spec.specialMetadata, spec.locationToken, spec.args, spec.attrs, spec.fns, spec.results)
		kernelIdx++
	}

	return &Function{
		KernelsStream:            stream,
		RegisterUserCounts:       registerUserCounts,
		KernelOffsets:            kernelOffsets,
		KernelNumArguments:       kernelNumArguments,
		ResultRegs:               b.resultRegs,
		HasArgumentsPseudoKernel: b.hasArgs,
	}
}
