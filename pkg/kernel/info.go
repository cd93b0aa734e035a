// Package kernel implements the per-kernel metadata, the packed-entry
// kernel record reader, the invocation scratch frame (KernelFrame) and the
// kernel ABI the executor dispatches through. See spec.md §3 ("Kernel"),
// component 3 ("KernelInfo") and component 4 ("Kernel record reader").
package kernel

import "sync/atomic"

// Info is the per-kernel metadata the executor keeps one of per kernel in
// a function: its byte offset into the encoded kernel stream, and an
// atomic counter of how many arguments are not yet ready.
//
// ArgumentsNotReady is initialized to 1+numArguments. It is decremented
// once per already-available input; the transition from 1 to 0 means the
// kernel is ready to fire. For the arguments pseudo-kernel (id 0, when the
// function has arguments) this counter is never used -- that kernel is
// processed directly by the executor and never reaches the dispatch loop.
type Info struct {
	// Offset is the byte offset of this kernel's record in the function's
	// packed kernel stream.
	Offset uint32

	ArgumentsNotReady atomic.Uint32
}

// InitArgumentsNotReady sets the counter to 1+numArguments, per spec.md §3.
func (k *Info) InitArgumentsNotReady(numArguments int) {
	k.ArgumentsNotReady.Store(uint32(1 + numArguments))
}
