package executor

import (
	"github.com/gomlx/exceptions"
	"k8s.io/klog/v2"

	"github.com/gomlx/asyncexec/pkg/asyncvalue"
	"github.com/gomlx/asyncexec/pkg/kernel"
)

// decrementArgumentsNotReadyCount records one dependency of kernelID
// having just become ready -- or, for a kernel's first appearance, the
// initial "+1" bias every KernelInfo starts with -- and reports whether
// that was the last one, i.e. the kernel is now ready to run. Every
// caller must apply this decrement exactly once per dependency event; it
// must never be applied again "just in case" the kernel is already on a
// worklist, or the counter underflows past zero and silently wraps. See
// spec.md §4.7.
func (e *executor) decrementArgumentsNotReadyCount(kernelID uint32) bool {
	return e.kernels[kernelID].ArgumentsNotReady.Add(^uint32(0)) == 0
}

// runReadyKernels drains worklist, running every kernel in it -- by
// construction, every entry has already had its last ArgumentsNotReady
// decrement applied by whoever pushed it. See spec.md §4.7.
//
// This is re-entrant: it is called once synchronously from Execute for
// whatever fan-out resolves immediately, and again, independently, from
// whatever goroutine settles an asynchronously-dispatched kernel's result
// (via maybeAddRefForResult's AndThen callback), each with its own
// worklist and its own KernelFrame.
func (e *executor) runReadyKernels(worklist []uint32) {
	var frame kernel.Frame
	for len(worklist) > 0 {
		kernelID := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		e.runKernel(kernelID, &frame, &worklist)
	}
}

// runKernel dispatches the kernel at kernelID, once every argument is
// known to be available (or the kernel is non-strict). See spec.md §4.7-
// §4.8.
func (e *executor) runKernel(kernelID uint32, frame *kernel.Frame, worklist *[]uint32) {
	info := e.kernels[kernelID]
	record := kernel.NewRecord(e.stream, info.Offset)

	numArgs := record.NumArguments()
	numAttrs := record.NumAttributes()
	numFns := record.NumFunctions()
	numResults := record.NumResults()

	frame.Reset()
	frame.SetNumResults(numResults)
	frame.Location = kernel.Location{Handler: e.locHandler, Token: record.LocationToken()}

	var firstErr error
	if cancel := e.host.Cancellation(); cancel.IsError() {
		firstErr = cancel.Error()
	}

	argRegs := record.Entries(0, numArgs)
	for _, regIdx := range argRegs {
		val := e.registers[regIdx].GetOrCreate()
		frame.Args = append(frame.Args, val)
		if firstErr == nil && val.IsError() {
			firstErr = val.Error()
		}
	}

	for _, attrIdx := range record.Entries(numArgs, numAttrs) {
		frame.Attributes = append(frame.Attributes, e.img.Attributes[attrIdx])
	}
	for _, fnIdx := range record.Entries(numArgs+numAttrs, numFns) {
		handle, ok := e.img.SubFunction(fnIdx)
		if !ok {
			exceptions.Panicf("executor: kernel at offset %d references unknown sub-function %d", info.Offset, fnIdx)
		}
		frame.Functions = append(frame.Functions, handle)
	}

	if firstErr != nil && !record.IsNonStrict() {
		for i := 0; i < numResults; i++ {
			frame.SetResult(i, asyncvalue.NewError(firstErr))
		}
	} else {
		fn, ok := e.registry.Lookup(record.Code())
		if !ok {
			exceptions.Panicf("executor: no kernel registered for code %d", record.Code())
		}
		fn(frame)
	}

	for _, val := range frame.Args {
		val.DropRef(1)
	}

	resultRegs := record.Entries(numArgs+numAttrs+numFns, numResults)
	usedByCursor := numArgs + numAttrs + numFns + numResults
	for i, regIdx := range resultRegs {
		e.processResult(record, i, regIdx, frame.ResultAt(i), &usedByCursor, worklist)
	}
}

// processArgumentsPseudoKernel republishes the function's arguments into
// their registers, exactly like any other kernel's results, so downstream
// kernels reading a function argument go through the same register and
// fan-out machinery as any other dataflow edge. See spec.md §4.5.
func (e *executor) processArgumentsPseudoKernel(arguments []*asyncvalue.AsyncValue, worklist *[]uint32) {
	record := kernel.NewRecord(e.stream, e.kernels[0].Offset)
	numResults := record.NumResults()
	resultRegs := record.Entries(0, numResults)
	usedByCursor := numResults

	for i, regIdx := range resultRegs {
		arg := arguments[i]
		arg.AddRef(1)
		e.processResult(record, i, regIdx, arg, &usedByCursor, worklist)
	}
}

// processResult installs value into register regIdx (resultIdx of record)
// and fans it out to every kernel using it, per spec.md §4.4. The caller
// must hand over a +1 reference on value.
func (e *executor) processResult(record kernel.Record, resultIdx int, regIdx uint32, value *asyncvalue.AsyncValue, usedByCursor *int, worklist *[]uint32) {
	reg := e.registers[regIdx]
	if reg.UserCount == 0 {
		// Nobody -- no kernel, no function output -- will ever read this
		// register; per register.Info's contract it is simply never
		// populated. The produced value was dead on arrival: tolerated (an
		// unused function argument hits this path too), but worth a trace.
		// The value may still be unavailable (an asynchronously dispatched
		// kernel's result), in which case its own eventual completion must
		// still anchor the location handler -- the kernel producing it may
		// report an error referencing a location after this call returns.
		klog.V(2).Infof("executor[%s]: register has no consumers, dropping produced value", e.id)
		if !value.IsAvailable() {
			e.maybeAddRefForResult(value, nil)
		}
		count := record.NumUsedBys(resultIdx)
		*usedByCursor += count
		value.DropRef(1)
		return
	}
	effective, alreadySet := reg.SetResult(value)

	count := record.NumUsedBys(resultIdx)
	usedBys := record.Entries(*usedByCursor, count)
	*usedByCursor += count

	e.completeResult(effective, usedBys, worklist)
	if alreadySet {
		effective.DropRef(1)
	}
}

// completeResult arranges for every kernel in usedBys to be woken once
// value settles: immediately, if it already has, else via a registered
// continuation. See spec.md §4.4 and §4.6.
func (e *executor) completeResult(value *asyncvalue.AsyncValue, usedBys []uint32, worklist *[]uint32) {
	if len(usedBys) == 0 {
		if !value.IsAvailable() {
			e.maybeAddRefForResult(value, nil)
		}
		return
	}
	if value.IsAvailable() {
		if value.IsError() {
			for _, dkid := range usedBys {
				e.setKernelsWithErrorInputReady(dkid)
			}
		}
		for _, dkid := range usedBys {
			if e.decrementArgumentsNotReadyCount(dkid) {
				*worklist = append(*worklist, dkid)
			}
		}
		return
	}
	e.maybeAddRefForResult(value, usedBys)
}

// setKernelsWithErrorInputReady forces kernelID's ArgumentsNotReady down
// to 1 (one decrement away from running), skipping the wait on any other
// argument -- an errored input makes the kernel's eventual outcome (error
// results, unless it is non-strict) already decided. This is the "error
// acceleration" spec.md §4.4 and §9 describe.
func (e *executor) setKernelsWithErrorInputReady(kernelID uint32) {
	counter := &e.kernels[kernelID].ArgumentsNotReady
	for {
		cur := counter.Load()
		if cur <= 1 {
			return
		}
		if counter.CompareAndSwap(cur, 1) {
			return
		}
	}
}

// maybeAddRefForResult registers a continuation on value that, once it
// settles, fans out to usedBys (nil for a function's own published
// output, which has no downstream kernels within this function) and
// drops the location handler reference taken here. The AddRef/AndThen
// pair keeps the handler resolvable for any kernel that reports an error
// referencing it even after this Execute call has returned and dropped
// its own reference. See spec.md §4.6 and §8 ("Lifetime anchoring").
func (e *executor) maybeAddRefForResult(value *asyncvalue.AsyncValue, usedBys []uint32) {
	e.locHandler.AddRef()
	value.AndThen(func() {
		defer e.locHandler.DropRef()
		if len(usedBys) == 0 {
			return
		}
		if value.IsError() {
			for _, dkid := range usedBys {
				e.setKernelsWithErrorInputReady(dkid)
			}
		}
		var ready []uint32
		for _, dkid := range usedBys {
			if e.decrementArgumentsNotReadyCount(dkid) {
				ready = append(ready, dkid)
			}
		}
		if len(ready) == 0 {
			return
		}
		klog.V(3).Infof("executor[%s]: resuming %d downstream kernel(s) after async result settled", e.id, len(ready))
		e.runReadyKernels(ready)
	})
}
