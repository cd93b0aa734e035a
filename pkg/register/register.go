// Package register implements RegisterInfo, the per-register slot the
// executor installs kernel results into and downstream kernels read from.
// See spec.md §3 ("Register") and §4.2-§4.3.
package register

import (
	"sync/atomic"

	"github.com/gomlx/exceptions"

	"github.com/gomlx/asyncexec/pkg/asyncvalue"
)

// Info is the per-register metadata the executor allocates one of per
// dataflow edge set: a statically known number of downstream consumers and
// an atomic slot holding the current value, initially nil.
//
// The slot transitions at most twice: nil -> (IndirectAsyncValue | concrete
// value) -> (if indirect) the concrete value reached via ForwardTo. Readers
// use an acquire load; the installing compare-and-swap uses release on
// success, acquire on failure -- Go's sync/atomic.Pointer gives us exactly
// that on all supported architectures.
type Info struct {
	// UserCount is the number of downstream kernels that will consume this
	// register's value. If zero, the register is never populated.
	UserCount uint32

	value atomic.Pointer[asyncvalue.AsyncValue]
}

// Value returns the value currently installed in the slot, or nil if
// nothing has been installed yet.
func (r *Info) Value() *asyncvalue.AsyncValue {
	return r.value.Load()
}

// GetOrCreate returns an AsyncValue for the register, creating an
// unresolved IndirectAsyncValue placeholder if the slot is still empty.
// See spec.md §4.2.
//
// If a concrete value is already installed, it is returned as-is with no
// refcount change charged to the caller. Otherwise an IndirectAsyncValue is
// spun up with a speculative refcount bump (avoiding a second atomic RMW on
// the common, successful-install path) and raced into the slot via
// compare-and-swap; the loser's speculative bump is reverted.
func (r *Info) GetOrCreate() *asyncvalue.AsyncValue {
	if v := r.value.Load(); v != nil {
		return v
	}

	indirect := asyncvalue.NewIndirect()
	// Speculatively raise the refcount by UserCount, assuming the CAS below
	// succeeds: indirect will then hold UserCount+1 refs -- UserCount for
	// downstream consumers, +1 for the install itself.
	indirect.AddRef(int64(r.UserCount))

	if r.value.CompareAndSwap(nil, indirect) {
		return indirect
	}

	// Another producer won the race; our speculative bump was unneeded.
	indirect.DropRef(int64(r.UserCount) + 1)
	return r.value.Load()
}

// SetResult installs a freshly produced result into a register whose
// UserCount > 0. See spec.md §4.3.
//
// The caller must hold a +1 reference on newValue that it is giving up to
// this call. SetResult returns the effective value now in the register
// (which differs from newValue if a consumer racing via GetOrCreate got
// there first; a second producer panics) and whether the slot was
// already occupied by an indirect placeholder (alreadySet); if so, the
// caller must DropRef the returned value once it is done fanning out to
// consumers, to release the reference SetResult transferred into the
// indirect placeholder.
func (r *Info) SetResult(newValue *asyncvalue.AsyncValue) (effective *asyncvalue.AsyncValue, alreadySet bool) {
	if r.UserCount == 0 {
		exceptions.Panicf("register.SetResult: called on a register with UserCount == 0")
	}

	// Speculatively raise the refcount by UserCount-1: newValue already
	// carries the caller's +1, and installing the register counts as one
	// more use, so those cancel; the remaining UserCount-1 covers the other
	// consumers.
	newValue.AddRef(int64(r.UserCount) - 1)

	if r.value.CompareAndSwap(nil, newValue) {
		return newValue, false
	}

	// Someone beat us to it. The only way that can happen is a consumer
	// having called GetOrCreate first and installed an IndirectAsyncValue.
	existing := r.value.Load()
	if existing == nil || !existing.IsIndirect() {
		exceptions.Panicf("register.SetResult: slot already held a non-indirect value; a register was written to twice")
	}

	// Revert the speculative bump; fold the caller's +1 into the indirect
	// instead, via ForwardTo.
	newValue.DropRef(int64(r.UserCount) - 1)
	existing.ForwardTo(newValue)
	return existing, true
}
