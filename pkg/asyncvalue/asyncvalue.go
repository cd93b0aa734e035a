// Package asyncvalue implements the AsyncValue protocol: a reference
// counted, state-transitioning result cell that kernels publish into and
// the executor's registers forward. See spec.md §3 component 1.
package asyncvalue

import (
	"sync"
	"sync/atomic"

	"github.com/gomlx/exceptions"
)

// Releasable is implemented by payloads that own a resource (e.g. a pooled
// buffer) that should be reclaimed the moment an AsyncValue's refcount
// reaches zero. Payloads that don't need this may ignore it.
type Releasable interface {
	Release()
}

// AsyncValue is a reference-counted cell holding a payload, an error, or
// (for an IndirectAsyncValue) a forwarding pointer to another AsyncValue.
//
// The zero value is not usable; construct with New, NewError,
// NewUnconstructed or NewIndirect.
type AsyncValue struct {
	refCount atomic.Int64

	mu      sync.Mutex
	state   State
	payload any
	err     error
	waiters []func()

	// indirect is true for values created via NewIndirect. Only indirect
	// values may transition via ForwardTo.
	indirect bool
	target   *AsyncValue // set exactly once, guarded by mu.
}

// New returns an available AsyncValue holding payload, with refcount 1.
func New(payload any) *AsyncValue {
	v := &AsyncValue{state: StateConstructed, payload: payload}
	v.refCount.Store(1)
	return v
}

// NewError returns an available AsyncValue in the Error state, with
// refcount 1.
func NewError(err error) *AsyncValue {
	if err == nil {
		exceptions.Panicf("asyncvalue.NewError: err must not be nil")
	}
	v := &AsyncValue{state: StateError, err: err}
	v.refCount.Store(1)
	return v
}

// NewUnconstructed returns an AsyncValue with refcount 1 and no payload
// yet. An asynchronous kernel publishes a placeholder this way and later
// calls SetPayload or SetError exactly once, from whatever goroutine the
// host's work queue happens to run the completion on.
func NewUnconstructed() *AsyncValue {
	v := &AsyncValue{state: StateUnconstructed}
	v.refCount.Store(1)
	return v
}

// SetPayload transitions an Unconstructed value to Constructed, running any
// queued AndThen callbacks. Calling it more than once, or on a value that
// isn't Unconstructed, is a compiler/decoder bug and panics.
func (v *AsyncValue) SetPayload(payload any) {
	v.settle(StateConstructed, payload, nil)
}

// SetError transitions an Unconstructed value to Error, running any queued
// AndThen callbacks. Calling it more than once, or on a value that isn't
// Unconstructed, is a compiler/decoder bug and panics.
func (v *AsyncValue) SetError(err error) {
	if err == nil {
		exceptions.Panicf("asyncvalue.SetError: err must not be nil")
	}
	v.settle(StateError, nil, err)
}

func (v *AsyncValue) settle(state State, payload any, err error) {
	if v.indirect {
		exceptions.Panicf("asyncvalue: SetPayload/SetError called on an indirect value; use ForwardTo")
	}
	v.mu.Lock()
	if v.state != StateUnconstructed {
		v.mu.Unlock()
		exceptions.Panicf("asyncvalue: value already settled to state %s, cannot settle again", v.state)
	}
	v.state = state
	v.payload = payload
	v.err = err
	waiters := v.waiters
	v.waiters = nil
	v.mu.Unlock()

	for _, w := range waiters {
		w()
	}
}

// State returns the value's current state, chasing through a forwarded
// indirect value to report the terminal Constructed/Error state of its
// target, or StateConcreteIndirect if the target itself hasn't settled yet,
// or StateUnresolvedIndirect if no ForwardTo has happened yet.
func (v *AsyncValue) State() State {
	v.mu.Lock()
	state, target := v.state, v.target
	v.mu.Unlock()
	if !v.indirect {
		return state
	}
	if target == nil {
		return StateUnresolvedIndirect
	}
	if targetState := target.State(); targetState.isTerminal() {
		return targetState
	}
	return StateConcreteIndirect
}

// IsAvailable reports whether a payload or error has landed (chasing
// through indirect forwarding).
func (v *AsyncValue) IsAvailable() bool {
	return v.State().isTerminal()
}

// IsError reports whether the value (or its forwarded target) settled into
// the Error state.
func (v *AsyncValue) IsError() bool {
	return v.State() == StateError
}

// Payload returns the concrete payload, chasing through indirect
// forwarding. It panics if the value is not available or is in the Error
// state -- callers must check IsAvailable/IsError first, exactly as the
// executor's dispatch loop does.
func (v *AsyncValue) Payload() any {
	v.mu.Lock()
	indirect, target, state, payload := v.indirect, v.target, v.state, v.payload
	v.mu.Unlock()
	if indirect {
		if target == nil {
			exceptions.Panicf("asyncvalue: Payload() called on an unresolved indirect value")
		}
		return target.Payload()
	}
	if state != StateConstructed {
		exceptions.Panicf("asyncvalue: Payload() called on a value in state %s", state)
	}
	return payload
}

// Error returns the cause of failure, chasing through indirect forwarding.
// It panics if the value is not in the Error state.
func (v *AsyncValue) Error() error {
	v.mu.Lock()
	indirect, target, state, err := v.indirect, v.target, v.state, v.err
	v.mu.Unlock()
	if indirect {
		if target == nil {
			exceptions.Panicf("asyncvalue: Error() called on an unresolved indirect value")
		}
		return target.Error()
	}
	if state != StateError {
		exceptions.Panicf("asyncvalue: Error() called on a value in state %s", state)
	}
	return err
}

// AndThen schedules fn to run once the value becomes available (chasing
// indirect forwarding), or runs it inline, synchronously, if it already is.
//
// fn runs exactly once. Its closure, if it needs the executor to stay
// alive or other values to stay referenced, must hold its own references --
// AndThen itself does not affect refcounts.
func (v *AsyncValue) AndThen(fn func()) {
	v.mu.Lock()
	if v.indirect {
		target := v.target
		if target == nil {
			v.waiters = append(v.waiters, fn)
			v.mu.Unlock()
			return
		}
		v.mu.Unlock()
		target.AndThen(fn)
		return
	}
	if v.state != StateUnconstructed {
		v.mu.Unlock()
		fn()
		return
	}
	v.waiters = append(v.waiters, fn)
	v.mu.Unlock()
}

// AddRef increases the refcount by n. n may be 0 (a documented no-op, used
// when speculative bookkeeping computes a zero delta).
func (v *AsyncValue) AddRef(n int64) {
	if n == 0 {
		return
	}
	if n < 0 {
		exceptions.Panicf("asyncvalue.AddRef: n must be >= 0, got %d", n)
	}
	if v.refCount.Add(n)-n <= 0 {
		exceptions.Panicf("asyncvalue.AddRef: called on a value with a non-positive refcount")
	}
}

// DropRef decreases the refcount by n, releasing the payload (if it
// implements Releasable) once it reaches zero. n may be 0.
func (v *AsyncValue) DropRef(n int64) {
	if n == 0 {
		return
	}
	if n < 0 {
		exceptions.Panicf("asyncvalue.DropRef: n must be >= 0, got %d", n)
	}
	remaining := v.refCount.Add(-n)
	if remaining < 0 {
		exceptions.Panicf("asyncvalue.DropRef: refcount went negative; double-free")
	}
	if remaining == 0 {
		v.release()
	}
}

// RefCount returns the current refcount, for tests and diagnostics.
func (v *AsyncValue) RefCount() int64 {
	return v.refCount.Load()
}

func (v *AsyncValue) release() {
	v.mu.Lock()
	payload := v.payload
	v.payload = nil
	target := v.target
	v.target = nil
	v.mu.Unlock()
	if r, ok := payload.(Releasable); ok {
		r.Release()
	}
	if target != nil {
		target.DropRef(1)
	}
}
