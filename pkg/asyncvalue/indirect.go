package asyncvalue

import "github.com/gomlx/exceptions"

// NewIndirect returns an unresolved IndirectAsyncValue with refcount 1.
// It is used when a consumer needs to attach callbacks to a register
// before its producer has run (spec.md §4.2's GetOrCreate, §9 "Indirect
// values as forward references").
func NewIndirect() *AsyncValue {
	v := &AsyncValue{state: StateUnresolvedIndirect, indirect: true}
	v.refCount.Store(1)
	return v
}

// IsIndirect reports whether v was created via NewIndirect.
func (v *AsyncValue) IsIndirect() bool {
	return v.indirect
}

// ForwardTo points an unresolved indirect value at target, adopting one
// reference to target that the caller held (the caller must not DropRef
// that reference itself -- ForwardTo takes ownership of it, mirroring
// TakeRef semantics in the source protocol).
//
// Any AndThen callbacks queued on v before forwarding are migrated onto
// target, so they still fire once target settles. Calling ForwardTo twice,
// or on a non-indirect value, is a compiler/decoder bug and panics.
func (v *AsyncValue) ForwardTo(target *AsyncValue) {
	if !v.indirect {
		exceptions.Panicf("asyncvalue.ForwardTo: called on a non-indirect value")
	}
	if target == nil {
		exceptions.Panicf("asyncvalue.ForwardTo: target must not be nil")
	}
	v.mu.Lock()
	if v.target != nil {
		v.mu.Unlock()
		exceptions.Panicf("asyncvalue.ForwardTo: value was already forwarded")
	}
	v.target = target
	waiters := v.waiters
	v.waiters = nil
	v.mu.Unlock()

	for _, w := range waiters {
		target.AndThen(w)
	}
}
