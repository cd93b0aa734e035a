package asyncvalue

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConcreteAvailableImmediately(t *testing.T) {
	v := New(7)
	require.True(t, v.IsAvailable())
	require.False(t, v.IsError())
	require.Equal(t, 7, v.Payload())
	require.Equal(t, StateConstructed, v.State())

	ran := false
	v.AndThen(func() { ran = true })
	require.True(t, ran, "AndThen on an available value must run inline")
}

func TestErrorValue(t *testing.T) {
	cause := errors.New("boom")
	v := NewError(cause)
	require.True(t, v.IsAvailable())
	require.True(t, v.IsError())
	require.Equal(t, cause, v.Error())
}

func TestUnconstructedThenSettle(t *testing.T) {
	v := NewUnconstructed()
	require.False(t, v.IsAvailable())

	var ran int
	v.AndThen(func() { ran++ })
	v.AndThen(func() { ran++ })
	require.Equal(t, 0, ran)

	v.SetPayload(42)
	require.True(t, v.IsAvailable())
	require.Equal(t, 42, v.Payload())
	require.Equal(t, 2, ran)

	// A late AndThen still runs, inline.
	v.AndThen(func() { ran++ })
	require.Equal(t, 3, ran)
}

func TestSettleTwicePanics(t *testing.T) {
	v := NewUnconstructed()
	v.SetPayload(1)
	require.Panics(t, func() { v.SetPayload(2) })
}

func TestRefcountConservationAndRelease(t *testing.T) {
	released := false
	v := New(releasableFunc(func() { released = true }))
	v.AddRef(3) // now 4
	require.EqualValues(t, 4, v.RefCount())
	v.DropRef(3)
	require.False(t, released)
	v.DropRef(1)
	require.True(t, released)
}

func TestDropRefBelowZeroPanics(t *testing.T) {
	v := New(1)
	require.Panics(t, func() { v.DropRef(2) })
}

func TestIndirectForwardToConcrete(t *testing.T) {
	indirect := NewIndirect()
	require.False(t, indirect.IsAvailable())
	require.Equal(t, StateUnresolvedIndirect, indirect.State())

	var ran bool
	indirect.AndThen(func() { ran = true })

	concrete := New("hello")
	indirect.ForwardTo(concrete)

	require.True(t, ran)
	require.True(t, indirect.IsAvailable())
	require.Equal(t, "hello", indirect.Payload())
}

func TestIndirectForwardToPending(t *testing.T) {
	indirect := NewIndirect()
	pending := NewUnconstructed()
	indirect.ForwardTo(pending)

	// Forwarded to a target that hasn't settled: indirect mirrors that.
	require.False(t, indirect.IsAvailable())
	require.Equal(t, StateConcreteIndirect, indirect.State())

	var ran bool
	indirect.AndThen(func() { ran = true })
	require.False(t, ran)

	pending.SetPayload(9)
	require.True(t, ran)
	require.True(t, indirect.IsAvailable())
	require.Equal(t, 9, indirect.Payload())
}

func TestForwardToTwicePanics(t *testing.T) {
	indirect := NewIndirect()
	indirect.ForwardTo(New(1))
	require.Panics(t, func() { indirect.ForwardTo(New(2)) })
}

func TestIndirectReleaseDropsTargetRef(t *testing.T) {
	target := New(1)
	indirect := NewIndirect()
	target.AddRef(1) // the ref ForwardTo will adopt.
	indirect.ForwardTo(target)
	require.EqualValues(t, 2, target.RefCount())
	indirect.DropRef(1)
	require.EqualValues(t, 1, target.RefCount())
}

func TestConcurrentAndThenRegistrationsAllFire(t *testing.T) {
	v := NewUnconstructed()
	const n = 200
	var wg sync.WaitGroup
	var mu sync.Mutex
	count := 0
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			v.AndThen(func() {
				mu.Lock()
				count++
				mu.Unlock()
			})
		}()
	}
	// Give registrations a chance to race with settlement either way.
	v.SetPayload(1)
	wg.Wait()
	require.Equal(t, n, count)
}

type releasableFunc func()

func (r releasableFunc) Release() { r() }
