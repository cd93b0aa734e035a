package register

import (
	"sync"
	"testing"

	"github.com/gomlx/asyncexec/pkg/asyncvalue"
	"github.com/stretchr/testify/require"
)

func TestGetOrCreateOnEmptySlotThenSetResult(t *testing.T) {
	reg := &Info{UserCount: 2}

	// A consumer arrives first: builds an indirect placeholder.
	indirect := reg.GetOrCreate()
	require.True(t, indirect.IsIndirect())
	require.EqualValues(t, 3, indirect.RefCount()) // UserCount(2) + 1 self.
	require.False(t, indirect.IsAvailable())

	// Second consumer finds the same placeholder, no extra refs charged.
	same := reg.GetOrCreate()
	require.Same(t, indirect, same)
	require.EqualValues(t, 3, indirect.RefCount())

	// Producer arrives and installs the real value.
	produced := asyncvalue.New(42)
	effective, alreadySet := reg.SetResult(produced)
	require.True(t, alreadySet)
	require.Same(t, indirect, effective)
	require.True(t, indirect.IsAvailable())
	require.Equal(t, 42, indirect.Payload())

	// The dispatch loop drops the indirect once fan-out of `effective` is
	// done, accounting for the producer's "install is a use" ref.
	effective.DropRef(1)
	require.EqualValues(t, 2, indirect.RefCount())

	// Each of the two consumers eventually drops its one use.
	indirect.DropRef(1)
	indirect.DropRef(1)
	require.EqualValues(t, 0, indirect.RefCount())
}

func TestSetResultOnEmptySlotDirect(t *testing.T) {
	reg := &Info{UserCount: 3}
	produced := asyncvalue.New("x")
	effective, alreadySet := reg.SetResult(produced)
	require.False(t, alreadySet)
	require.Same(t, produced, effective)
	require.EqualValues(t, 3, produced.RefCount()) // caller's +1 + (UserCount-1).

	require.Same(t, produced, reg.GetOrCreate())
}

func TestSetResultOnZeroUserCountPanics(t *testing.T) {
	reg := &Info{UserCount: 0}
	require.Panics(t, func() { reg.SetResult(asyncvalue.New(1)) })
}

func TestConcurrentGetOrCreateRace(t *testing.T) {
	reg := &Info{UserCount: 10}
	const n = 50
	results := make([]*asyncvalue.AsyncValue, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i] = reg.GetOrCreate()
		}(i)
	}
	wg.Wait()
	for i := 1; i < n; i++ {
		require.Same(t, results[0], results[i])
	}
	require.EqualValues(t, 11, results[0].RefCount())
}
