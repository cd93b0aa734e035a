package hostctx_test

import (
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/asyncexec/pkg/hostctx"
)

func TestGoRunsTask(t *testing.T) {
	host := hostctx.New(hostctx.WithMaxParallelism(2))
	var wg sync.WaitGroup
	wg.Add(1)
	ran := false
	host.Go(func() {
		ran = true
		wg.Done()
	})
	wg.Wait()
	require.True(t, ran)
}

func TestCancellationStartsUnconstructed(t *testing.T) {
	host := hostctx.New()
	require.False(t, host.Cancellation().IsAvailable())
}

func TestCancelSettlesCancellation(t *testing.T) {
	host := hostctx.New()
	cause := errors.New("shutting down")
	host.Cancel(cause)
	require.True(t, host.Cancellation().IsError())
	require.Equal(t, cause, host.Cancellation().Error())
}

func TestCancelIsIdempotent(t *testing.T) {
	host := hostctx.New()
	host.Cancel(errors.New("first"))
	require.NotPanics(t, func() { host.Cancel(errors.New("second")) })
	require.Equal(t, "first", host.Cancellation().Error().Error())
}

func TestConcurrentCancelIsSafe(t *testing.T) {
	host := hostctx.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			host.Cancel(errors.New("race"))
		}()
	}
	wg.Wait()
	require.True(t, host.Cancellation().IsError())
}
