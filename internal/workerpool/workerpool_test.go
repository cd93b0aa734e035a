package workerpool_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gomlx/asyncexec/internal/workerpool"
)

func TestGoRunsAllTasks(t *testing.T) {
	p := workerpool.New(2)
	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Go(func() {
			defer wg.Done()
			n.Add(1)
		})
	}
	wg.Wait()
	require.EqualValues(t, 10, n.Load())
}

func TestZeroParallelismRunsInline(t *testing.T) {
	p := workerpool.New(0)
	ran := false
	p.Go(func() { ran = true })
	require.True(t, ran)
}

func TestUnlimitedIsUnlimited(t *testing.T) {
	p := workerpool.New(-1)
	require.True(t, p.IsUnlimited())
	var wg sync.WaitGroup
	wg.Add(1)
	p.Go(func() { wg.Done() })
	wg.Wait()
}

func TestTryGoReportsSaturation(t *testing.T) {
	p := workerpool.New(1)
	block := make(chan struct{})
	started := make(chan struct{})
	require.True(t, p.TryGo(func() {
		close(started)
		<-block
	}))
	<-started

	// The soft limit allows goroutineToParallelismRatio*maxParallelism before
	// refusing, so saturate it before expecting a refusal.
	deadline := time.After(time.Second)
	for p.TryGo(func() { <-block }) {
		select {
		case <-deadline:
			t.Fatal("pool never reported saturated")
		default:
		}
	}
	close(block)
}
