package local

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPool_RunsEveryTask(t *testing.T) {
	p := NewPool(context.Background(), 2)
	p.Start()

	var called int32
	for range 5 {
		require.True(t, p.Submit(func(ctx context.Context) { atomic.AddInt32(&called, 1) }))
	}

	p.Close()
	require.Equal(t, int32(5), atomic.LoadInt32(&called))
}

func TestPool_CloseWaitsForRunningTask(t *testing.T) {
	p := NewPool(context.Background(), 1)
	p.Start()

	var done int32
	p.Submit(func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		atomic.StoreInt32(&done, 1)
	})

	p.Close()
	require.Equal(t, int32(1), atomic.LoadInt32(&done))
}

func TestPool_SubmitAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, 1)
	p.Start()
	cancel()

	var called int32
	require.False(t, p.Submit(func(ctx context.Context) { atomic.AddInt32(&called, 1) }))

	p.Close()
	require.Equal(t, int32(0), atomic.LoadInt32(&called))
}

func TestPool_CancelUnblocksSubmit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewPool(ctx, 1)
	p.Start()

	release := make(chan struct{})
	require.True(t, p.Submit(func(ctx context.Context) { <-release }))

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	require.False(t, p.Submit(func(ctx context.Context) {}))

	close(release)
	p.Close()
}

func TestPool_TasksSeePoolContext(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "partition")
	p := NewPool(ctx, 1)
	p.Start()

	var got atomic.Value
	p.Submit(func(ctx context.Context) { got.Store(ctx.Value(key{})) })
	p.Close()

	require.Equal(t, "partition", got.Load())
}
