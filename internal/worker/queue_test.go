package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_SameKeyRunsInOrderOneAtATime(t *testing.T) {
	q := NewQueue(8)
	defer q.Shutdown(context.Background())

	var (
		mu       sync.Mutex
		order    []int
		inFlight int32
		maxSeen  int32
	)
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, q.Go("session", func(ctx context.Context) error {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				m := atomic.LoadInt32(&maxSeen)
				if n <= m || atomic.CompareAndSwapInt32(&maxSeen, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			atomic.AddInt32(&inFlight, -1)
			return nil
		}))
	}

	require.NoError(t, q.Do(context.Background(), "session", func(context.Context) error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxSeen))
}

func TestQueue_DifferentKeysRunInParallel(t *testing.T) {
	q := NewQueue(2)
	defer q.Shutdown(context.Background())

	started := make(chan struct{}, 2)
	release := make(chan struct{})
	for _, key := range []string{"a", "b"} {
		require.NoError(t, q.Go(key, func(context.Context) error {
			started <- struct{}{}
			<-release
			return nil
		}))
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("不同 key 的任务没有并行执行")
		}
	}
	close(release)
}

func TestQueue_DoReturnsJobErrorAndRecoversPanic(t *testing.T) {
	q := NewQueue(1)
	defer q.Shutdown(context.Background())

	boom := errors.New("boom")
	err := q.Do(context.Background(), "k", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)

	err = q.Do(context.Background(), "k", func(context.Context) error { panic("kaboom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// panic 之后同一个 key 仍然可用
	assert.NoError(t, q.Do(context.Background(), "k", func(context.Context) error { return nil }))
}

func TestQueue_ShutdownCancelsJobsAndRejectsNew(t *testing.T) {
	q := NewQueue(1)

	started := make(chan struct{})
	var cancelled atomic.Bool
	require.NoError(t, q.Go("k", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))
	assert.True(t, cancelled.Load())

	assert.ErrorIs(t, q.Go("k", func(context.Context) error { return nil }), ErrQueueClosed)
}

func TestQueue_FinishHook(t *testing.T) {
	q := NewQueue(1)
	defer q.Shutdown(context.Background())

	var finished []string
	var mu sync.Mutex
	q.OnFinish = func(key string, err error) {
		mu.Lock()
		finished = append(finished, key)
		mu.Unlock()
	}
	require.NoError(t, q.Do(context.Background(), "x", func(context.Context) error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"x"}, finished)
}
