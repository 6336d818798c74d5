// Package worker 提供按 key 串行、跨 key 并行的后台任务队列。
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"math-agent-go/pkg/log"
)

// ErrQueueClosed 表示队列已关闭，不再接受新任务。
var ErrQueueClosed = errors.New("worker queue is closed")

// Job 是队列中执行的任务，ctx 在队列关闭时被取消。
type Job func(ctx context.Context) error

type item struct {
	job  Job
	done chan error
}

// Queue 保证同一个 key 下任一时刻最多只有一个任务在执行，按提交顺序 FIFO；
// 不同 key 的任务并行执行，总并发受信号量限制。
type Queue struct {
	ctx    context.Context
	cancel context.CancelFunc
	sem    *semaphore.Weighted

	mu      sync.Mutex
	pending map[string][]item
	closed  bool
	wg      sync.WaitGroup

	// OnStart / OnFinish 用于埋点，可以为空。
	OnStart  func(key string)
	OnFinish func(key string, err error)
}

// NewQueue 创建一个最多同时运行 maxConcurrent 个任务的队列。
func NewQueue(maxConcurrent int) *Queue {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		ctx:     ctx,
		cancel:  cancel,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		pending: make(map[string][]item),
	}
}

// Go 提交任务后立即返回。
func (q *Queue) Go(key string, job Job) error {
	return q.enqueue(key, item{job: job})
}

// Do 提交任务并等待其完成，返回任务的错误。
// ctx 取消时 Do 立即返回，但已入队的任务仍会执行。
func (q *Queue) Do(ctx context.Context, key string, job Job) error {
	done := make(chan error, 1)
	if err := q.enqueue(key, item{job: job, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) enqueue(key string, it item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	list, running := q.pending[key]
	q.pending[key] = append(list, it)
	if !running {
		q.wg.Add(1)
		go q.drain(key)
	}
	return nil
}

// drain 依次执行某个 key 下的所有任务，队列为空时退出。
func (q *Queue) drain(key string) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		list := q.pending[key]
		if len(list) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		it := list[0]
		q.pending[key] = list[1:]
		q.mu.Unlock()

		err := q.run(key, it.job)
		if it.done != nil {
			it.done <- err
		}
	}
}

func (q *Queue) run(key string, job Job) (err error) {
	if acquireErr := q.sem.Acquire(q.ctx, 1); acquireErr != nil {
		return fmt.Errorf("acquire worker slot: %w", acquireErr)
	}
	defer q.sem.Release(1)

	if q.OnStart != nil {
		q.OnStart(key)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
			log.Errorf("[Queue] key=%s 的任务发生 panic: %v", key, r)
		}
		if q.OnFinish != nil {
			q.OnFinish(key, err)
		}
	}()
	return job(q.ctx)
}

// Shutdown 拒绝新任务，取消传给任务的 context，并等待所有任务退出或 ctx 超时。
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cancel()

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
