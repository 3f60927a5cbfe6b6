// Package lane provides a single-goroutine serial executor. Jobs run strictly
// in submission order and never overlap, which makes a Lane usable both as
// the disk I/O lane of the cache and as the callback delivery context of the
// resource manager. Submission never blocks: the queue is unbounded.
package lane

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed 表示 Lane 已关闭，不再接受新任务。
var ErrClosed = errors.New("lane closed")

// Lane 按提交顺序逐个执行任务，同一时刻最多只有一个任务在运行。
type Lane struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

// New 创建并启动 Lane 的执行 goroutine。
func New() *Lane {
	l := &Lane{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.loop()
	return l
}

// Submit 异步提交任务；Lane 关闭后返回 ErrClosed。
func (l *Lane) Submit(job func()) error {
	if job == nil {
		return nil
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.queue = append(l.queue, job)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

// Dispatch 实现 manager.Dispatcher，关闭后提交的回调被丢弃。
func (l *Lane) Dispatch(job func()) {
	_ = l.Submit(job)
}

// Do 提交任务并等待其执行完毕。ctx 取消只会停止等待，已入队的任务仍会执行。
// 不能在 Lane 自身的任务中调用，否则会死锁。
func (l *Lane) Do(ctx context.Context, job func()) error {
	finished := make(chan struct{})
	if err := l.Submit(func() {
		defer close(finished)
		job()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush 等待此前提交的所有任务执行完毕。
func (l *Lane) Flush(ctx context.Context) error {
	return l.Do(ctx, func() {})
}

// Pending 返回尚未开始执行的任务数量。
func (l *Lane) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Close 拒绝新任务，执行完已排队的任务后退出，并阻塞直到 goroutine 结束。
func (l *Lane) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.done
		return
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	<-l.done
}

func (l *Lane) loop() {
	defer close(l.done)
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			<-l.wake
			continue
		}
		job := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()

		job()
	}
}
