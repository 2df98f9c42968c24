package task

import (
	"context"
	"sync"

	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

// MemoryQueue 使用 channel 模拟消息队列，适用于单进程部署与测试。
type MemoryQueue struct {
	ch        chan string
	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryQueue 创建一个内存队列。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan string, size), done: make(chan struct{})}
}

// Publish 将任务投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, taskID string) error {
	select {
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		return xerrors.New(xerrors.CodeQueueFailure, "队列已关闭")
	case q.ch <- taskID:
		return nil
	}
}

// Consume 启动 workerCount 个消费者，队列关闭时返回 nil，ctx 结束时返回 ctx.Err()。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	log := logger.Named("task.queue")
	return runWorkers(ctx, workerCount, func(ctx context.Context) error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-q.done:
				return nil
			case taskID := <-q.ch:
				dispatch(ctx, log, handler, taskID, "处理任务失败")
			}
		}
	})
}

// Close 关闭内存队列。
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
