package task

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Handler 处理一条出队的任务 ID，返回错误时由队列实现决定是否重投。
type Handler func(ctx context.Context, taskID string) error

// Producer 向队列投递任务 ID。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 以 workerCount 个并发消费者处理队列，阻塞到 ctx 结束或队列关闭。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// runWorkers 启动 n 个 worker，任一 worker 返回错误时取消其余 worker 并返回该错误。
func runWorkers(ctx context.Context, n int, worker func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < max(n, 1); i++ {
		g.Go(func() error { return worker(gctx) })
	}
	return g.Wait()
}

// dispatch 调用 handler，失败时记录日志并返回 false。
func dispatch(ctx context.Context, log *slog.Logger, handler Handler, taskID string, note string) bool {
	if err := handler(ctx, taskID); err != nil {
		log.Warn(note, slog.String("task_id", taskID), slog.Any("error", err))
		return false
	}
	return true
}
