package bridge

import (
	"context"
	"log/slog"
	"sync"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

// MemoryBridge 使用 channel 在进程内传递请求与结果，主要用于单机运行和测试。
type MemoryBridge struct {
	requests chan correlator.Request
	results  chan correlator.Result
	mu       sync.Mutex
	closed   bool
	done     chan struct{}
}

// NewMemoryBridge 创建内存通道。
func NewMemoryBridge(size int) *MemoryBridge {
	if size <= 0 {
		size = 64
	}
	return &MemoryBridge{
		requests: make(chan correlator.Request, size),
		results:  make(chan correlator.Result, size),
		done:     make(chan struct{}),
	}
}

// Notify 实现 correlator.Notifier 接口。
func (b *MemoryBridge) Notify(ctx context.Context, req correlator.Request) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return xerrors.New(xerrors.CodeNotifyFailed, "内存通道已关闭")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return xerrors.New(xerrors.CodeNotifyFailed, "内存通道已关闭")
	case b.requests <- req:
		return nil
	}
}

// Requests 返回待执行请求的只读通道。
func (b *MemoryBridge) Requests() <-chan correlator.Request { return b.requests }

// Deliver 投递一条执行结果。
func (b *MemoryBridge) Deliver(ctx context.Context, result correlator.Result) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return xerrors.New(xerrors.CodeNotifyFailed, "内存通道已关闭")
	case b.results <- result:
		return nil
	}
}

// Run 实现 Bridge 接口。
func (b *MemoryBridge) Run(ctx context.Context, sink ResultSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case result := <-b.results:
			sink.Complete(result)
		}
	}
}

// Serve 使用进程内执行器处理请求，直到 ctx 结束或通道关闭。
func (b *MemoryBridge) Serve(ctx context.Context, executor Executor) error {
	log := logger.Named("bridge")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case req := <-b.requests:
			result := executor.Execute(ctx, req)
			result.RequestID = req.RequestID
			if err := b.Deliver(ctx, result); err != nil {
				log.Warn("投递执行结果失败", slog.String("request_id", req.RequestID), slog.Any("error", err))
				return err
			}
		}
	}
}

// Close 关闭内存通道。
func (b *MemoryBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}

var _ Bridge = (*MemoryBridge)(nil)
