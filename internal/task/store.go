package task

import (
	"context"

	xerrors "ClawAgent/internal/errors"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 将任务切换为运行中并增加尝试次数。已结束、已取消或重试耗尽的任务返回对应的哨兵错误。
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result ExecutionResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string, terminal bool) error
	// MarkCancelled 将未结束的任务标记为已取消，result 可为空。
	MarkCancelled(ctx context.Context, id string, result *ExecutionResult) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
