package task

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "ClawAgent/internal/errors"
	"ClawAgent/pkg/logger"
)

// Canceller 能够中止正在执行的任务。
type Canceller interface {
	// Cancel 返回 true 表示任务正在本进程中运行并已收到取消信号。
	Cancel(taskID string) bool
}

// Service 负责任务的创建、查询与取消。
type Service struct {
	store      Store
	producer   Producer
	maxRetries int
	canceller  Canceller
}

// ServiceOption 定义 Service 的可选配置。
type ServiceOption func(*Service)

// WithCanceller 指定用于取消运行中任务的组件，通常是 Processor。
func WithCanceller(canceller Canceller) ServiceOption {
	return func(s *Service) {
		s.canceller = canceller
	}
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, maxRetries int, opts ...ServiceOption) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Service{store: store, producer: producer, maxRetries: maxRetries}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Submit 创建一个新的任务并推送到队列。携带已存在 ID 的请求直接返回已有任务。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Task, error) {
	if strings.TrimSpace(req.Task) == "" {
		return nil, xerrors.New(CodeTaskValidation, "任务描述不能为空")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务服务未初始化")
	}

	taskID := strings.TrimSpace(req.ID)
	if taskID != "" {
		existing, err := s.store.Get(ctx, taskID)
		if err == nil {
			return existing, nil
		}
		if !stdErrors.Is(err, ErrTaskNotFound) {
			return nil, err
		}
	} else {
		taskID = uuid.NewString()
	}

	task := &Task{
		ID:             taskID,
		Goal:           strings.TrimSpace(req.Task),
		Context:        cloneContext(req.Context),
		BrowserContext: cloneBrowserContext(req.BrowserContext),
		Status:         StatusPending,
		MaxRetries:     s.maxRetries,
	}
	if err := s.store.Create(ctx, task); err != nil {
		if stdErrors.Is(err, ErrTaskConflict) {
			if existing, getErr := s.store.Get(ctx, taskID); getErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, taskID); err != nil {
		logger.L().Error("任务入队失败", slog.Any("error", err), slog.String("task_id", taskID))
		wrapped := xerrors.Wrap(CodeTaskPublish, err, "发布任务到队列失败")
		_ = s.store.MarkFailed(ctx, taskID, CodeTaskPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("任务入队成功",
		slog.String("task_id", taskID),
		slog.String("task", task.Goal),
		slog.Int("max_retries", task.MaxRetries),
	)
	return task, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Task, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.List(ctx, newListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (TaskStats, error) {
	if s.store == nil {
		return TaskStats{}, xerrors.New(xerrors.CodeInitializationFailure, "任务存储未初始化")
	}
	return s.store.Stats(ctx, newListOptions(opts...))
}

// Cancel 取消任务。运行中的任务在下一个检查点停止，由处理器写回部分结果；
// 尚未被领取的任务直接标记为已取消。
func (s *Service) Cancel(ctx context.Context, id string) (*Task, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, ErrTaskCompleted
	}
	if current.Status == StatusRunning && s.canceller != nil && s.canceller.Cancel(id) {
		logger.Audit().Info("已请求取消运行中的任务", slog.String("task_id", id))
		return s.store.Get(ctx, id)
	}
	if err := s.store.MarkCancelled(ctx, id, nil); err != nil {
		return nil, err
	}
	logger.Audit().Info("任务已取消", slog.String("task_id", id), slog.String("previous_status", string(current.Status)))
	return s.store.Get(ctx, id)
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询任务状态直到任务结束或 ctx 结束。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Task, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		task, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if task.Status.Terminal() {
			return task, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
