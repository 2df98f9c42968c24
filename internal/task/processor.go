package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	xerrors "ClawAgent/internal/errors"
	"ClawAgent/internal/orchestrator"
	"ClawAgent/pkg/logger"
)

// Executor 创建编排运行，*orchestrator.Orchestrator 实现了该接口。
type Executor interface {
	NewRun(in orchestrator.Input) *orchestrator.Run
}

// CompletionHook 在任务到达一次处理的终点时被调用。
type CompletionHook func(task *Task, status Status, elapsed time.Duration)

// Processor 负责从队列消费任务并交给编排器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	onComplete  CompletionHook

	mu     sync.Mutex
	active map[string]*orchestrator.Run
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithCompletionHook 注册任务处理完成的回调，常用于指标统计。
func WithCompletionHook(hook CompletionHook) ProcessorOption {
	return func(p *Processor) {
		p.onComplete = hook
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
		logger:      logger.Named("task.processor"),
		active:      make(map[string]*orchestrator.Run),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

// Start 启动任务处理循环，阻塞直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

// Cancel 向本进程中正在运行的任务发送取消信号。
func (p *Processor) Cancel(taskID string) bool {
	p.mu.Lock()
	run, ok := p.active[taskID]
	p.mu.Unlock()
	if !ok {
		return false
	}
	run.Cancel()
	return true
}

// Active 返回当前正在执行的任务数量。
func (p *Processor) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

func (p *Processor) track(taskID string, run *orchestrator.Run) {
	p.mu.Lock()
	p.active[taskID] = run
	p.mu.Unlock()
}

func (p *Processor) untrack(taskID string) {
	p.mu.Lock()
	delete(p.active, taskID)
	p.mu.Unlock()
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) ||
			stdErrors.Is(err, ErrTaskExhausted) || stdErrors.Is(err, ErrTaskCancelled) ||
			stdErrors.Is(err, ErrTaskConflict) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	started := time.Now()
	run := p.executor.NewRun(orchestrator.Input{
		RunID:          fmt.Sprintf("%s-%d", task.ID, task.Attempts),
		Task:           task.Goal,
		Context:        cloneContext(task.Context),
		BrowserContext: cloneBrowserContext(task.BrowserContext),
	})
	p.track(task.ID, run)
	outcome := run.Execute(ctx)
	p.untrack(task.ID)

	result := ExecutionResult{
		FinalResult:   outcome.FinalResult,
		Plan:          outcome.Plan,
		StepResults:   outcome.StepResults,
		StepsExecuted: outcome.StepsExecuted,
		NodeVisits:    outcome.NodeVisits,
		Cancelled:     outcome.Cancelled,
	}

	switch {
	case run.Cancelled():
		return p.finishCancelled(ctx, task, result, started)
	case ctx.Err() != nil:
		return p.finishInterrupted(task, started)
	case allStepsFailed(outcome):
		return p.finishFailed(ctx, task, xerrors.New(CodeTaskProcessing, outcome.FinalResult), started)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, result); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return p.finishFailed(ctx, task, xerrors.Wrap(CodeTaskProcessing, err, "记录执行结果失败"), started)
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("task", task.Goal),
		slog.Int("steps_executed", result.StepsExecuted),
		slog.Int("node_visits", result.NodeVisits),
	)
	p.complete(task, StatusSucceeded, started)
	return nil
}

// allStepsFailed 判断一次运行是否没有产出任何可用结果，例如模型始终不可用。
func allStepsFailed(outcome orchestrator.Outcome) bool {
	if len(outcome.StepResults) == 0 {
		return false
	}
	for _, result := range outcome.StepResults {
		if !strings.HasPrefix(result, orchestrator.ErrorPrefix) {
			return false
		}
	}
	return true
}

func (p *Processor) finishCancelled(ctx context.Context, task *Task, result ExecutionResult, started time.Time) error {
	if err := p.store.MarkCancelled(ctx, task.ID, &result); err != nil && !stdErrors.Is(err, ErrTaskCompleted) {
		p.logger.Error("标记任务取消失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Info("任务已取消",
		slog.String("task_id", task.ID),
		slog.Int("steps_executed", result.StepsExecuted),
	)
	p.complete(task, StatusCancelled, started)
	return nil
}

// finishInterrupted 处理进程关闭导致的中断：任务回到待执行状态并尝试重新入队。
func (p *Processor) finishInterrupted(task *Task, started time.Time) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.store.MarkFailed(ctx, task.ID, CodeTaskInterrupted, "任务因进程关闭被中断", false); err != nil {
		p.logger.Error("回写中断状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	if p.producer != nil {
		if err := p.producer.Publish(ctx, task.ID); err != nil {
			p.logger.Warn("中断任务重新入队失败", slog.Any("error", err), slog.String("task_id", task.ID))
		}
	}
	p.complete(task, StatusPending, started)
	return nil
}

func (p *Processor) finishFailed(ctx context.Context, task *Task, execErr error, started time.Time) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if err := p.store.MarkFailed(ctx, task.ID, code, execErr.Error(), terminal); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.String("task", task.Goal),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if terminal {
		p.complete(task, StatusFailed, started)
		return nil
	}
	p.complete(task, StatusPending, started)
	if p.producer == nil {
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) complete(task *Task, status Status, started time.Time) {
	if p.onComplete != nil {
		p.onComplete(task, status, time.Since(started))
	}
}
