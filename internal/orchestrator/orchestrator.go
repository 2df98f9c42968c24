package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"ClawAgent/internal/llm"
	"ClawAgent/internal/terminal"
	"ClawAgent/internal/tools"
	"ClawAgent/pkg/logger"
)

// Input 描述一次编排请求。
type Input struct {
	RunID          string
	Task           string
	Context        map[string]string
	BrowserContext map[string]any
}

// Outcome 汇总编排结果。
type Outcome struct {
	RunID         string   `json:"run_id"`
	FinalResult   string   `json:"final_result"`
	Plan          []string `json:"plan"`
	StepResults   []string `json:"step_results"`
	StepsExecuted int      `json:"steps_executed"`
	NodeVisits    int      `json:"node_visits"`
	Verdict       Verdict  `json:"verdict"`
	Cancelled     bool     `json:"cancelled"`
}

// Orchestrator 协调大模型、工具目录与执行通道，是系统的业务核心。
type Orchestrator struct {
	models       llm.Provider
	catalog      *tools.Catalog
	runner       terminal.Runner
	agents       AgentDispatcher
	sink         EventSink
	limits       Limits
	modelTimeout time.Duration
	log          *slog.Logger
}

// Option 定义可选的 Orchestrator 配置。
type Option func(*Orchestrator)

// WithCatalog 绑定工具目录。未绑定时执行节点只调用一次模型。
func WithCatalog(catalog *tools.Catalog) Option {
	return func(o *Orchestrator) {
		o.catalog = catalog
	}
}

// WithTerminal 配置 terminalExec 调用使用的执行器。
func WithTerminal(runner terminal.Runner) Option {
	return func(o *Orchestrator) {
		o.runner = runner
	}
}

// WithAgentDispatcher 配置能力调用的分发方式。
func WithAgentDispatcher(dispatcher AgentDispatcher) Option {
	return func(o *Orchestrator) {
		o.agents = dispatcher
	}
}

// WithEventSink 配置编排事件的接收方。
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) {
		o.sink = sink
	}
}

// WithLimits 覆盖默认限制。
func WithLimits(limits Limits) Option {
	return func(o *Orchestrator) {
		o.limits = limits.withDefaults()
	}
}

// WithModelTimeout 设置单次模型调用的超时时间。
func WithModelTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) {
		if timeout <= 0 {
			o.modelTimeout = 0
			return
		}
		o.modelTimeout = timeout
	}
}

// New 创建一个 Orchestrator。models 可以为 nil，此时所有节点走降级路径。
func New(models llm.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		models: models,
		limits: DefaultLimits(),
		log:    logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Catalog 返回绑定的工具目录，可能为 nil。
func (o *Orchestrator) Catalog() *tools.Catalog { return o.catalog }

// Limits 返回生效的限制。
func (o *Orchestrator) Limits() Limits { return o.limits }

// NewRun 准备一次编排，调用 Execute 后开始执行。
func (o *Orchestrator) NewRun(in Input) *Run {
	id := strings.TrimSpace(in.RunID)
	if id == "" {
		id = uuid.NewString()
	}
	in.RunID = id
	return &Run{id: id, input: in, owner: o}
}

// Execute 同步执行一次编排。
func (o *Orchestrator) Execute(ctx context.Context, in Input) Outcome {
	return o.NewRun(in).Execute(ctx)
}

// Run 是一次正在进行或已完成的编排。
type Run struct {
	id        string
	input     Input
	owner     *Orchestrator
	cancelled atomic.Bool
	started   atomic.Bool
}

// ID 返回编排 ID。
func (r *Run) ID() string { return r.id }

// Cancel 请求协作式取消。正在进行的模型调用不会中断，
// 但工具循环与评估节点会在下一个检查点停止。
func (r *Run) Cancel() { r.cancelled.Store(true) }

// Cancelled 报告是否已请求取消。
func (r *Run) Cancelled() bool { return r.cancelled.Load() }

func (r *Run) stopRequested(ctx context.Context) bool {
	return r.cancelled.Load() || ctx.Err() != nil
}

type node int

const (
	nodePlanner node = iota
	nodeExecutor
	nodeEvaluator
	nodeReplanner
	nodeSynthesizer
	nodeTerminal
)

func (n node) String() string {
	switch n {
	case nodePlanner:
		return "planner"
	case nodeExecutor:
		return "executor"
	case nodeEvaluator:
		return "evaluator"
	case nodeReplanner:
		return "replanner"
	case nodeSynthesizer:
		return "synthesizer"
	default:
		return "terminal"
	}
}

// Execute 驱动状态机直到合成节点产出最终结果。每个 Run 只能执行一次。
func (r *Run) Execute(ctx context.Context) Outcome {
	if !r.started.CompareAndSwap(false, true) {
		return Outcome{RunID: r.id, Cancelled: r.Cancelled()}
	}

	// 构建初始状态。
	state := State{
		Task:           r.input.Task,
		Context:        r.input.Context,
		BrowserContext: r.input.BrowserContext,
		Verdict:        VerdictOK,
	}
	log := r.owner.log.With(slog.String("run_id", r.id))
	log.Info("开始编排", slog.String("task", truncateForLog(state.Task)))

	current := nodePlanner
	afterReplan := false
	for current != nodeTerminal {
		state.NodeVisits++
		switch current {
		case nodePlanner:
			state.apply(r.plan(ctx, state))
			current = nodeExecutor
		case nodeExecutor:
			state.apply(r.executeStep(ctx, state))
			current = nodeEvaluator
		case nodeEvaluator:
			state.apply(r.evaluate(ctx, state, afterReplan))
			afterReplan = false
			current = route(state)
		case nodeReplanner:
			state.apply(r.replan(ctx, state))
			if state.Verdict == VerdictDone {
				current = nodeSynthesizer
			} else {
				afterReplan = true
				current = nodeEvaluator
			}
		case nodeSynthesizer:
			state.apply(r.synthesize(ctx, state))
			current = nodeTerminal
		}
	}

	outcome := Outcome{
		RunID:         r.id,
		FinalResult:   state.FinalResult,
		Plan:          state.Plan,
		StepResults:   state.StepResults,
		StepsExecuted: state.TotalStepsExecuted,
		NodeVisits:    state.NodeVisits,
		Verdict:       state.Verdict,
		Cancelled:     r.stopRequested(ctx),
	}
	log.Info("编排结束",
		slog.Int("steps", outcome.StepsExecuted),
		slog.Int("node_visits", outcome.NodeVisits),
		slog.Bool("cancelled", outcome.Cancelled))
	return outcome
}

// route 根据评估结论选择下一个节点。
func route(s State) node {
	switch s.Verdict {
	case VerdictNeedsReplan:
		return nodeReplanner
	case VerdictOK:
		if s.stepsRemain() {
			return nodeExecutor
		}
	}
	return nodeSynthesizer
}

func (r *Run) emit(ctx context.Context, event Event) {
	sink := r.owner.sink
	if sink == nil {
		return
	}
	event.RunID = r.id
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.owner.log.Error("事件处理异常", slog.Any("panic", rec), slog.String("event", string(event.Type)))
		}
	}()
	sink.Emit(ctx, event)
}

func (r *Run) model(roles ...llm.ModelRole) llm.Client {
	return llm.Resolve(r.owner.models, roles...)
}

func (r *Run) reasoningModel() llm.Client {
	return r.model(llm.ModelSecondary, llm.ModelPrimary)
}

func (r *Run) executorModel() llm.Client {
	return r.model(llm.ModelSubagent, llm.ModelPrimary)
}

// invoke 调用模型；瞬时错误重试一次并发出 recovery_attempted 事件。
func (r *Run) invoke(ctx context.Context, client llm.Client, operation string, messages []llm.Message) (string, error) {
	reply, err := r.invokeOnce(ctx, client, messages)
	if err == nil {
		return reply, nil
	}
	if !llm.IsTransient(err) || ctx.Err() != nil {
		return "", err
	}

	r.owner.log.Warn("模型调用失败，重试一次",
		slog.String("run_id", r.id),
		slog.String("operation", operation),
		slog.Any("error", err))
	r.emit(ctx, Event{Type: EventRecoveryAttempted, Operation: operation, Error: err.Error(), Attempt: 1})

	return r.invokeOnce(ctx, client, messages)
}

func (r *Run) invokeOnce(ctx context.Context, client llm.Client, messages []llm.Message) (string, error) {
	if r.owner.modelTimeout <= 0 {
		return client.Invoke(ctx, messages)
	}
	callCtx, cancel := context.WithTimeout(ctx, r.owner.modelTimeout)
	defer cancel()
	return client.Invoke(callCtx, messages)
}

func truncateForLog(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) > 120 {
		return string(runes[:120]) + "..."
	}
	return string(runes)
}
