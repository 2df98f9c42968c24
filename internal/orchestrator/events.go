package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// EventType 标识编排事件。
type EventType string

const (
	EventPlanReady         EventType = "plan_ready"
	EventStepStarted       EventType = "step_started"
	EventToolExecuted      EventType = "tool_executed"
	EventStepCompleted     EventType = "step_completed"
	EventReplan            EventType = "replan"
	EventRecoveryAttempted EventType = "recovery_attempted"
)

// Event 是发给观察者的编排事件，只填充与 Type 相关的字段。
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"runId"`
	Time  time.Time `json:"time"`

	Task         string   `json:"task,omitempty"`
	Steps        []string `json:"steps,omitempty"`
	StepIndex    int      `json:"stepIndex"`
	Description  string   `json:"description,omitempty"`
	TotalSteps   int      `json:"totalSteps,omitempty"`
	Tool         string   `json:"tool,omitempty"`
	OK           bool     `json:"ok"`
	Result       string   `json:"result,omitempty"`
	NewSteps     []string `json:"newSteps,omitempty"`
	PreviousPlan []string `json:"previousPlan,omitempty"`
	Operation    string   `json:"operation,omitempty"`
	Error        string   `json:"error,omitempty"`
	Attempt      int      `json:"attempt,omitempty"`
}

// EventSink 接收编排事件。实现不得阻塞过久。
type EventSink interface {
	Emit(ctx context.Context, event Event)
}

// EventSinkFunc 允许以函数形式实现 EventSink。
type EventSinkFunc func(ctx context.Context, event Event)

// Emit 实现 EventSink 接口。
func (f EventSinkFunc) Emit(ctx context.Context, event Event) { f(ctx, event) }

// MultiSink 依次转发给多个 sink。
type MultiSink []EventSink

// Emit 实现 EventSink 接口。
func (m MultiSink) Emit(ctx context.Context, event Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ctx, event)
		}
	}
}

// LogSink 把事件写入结构化日志。
type LogSink struct {
	Logger *slog.Logger
}

// Emit 实现 EventSink 接口。
func (s LogSink) Emit(ctx context.Context, event Event) {
	if s.Logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.String("event", string(event.Type)),
		slog.Int("step_index", event.StepIndex),
	}
	switch event.Type {
	case EventPlanReady:
		attrs = append(attrs, slog.Int("steps", len(event.Steps)))
	case EventToolExecuted:
		attrs = append(attrs, slog.String("tool", event.Tool), slog.Bool("ok", event.OK))
	case EventReplan:
		attrs = append(attrs, slog.Int("new_steps", len(event.NewSteps)))
	case EventRecoveryAttempted:
		attrs = append(attrs, slog.String("operation", event.Operation), slog.String("error", event.Error))
	}
	s.Logger.LogAttrs(ctx, slog.LevelInfo, "编排事件", attrs...)
}
