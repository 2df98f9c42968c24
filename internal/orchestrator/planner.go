package orchestrator

import (
	"context"
	"log/slog"
)

// plan 把任务拆解为步骤；任何失败都退化为单步计划 [task]。
func (r *Run) plan(ctx context.Context, s State) Update {
	fallback := Update{Plan: []string{s.Task}}

	model := r.reasoningModel()
	if model == nil {
		return fallback
	}

	description := ""
	if r.owner.catalog != nil {
		description = r.owner.catalog.Describe()
	}
	reply, err := r.invoke(ctx, model, "planner", plannerMessages(s, description))
	if err != nil {
		r.owner.log.Warn("规划失败，使用单步计划", slog.String("run_id", r.id), slog.Any("error", err))
		return fallback
	}

	steps, err := parseStringArray(reply)
	if err != nil || len(steps) == 0 {
		r.owner.log.Warn("无法解析规划结果，使用单步计划", slog.String("run_id", r.id), slog.Any("error", err))
		return fallback
	}

	r.emit(ctx, Event{Type: EventPlanReady, Steps: steps, Task: s.Task})
	return Update{Plan: steps}
}
