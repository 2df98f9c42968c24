package orchestrator

import (
	"context"
	"log/slog"
)

// replan 保留已完成的前缀并替换剩余步骤；失败时结论为 done。
func (r *Run) replan(ctx context.Context, s State) Update {
	model := r.reasoningModel()
	if model == nil {
		return Update{Verdict: VerdictDone}
	}

	reply, err := r.invoke(ctx, model, "replanner", replannerMessages(s))
	if err != nil {
		r.owner.log.Warn("重新规划失败", slog.String("run_id", r.id), slog.Any("error", err))
		return Update{Verdict: VerdictDone}
	}
	steps, err := parseStringArray(reply)
	if err != nil || len(steps) == 0 {
		return Update{Verdict: VerdictDone}
	}

	completed := s.CurrentStep
	if completed > len(s.Plan) {
		completed = len(s.Plan)
	}
	previous := append([]string(nil), s.Plan...)
	plan := make([]string, 0, completed+len(steps))
	plan = append(plan, s.Plan[:completed]...)
	plan = append(plan, steps...)

	r.emit(ctx, Event{Type: EventReplan, NewSteps: steps, PreviousPlan: previous})
	return Update{Plan: plan, Verdict: VerdictOK}
}
