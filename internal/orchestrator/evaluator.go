package orchestrator

import "context"

// evaluate 决定下一步路由。前三条守卫从不调用模型；
// guardsOnly 为 true 时（重新规划之后）也不调用模型。
func (r *Run) evaluate(ctx context.Context, s State, guardsOnly bool) Update {
	limits := r.owner.limits
	switch {
	case r.stopRequested(ctx):
		return Update{Verdict: VerdictDone}
	case s.TotalStepsExecuted >= limits.StepCap:
		return Update{Verdict: VerdictDone}
	case s.NodeVisits >= limits.NodeVisitBail:
		return Update{Verdict: VerdictDone}
	}

	fallback := VerdictDone
	if s.stepsRemain() {
		fallback = VerdictOK
	}
	if guardsOnly {
		return Update{Verdict: fallback}
	}

	model := r.reasoningModel()
	if model == nil {
		return Update{Verdict: fallback}
	}

	reply, err := r.invoke(ctx, model, "evaluator", evaluatorMessages(s))
	if err != nil {
		return Update{Verdict: fallback}
	}
	verdict, ok := parseVerdict(reply)
	if !ok {
		return Update{Verdict: fallback}
	}
	return Update{Verdict: verdict}
}
