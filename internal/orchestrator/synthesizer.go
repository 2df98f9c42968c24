package orchestrator

import (
	"context"
	"strings"
)

// synthesize 生成最终结果：单个结果原样返回，多个结果交给模型合并。
func (r *Run) synthesize(ctx context.Context, s State) Update {
	switch len(s.StepResults) {
	case 0:
		return Update{}
	case 1:
		return Update{FinalResult: s.StepResults[0]}
	}

	joined := strings.Join(s.StepResults, "\n\n")
	model := r.reasoningModel()
	if model == nil {
		return Update{FinalResult: joined}
	}
	reply, err := r.invoke(ctx, model, "synthesizer", synthesizerMessages(s))
	if err != nil || strings.TrimSpace(reply) == "" {
		return Update{FinalResult: joined}
	}
	return Update{FinalResult: strings.TrimSpace(reply)}
}
