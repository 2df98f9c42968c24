package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"ClawAgent/internal/llm"
	"ClawAgent/internal/terminal"
	"ClawAgent/internal/tools"
)

const (
	// ErrorPrefix 标记失败步骤的结果文本。
	ErrorPrefix = "Error: "

	cancelledResult = "Cancelled before completion."
)

// executeStep 执行 plan[CurrentStep]，步骤计数恰好前进 1。
func (r *Run) executeStep(ctx context.Context, s State) Update {
	if !s.stepsRemain() {
		return Update{}
	}
	index := s.CurrentStep
	step := s.Plan[index]
	r.emit(ctx, Event{Type: EventStepStarted, StepIndex: index, Description: step, TotalSteps: len(s.Plan)})

	var result string
	model := r.executorModel()
	switch {
	case model == nil:
		result = ErrorPrefix + "no model is configured for step execution"
	case r.owner.catalog == nil:
		reply, err := r.invoke(ctx, model, "executor", executorMessages(s, step, ""))
		if err != nil {
			result = ErrorPrefix + err.Error()
		} else {
			result = strings.TrimSpace(reply)
		}
	default:
		result = r.toolLoop(ctx, model, s, index, step)
	}

	r.emit(ctx, Event{Type: EventStepCompleted, StepIndex: index, Result: result})
	return Update{
		StepResults:   []string{result},
		AdvanceStep:   1,
		StepsExecuted: 1,
	}
}

// toolLoop 反复调用模型并分发其请求的工具，直到模型给出纯文本回复。
func (r *Run) toolLoop(ctx context.Context, model llm.Client, s State, index int, step string) string {
	limits := r.owner.limits
	catalog := r.owner.catalog
	messages := executorMessages(s, step, catalog.Describe())

	failures := 0
	lastObservation := ""
	for iteration := 0; iteration < limits.MaxToolIterations; iteration++ {
		if r.stopRequested(ctx) {
			if lastObservation != "" {
				return lastObservation
			}
			return cancelledResult
		}

		reply, err := r.invoke(ctx, model, "executor", messages)
		if err != nil {
			return ErrorPrefix + err.Error()
		}

		call := catalog.Parse(reply)
		if call == nil {
			return strings.TrimSpace(reply)
		}

		observation, ok := r.dispatch(ctx, call)
		name := tools.Name(call)
		r.emit(ctx, Event{Type: EventToolExecuted, StepIndex: index, Tool: name, OK: ok})

		if ok {
			failures = 0
		} else {
			failures++
		}

		observation = truncateObservation(observation, limits.ObservationLimit)
		lastObservation = observation
		status := "ok"
		if !ok {
			status = "failed"
		}
		messages = append(messages,
			llm.Assistant(reply),
			llm.Human(fmt.Sprintf("Observation from %s (%s):\n%s", name, status, observation)),
		)

		if failures >= limits.MaxConsecutiveFailures {
			r.owner.log.Warn("工具连续失败，停止调用工具",
				slog.String("run_id", r.id), slog.Int("step_index", index), slog.Int("failures", failures))
			return r.summarize(ctx, model, messages, lastObservation)
		}
	}

	r.owner.log.Warn("工具循环达到上限", slog.String("run_id", r.id), slog.Int("step_index", index))
	return r.summarize(ctx, model, messages, lastObservation)
}

// summarize 要求模型在不再调用工具的前提下给出一次文本总结。
func (r *Run) summarize(ctx context.Context, model llm.Client, messages []llm.Message, lastObservation string) string {
	messages = append(messages, llm.Human(summaryRequest))
	reply, err := r.invoke(ctx, model, "executor", messages)
	if err != nil {
		return ErrorPrefix + err.Error()
	}
	if text := strings.TrimSpace(reply); text != "" {
		return text
	}
	return lastObservation
}

// dispatch 执行一次工具调用，返回观察文本以及是否成功。
func (r *Run) dispatch(ctx context.Context, call tools.ToolCall) (string, bool) {
	switch c := call.(type) {
	case *tools.InvalidCall:
		return "Invalid tool call: " + c.Error, false

	case *tools.TerminalCall:
		if r.owner.runner == nil {
			return ErrorPrefix + "terminalExec is not available", false
		}
		res, err := r.owner.runner.Run(ctx, terminal.Command{Name: c.Command, Args: c.Args, Dir: c.Cwd})
		if err != nil {
			return ErrorPrefix + err.Error(), false
		}
		return formatTerminal(res), res.ExitCode == 0

	case *tools.AgentCall:
		if r.owner.agents == nil {
			return fmt.Sprintf("%s%s is not available", ErrorPrefix, c.Tool), false
		}
		res, err := r.owner.agents.DispatchAgent(ctx, c)
		if err != nil {
			return ErrorPrefix + err.Error(), false
		}
		if !res.OK {
			msg := res.Error
			if msg == "" {
				msg = "tool reported failure"
			}
			return ErrorPrefix + msg, false
		}
		return formatData(res.Data), true

	default:
		return fmt.Sprintf("%sunsupported tool call %T", ErrorPrefix, call), false
	}
}

func formatTerminal(res terminal.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "exit code: %d\n", res.ExitCode)
	if res.Stdout != "" {
		b.WriteString("stdout:\n")
		b.WriteString(res.Stdout)
		if !strings.HasSuffix(res.Stdout, "\n") {
			b.WriteByte('\n')
		}
	}
	if res.Stderr != "" {
		b.WriteString("stderr:\n")
		b.WriteString(res.Stderr)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatData(data any) string {
	switch v := data.(type) {
	case nil:
		return "(no data)"
	case string:
		return v
	}
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprint(data)
	}
	return string(encoded)
}

// truncateObservation 按字符数截断观察文本，并保留可见的截断标记。
func truncateObservation(text string, limit int) string {
	runes := []rune(text)
	if limit <= 0 || len(runes) <= limit {
		return text
	}
	omitted := len(runes) - limit
	return string(runes[:limit]) + fmt.Sprintf("\n...truncated (%d chars omitted)...", omitted)
}
