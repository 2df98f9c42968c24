package orchestrator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ClawAgent/internal/llm"
)

const plannerSystemPrompt = `You are the planner of a browser and workspace assistant.
Break the user's task into 2 to 6 concrete, ordered steps. Each step must be a
single actionable instruction that an executor can carry out on its own.
Reply with a JSON array of strings and nothing else, for example:
["Open https://example.com in a new tab", "Read the page title"]`

const executorSystemPrompt = `You are the executor of a browser and workspace assistant.
Carry out the current step of the plan and reply with its result in plain text.
Be concise and report concrete facts.`

const toolExecutorSystemPrompt = `You are the executor of a browser and workspace assistant.
Carry out the current step of the plan. To use a tool, reply with exactly one JSON
object and nothing else: {"tool": "<name>", "params": {...}}.
After each tool call you will receive its observation. When the step is complete,
reply with the result in plain text (not JSON).

Available tools:
%s`

const evaluatorSystemPrompt = `You review the progress of a multi-step task.
Decide whether the results so far satisfy the task.
Reply with a JSON object and nothing else: {"verdict": "ok" | "done" | "needs_replan"}.
Use "ok" to continue with the next planned step, "done" when the task is already
satisfied, and "needs_replan" when the remaining plan cannot succeed.`

const replannerSystemPrompt = `You revise the plan of a multi-step task after a failure.
Given the completed steps and their results, propose the remaining steps needed to
finish the task. Do not repeat steps that already succeeded.
Reply with a JSON array of strings and nothing else.`

const synthesizerSystemPrompt = `You combine the results of several steps into one
cohesive answer to the user's task. Do not mention the steps themselves unless it helps
the user. Reply in plain text.`

const summaryRequest = `Stop calling tools. Using the observations above, reply with a
plain-text summary of what this step achieved and what failed.`

func renderContext(s State) string {
	var b strings.Builder
	if len(s.Context) > 0 {
		keys := make([]string, 0, len(s.Context))
		for k := range s.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nContext:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, s.Context[k])
		}
	}
	if len(s.BrowserContext) > 0 {
		if encoded, err := json.Marshal(s.BrowserContext); err == nil {
			fmt.Fprintf(&b, "\nBrowser: %s\n", encoded)
		}
	}
	return b.String()
}

func renderResults(s State) string {
	if len(s.StepResults) == 0 {
		return "(none yet)\n"
	}
	var b strings.Builder
	for i, result := range s.StepResults {
		desc := ""
		if i < len(s.Plan) {
			desc = s.Plan[i]
		}
		fmt.Fprintf(&b, "Step %d: %s\nResult: %s\n\n", i+1, desc, result)
	}
	return b.String()
}

func renderPlan(plan []string) string {
	var b strings.Builder
	for i, step := range plan {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	return b.String()
}

func plannerMessages(s State, toolDescription string) []llm.Message {
	system := plannerSystemPrompt
	if toolDescription != "" {
		system += "\n\nThe executor can use these tools:\n" + toolDescription
	}
	return []llm.Message{
		llm.System(system),
		llm.Human("Task: " + s.Task + "\n" + renderContext(s)),
	}
}

func executorMessages(s State, step string, toolDescription string) []llm.Message {
	system := executorSystemPrompt
	if toolDescription != "" {
		system = fmt.Sprintf(toolExecutorSystemPrompt, toolDescription)
	}
	human := fmt.Sprintf("Overall task: %s\n%s\nPrevious results:\n%s\nCurrent step (%d of %d): %s",
		s.Task, renderContext(s), renderResults(s), s.CurrentStep+1, len(s.Plan), step)
	return []llm.Message{llm.System(system), llm.Human(human)}
}

func evaluatorMessages(s State) []llm.Message {
	human := fmt.Sprintf("Task: %s\n\nPlan:\n%s\nResults so far:\n%s\nSteps remaining: %d",
		s.Task, renderPlan(s.Plan), renderResults(s), len(s.Plan)-s.CurrentStep)
	return []llm.Message{llm.System(evaluatorSystemPrompt), llm.Human(human)}
}

func replannerMessages(s State) []llm.Message {
	human := fmt.Sprintf("Task: %s\n%s\nOriginal plan:\n%s\nCompleted steps:\n%s",
		s.Task, renderContext(s), renderPlan(s.Plan), renderResults(s))
	return []llm.Message{llm.System(replannerSystemPrompt), llm.Human(human)}
}

func synthesizerMessages(s State) []llm.Message {
	human := fmt.Sprintf("Task: %s\n\n%s", s.Task, renderResults(s))
	return []llm.Message{llm.System(synthesizerSystemPrompt), llm.Human(human)}
}
