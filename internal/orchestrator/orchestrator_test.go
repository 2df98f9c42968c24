package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ClawAgent/internal/correlator"
	xerrors "ClawAgent/internal/errors"
	"ClawAgent/internal/llm"
	"ClawAgent/internal/terminal"
	"ClawAgent/internal/tools"
)

func TestStateApplyMergeRules(t *testing.T) {
	s := State{Plan: []string{"a"}, StepResults: []string{"r0"}, Context: map[string]string{"k": "v"}}
	s.apply(Update{StepResults: []string{"r1"}, AdvanceStep: 1, StepsExecuted: 1})
	assert.Equal(t, []string{"r0", "r1"}, s.StepResults)
	assert.Equal(t, 1, s.CurrentStep)
	assert.Equal(t, 1, s.TotalStepsExecuted)
	assert.Equal(t, map[string]string{"k": "v"}, s.Context)

	s.apply(Update{Plan: []string{"x", "y"}, Context: map[string]string{"n": "m"}, Verdict: VerdictNeedsReplan})
	assert.Equal(t, []string{"x", "y"}, s.Plan)
	assert.Equal(t, map[string]string{"n": "m"}, s.Context)
	assert.Equal(t, VerdictNeedsReplan, s.Verdict)

	s.apply(Update{AdvanceStep: 5})
	assert.Equal(t, len(s.Plan), s.CurrentStep)
}

func TestPlannerFallsBackWithoutModel(t *testing.T) {
	run := New(nil).NewRun(Input{Task: "find the weather"})
	s := State{Task: "find the weather"}
	s.apply(run.plan(context.Background(), s))
	assert.Equal(t, []string{"find the weather"}, s.Plan)
	assert.Equal(t, 0, s.CurrentStep)
}

func TestPlannerUsesModelArrayExactly(t *testing.T) {
	for _, text := range []string{
		`["open the page", "  read the title ", ""]`,
		"```json\n[\"open the page\", \"  read the title \", \"\"]\n```",
	} {
		secondary := &scriptedModel{replies: []reply{{text: text}}}
		sink := &recordingSink{}
		o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSecondary: secondary}), WithEventSink(sink))
		run := o.NewRun(Input{Task: "t"})

		s := State{Task: "t"}
		s.apply(run.plan(context.Background(), s))
		assert.Equal(t, []string{"open the page", "  read the title ", ""}, s.Plan)
		require.Len(t, sink.ofType(EventPlanReady), 1)
		assert.Equal(t, "t", sink.ofType(EventPlanReady)[0].Task)
	}
}

func TestPlannerFallsBackOnBadReplies(t *testing.T) {
	for _, r := range []reply{
		{text: "I would first open the page"},
		{text: "[]"},
		{text: `[1, 2]`},
		{err: xerrors.New(xerrors.CodeModelFatal, "bad key")},
	} {
		primary := &scriptedModel{replies: []reply{r}}
		run := New(roles(map[llm.ModelRole]llm.Client{llm.ModelPrimary: primary})).NewRun(Input{Task: "t"})
		u := run.plan(context.Background(), State{Task: "t"})
		assert.Equal(t, []string{"t"}, u.Plan)
	}
}

func TestExecutorCapsToolDispatches(t *testing.T) {
	model := &scriptedModel{fallback: `{"tool":"tab.list"}`}
	dispatcher := &fakeDispatcher{handle: func(*tools.AgentCall) (correlator.Result, error) {
		return correlator.Result{OK: true, Data: []any{"tab-1"}}, nil
	}}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}),
		WithCatalog(tools.DefaultCatalog()), WithAgentDispatcher(dispatcher))

	outcome := o.Execute(context.Background(), Input{Task: "list tabs"})
	assert.Equal(t, 10, dispatcher.count())
	// 10 tool iterations plus one summary request.
	assert.Equal(t, 11, model.callCount())
	assert.Equal(t, 1, outcome.StepsExecuted)
	assert.Contains(t, model.lastCall()[len(model.lastCall())-1].Content, "Stop calling tools")
}

func TestExecutorStopsAfterConsecutiveFailures(t *testing.T) {
	model := &scriptedModel{
		replies: []reply{
			{text: `{"tool":"tab.navigate","url":"https://a"}`},
			{text: `{"tool":"tab.navigate","url":"https://b"}`},
			{text: `{"tool":"tab.navigate","url":"https://c"}`},
			{text: "Could not reach any of the sites."},
		},
		fallback: `{"tool":"tab.navigate","url":"https://d"}`,
	}
	dispatcher := &fakeDispatcher{handle: func(*tools.AgentCall) (correlator.Result, error) {
		return correlator.Result{OK: false, Error: "net::ERR_NAME_NOT_RESOLVED"}, nil
	}}
	sink := &recordingSink{}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}),
		WithCatalog(tools.DefaultCatalog()), WithAgentDispatcher(dispatcher), WithEventSink(sink))

	outcome := o.Execute(context.Background(), Input{Task: "open three sites"})
	assert.Equal(t, 4, model.callCount())
	assert.Equal(t, 3, dispatcher.count())
	assert.Equal(t, []string{"open three sites"}, outcome.Plan)
	assert.Equal(t, "Could not reach any of the sites.", outcome.FinalResult)

	executed := sink.ofType(EventToolExecuted)
	require.Len(t, executed, 3)
	for _, e := range executed {
		assert.Equal(t, "tab.navigate", e.Tool)
		assert.False(t, e.OK)
	}
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	model := &scriptedModel{
		replies: []reply{
			{text: `{"tool":"tab.fly"}`},
			{text: `{"tool":"tab.fly"}`},
			{text: `{"tool":"tab.list"}`},
			{text: `{"tool":"tab.fly"}`},
			{text: `{"tool":"tab.fly"}`},
			{text: "two tabs"},
		},
	}
	dispatcher := &fakeDispatcher{handle: func(*tools.AgentCall) (correlator.Result, error) {
		return correlator.Result{OK: true, Data: "2 tabs"}, nil
	}}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}),
		WithCatalog(tools.DefaultCatalog()), WithAgentDispatcher(dispatcher))

	outcome := o.Execute(context.Background(), Input{Task: "count tabs"})
	assert.Equal(t, "two tabs", outcome.FinalResult)
	// Invalid calls are never dispatched.
	assert.Equal(t, 1, dispatcher.count())
	assert.Equal(t, 6, model.callCount())
}

func TestObservationIsTruncated(t *testing.T) {
	model := &scriptedModel{replies: []reply{{text: `{"tool":"filesystem.read","path":"big.log"}`}, {text: "read it"}}}
	dispatcher := &fakeDispatcher{handle: func(*tools.AgentCall) (correlator.Result, error) {
		return correlator.Result{OK: true, Data: strings.Repeat("x", 12000)}, nil
	}}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}),
		WithCatalog(tools.DefaultCatalog()), WithAgentDispatcher(dispatcher))

	o.Execute(context.Background(), Input{Task: "read big.log"})
	require.Equal(t, 2, model.callCount())
	messages := model.lastCall()
	observation := messages[len(messages)-1].Content
	assert.Contains(t, observation, "truncated")
	assert.Less(t, len([]rune(observation)), 5000)
}

func TestTerminalCallUsesRunner(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{text: `{"tool":"terminalExec","command":"git","args":["status"],"cwd":"/repo"}`},
		{text: "clean"},
	}}
	runner := &fakeRunner{result: terminal.Result{ExitCode: 0, Stdout: "nothing to commit"}}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelPrimary: model}),
		WithCatalog(tools.DefaultCatalog()), WithTerminal(runner))

	run := o.NewRun(Input{Task: "check git"})
	u := run.executeStep(context.Background(), State{Task: "check git", Plan: []string{"check git"}})
	assert.Equal(t, []string{"clean"}, u.StepResults)
	require.Len(t, runner.commands, 1)
	assert.Equal(t, terminal.Command{Name: "git", Args: []string{"status"}, Dir: "/repo"}, runner.commands[0])

	messages := model.lastCall()
	assert.Contains(t, messages[len(messages)-1].Content, "nothing to commit")
	assert.Contains(t, messages[len(messages)-1].Content, "exit code: 0")
}

func TestCancelMidToolLoop(t *testing.T) {
	model := &scriptedModel{fallback: `{"tool":"tab.list"}`}
	var run *Run
	dispatcher := &fakeDispatcher{handle: func(*tools.AgentCall) (correlator.Result, error) {
		run.Cancel()
		return correlator.Result{OK: true, Data: "tab-1"}, nil
	}}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}),
		WithCatalog(tools.DefaultCatalog()), WithAgentDispatcher(dispatcher))
	run = o.NewRun(Input{Task: "list tabs"})

	outcome := run.Execute(context.Background())
	assert.Equal(t, 1, dispatcher.count())
	assert.Equal(t, 1, model.callCount())
	assert.Equal(t, 1, outcome.StepsExecuted)
	assert.Len(t, outcome.StepResults, 1)
	assert.True(t, outcome.Cancelled)
	assert.Equal(t, VerdictDone, outcome.Verdict)
	assert.Equal(t, "tab-1", outcome.FinalResult)
}

func TestCancelledContextStillSynthesizes(t *testing.T) {
	model := &scriptedModel{fallback: `{"tool":"tab.list"}`}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}), WithCatalog(tools.DefaultCatalog()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome := o.Execute(ctx, Input{Task: "anything"})
	assert.True(t, outcome.Cancelled)
	assert.Equal(t, 0, model.callCount())
	assert.Equal(t, cancelledResult, outcome.FinalResult)
}

func TestTransientModelErrorIsRetriedOnce(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{err: &llm.StatusError{StatusCode: 503}},
		{text: "recovered"},
	}}
	sink := &recordingSink{}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}), WithEventSink(sink))

	u := o.NewRun(Input{Task: "t"}).executeStep(context.Background(), State{Task: "t", Plan: []string{"t"}})
	assert.Equal(t, []string{"recovered"}, u.StepResults)
	recoveries := sink.ofType(EventRecoveryAttempted)
	require.Len(t, recoveries, 1)
	assert.Equal(t, "executor", recoveries[0].Operation)
	assert.Equal(t, 1, recoveries[0].Attempt)
}

func TestFatalModelErrorBecomesStepResult(t *testing.T) {
	model := &scriptedModel{replies: []reply{{err: errors.New("sidecar process terminated")}}}
	sink := &recordingSink{}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}), WithEventSink(sink))

	u := o.NewRun(Input{Task: "t"}).executeStep(context.Background(), State{Task: "t", Plan: []string{"t"}})
	require.Len(t, u.StepResults, 1)
	assert.True(t, strings.HasPrefix(u.StepResults[0], "Error: "))
	assert.Equal(t, 1, model.callCount())
	assert.Empty(t, sink.ofType(EventRecoveryAttempted))
	assert.Equal(t, 1, u.AdvanceStep)
	assert.Equal(t, 1, u.StepsExecuted)
}

func TestTransientErrorTwiceIsRecorded(t *testing.T) {
	model := &scriptedModel{replies: []reply{
		{err: errors.New("request timed out")},
		{err: errors.New("request timed out")},
	}}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}))
	u := o.NewRun(Input{Task: "t"}).executeStep(context.Background(), State{Task: "t", Plan: []string{"t"}})
	assert.Equal(t, []string{"Error: request timed out"}, u.StepResults)
	assert.Equal(t, 2, model.callCount())
}

func TestExecutorEmitsStepEvents(t *testing.T) {
	model := &scriptedModel{fallback: "done"}
	sink := &recordingSink{}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: model}), WithEventSink(sink))
	o.NewRun(Input{Task: "t"}).executeStep(context.Background(), State{Task: "t", Plan: []string{"a", "b"}, CurrentStep: 1, StepResults: []string{"ra"}})

	started := sink.ofType(EventStepStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 1, started[0].StepIndex)
	assert.Equal(t, "b", started[0].Description)
	assert.Equal(t, 2, started[0].TotalSteps)

	completed := sink.ofType(EventStepCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "done", completed[0].Result)
	assert.NotEmpty(t, completed[0].RunID)
}

func TestFailedToolEventKeepsOKField(t *testing.T) {
	raw, err := json.Marshal(Event{Type: EventToolExecuted, RunID: "r", StepIndex: 0, Tool: "tab.list", OK: false})
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	assert.Equal(t, false, fields["ok"])
	assert.Equal(t, "tab.list", fields["tool"])
	assert.Equal(t, float64(0), fields["stepIndex"])
}

func TestEvaluatorGuards(t *testing.T) {
	model := &scriptedModel{fallback: `{"verdict":"ok"}`}
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSecondary: model}))
	run := o.NewRun(Input{Task: "t"})
	base := State{Task: "t", Plan: []string{"a", "b", "c"}, CurrentStep: 1, StepResults: []string{"r"}}

	bail := base
	bail.NodeVisits = 27
	assert.Equal(t, VerdictDone, run.evaluate(context.Background(), bail, false).Verdict)

	capped := base
	capped.TotalStepsExecuted = 15
	assert.Equal(t, VerdictDone, run.evaluate(context.Background(), capped, false).Verdict)
	assert.Equal(t, 0, model.callCount())

	assert.Equal(t, VerdictOK, run.evaluate(context.Background(), base, true).Verdict)
	assert.Equal(t, 0, model.callCount())

	run.Cancel()
	assert.Equal(t, VerdictDone, run.evaluate(context.Background(), base, false).Verdict)
	assert.Equal(t, 0, model.callCount())
}

func TestEvaluatorWithoutModel(t *testing.T) {
	run := New(nil).NewRun(Input{Task: "t"})
	remaining := State{Plan: []string{"a", "b"}, CurrentStep: 1}
	assert.Equal(t, VerdictOK, run.evaluate(context.Background(), remaining, false).Verdict)
	finished := State{Plan: []string{"a", "b"}, CurrentStep: 2}
	assert.Equal(t, VerdictDone, run.evaluate(context.Background(), finished, false).Verdict)
}

func TestEvaluatorModelVerdicts(t *testing.T) {
	cases := []struct {
		reply   string
		step    int
		verdict Verdict
	}{
		{`{"verdict":"needs_replan"}`, 1, VerdictNeedsReplan},
		{`Looks good. {"verdict": "DONE"}`, 1, VerdictDone},
		{`{"verdict":"maybe"}`, 1, VerdictOK},
		{`no idea`, 2, VerdictDone},
	}
	for _, tc := range cases {
		model := &scriptedModel{replies: []reply{{text: tc.reply}}}
		run := New(roles(map[llm.ModelRole]llm.Client{llm.ModelPrimary: model})).NewRun(Input{Task: "t"})
		s := State{Task: "t", Plan: []string{"a", "b"}, CurrentStep: tc.step}
		assert.Equal(t, tc.verdict, run.evaluate(context.Background(), s, false).Verdict, tc.reply)
	}
}

func TestReplannerKeepsCompletedPrefix(t *testing.T) {
	model := &scriptedModel{replies: []reply{{text: `["A","B"]`}}}
	sink := &recordingSink{}
	run := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSecondary: model}), WithEventSink(sink)).NewRun(Input{Task: "t"})

	s := State{Task: "t", Plan: []string{"X", "Y", "Z"}, CurrentStep: 1, StepResults: []string{"rx"}, Verdict: VerdictNeedsReplan}
	s.apply(run.replan(context.Background(), s))
	assert.Equal(t, []string{"X", "A", "B"}, s.Plan)
	assert.Equal(t, VerdictOK, s.Verdict)
	assert.Equal(t, 1, s.CurrentStep)

	events := sink.ofType(EventReplan)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"A", "B"}, events[0].NewSteps)
	assert.Equal(t, []string{"X", "Y", "Z"}, events[0].PreviousPlan)
}

func TestReplannerFailureEndsRun(t *testing.T) {
	for _, model := range []llm.Client{
		nil,
		&scriptedModel{replies: []reply{{text: "[]"}}},
		&scriptedModel{replies: []reply{{err: errors.New("boom")}}},
	} {
		models := map[llm.ModelRole]llm.Client{}
		if model != nil {
			models[llm.ModelSecondary] = model
		}
		run := New(roles(models)).NewRun(Input{Task: "t"})
		u := run.replan(context.Background(), State{Plan: []string{"X"}, CurrentStep: 1})
		assert.Equal(t, VerdictDone, u.Verdict)
		assert.Nil(t, u.Plan)
	}
}

func TestSynthesizer(t *testing.T) {
	ctx := context.Background()

	model := &scriptedModel{fallback: "combined"}
	run := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSecondary: model})).NewRun(Input{Task: "t"})
	assert.Equal(t, "only", run.synthesize(ctx, State{StepResults: []string{"only"}}).FinalResult)
	assert.Equal(t, 0, model.callCount())
	assert.Equal(t, "", run.synthesize(ctx, State{}).FinalResult)
	assert.Equal(t, "combined", run.synthesize(ctx, State{Plan: []string{"a", "b"}, StepResults: []string{"1", "2"}}).FinalResult)
	assert.Equal(t, 1, model.callCount())

	failing := &scriptedModel{replies: []reply{{err: errors.New("boom")}}}
	run = New(roles(map[llm.ModelRole]llm.Client{llm.ModelSecondary: failing})).NewRun(Input{Task: "t"})
	assert.Equal(t, "1\n\n2", run.synthesize(ctx, State{StepResults: []string{"1", "2"}}).FinalResult)
	assert.Equal(t, 1, failing.callCount())

	run = New(nil).NewRun(Input{Task: "t"})
	assert.Equal(t, "1\n\n2\n\n3", run.synthesize(ctx, State{StepResults: []string{"1", "2", "3"}}).FinalResult)
}

func TestFullRunWithReplan(t *testing.T) {
	reasoning := &routedModel{routes: map[string]*scriptedModel{
		"planner of":  {replies: []reply{{text: `["s1","s2"]`}}},
		"review the":  {replies: []reply{{text: `{"verdict":"needs_replan"}`}, {text: `{"verdict":"done"}`}}},
		"revise the":  {replies: []reply{{text: `["s2b"]`}}},
		"combine the": {replies: []reply{{text: "combined answer"}}},
	}}
	executor := &scriptedModel{replies: []reply{{text: "did s1"}, {text: "did s2b"}}}
	sink := &recordingSink{}
	o := New(roles(map[llm.ModelRole]llm.Client{
		llm.ModelSecondary: reasoning,
		llm.ModelSubagent:  executor,
	}), WithEventSink(sink))

	outcome := o.Execute(context.Background(), Input{Task: "do it", Context: map[string]string{"user": "ada"}})
	assert.Equal(t, []string{"s1", "s2b"}, outcome.Plan)
	assert.Equal(t, []string{"did s1", "did s2b"}, outcome.StepResults)
	assert.Equal(t, "combined answer", outcome.FinalResult)
	assert.Equal(t, 2, outcome.StepsExecuted)
	// planner, executor, evaluator, replanner, evaluator, executor, evaluator, synthesizer
	assert.Equal(t, 8, outcome.NodeVisits)
	assert.False(t, outcome.Cancelled)
	assert.Len(t, sink.ofType(EventReplan), 1)
	assert.Contains(t, executor.calls[0][1].Content, "user: ada")
}

func TestStepCapTerminatesLongPlans(t *testing.T) {
	steps := make([]string, 20)
	for i := range steps {
		steps[i] = "step"
	}
	planner := &scriptedModel{replies: []reply{{text: `["` + strings.Join(steps, `","`) + `"]`}}}
	executor := &scriptedModel{fallback: "ok"}
	o := New(roles(map[llm.ModelRole]llm.Client{
		llm.ModelSecondary: &routedModel{routes: map[string]*scriptedModel{"planner of": planner}},
		llm.ModelSubagent:  executor,
	}), WithLimits(Limits{StepCap: 15, NodeVisitBail: 100}))

	outcome := o.Execute(context.Background(), Input{Task: "long"})
	assert.Equal(t, 15, outcome.StepsExecuted)
	assert.Len(t, outcome.StepResults, 15)
}

func TestNodeVisitBailTerminates(t *testing.T) {
	steps := make([]string, 20)
	for i := range steps {
		steps[i] = "step"
	}
	planner := &scriptedModel{replies: []reply{{text: `["` + strings.Join(steps, `","`) + `"]`}}}
	o := New(roles(map[llm.ModelRole]llm.Client{
		llm.ModelSecondary: &routedModel{routes: map[string]*scriptedModel{"planner of": planner}},
		llm.ModelSubagent:  &scriptedModel{fallback: "ok"},
	}), WithLimits(Limits{StepCap: 100, NodeVisitBail: 27}))

	outcome := o.Execute(context.Background(), Input{Task: "long"})
	// The evaluator after step 13 is visit 27.
	assert.Equal(t, 13, outcome.StepsExecuted)
	assert.Equal(t, 28, outcome.NodeVisits)
}

func TestRunExecutesOnce(t *testing.T) {
	o := New(roles(map[llm.ModelRole]llm.Client{llm.ModelSubagent: &scriptedModel{fallback: "ok"}}))
	run := o.NewRun(Input{Task: "t"})
	outcome := run.Execute(context.Background())
	assert.Equal(t, 4, outcome.NodeVisits)
	assert.Equal(t, "ok", outcome.FinalResult)
	assert.Equal(t, run.ID(), outcome.RunID)

	again := run.Execute(context.Background())
	assert.Equal(t, 0, again.NodeVisits)
}
