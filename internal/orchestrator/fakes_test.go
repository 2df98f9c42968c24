package orchestrator

import (
	"context"
	"strings"
	"sync"

	"ClawAgent/internal/correlator"
	"ClawAgent/internal/llm"
	"ClawAgent/internal/terminal"
	"ClawAgent/internal/tools"
)

type reply struct {
	text string
	err  error
}

// scriptedModel 依次返回预设回复，耗尽后返回 fallback。
type scriptedModel struct {
	mu       sync.Mutex
	replies  []reply
	fallback string
	calls    [][]llm.Message
}

func (m *scriptedModel) Invoke(_ context.Context, messages []llm.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]llm.Message(nil), messages...))
	if len(m.replies) == 0 {
		return m.fallback, nil
	}
	next := m.replies[0]
	m.replies = m.replies[1:]
	return next.text, next.err
}

func (m *scriptedModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *scriptedModel) lastCall() []llm.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[len(m.calls)-1]
}

// routedModel 根据系统提示词选择回复，用于模拟同一模型承担多个角色。
type routedModel struct {
	mu     sync.Mutex
	routes map[string]*scriptedModel
}

func (m *routedModel) Invoke(ctx context.Context, messages []llm.Message) (string, error) {
	system := ""
	if len(messages) > 0 {
		system = messages[0].Content
	}
	m.mu.Lock()
	var target *scriptedModel
	for marker, model := range m.routes {
		if strings.Contains(system, marker) {
			target = model
			break
		}
	}
	m.mu.Unlock()
	if target == nil {
		return "", nil
	}
	return target.Invoke(ctx, messages)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []*tools.AgentCall
	handle func(call *tools.AgentCall) (correlator.Result, error)
}

func (d *fakeDispatcher) DispatchAgent(_ context.Context, call *tools.AgentCall) (correlator.Result, error) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
	return d.handle(call)
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type fakeRunner struct {
	commands []terminal.Command
	result   terminal.Result
	err      error
}

func (f *fakeRunner) Run(_ context.Context, cmd terminal.Command) (terminal.Result, error) {
	f.commands = append(f.commands, cmd)
	return f.result, f.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(_ context.Context, event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *recordingSink) ofType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func roles(models map[llm.ModelRole]llm.Client) llm.Provider {
	return llm.NewRoles(models)
}
