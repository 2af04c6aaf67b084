package usecase

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"skillagent/internal/domain"
)

// --- Mocks ---

// scriptedLLM replays one fragment script per ChatStream call and records
// every request it receives.
type scriptedLLM struct {
	mu       sync.Mutex
	scripts  [][]domain.StreamFragment
	openErrs []error // error returned by the n-th ChatStream call, if any
	requests []domain.ChatRequest
	calls    int
}

func (m *scriptedLLM) Name() string { return "scripted" }

func (m *scriptedLLM) ChatStream(_ context.Context, req domain.ChatRequest) (<-chan domain.StreamFragment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)

	if idx < len(m.openErrs) && m.openErrs[idx] != nil {
		return nil, m.openErrs[idx]
	}

	var frags []domain.StreamFragment
	switch {
	case len(m.scripts) == 0:
		frags = textFragments("fallback")
	case idx < len(m.scripts):
		frags = m.scripts[idx]
	default:
		frags = m.scripts[len(m.scripts)-1]
	}

	ch := make(chan domain.StreamFragment, len(frags))
	for _, f := range frags {
		ch <- f
	}
	close(ch)
	return ch, nil
}

func (m *scriptedLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *scriptedLLM) Requests() []domain.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]domain.ChatRequest, len(m.requests))
	copy(cp, m.requests)
	return cp
}

// hangingLLM opens a stream that never produces a fragment.
type hangingLLM struct{}

func (hangingLLM) Name() string { return "hanging" }
func (hangingLLM) ChatStream(_ context.Context, _ domain.ChatRequest) (<-chan domain.StreamFragment, error) {
	return make(chan domain.StreamFragment), nil
}

type mapCatalog map[string]domain.Tool

func (c mapCatalog) Get(name string) (domain.Tool, error) {
	t, ok := c[name]
	if !ok {
		return nil, domain.NewDomainError("Catalog.Get", domain.ErrToolNotFound, name)
	}
	return t, nil
}

func (c mapCatalog) Schemas() []domain.ToolSchema {
	out := make([]domain.ToolSchema, 0, len(c))
	for _, t := range c {
		out = append(out, t.Schema())
	}
	return out
}

type funcTool struct {
	name string
	fn   func(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error)
}

func (t *funcTool) Name() string        { return t.name }
func (t *funcTool) Description() string { return "test tool " + t.name }
func (t *funcTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: t.name, Description: t.Description(), Parameters: json.RawMessage(`{"type":"object"}`)}
}
func (t *funcTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return t.fn(ctx, params)
}

func staticTool(name, result string) *funcTool {
	return &funcTool{name: name, fn: func(context.Context, json.RawMessage) (*domain.ToolResult, error) {
		return &domain.ToolResult{Content: result}, nil
	}}
}

type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, e domain.Event) {
	b.mu.Lock()
	b.events = append(b.events, e)
	b.mu.Unlock()
}
func (b *recordingBus) Subscribe(domain.EventHandler, ...domain.EventType) func() { return func() {} }
func (b *recordingBus) Close()                                                  {}

func (b *recordingBus) Types() []domain.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.EventType, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

// eventRecorder is an AgentEventSink that keeps every event.
type eventRecorder struct {
	mu     sync.Mutex
	events []domain.AgentEvent
}

func (r *eventRecorder) Sink(ev domain.AgentEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) Events() []domain.AgentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]domain.AgentEvent, len(r.events))
	copy(cp, r.events)
	return cp
}

func (r *eventRecorder) Types() []domain.AgentEventType {
	evs := r.Events()
	out := make([]domain.AgentEventType, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func (r *eventRecorder) OfType(t domain.AgentEventType) []domain.AgentEvent {
	var out []domain.AgentEvent
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// --- Fragment helpers ---

func textFragments(parts ...string) []domain.StreamFragment {
	out := make([]domain.StreamFragment, len(parts))
	for i, p := range parts {
		out[i] = domain.StreamFragment{Text: p}
	}
	return out
}

func callStart(index int, id, name, args string) domain.StreamFragment {
	return domain.StreamFragment{ToolCall: &domain.ToolCallDelta{Index: index, ID: id, Name: name, Arguments: args}}
}

func callArgs(index int, args string) domain.StreamFragment {
	return domain.StreamFragment{ToolCall: &domain.ToolCallDelta{Index: index, Arguments: args}}
}

func newTestLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestAgent(llm domain.LLMProvider, tools domain.ToolCatalog, opts ...func(*AgentDeps)) *Agent {
	deps := AgentDeps{
		LLM:           llm,
		Tools:         tools,
		Prompt:        NewPromptBuilder("You are a test assistant.", "test-model"),
		Logger:        newTestLogger(),
		MaxIterations: 10,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return NewAgent(deps)
}
