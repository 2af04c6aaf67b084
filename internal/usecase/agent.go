package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"skillagent/internal/domain"
	"skillagent/internal/infra/tracer"
)

// Defaults applied by NewAgent when the corresponding AgentDeps field is unset.
const (
	DefaultMaxIterations    = 10
	DefaultMaxParallelTools = 4
	DefaultStreamTimeout    = 2 * time.Minute
	DefaultMaxStreamRetries = 2
)

// Retry backoff for opening a model stream.
const (
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 10 * time.Second
)

// LoopState is the state of one run of the agent loop.
type LoopState int

const (
	StateRequesting LoopState = iota
	StateReducing
	StateExecuting
	StateDone
	StateFailed
)

func (s LoopState) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateReducing:
		return "reducing"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("LoopState(%d)", int(s))
	}
}

// AgentDeps holds injected dependencies for the agent.
type AgentDeps struct {
	LLM             domain.LLMProvider
	Tools           domain.ToolCatalog // default catalog, overridable per run
	Prompt          *PromptBuilder     // optional, nil = conversation sent as-is
	Logger          *slog.Logger
	Bus             domain.EventBus  // optional, nil = no lifecycle events
	ErrorClassifier *ErrorClassifier // optional, nil = no stream-open retries

	MaxIterations    int
	MaxParallelTools int
	StreamTimeout    time.Duration
	ToolTimeout      time.Duration
	MaxStreamRetries int

	// FirstTurnTool, when set and offered by the catalog, is forced as the
	// tool choice of the first model turn of every run.
	FirstTurnTool string
}

// Agent drives the request, reduce, execute cycle against a streaming model.
type Agent struct {
	deps    AgentDeps
	reducer StreamReducer
}

// NewAgent creates an agent with the given dependencies.
func NewAgent(deps AgentDeps) *Agent {
	if deps.MaxIterations <= 0 {
		deps.MaxIterations = DefaultMaxIterations
	}
	if deps.MaxParallelTools <= 0 {
		deps.MaxParallelTools = DefaultMaxParallelTools
	}
	if deps.StreamTimeout <= 0 {
		deps.StreamTimeout = DefaultStreamTimeout
	}
	if deps.ToolTimeout <= 0 {
		deps.ToolTimeout = DefaultToolTimeout
	}
	if deps.MaxStreamRetries < 0 {
		deps.MaxStreamRetries = 0
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{deps: deps}
}

// RunInput seeds one run.
type RunInput struct {
	RunID    string             // generated when empty
	Messages []domain.Message   // caller-supplied conversation prefix
	Tools    domain.ToolCatalog // optional, overrides AgentDeps.Tools
}

// RunResult reports the final state of a run.
type RunResult struct {
	RunID      string
	State      LoopState
	Messages   []domain.Message
	Iterations int
	Usage      domain.Usage
}

// Run executes the loop until a turn produces no tool calls or the run fails.
// Every event is passed to sink in order, ending with exactly one
// LoopFinished or LoopError. A failed run also returns an error wrapping the
// sentinel of its ErrorKind.
func (a *Agent) Run(ctx context.Context, in RunInput, sink domain.AgentEventSink) (*RunResult, error) {
	runID := in.RunID
	if runID == "" {
		runID = NewRunID()
	}
	tools := in.Tools
	if tools == nil {
		tools = a.deps.Tools
	}

	r := &run{
		agent:  a,
		id:     runID,
		conv:   NewConversation(in.Messages),
		tools:  tools,
		exec:   NewToolExecutor(tools, a.deps.ToolTimeout, a.deps.Logger),
		out:    &emitter{sink: sink},
		logger: a.deps.Logger.With("run_id", runID),
	}
	return r.loop(ctx)
}

// emitter serializes events from the loop and from tool goroutines, and
// drops everything after the terminal event.
type emitter struct {
	mu     sync.Mutex
	sink   domain.AgentEventSink
	closed bool
}

func (e *emitter) emit(ev domain.AgentEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if ev.Terminal() {
		e.closed = true
	}
	if e.sink != nil {
		e.sink(ev)
	}
}

// run is the state of a single loop execution.
type run struct {
	agent  *Agent
	id     string
	conv   *Conversation
	tools  domain.ToolCatalog
	exec   *ToolExecutor
	out    *emitter
	logger *slog.Logger

	state     LoopState
	iteration int
	usage     domain.Usage
}

func (r *run) loop(ctx context.Context) (*RunResult, error) {
	ctx, span := tracer.StartSpan(ctx, "agent.run",
		trace.WithAttributes(tracer.StringAttr("run.id", r.id)),
	)
	defer span.End()

	deps := r.agent.deps
	r.publish(ctx, domain.EventRunStarted, nil)
	r.logger.Debug("run started", "messages", r.conv.Len())

	for {
		r.iteration++
		r.state = StateRequesting
		if err := ctx.Err(); err != nil {
			return r.fail(ctx, span, err)
		}

		turn, err := r.requestTurn(ctx)
		if err != nil {
			return r.fail(ctx, span, err)
		}
		r.usage.Add(turn.Usage)

		r.out.emit(domain.AgentEvent{Type: domain.AgentTurnCompleted, Iteration: r.iteration})
		r.conv.Append(turn.Message())

		r.logger.Debug("turn completed",
			"iteration", r.iteration,
			"tool_calls", len(turn.ToolCalls),
			"tokens", turn.Usage.TotalTokens,
		)

		if len(turn.ToolCalls) == 0 {
			r.state = StateDone
			r.out.emit(domain.AgentEvent{Type: domain.AgentLoopFinished, Iteration: r.iteration})
			r.publish(ctx, domain.EventRunFinished, nil)
			tracer.SetOK(span)
			return r.result(), nil
		}

		r.state = StateExecuting
		if err := r.executeTools(ctx, turn.ToolCalls); err != nil {
			return r.fail(ctx, span, err)
		}

		if r.iteration >= deps.MaxIterations {
			return r.fail(ctx, span, domain.NewDomainError("Agent.Run", domain.ErrMaxIterations,
				fmt.Sprintf("exceeded %d iterations", deps.MaxIterations)))
		}
	}
}

// requestTurn sends the conversation to the model and reduces its stream.
func (r *run) requestTurn(ctx context.Context) (FinalizedTurn, error) {
	deps := r.agent.deps

	ctx, span := tracer.StartSpan(ctx, "agent.turn",
		trace.WithAttributes(tracer.IntAttr("iteration", r.iteration)),
	)
	defer span.End()

	streamCtx, cancel := context.WithTimeout(ctx, deps.StreamTimeout)
	defer cancel()

	req := r.buildRequest()
	ch, err := r.openStream(streamCtx, req)
	if err != nil {
		tracer.RecordError(span, err)
		return FinalizedTurn{}, r.streamError(ctx, err)
	}

	r.state = StateReducing
	turn, err := r.agent.reducer.Reduce(streamCtx, ch, func(text string) {
		r.out.emit(domain.AgentEvent{Type: domain.AgentTextChunk, Text: text, Iteration: r.iteration})
	})
	if err != nil {
		tracer.RecordError(span, err)
		return FinalizedTurn{}, r.streamError(ctx, err)
	}

	tracer.SetOK(span)
	return turn, nil
}

func (r *run) buildRequest() domain.ChatRequest {
	var schemas []domain.ToolSchema
	if r.tools != nil {
		schemas = r.tools.Schemas()
	}

	var req domain.ChatRequest
	if p := r.agent.deps.Prompt; p != nil {
		req = p.Build(r.conv.Messages(), schemas)
	} else {
		req = domain.ChatRequest{Messages: r.conv.Messages(), Tools: schemas, Stream: true}
	}

	if first := r.agent.deps.FirstTurnTool; first != "" && r.iteration == 1 && req.HasTool(first) {
		req.ToolChoice = first
	}
	return req
}

// openStream opens the model stream, retrying transient failures with
// exponential backoff when an ErrorClassifier is configured.
func (r *run) openStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamFragment, error) {
	deps := r.agent.deps

	attempts := 1
	if deps.ErrorClassifier != nil {
		attempts += deps.MaxStreamRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		ch, err := deps.LLM.ChatStream(ctx, req)
		if err == nil {
			return ch, nil
		}
		lastErr = err

		if deps.ErrorClassifier == nil || ctx.Err() != nil {
			break
		}
		if deps.ErrorClassifier.Classify(err).Category != ErrorCategoryRetryable {
			break
		}
		if attempt < attempts-1 {
			delay := retryBackoff(attempt)
			r.logger.Info("retrying llm stream after error",
				"attempt", attempt+1, "delay", delay, "provider", deps.LLM.Name(), "error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

// streamError maps a failed turn to a run error. Caller cancellation wins
// over stream failures; an expired stream deadline is an interrupted stream.
func (r *run) streamError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewDomainError("Agent.Run", domain.ErrStreamInterrupted, "model stream timed out")
	}
	if errors.Is(err, domain.ErrStreamInterrupted) {
		return err
	}
	return domain.NewDomainError("Agent.Run", domain.ErrStreamInterrupted, err.Error())
}

// executeTools runs the calls of one turn with bounded concurrency and
// appends their results in request order.
func (r *run) executeTools(ctx context.Context, calls []domain.ToolCall) error {
	results := make([]chan domain.ToolResult, len(calls))
	for i := range results {
		results[i] = make(chan domain.ToolResult, 1)
	}

	var g errgroup.Group
	g.SetLimit(r.agent.deps.MaxParallelTools)
	go func() {
		for i, call := range calls {
			if ctx.Err() != nil {
				return
			}
			g.Go(func() error {
				start := time.Now()
				res := r.exec.Execute(ctx, call, r.announce)
				r.publish(ctx, domain.EventToolCallFinished, domain.ToolCallFinishedPayload{
					CallID:   call.ID,
					Tool:     call.Name,
					IsError:  res.IsError,
					Kind:     res.Kind,
					Duration: time.Since(start),
				})
				results[i] <- res
				return nil
			})
		}
	}()

	for i, call := range calls {
		select {
		case res := <-results[i]:
			if err := ctx.Err(); err != nil {
				return err
			}
			r.out.emit(domain.AgentEvent{
				Type:      domain.AgentToolCallFinished,
				Iteration: r.iteration,
				CallID:    call.ID,
				ToolName:  call.Name,
				Result:    &res,
			})
			r.conv.Append(domain.Message{
				Role:       domain.RoleTool,
				Name:       call.Name,
				Content:    res.Content,
				ToolCallID: call.ID,
			})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *run) announce(call domain.ToolCall) {
	r.out.emit(domain.AgentEvent{
		Type:      domain.AgentToolCallStarted,
		Iteration: r.iteration,
		CallID:    call.ID,
		ToolName:  call.Name,
		Arguments: call.Arguments,
	})
}

// fail moves the run to StateFailed and emits its single LoopError.
func (r *run) fail(ctx context.Context, span trace.Span, err error) (*RunResult, error) {
	r.state = StateFailed

	kind := domain.ErrorKindOf(err)
	detail := err.Error()
	var de *domain.DomainError
	if errors.As(err, &de) && de.Detail != "" {
		detail = de.Detail
	}
	if ctx.Err() != nil {
		kind = domain.KindCancelled
		detail = "run cancelled by caller"
		err = domain.NewDomainError("Agent.Run", domain.ErrCancelled, ctx.Err().Error())
	}

	tracer.RecordError(span, err)
	r.logger.Warn("run failed", "iteration", r.iteration, "kind", kind, "error", err)

	r.out.emit(domain.AgentEvent{
		Type:      domain.AgentLoopError,
		Iteration: r.iteration,
		ErrKind:   kind,
		Detail:    detail,
	})
	r.publish(ctx, domain.EventRunFailed, domain.RunFailedPayload{Kind: kind, Detail: detail})
	return r.result(), err
}

func (r *run) result() *RunResult {
	return &RunResult{
		RunID:      r.id,
		State:      r.state,
		Messages:   r.conv.Messages(),
		Iterations: r.iteration,
		Usage:      r.usage,
	}
}

func (r *run) publish(ctx context.Context, eventType domain.EventType, payload any) {
	publishEvent(r.agent.deps.Bus, ctx, eventType, r.id, payload)
}

// publishEvent publishes a lifecycle event on bus if it is configured.
func publishEvent(bus domain.EventBus, ctx context.Context, eventType domain.EventType, runID string, payload any) {
	if bus == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			raw = data
		}
	}
	bus.Publish(ctx, domain.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Payload:   raw,
	})
}

// retryBackoff computes exponential backoff with jitter.
func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add 0-25% jitter.
	jitter := time.Duration(rand.Int63n(int64(delay/4) + 1))
	return delay + jitter
}
