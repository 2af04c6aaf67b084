package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"skillagent/internal/domain"
	"skillagent/internal/infra/tracer"
)

// DefaultToolTimeout bounds a single tool invocation when none is configured.
const DefaultToolTimeout = 60 * time.Second

// ToolStartFunc is invoked once per call before the executor produces a result.
type ToolStartFunc func(call domain.ToolCall)

// ToolExecutor resolves tool calls against a catalog and runs them. Every
// failure is returned as an error ToolResult; Execute never fails the run.
type ToolExecutor struct {
	catalog domain.ToolCatalog
	timeout time.Duration
	logger  *slog.Logger
}

// NewToolExecutor creates an executor over catalog. A nil catalog resolves no
// tools. A non-positive timeout selects DefaultToolTimeout.
func NewToolExecutor(catalog domain.ToolCatalog, timeout time.Duration, logger *slog.Logger) *ToolExecutor {
	if catalog == nil {
		catalog = emptyCatalog{}
	}
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ToolExecutor{catalog: catalog, timeout: timeout, logger: logger}
}

// Execute runs call and returns its result with ToolCallID set.
func (e *ToolExecutor) Execute(ctx context.Context, call domain.ToolCall, onStart ToolStartFunc) domain.ToolResult {
	ctx, span := tracer.StartSpan(ctx, "tool.execute",
		trace.WithAttributes(
			tracer.StringAttr("tool.name", call.Name),
			tracer.StringAttr("tool.call_id", call.ID),
		),
	)
	defer span.End()

	if onStart != nil {
		onStart(call)
	}

	start := time.Now()
	result := e.execute(ctx, call)
	result.ToolCallID = call.ID

	span.SetAttributes(
		tracer.BoolAttr("tool.is_error", result.IsError),
		tracer.DurationAttr("tool.duration_ms", time.Since(start)),
	)
	if result.IsError {
		tracer.RecordError(span, errors.New(result.Content))
		e.logger.Debug("tool call failed",
			"tool", call.Name, "call_id", call.ID, "kind", result.Kind)
	} else {
		tracer.SetOK(span)
	}
	return result
}

func (e *ToolExecutor) execute(ctx context.Context, call domain.ToolCall) domain.ToolResult {
	tool, err := e.catalog.Get(call.Name)
	if err != nil {
		return failure(domain.KindUnknownTool, "Error: Tool '%s' not found.", call.Name)
	}

	params, err := parseArguments(call.Arguments)
	if err != nil {
		return failure(domain.KindInvalidArguments,
			"Error: Failed to parse tool arguments JSON: %s. Error: %v", call.Arguments, err)
	}

	return e.invoke(ctx, tool, params)
}

type invokeOutcome struct {
	result *domain.ToolResult
	err    error
}

// invoke runs the tool under the executor timeout. A tool that ignores its
// context is abandoned when the deadline passes.
func (e *ToolExecutor) invoke(ctx context.Context, tool domain.Tool, params json.RawMessage) domain.ToolResult {
	toolCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeOutcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := tool.Execute(toolCtx, params)
		done <- invokeOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		// A tool that returns its context's error is reported the same as
		// one abandoned at the deadline.
		if out.err != nil && toolCtx.Err() != nil {
			return e.deadlineResult(ctx, tool)
		}
		return outcomeResult(out)
	case <-toolCtx.Done():
		return e.deadlineResult(ctx, tool)
	}
}

func (e *ToolExecutor) deadlineResult(ctx context.Context, tool domain.Tool) domain.ToolResult {
	if ctx.Err() != nil {
		return failure(domain.KindCancelled, "Error: Execution cancelled.")
	}
	return failure(domain.KindExecutionTimeout,
		"Error: Tool '%s' timed out after %s.", tool.Name(), e.timeout)
}

func outcomeResult(out invokeOutcome) domain.ToolResult {
	if out.err != nil {
		switch kind := domain.ErrorKindOf(out.err); kind {
		case domain.KindExecutionTimeout:
			return failure(kind, "Error: Execution timed out - %v", out.err)
		case domain.KindInvalidArguments:
			return failure(kind, "Error: Invalid arguments - %v", out.err)
		}
		return failure(domain.KindExecutionFailed, "Error: Execution failed - %v", out.err)
	}
	if out.result == nil {
		return domain.ToolResult{}
	}
	res := *out.result
	if res.IsError && res.Kind == "" {
		res.Kind = domain.KindExecutionFailed
	}
	return res
}

// parseArguments checks the raw argument text is a JSON object. Blank
// arguments are treated as an empty object; a JSON null is rejected.
func parseArguments(raw string) (json.RawMessage, error) {
	if strings.TrimSpace(raw) == "" {
		return json.RawMessage("{}"), nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("arguments must be a JSON object, got null")
	}
	return json.RawMessage(raw), nil
}

// emptyCatalog backs an executor built without tools.
type emptyCatalog struct{}

func (emptyCatalog) Get(name string) (domain.Tool, error) {
	return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
}

func (emptyCatalog) Schemas() []domain.ToolSchema { return nil }

func failure(kind domain.ErrorKind, format string, args ...any) domain.ToolResult {
	return domain.ToolResult{
		Content: fmt.Sprintf(format, args...),
		IsError: true,
		Kind:    kind,
	}
}
