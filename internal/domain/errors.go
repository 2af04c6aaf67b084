package domain

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound   = fmt.Errorf("llm provider not found")
	ErrProviderError      = fmt.Errorf("provider error")
	ErrToolNotFound       = fmt.Errorf("tool not found")
	ErrInvalidArguments   = fmt.Errorf("invalid tool arguments")
	ErrToolTimeout        = fmt.Errorf("tool execution timed out")
	ErrToolFailure        = fmt.Errorf("tool execution failed")
	ErrStreamInterrupted  = fmt.Errorf("model stream interrupted")
	ErrMaxIterations      = fmt.Errorf("agent reached max iterations")
	ErrCancelled          = fmt.Errorf("run cancelled")
	ErrInvalidSkill       = fmt.Errorf("invalid skill descriptor")
	ErrPathOutsideSandbox = fmt.Errorf("path is outside sandbox boundary")
	ErrConfigLoad         = fmt.Errorf("failed to load configuration")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")

	// Research errors.
	ErrEmptyQuestion = fmt.Errorf("question is empty")
	ErrNoJSONObject  = fmt.Errorf("no JSON object in model output")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Executor.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ErrorKind is the machine-readable failure category surfaced by a run.
type ErrorKind string

const (
	KindStreamInterrupted      ErrorKind = "StreamInterrupted"
	KindUnknownTool            ErrorKind = "UnknownTool"
	KindInvalidArguments       ErrorKind = "InvalidArguments"
	KindExecutionTimeout       ErrorKind = "ExecutionTimeout"
	KindExecutionFailed        ErrorKind = "ExecutionFailed"
	KindIterationLimitExceeded ErrorKind = "IterationLimitExceeded"
	KindCancelled              ErrorKind = "Cancelled"
)

// Terminal reports whether a failure of this kind ends the run. All other
// kinds are absorbed into the conversation as tool output.
func (k ErrorKind) Terminal() bool {
	switch k {
	case KindStreamInterrupted, KindIterationLimitExceeded, KindCancelled:
		return true
	}
	return false
}

// kindSentinels maps sentinel errors to their ErrorKind. Order matters:
// cancellation wins over the more generic stream failure.
var kindSentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrCancelled, KindCancelled},
	{context.Canceled, KindCancelled},
	{ErrMaxIterations, KindIterationLimitExceeded},
	{ErrToolNotFound, KindUnknownTool},
	{ErrInvalidArguments, KindInvalidArguments},
	{ErrToolTimeout, KindExecutionTimeout},
	{ErrStreamInterrupted, KindStreamInterrupted},
	{ErrToolFailure, KindExecutionFailed},
}

// ErrorKindOf returns the ErrorKind for err by walking its chain with errors.Is.
// Errors with no matching sentinel are reported as KindExecutionFailed.
func ErrorKindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindExecutionFailed
}
