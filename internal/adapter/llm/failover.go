package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"skillagent/internal/domain"
)

var _ domain.LLMProvider = (*FailoverProvider)(nil)

// FailoverProvider wraps a primary LLM provider with fallback providers.
// If the primary cannot open a stream, each fallback is tried in order.
// Once a stream is open, the run is bound to that provider.
type FailoverProvider struct {
	primary   domain.LLMProvider
	fallbacks []domain.LLMProvider
	logger    *slog.Logger
}

// NewFailoverProvider creates a failover-capable provider.
func NewFailoverProvider(primary domain.LLMProvider, fallbacks []domain.LLMProvider, logger *slog.Logger) *FailoverProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FailoverProvider{
		primary:   primary,
		fallbacks: fallbacks,
		logger:    logger,
	}
}

// ChatStream tries the primary provider first, then each fallback on failure.
// Caller cancellation stops the walk immediately.
func (f *FailoverProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamFragment, error) {
	ch, err := f.primary.ChatStream(ctx, req)
	if err == nil {
		return ch, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	f.logger.Warn("primary LLM failed, trying fallbacks",
		"primary", f.primary.Name(), "error", err)

	errs := []error{fmt.Errorf("%s: %w", f.primary.Name(), err)}
	for _, fb := range f.fallbacks {
		ch, err := fb.ChatStream(ctx, req)
		if err == nil {
			f.logger.Info("failover succeeded", "provider", fb.Name())
			return ch, nil
		}
		f.logger.Warn("fallback LLM failed", "provider", fb.Name(), "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", fb.Name(), err))
		if ctx.Err() != nil {
			break
		}
	}

	return nil, &failoverError{errs: errs}
}

// failoverError aggregates every provider failure on one line while keeping
// the individual errors reachable through errors.Is.
type failoverError struct {
	errs []error
}

func (e *failoverError) Error() string {
	msgs := make([]string, len(e.errs))
	for i, err := range e.errs {
		msgs[i] = err.Error()
	}
	return "all providers failed: [" + strings.Join(msgs, "; ") + "]"
}

func (e *failoverError) Unwrap() []error { return e.errs }

// Name returns a composite name.
func (f *FailoverProvider) Name() string {
	return f.primary.Name() + "+failover"
}
