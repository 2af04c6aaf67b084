package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"skillagent/internal/domain"
	"skillagent/internal/infra/tracer"
)

// maxErrorBody bounds how much of a failed response body is kept for the error.
const maxErrorBody = 4096

// doStreamRequest performs a JSON POST request for SSE streaming.
// It returns the open *http.Response (caller must close Body).
// Returns a domain error for non-200 responses.
func doStreamRequest(ctx context.Context, client *http.Client, url string, body []byte, headers map[string]string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: http request: %w", domain.ErrProviderError, err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, mapHTTPError(httpResp.StatusCode, respBody)
	}

	return httpResp, nil
}

// observeStream forwards fragments from in, recording usage on span and
// logging once the stream ends. The span is ended when in is drained. After
// ctx is done, remaining fragments are drained without being forwarded.
func observeStream(ctx context.Context, in <-chan domain.StreamFragment, span trace.Span, logger *slog.Logger, provider, model string) <-chan domain.StreamFragment {
	out := make(chan domain.StreamFragment, cap(in))
	go func() {
		defer close(out)
		defer span.End()

		var (
			usage  domain.Usage
			failed error
			n      int
		)
		forward := true
		for f := range in {
			n++
			if f.Usage != nil {
				usage.Add(*f.Usage)
			}
			if f.Err != nil {
				failed = f.Err
			}
			if forward {
				select {
				case out <- f:
				case <-ctx.Done():
					forward = false
				}
			}
		}

		setUsageAttrs(span, usage)
		if failed != nil {
			tracer.RecordError(span, failed)
			logger.Warn("llm stream failed", "provider", provider, "model", model, "error", failed)
			return
		}
		tracer.SetOK(span)
		logger.Debug("llm stream completed",
			"provider", provider,
			"model", model,
			"fragments", n,
			"tokens", usage.TotalTokens,
		)
	}()
	return out
}

// setUsageAttrs adds token usage attributes to a trace span.
func setUsageAttrs(span trace.Span, usage domain.Usage) {
	span.SetAttributes(
		tracer.IntAttr("llm.prompt_tokens", usage.PromptTokens),
		tracer.IntAttr("llm.completion_tokens", usage.CompletionTokens),
	)
}

// mapHTTPError maps an HTTP status code + response body to a domain error.
// This enables ErrorClassifier and the circuit breaker to classify LLM API
// errors.
func mapHTTPError(statusCode int, body []byte) error {
	detail := fmt.Sprintf("API error %d: %s", statusCode, string(body))

	switch {
	case statusCode == http.StatusTooManyRequests: // 429
		return fmt.Errorf("%w: %s", domain.ErrRateLimit, detail)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden: // 401, 403
		return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, detail)
	case statusCode == http.StatusRequestEntityTooLarge: // 413
		return fmt.Errorf("%w: %s", domain.ErrContextOverflow, detail)
	case statusCode >= 500: // 500, 502, 503, etc.
		return fmt.Errorf("%w: %s", domain.ErrProviderError, detail)
	default:
		return fmt.Errorf("%s", detail)
	}
}
