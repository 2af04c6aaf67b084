package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"skillagent/internal/domain"
)

// mockSearchBackend implements SearchBackend for testing.
type mockSearchBackend struct {
	results   []SearchResult
	err       error
	callCount int
	lastCount int
	lastLang  string
}

func (m *mockSearchBackend) Search(_ context.Context, q SearchQuery) ([]SearchResult, error) {
	m.callCount++
	m.lastCount = q.Count
	m.lastLang = q.Language
	if m.err != nil {
		return nil, m.err
	}
	return m.results, nil
}

func (m *mockSearchBackend) Name() string { return "mock" }

func newMockBackend(results []SearchResult) *mockSearchBackend {
	return &mockSearchBackend{results: results}
}

func searchParams(t *testing.T, query string, n int) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(webSearchParams{Query: query, NumResults: n})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestWebSearchToolSchema(t *testing.T) {
	ws := NewWebSearchTool(newMockBackend(nil), 0, nopLogger())
	schema := ws.Schema()
	if schema.Name != "web_search" {
		t.Errorf("Schema.Name = %q, want %q", schema.Name, "web_search")
	}
	var params struct {
		Properties map[string]struct {
			Maximum int `json:"maximum"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema.Parameters, &params); err != nil {
		t.Fatalf("Schema.Parameters is invalid JSON: %v", err)
	}
	if params.Properties["num_results"].Maximum != 10 {
		t.Errorf("num_results maximum = %d, want 10", params.Properties["num_results"].Maximum)
	}
	if len(params.Required) != 1 || params.Required[0] != "query" {
		t.Errorf("required = %v", params.Required)
	}
}

func TestWebSearchToolEmptyQuery(t *testing.T) {
	backend := newMockBackend(nil)
	ws := NewWebSearchTool(backend, 0, nopLogger())

	result, _ := ws.Execute(context.Background(), searchParams(t, "   ", 0))
	if !result.IsError {
		t.Fatal("expected error for blank query")
	}
	if result.Kind != domain.KindInvalidArguments {
		t.Errorf("Kind = %q", result.Kind)
	}
	if backend.callCount != 0 {
		t.Error("backend should not be called")
	}
}

func TestWebSearchToolFormatsResults(t *testing.T) {
	backend := newMockBackend([]SearchResult{
		{Title: "Result 1", URL: "https://example.com/1", Content: "First result"},
		{Title: "Result 2", URL: "https://example.com/2", Content: "Second result"},
	})
	ws := NewWebSearchTool(backend, 0, nopLogger())

	result, _ := ws.Execute(context.Background(), searchParams(t, "test", 2))
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}

	want := "Use the exact full names and terms as they appear below (do not abbreviate).\n\n" +
		"[1] Result 1\nFirst result\nURL: https://example.com/1\n\n" +
		"[2] Result 2\nSecond result\nURL: https://example.com/2"
	if result.Content != want {
		t.Errorf("content =\n%q\nwant\n%q", result.Content, want)
	}
}

func TestWebSearchToolNoResults(t *testing.T) {
	ws := NewWebSearchTool(newMockBackend(nil), 0, nopLogger())

	result, _ := ws.Execute(context.Background(), searchParams(t, "xyznonexistent", 0))
	if result.IsError {
		t.Fatalf("unexpected error: %s", result.Content)
	}
	if result.Content != "No search results found." {
		t.Errorf("content = %q", result.Content)
	}
}

func TestWebSearchToolBackendError(t *testing.T) {
	backend := &mockSearchBackend{err: errors.New("no bing API key configured")}
	ws := NewWebSearchTool(backend, 0, nopLogger())

	result, err := ws.Execute(context.Background(), searchParams(t, "test", 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Error("expected error for backend failure")
	}
	if result.Content != "Search error: no bing API key configured" {
		t.Errorf("content = %q", result.Content)
	}
	if result.Kind != domain.KindExecutionFailed {
		t.Errorf("Kind = %q", result.Kind)
	}
}

func TestWebSearchToolErrorsNotCached(t *testing.T) {
	backend := &mockSearchBackend{err: errors.New("search failed (HTTP 500)")}
	ws := NewWebSearchTool(backend, time.Minute, nopLogger())

	ws.Execute(context.Background(), searchParams(t, "q", 0))
	ws.Execute(context.Background(), searchParams(t, "q", 0))

	if backend.callCount != 2 {
		t.Errorf("expected 2 backend calls, got %d", backend.callCount)
	}
}

func TestWebSearchToolCountClamping(t *testing.T) {
	tests := []struct {
		requested int
		want      int
	}{
		{0, 8},
		{-3, 8},
		{1, 1},
		{10, 10},
		{50, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.requested), func(t *testing.T) {
			if got := clampSearchCount(tt.requested); got != tt.want {
				t.Errorf("clampSearchCount(%d) = %d, want %d", tt.requested, got, tt.want)
			}
		})
	}
}

func TestWebSearchToolTruncatesBackendOverflow(t *testing.T) {
	var results []SearchResult
	for i := 0; i < 25; i++ {
		results = append(results, SearchResult{
			Title: fmt.Sprintf("R%d", i),
			URL:   fmt.Sprintf("https://example.com/%d", i),
		})
	}
	backend := newMockBackend(results)
	ws := NewWebSearchTool(backend, 0, nopLogger())

	result, _ := ws.Execute(context.Background(), searchParams(t, "test", 3))
	if backend.lastCount != 3 {
		t.Errorf("backend asked for %d results, want 3", backend.lastCount)
	}
	if got := strings.Count(result.Content, "URL: "); got != 3 {
		t.Errorf("expected 3 entries, got %d", got)
	}
}

func TestWebSearchToolCacheHit(t *testing.T) {
	backend := newMockBackend([]SearchResult{
		{Title: "Cached", URL: "https://example.com", Content: "cached result"},
	})
	ws := NewWebSearchTool(backend, 5*time.Minute, nopLogger())

	result1, _ := ws.Execute(context.Background(), searchParams(t, "cache test", 0))
	result2, _ := ws.Execute(context.Background(), searchParams(t, "cache test", 0))

	if backend.callCount != 1 {
		t.Errorf("expected 1 backend call, got %d", backend.callCount)
	}
	if result1.Content != result2.Content {
		t.Error("cached result differs from original")
	}
}

func TestWebSearchToolCacheDifferentParams(t *testing.T) {
	backend := newMockBackend([]SearchResult{{Title: "Result", URL: "https://example.com"}})
	ws := NewWebSearchTool(backend, 5*time.Minute, nopLogger())

	ws.Execute(context.Background(), searchParams(t, "query1", 0))
	ws.Execute(context.Background(), searchParams(t, "query2", 0))
	ws.Execute(context.Background(), searchParams(t, "query1", 3))

	if backend.callCount != 3 {
		t.Errorf("expected 3 backend calls, got %d", backend.callCount)
	}
}

func TestWebSearchToolLanguageForwardedAndCachedSeparately(t *testing.T) {
	backend := newMockBackend([]SearchResult{{Title: "Result", URL: "https://example.com"}})
	ws := NewWebSearchTool(backend, 5*time.Minute, nopLogger())

	ws.Execute(context.Background(), json.RawMessage(`{"query":"q","language":" ZH "}`))
	if backend.lastLang != "zh" {
		t.Errorf("language = %q, want %q", backend.lastLang, "zh")
	}
	ws.Execute(context.Background(), json.RawMessage(`{"query":"q","language":"en"}`))
	ws.Execute(context.Background(), json.RawMessage(`{"query":"q","language":"zh"}`))

	if backend.callCount != 2 {
		t.Errorf("expected 2 backend calls, got %d", backend.callCount)
	}
}

func TestWebSearchToolCacheExpired(t *testing.T) {
	backend := newMockBackend([]SearchResult{{Title: "Result", URL: "https://example.com"}})
	ws := NewWebSearchTool(backend, time.Minute, nopLogger())

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ws.now = func() time.Time { return now }

	ws.Execute(context.Background(), searchParams(t, "expire test", 0))
	now = now.Add(2 * time.Minute)
	ws.Execute(context.Background(), searchParams(t, "expire test", 0))

	if backend.callCount != 2 {
		t.Errorf("expected 2 backend calls after cache expiry, got %d", backend.callCount)
	}
}

func TestWebSearchToolCacheLazyEviction(t *testing.T) {
	backend := newMockBackend([]SearchResult{{Title: "R", URL: "https://example.com"}})
	ws := NewWebSearchTool(backend, time.Minute, nopLogger())

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ws.now = func() time.Time { return now }

	for i := 0; i < 105; i++ {
		ws.Execute(context.Background(), searchParams(t, fmt.Sprintf("query-%d", i), 0))
	}

	now = now.Add(2 * time.Minute)
	ws.Execute(context.Background(), searchParams(t, "trigger-eviction", 0))

	ws.mu.Lock()
	remaining := len(ws.cache)
	ws.mu.Unlock()

	if remaining != 1 {
		t.Errorf("expected 1 cache entry after eviction, got %d", remaining)
	}
}
