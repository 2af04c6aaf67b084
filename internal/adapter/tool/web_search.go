package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"skillagent/internal/domain"
	"skillagent/internal/infra/tracer"
)

const (
	defaultSearchCount = 8
	maxSearchCount     = 10
	defaultCacheTTL    = 15 * time.Minute

	searchResultsHeader = "Use the exact full names and terms as they appear below (do not abbreviate).\n\n"
	noSearchResults     = "No search results found."
)

// cacheEntry holds a cached search result with its expiration time.
type cacheEntry struct {
	result    string
	expiresAt time.Time
}

// WebSearchTool performs web searches via a pluggable SearchBackend.
type WebSearchTool struct {
	backend  SearchBackend
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.Mutex
	cache map[string]cacheEntry
}

// NewWebSearchTool creates a web search tool backed by the given SearchBackend.
func NewWebSearchTool(backend SearchBackend, cacheTTL time.Duration, logger *slog.Logger) *WebSearchTool {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &WebSearchTool{
		backend:  backend,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
		cache:    make(map[string]cacheEntry),
	}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web for up-to-date information. Returns numbered results with title, snippet and URL."
}

func (t *WebSearchTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"query": {"type": "string", "description": "The search query"},
				"num_results": {"type": "integer", "minimum": 1, "maximum": 10, "description": "Number of results (default: 8)"},
				"language": {"type": "string", "description": "Two-letter language code to search in, e.g. \"en\" or \"zh\" (default: configured market)"}
			},
			"required": ["query"]
		}`),
	}
}

type webSearchParams struct {
	Query      string `json:"query"`
	NumResults int    `json:"num_results,omitempty"`
	Language   string `json:"language,omitempty"`
}

func (t *WebSearchTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.web_search", t.logger, params,
		func(ctx context.Context, span trace.Span, p webSearchParams) (any, error) {
			if err := RequireField("query", p.Query); err != nil {
				return nil, InvalidArgs(err)
			}
			p.NumResults = clampSearchCount(p.NumResults)

			span.SetAttributes(
				tracer.StringAttr("tool.query", p.Query),
				tracer.StringAttr("tool.search_backend", t.backend.Name()),
			)

			lang := strings.ToLower(strings.TrimSpace(p.Language))
			cacheKey := fmt.Sprintf("%s|%d|%s", p.Query, p.NumResults, lang)
			if cached, ok := t.getCached(cacheKey); ok {
				t.logger.Debug("web search cache hit", "query", p.Query)
				span.SetAttributes(tracer.StringAttr("tool.cache", "hit"))
				return cached, nil
			}

			results, err := t.backend.Search(ctx, SearchQuery{Text: p.Query, Count: p.NumResults, Language: lang})
			if err != nil {
				tracer.RecordError(span, err)
				t.logger.Warn("web search failed", "backend", t.backend.Name(), "error", err)
				return &domain.ToolResult{
					IsError: true,
					Kind:    domain.ErrorKindOf(err),
					Content: "Search error: " + err.Error(),
				}, nil
			}
			if len(results) > p.NumResults {
				results = results[:p.NumResults]
			}

			content := formatSearchResults(results)
			t.putCache(cacheKey, content)

			t.logger.Debug("web search completed", "query", p.Query, "results", len(results))
			return content, nil
		},
	)
}

// clampSearchCount applies the default and caps n to 1..maxSearchCount.
func clampSearchCount(n int) int {
	switch {
	case n <= 0:
		return defaultSearchCount
	case n > maxSearchCount:
		return maxSearchCount
	default:
		return n
	}
}

// formatSearchResults renders results as numbered entries for the model.
func formatSearchResults(results []SearchResult) string {
	if len(results) == 0 {
		return noSearchResults
	}

	entries := make([]string, len(results))
	for i, r := range results {
		entries[i] = fmt.Sprintf("[%d] %s\n%s\nURL: %s", i+1, r.Title, r.Content, r.URL)
	}
	return searchResultsHeader + strings.Join(entries, "\n\n")
}

// getCached returns a cached result if it exists and has not expired.
func (t *WebSearchTool) getCached(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.cache[key]
	if !ok {
		return "", false
	}
	if t.now().After(entry.expiresAt) {
		delete(t.cache, key)
		return "", false
	}
	return entry.result, true
}

// putCache stores a result in the cache with the configured TTL.
func (t *WebSearchTool) putCache(key, result string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.cache[key] = cacheEntry{
		result:    result,
		expiresAt: now.Add(t.cacheTTL),
	}

	// Lazy eviction once the cache grows.
	if len(t.cache) > 100 {
		for k, v := range t.cache {
			if now.After(v.expiresAt) {
				delete(t.cache, k)
			}
		}
	}
}
