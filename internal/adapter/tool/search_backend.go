package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"skillagent/internal/domain"
	"skillagent/internal/infra/config"
)

const (
	maxSearchBodySize    = 512 * 1024 // 512KB
	defaultSearchTimeout = 15 * time.Second
	defaultSearchMarket  = "en-US"
)

// SearchBackend abstracts a web search engine.
type SearchBackend interface {
	// Search performs a web search and returns at most q.Count results.
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
	// Name returns the backend identifier (e.g. "bing").
	Name() string
}

// SearchQuery is one backend request.
type SearchQuery struct {
	Text     string
	Count    int
	Language string // ISO 639-1 code such as "zh"; empty selects the configured market
}

// SearchResult represents a single search result.
type SearchResult struct {
	Title   string
	URL     string
	Content string
}

// NewSearchBackend builds the backend selected by cfg.Backend.
func NewSearchBackend(cfg config.SearchConfig, logger *slog.Logger) (SearchBackend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := ValidateEnum("search backend", cfg.Backend, "bing", "serpapi", "searxng"); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSearchTimeout
	}
	market := cfg.Market
	if market == "" {
		market = defaultSearchMarket
	}

	switch cfg.Backend {
	case "serpapi":
		return NewSerpAPIBackend(cfg.APIKey, market, timeout, logger), nil
	case "searxng":
		if err := ValidateAll(RequireField("searxng_url", cfg.SearXNGURL), ValidateURL("searxng_url", cfg.SearXNGURL)); err != nil {
			return nil, err
		}
		return NewSearXNGBackend(cfg.SearXNGURL, market, timeout, logger), nil
	default:
		return NewBingBackend(cfg.APIKey, market, timeout, logger), nil
	}
}

// getSearchJSON issues a GET and decodes a JSON body into out.
func getSearchJSON(ctx context.Context, client *http.Client, req *http.Request, out any) error {
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSearchBodySize))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: search failed (HTTP %d)", domain.ErrRateLimit, resp.StatusCode)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: search failed (HTTP %d)", domain.ErrAuthInvalid, resp.StatusCode)
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: search failed (HTTP %d)", domain.ErrProviderError, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("search failed (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// marketLanguage returns the language part of a market code ("en-US" -> "en").
func marketLanguage(market string) string {
	lang, _, _ := strings.Cut(market, "-")
	return strings.ToLower(lang)
}

// languageMarkets maps the languages the research pipeline searches in to
// their default Bing market.
var languageMarkets = map[string]string{
	"zh": "zh-CN",
	"en": "en-US",
	"ja": "ja-JP",
	"ko": "ko-KR",
	"fr": "fr-FR",
	"de": "de-DE",
	"es": "es-ES",
}

// marketFor returns the market for lang, or fallback when lang is empty or
// has no known market.
func marketFor(lang, fallback string) string {
	if m, ok := languageMarkets[strings.ToLower(lang)]; ok {
		return m
	}
	return fallback
}
