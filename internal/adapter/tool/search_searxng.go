package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// searxngMaxPages bounds how far a short result list is paged.
const searxngMaxPages = 2

type searxngPage struct {
	Results []struct {
		Title   string   `json:"title"`
		URL     string   `json:"url"`
		Content string   `json:"content"`
		Engines []string `json:"engines"`
	} `json:"results"`
	UnresponsiveEngines [][]string `json:"unresponsive_engines"`
}

// SearXNGBackend queries a SearXNG metasearch instance. SearXNG merges the
// answers of several engines, so the same page can come back twice; results
// are deduplicated by URL and the next page is read when the first one runs
// short.
type SearXNGBackend struct {
	client   *http.Client
	endpoint string
	language string
	logger   *slog.Logger
}

// NewSearXNGBackend creates a backend for the instance at instanceURL. The
// language part of market is used when a query names none.
func NewSearXNGBackend(instanceURL, market string, timeout time.Duration, logger *slog.Logger) *SearXNGBackend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SearXNGBackend{
		client:   &http.Client{Timeout: timeout},
		endpoint: strings.TrimRight(instanceURL, "/") + "/search",
		language: marketLanguage(market),
		logger:   logger,
	}
}

func (b *SearXNGBackend) Name() string { return "searxng" }

func (b *SearXNGBackend) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	lang := strings.ToLower(query.Language)
	if lang == "" {
		lang = b.language
	}

	var (
		out  []SearchResult
		seen = make(map[string]bool)
	)
	for page := 1; page <= searxngMaxPages && len(out) < query.Count; page++ {
		var resp searxngPage
		if err := b.fetchPage(ctx, query.Text, lang, page, &resp); err != nil {
			if page == 1 {
				return nil, err
			}
			b.logger.Debug("searxng next page failed", "page", page, "error", err)
			break
		}
		if len(resp.UnresponsiveEngines) > 0 {
			b.logger.Debug("searxng engines unresponsive", "engines", len(resp.UnresponsiveEngines))
		}
		if len(resp.Results) == 0 {
			break
		}

		for _, r := range resp.Results {
			key := resultKey(r.URL)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, SearchResult{Title: r.Title, URL: r.URL, Content: r.Content})
			if len(out) == query.Count {
				break
			}
		}
	}

	b.logger.Debug("searxng search completed", "query", query.Text, "language", lang, "results", len(out))
	return out, nil
}

func (b *SearXNGBackend) fetchPage(ctx context.Context, text, lang string, page int, out *searxngPage) error {
	q := url.Values{}
	q.Set("q", text)
	q.Set("format", "json")
	q.Set("pageno", strconv.Itoa(page))
	if lang != "" {
		q.Set("language", lang)
	}
	req, err := http.NewRequest(http.MethodGet, b.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return getSearchJSON(ctx, b.client, req, out)
}

// resultKey normalizes a result URL for deduplication: scheme and host are
// case-folded, and the fragment and a trailing slash are dropped. Blank or
// unparsable URLs yield "".
func resultKey(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment, u.RawFragment = "", ""
	u.Path, u.RawPath = strings.TrimSuffix(u.Path, "/"), ""
	return u.String()
}
