package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const serpAPIEndpoint = "https://serpapi.com/search"

type serpAPIResponse struct {
	OrganicResults []struct {
		Title   string `json:"title"`
		Link    string `json:"link"`
		Snippet string `json:"snippet"`
	} `json:"organic_results"`
	Error string `json:"error,omitempty"`
}

// SerpAPIBackend searches Google results through SerpAPI.
type SerpAPIBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	language string
	logger   *slog.Logger
}

// NewSerpAPIBackend creates a SerpAPI search backend.
func NewSerpAPIBackend(apiKey, market string, timeout time.Duration, logger *slog.Logger) *SerpAPIBackend {
	return &SerpAPIBackend{
		client:   &http.Client{Timeout: timeout},
		endpoint: serpAPIEndpoint,
		apiKey:   apiKey,
		language: marketLanguage(market),
		logger:   logger,
	}
}

func (b *SerpAPIBackend) Name() string { return "serpapi" }

func (b *SerpAPIBackend) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("no serpapi API key configured")
	}

	req, err := http.NewRequest(http.MethodGet, b.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query.Text)
	q.Set("api_key", b.apiKey)
	q.Set("num", strconv.Itoa(query.Count))
	hl := b.language
	if query.Language != "" {
		hl = strings.ToLower(query.Language)
	}
	if hl != "" {
		q.Set("hl", hl)
	}
	req.URL.RawQuery = q.Encode()

	var resp serpAPIResponse
	if err := getSearchJSON(ctx, b.client, req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("serpapi: %s", resp.Error)
	}

	results := make([]SearchResult, 0, len(resp.OrganicResults))
	for _, r := range resp.OrganicResults {
		if len(results) >= query.Count {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Content: r.Snippet})
	}

	b.logger.Debug("serpapi search completed", "query", query.Text, "results", len(results))
	return results, nil
}
