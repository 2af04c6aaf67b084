package tool

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

const bingEndpoint = "https://api.bing.microsoft.com/v7.0/search"

type bingResponse struct {
	WebPages struct {
		Value []struct {
			Name    string `json:"name"`
			URL     string `json:"url"`
			Snippet string `json:"snippet"`
		} `json:"value"`
	} `json:"webPages"`
}

// BingBackend searches the web via the Bing Web Search API.
type BingBackend struct {
	client   *http.Client
	endpoint string
	apiKey   string
	market   string
	logger   *slog.Logger
}

// NewBingBackend creates a Bing search backend.
func NewBingBackend(apiKey, market string, timeout time.Duration, logger *slog.Logger) *BingBackend {
	return &BingBackend{
		client:   &http.Client{Timeout: timeout},
		endpoint: bingEndpoint,
		apiKey:   apiKey,
		market:   market,
		logger:   logger,
	}
}

func (b *BingBackend) Name() string { return "bing" }

func (b *BingBackend) Search(ctx context.Context, query SearchQuery) ([]SearchResult, error) {
	if b.apiKey == "" {
		return nil, fmt.Errorf("no bing API key configured")
	}

	req, err := http.NewRequest(http.MethodGet, b.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query.Text)
	q.Set("count", strconv.Itoa(query.Count))
	q.Set("mkt", marketFor(query.Language, b.market))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Ocp-Apim-Subscription-Key", b.apiKey)

	var resp bingResponse
	if err := getSearchJSON(ctx, b.client, req, &resp); err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(resp.WebPages.Value))
	for _, v := range resp.WebPages.Value {
		if len(results) >= query.Count {
			break
		}
		results = append(results, SearchResult{Title: v.Name, URL: v.URL, Content: v.Snippet})
	}

	b.logger.Debug("bing search completed", "query", query.Text, "results", len(results))
	return results, nil
}
