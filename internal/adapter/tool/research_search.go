package tool

import (
	"context"

	"skillagent/internal/usecase/research"
)

// EvidenceSearcher serves research queries from a SearchBackend.
type EvidenceSearcher struct {
	backend SearchBackend
}

// NewEvidenceSearcher wraps backend for the research solver.
func NewEvidenceSearcher(backend SearchBackend) *EvidenceSearcher {
	return &EvidenceSearcher{backend: backend}
}

// Search runs one query in language and returns the results as evidence.
func (s *EvidenceSearcher) Search(ctx context.Context, query, language string, count int) ([]research.Evidence, error) {
	results, err := s.backend.Search(ctx, SearchQuery{
		Text:     query,
		Count:    clampSearchCount(count),
		Language: language,
	})
	if err != nil {
		return nil, err
	}

	out := make([]research.Evidence, 0, len(results))
	for _, r := range results {
		out = append(out, research.Evidence{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	return out, nil
}
