package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillagent/internal/domain"
)

// mockProvider is a scripted domain.LLMProvider.
type mockProvider struct {
	name   string
	calls  int
	stream func(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamFragment, error)
}

func (m *mockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamFragment, error) {
	m.calls++
	if m.stream != nil {
		return m.stream(ctx, req)
	}
	return fragments(domain.StreamFragment{Text: m.name}), nil
}

func (m *mockProvider) Name() string { return m.name }

func fragments(fs ...domain.StreamFragment) <-chan domain.StreamFragment {
	ch := make(chan domain.StreamFragment, len(fs))
	for _, f := range fs {
		ch <- f
	}
	close(ch)
	return ch
}

func failing(name string, err error) *mockProvider {
	return &mockProvider{name: name, stream: func(context.Context, domain.ChatRequest) (<-chan domain.StreamFragment, error) {
		return nil, err
	}}
}

func TestFailoverPrimarySuccess(t *testing.T) {
	primary := &mockProvider{name: "primary"}
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(primary, []domain.LLMProvider{fallback}, newTestLogger())

	ch, err := f.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "primary", collect(ch)[0].Text)
	assert.Equal(t, 0, fallback.calls)
}

func TestFailoverPrimaryFailFallbackSuccess(t *testing.T) {
	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(failing("primary", domain.ErrProviderError), []domain.LLMProvider{fallback}, newTestLogger())

	ch, err := f.ChatStream(context.Background(), domain.ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", collect(ch)[0].Text)
}

func TestFailoverAllFail(t *testing.T) {
	f := NewFailoverProvider(
		failing("a", domain.ErrRateLimit),
		[]domain.LLMProvider{failing("b", errors.New("boom")), failing("c", domain.ErrAuthInvalid)},
		newTestLogger(),
	)

	_, err := f.ChatStream(context.Background(), domain.ChatRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all providers failed")
	assert.Contains(t, err.Error(), "a: rate limit exceeded")
	assert.Contains(t, err.Error(), "b: boom")
	assert.ErrorIs(t, err, domain.ErrRateLimit)
	assert.ErrorIs(t, err, domain.ErrAuthInvalid)
}

func TestFailoverStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fallback := &mockProvider{name: "fallback"}
	f := NewFailoverProvider(failing("primary", context.Canceled), []domain.LLMProvider{fallback}, newTestLogger())

	_, err := f.ChatStream(ctx, domain.ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fallback.calls)
}

func TestFailoverName(t *testing.T) {
	f := NewFailoverProvider(&mockProvider{name: "openai"}, nil, nil)
	assert.Equal(t, "openai+failover", f.Name())
}
