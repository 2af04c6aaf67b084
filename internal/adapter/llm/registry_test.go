package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillagent/internal/domain"
	"skillagent/internal/infra/config"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&mockProvider{name: "b"}))
	require.NoError(t, reg.Register(&mockProvider{name: "a"}))

	assert.Error(t, reg.Register(&mockProvider{name: "a"}), "duplicate names are rejected")
	assert.Equal(t, []string{"a", "b"}, reg.List())

	p, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", p.Name())

	_, err = reg.Get("missing")
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}

func TestNewRegistryFromConfig(t *testing.T) {
	cfg := config.LLMConfig{
		DefaultProvider: "main",
		Providers: []config.ProviderConfig{
			{Name: "main", Type: "openai", Model: "gpt-4o-mini"},
			{Name: "local", Type: "openai", BaseURL: "http://localhost:11434/v1", Model: "qwen3"},
		},
		CircuitBreaker: config.CircuitBreakerConfig{Enabled: true},
	}

	reg, err := NewRegistryFromConfig(context.Background(), cfg, newTestLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"local", "main"}, reg.List())

	p, err := reg.Get("main")
	require.NoError(t, err)
	assert.IsType(t, &CircuitBreakerProvider{}, p)
}

func TestNewProviderUnknownType(t *testing.T) {
	_, err := NewProvider(context.Background(), config.ProviderConfig{Name: "x", Type: "anthropic"}, config.CircuitBreakerConfig{}, nil)
	assert.Error(t, err)
}

func TestRegistryResolve(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(&mockProvider{name: "main"}))
	require.NoError(t, reg.Register(&mockProvider{name: "backup"}))

	p, err := reg.Resolve(config.LLMConfig{DefaultProvider: "main"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "main", p.Name())

	p, err = reg.Resolve(config.LLMConfig{
		DefaultProvider: "main",
		Failover:        config.FailoverConfig{Enabled: true, Fallbacks: []string{"main", "backup"}},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "main+failover", p.Name())

	_, err = reg.Resolve(config.LLMConfig{DefaultProvider: "ghost"}, nil)
	assert.ErrorIs(t, err, domain.ErrProviderNotFound)
}
