package tool

import (
	"fmt"
	"log/slog"

	"skillagent/internal/domain"
	"skillagent/internal/infra/config"
)

// Builtins returns the built-in tools enabled by cfg, in a stable order.
func Builtins(cfg config.ToolsConfig, logger *slog.Logger) ([]domain.Tool, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var tools []domain.Tool
	if cfg.WeatherEnabled {
		tools = append(tools, NewWeatherTool(logger))
	}
	if cfg.Search.Enabled {
		backend, err := NewSearchBackend(cfg.Search, logger)
		if err != nil {
			return nil, fmt.Errorf("web_search: %w", err)
		}
		tools = append(tools, NewWebSearchTool(backend, 0, logger))
	}
	return tools, nil
}
