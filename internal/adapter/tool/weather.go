package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"skillagent/internal/domain"
	"skillagent/internal/infra/tracer"
)

// WeatherTool is a canned weather lookup used to exercise the tool loop
// without external services.
type WeatherTool struct {
	logger *slog.Logger
}

// NewWeatherTool creates the get_weather tool.
func NewWeatherTool(logger *slog.Logger) *WeatherTool {
	return &WeatherTool{logger: logger}
}

func (t *WeatherTool) Name() string { return "get_weather" }
func (t *WeatherTool) Description() string {
	return "Get the current weather for a location."
}

func (t *WeatherTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"location": {"type": "string", "description": "The city or place to get the weather for"}
			},
			"required": ["location"]
		}`),
	}
}

type weatherParams struct {
	Location string `json:"location"`
}

func (t *WeatherTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return Execute(ctx, "tool.get_weather", t.logger, params,
		func(_ context.Context, span trace.Span, p weatherParams) (any, error) {
			if err := RequireField("location", p.Location); err != nil {
				return nil, InvalidArgs(err)
			}
			span.SetAttributes(tracer.StringAttr("tool.location", p.Location))
			return fmt.Sprintf("The weather of %s is sunny.", p.Location), nil
		},
	)
}
