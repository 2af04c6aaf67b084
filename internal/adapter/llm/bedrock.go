package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"go.opentelemetry.io/otel/trace"

	"skillagent/internal/domain"
	"skillagent/internal/infra/config"
	"skillagent/internal/infra/tracer"
)

// defaultBedrockMaxTokens is sent when the request leaves MaxTokens unset;
// the Converse API requires an explicit value for most models.
const defaultBedrockMaxTokens = 4096

// bedrockEventStream is the subset of the Converse event stream the provider
// reads. *bedrockruntime.ConverseStreamEventStream satisfies it.
type bedrockEventStream interface {
	Events() <-chan types.ConverseStreamOutput
	Close() error
	Err() error
}

// bedrockStreamOpener starts a ConverseStream call.
type bedrockStreamOpener func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (bedrockEventStream, error)

// BedrockProvider implements domain.LLMProvider via the AWS Bedrock
// ConverseStream API.
type BedrockProvider struct {
	name   string
	model  string
	open   bedrockStreamOpener
	logger *slog.Logger
}

// NewBedrockProvider creates a Bedrock provider using the default AWS credential chain.
func NewBedrockProvider(ctx context.Context, cfg config.ProviderConfig, logger *slog.Logger) (*BedrockProvider, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := bedrockruntime.NewFromConfig(awsCfg)

	open := func(ctx context.Context, in *bedrockruntime.ConverseStreamInput) (bedrockEventStream, error) {
		out, err := client.ConverseStream(ctx, in)
		if err != nil {
			return nil, err
		}
		return out.GetStream(), nil
	}
	return newBedrockProvider(cfg.Name, cfg.Model, open, logger), nil
}

func newBedrockProvider(name, model string, open bedrockStreamOpener, logger *slog.Logger) *BedrockProvider {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BedrockProvider{
		name:   name,
		model:  model,
		open:   open,
		logger: logger,
	}
}

// Name implements domain.LLMProvider.
func (p *BedrockProvider) Name() string { return p.name }

// ChatStream implements domain.LLMProvider.
func (p *BedrockProvider) ChatStream(ctx context.Context, req domain.ChatRequest) (<-chan domain.StreamFragment, error) {
	if req.Model == "" {
		req.Model = p.model
	}

	ctx, span := tracer.StartSpan(ctx, "llm.chat_stream",
		trace.WithAttributes(
			tracer.StringAttr("llm.provider", p.name),
			tracer.StringAttr("llm.model", req.Model),
		),
	)

	stream, err := p.open(ctx, toBedrockConverseStreamInput(req))
	if err != nil {
		err = mapBedrockError(err)
		tracer.RecordError(span, err)
		span.End()
		return nil, err
	}

	ch := make(chan domain.StreamFragment, 16)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(f domain.StreamFragment) bool {
			select {
			case ch <- f:
				return true
			case <-ctx.Done():
				return false
			}
		}

		stopped := false
		for evt := range stream.Events() {
			frag, stop := processBedrockStreamEvent(evt)
			if frag != nil && !send(*frag) {
				return
			}
			if stop {
				stopped = true
			}
		}

		if ctx.Err() != nil {
			return
		}
		if err := stream.Err(); err != nil {
			send(domain.StreamFragment{Err: fmt.Errorf("%w: %w", domain.ErrStreamInterrupted, mapBedrockError(err))})
			return
		}
		if !stopped {
			send(domain.StreamFragment{Err: fmt.Errorf("%w: stream ended before messageStop", domain.ErrStreamInterrupted)})
		}
	}()

	return observeStream(ctx, ch, span, p.logger, p.name, req.Model), nil
}

// --- Bedrock request conversion ---

func toBedrockConverseStreamInput(req domain.ChatRequest) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(req.Model),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultBedrockMaxTokens
	}
	input.InferenceConfig = &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if req.Temperature > 0 {
		input.InferenceConfig.Temperature = aws.Float32(float32(req.Temperature))
	}

	for _, m := range req.Messages {
		if m.Role == domain.RoleSystem {
			input.System = append(input.System, &types.SystemContentBlockMemberText{Value: m.Content})
			continue
		}

		msg := toBedrockMessage(m)
		if msg == nil {
			continue
		}
		// Converse requires alternating roles: consecutive tool results
		// travel in a single user message.
		if n := len(input.Messages); n > 0 && input.Messages[n-1].Role == msg.Role {
			input.Messages[n-1].Content = append(input.Messages[n-1].Content, msg.Content...)
			continue
		}
		input.Messages = append(input.Messages, *msg)
	}

	if len(req.Tools) > 0 {
		input.ToolConfig = toBedrockToolConfig(req.Tools)
		if req.ToolChoice != "" && req.HasTool(req.ToolChoice) {
			input.ToolConfig.ToolChoice = &types.ToolChoiceMemberTool{
				Value: types.SpecificToolChoice{Name: aws.String(req.ToolChoice)},
			}
		}
	}

	return input
}

func toBedrockMessage(m domain.Message) *types.Message {
	msg := &types.Message{}

	switch m.Role {
	case domain.RoleTool:
		msg.Role = types.ConversationRoleUser
		msg.Content = []types.ContentBlock{
			&types.ContentBlockMemberToolResult{
				Value: types.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: m.Content},
					},
				},
			},
		}

	case domain.RoleAssistant:
		msg.Role = types.ConversationRoleAssistant
		if m.Content != "" {
			msg.Content = append(msg.Content, &types.ContentBlockMemberText{Value: m.Content})
		}
		for _, tc := range m.ToolCalls {
			var inputDoc map[string]any
			if tc.Arguments != "" {
				// Malformed arguments were already reported to the model
				// as a tool error; replay them as an empty object.
				_ = json.Unmarshal([]byte(tc.Arguments), &inputDoc)
			}
			if inputDoc == nil {
				inputDoc = map[string]any{}
			}
			msg.Content = append(msg.Content, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(tc.ID),
				Name:      aws.String(tc.Name),
				Input:     document.NewLazyDocument(inputDoc),
			}})
		}
		if len(msg.Content) == 0 {
			return nil
		}

	case domain.RoleUser:
		msg.Role = types.ConversationRoleUser
		msg.Content = []types.ContentBlock{
			&types.ContentBlockMemberText{Value: m.Content},
		}

	default:
		return nil
	}

	return msg
}

func toBedrockToolConfig(tools []domain.ToolSchema) *types.ToolConfiguration {
	bedrockTools := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		if len(t.Parameters) > 0 {
			_ = json.Unmarshal(t.Parameters, &schema)
		}
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}

		bedrockTools = append(bedrockTools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schema),
				},
			},
		})
	}
	return &types.ToolConfiguration{Tools: bedrockTools}
}

// processBedrockStreamEvent converts one Converse stream event. stop reports
// the messageStop event that ends the model turn.
func processBedrockStreamEvent(evt types.ConverseStreamOutput) (frag *domain.StreamFragment, stop bool) {
	switch e := evt.(type) {
	case *types.ConverseStreamOutputMemberContentBlockStart:
		if start, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			return &domain.StreamFragment{ToolCall: &domain.ToolCallDelta{
				Index: int(aws.ToInt32(e.Value.ContentBlockIndex)),
				ID:    aws.ToString(start.Value.ToolUseId),
				Name:  aws.ToString(start.Value.Name),
			}}, false
		}
		return nil, false

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			return &domain.StreamFragment{Text: d.Value}, false
		case *types.ContentBlockDeltaMemberToolUse:
			return &domain.StreamFragment{ToolCall: &domain.ToolCallDelta{
				Index:     int(aws.ToInt32(e.Value.ContentBlockIndex)),
				Arguments: aws.ToString(d.Value.Input),
			}}, false
		}
		return nil, false

	case *types.ConverseStreamOutputMemberMetadata:
		if u := e.Value.Usage; u != nil {
			in, out := int(aws.ToInt32(u.InputTokens)), int(aws.ToInt32(u.OutputTokens))
			return &domain.StreamFragment{Usage: &domain.Usage{
				PromptTokens:     in,
				CompletionTokens: out,
				TotalTokens:      in + out,
			}}, false
		}
		return nil, false

	case *types.ConverseStreamOutputMemberMessageStop:
		return nil, true

	default:
		return nil, false
	}
}

// --- Error mapping ---

func mapBedrockError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); {
		case code == "ThrottlingException" || code == "TooManyRequestsException":
			return fmt.Errorf("%w: %s", domain.ErrRateLimit, msg)
		case code == "AccessDeniedException" || code == "UnrecognizedClientException":
			return fmt.Errorf("%w: %s", domain.ErrAuthInvalid, msg)
		case code == "ValidationException" && strings.Contains(msg, "too long"):
			return fmt.Errorf("%w: %s", domain.ErrContextOverflow, msg)
		case code == "ModelNotReadyException" || code == "ServiceUnavailableException" ||
			code == "InternalServerException" || code == "ModelStreamErrorException":
			return fmt.Errorf("%w: %s", domain.ErrProviderError, msg)
		}
	}

	return domain.WrapOp("bedrock", err)
}
