package usecase

import (
	"skillagent/internal/domain"
)

// DefaultSystemPrompt is used when the caller's conversation has no system message.
const DefaultSystemPrompt = "You are a helpful assistant."

// PromptBuilder turns conversation state into a model request.
type PromptBuilder struct {
	systemPrompt  string
	skillsSection string
	model         string
	maxTokens     int
	temperature   float64
}

// NewPromptBuilder creates a prompt builder. An empty systemPrompt selects
// DefaultSystemPrompt.
func NewPromptBuilder(systemPrompt, model string) *PromptBuilder {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &PromptBuilder{systemPrompt: systemPrompt, model: model}
}

// SetSkillsSection sets the skills instructions appended to the system message.
func (pb *PromptBuilder) SetSkillsSection(section string) {
	pb.skillsSection = section
}

// SetSampling sets the max token and temperature request options.
func (pb *PromptBuilder) SetSampling(maxTokens int, temperature float64) {
	pb.maxTokens = maxTokens
	pb.temperature = temperature
}

// Build assembles a streaming request. The caller's system message is kept
// and extended with the skills section; without one, the configured system
// prompt is prepended. history is not modified.
func (pb *PromptBuilder) Build(history []domain.Message, tools []domain.ToolSchema) domain.ChatRequest {
	messages := make([]domain.Message, 0, len(history)+1)

	rest := history
	system := pb.systemPrompt
	if len(history) > 0 && history[0].Role == domain.RoleSystem {
		system = history[0].Content
		rest = history[1:]
	}
	if pb.skillsSection != "" {
		system += "\n\n" + pb.skillsSection
	}
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: system})
	messages = append(messages, rest...)

	return domain.ChatRequest{
		Model:       pb.model,
		Messages:    messages,
		Tools:       tools,
		MaxTokens:   pb.maxTokens,
		Temperature: pb.temperature,
		Stream:      true,
	}
}
