package main

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"skillagent/internal/domain"
)

var (
	colorSuccess = lipgloss.AdaptiveColor{Light: "#2e7d32", Dark: "#66bb6a"}
	colorError   = lipgloss.AdaptiveColor{Light: "#c62828", Dark: "#ef5350"}
	colorInfo    = lipgloss.AdaptiveColor{Light: "#0277bd", Dark: "#4fc3f7"}
	colorMuted   = lipgloss.AdaptiveColor{Light: "#757575", Dark: "#9e9e9e"}

	styleBold    = lipgloss.NewStyle().Bold(true)
	styleSuccess = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(colorInfo)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
)

const maxArgsPreview = 120

// toolLine renders one tool-call progress line for the terminal.
func toolLine(ev domain.AgentEvent) string {
	switch ev.Type {
	case domain.AgentToolCallStarted:
		return styleInfo.Render("→ "+ev.ToolName) + " " + styleMuted.Render(preview(ev.Arguments))
	case domain.AgentToolCallFinished:
		if ev.Result != nil && ev.Result.IsError {
			return styleError.Render("✗ "+ev.ToolName) + " " + styleMuted.Render(string(ev.Result.Kind))
		}
		return styleSuccess.Render("✓ " + ev.ToolName)
	}
	return ""
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= maxArgsPreview {
		return s
	}
	return s[:maxArgsPreview] + "…"
}

// renderMarkdown renders the answer for the terminal, falling back to the
// raw text when the renderer cannot be built.
func renderMarkdown(content string, width int) string {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content + "\n"
	}
	out, err := r.Render(content)
	if err != nil {
		return content + "\n"
	}
	return out
}
