package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"skillagent/internal/adapter/tool"
	"skillagent/internal/domain"
	"skillagent/internal/infra/tracer"
	"skillagent/internal/security"
)

const (
	// DefaultScriptTimeout bounds execute_script when no timeout is configured.
	DefaultScriptTimeout = 60 * time.Second

	maxScriptOutput = 64 << 10
	scriptWaitDelay = 2 * time.Second
)

// installed is a discovered skill together with the sandbox confining its files.
type installed struct {
	skill   domain.Skill
	sandbox *security.Sandbox
}

// library indexes skills by name for the skill tools.
type library struct {
	byName map[string]installed
	names  []string
}

func newLibrary(skills []domain.Skill, logger *slog.Logger) *library {
	lib := &library{byName: make(map[string]installed, len(skills))}
	for _, s := range skills {
		if _, dup := lib.byName[s.Name]; dup {
			continue
		}
		sb, err := security.NewSandbox(s.Dir)
		if err != nil {
			logger.Warn("skill directory unavailable", "skill", s.Name, "dir", s.Dir, "error", err)
			continue
		}
		lib.byName[s.Name] = installed{skill: s, sandbox: sb}
		lib.names = append(lib.names, s.Name)
	}
	return lib
}

func (l *library) lookup(name string) (installed, *domain.ToolResult) {
	in, ok := l.byName[name]
	if !ok {
		return installed{}, &domain.ToolResult{
			IsError: true,
			Kind:    domain.KindInvalidArguments,
			Content: fmt.Sprintf("Error: Skill '%s' not found.", name),
		}
	}
	return in, nil
}

// schema renders an object schema whose skill_name is restricted to the
// known skills.
func (l *library) schema(extra map[string]any, required ...string) json.RawMessage {
	props := map[string]any{
		"skill_name": map[string]any{
			"type":        "string",
			"enum":        l.names,
			"description": "Name of the skill",
		},
	}
	for k, v := range extra {
		props[k] = v
	}
	raw, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": props,
		"required":   append([]string{"skill_name"}, required...),
	})
	return raw
}

// NewTools returns the load_skill_file and execute_script tools for the
// given skills, or nil when there are none.
func NewTools(skills []domain.Skill, scriptTimeout time.Duration, logger *slog.Logger) []domain.Tool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	lib := newLibrary(skills, logger)
	if len(lib.names) == 0 {
		return nil
	}
	return []domain.Tool{
		&LoadFileTool{lib: lib, logger: logger},
		&ExecuteScriptTool{lib: lib, timeout: scriptTimeout, logger: logger},
	}
}

// LoadFileTool reads a file from inside a skill directory.
type LoadFileTool struct {
	lib    *library
	logger *slog.Logger
}

// NewLoadFileTool creates the load_skill_file tool.
func NewLoadFileTool(skills []domain.Skill, logger *slog.Logger) *LoadFileTool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &LoadFileTool{lib: newLibrary(skills, logger), logger: logger}
}

func (t *LoadFileTool) Name() string { return "load_skill_file" }
func (t *LoadFileTool) Description() string {
	return "Load a file from a skill directory. Defaults to the skill's SKILL.md."
}

func (t *LoadFileTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: t.lib.schema(map[string]any{
			"file_path": map[string]any{
				"type":        "string",
				"description": "Path relative to the skill directory (default: SKILL.md)",
			},
		}),
	}
}

type loadFileParams struct {
	SkillName string `json:"skill_name"`
	FilePath  string `json:"file_path,omitempty"`
}

func (t *LoadFileTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return tool.Execute(ctx, "skill.load_file", t.logger, params,
		func(_ context.Context, span trace.Span, p loadFileParams) (any, error) {
			in, errResult := t.lib.lookup(p.SkillName)
			if errResult != nil {
				return errResult, nil
			}
			if strings.TrimSpace(p.FilePath) == "" {
				p.FilePath = domain.SkillFileName
			}
			span.SetAttributes(
				tracer.StringAttr("skill.name", p.SkillName),
				tracer.StringAttr("skill.file", p.FilePath),
			)

			path, err := in.sandbox.Resolve(p.FilePath)
			if err != nil {
				t.logger.Warn("skill file access denied", "skill", p.SkillName, "file", p.FilePath)
				return &domain.ToolResult{
					IsError: true,
					Kind:    domain.KindInvalidArguments,
					Content: fmt.Sprintf("Error: Access denied. File '%s' is outside the skill directory.", p.FilePath),
				}, nil
			}

			info, err := os.Stat(path)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return &domain.ToolResult{
						IsError: true,
						Kind:    domain.KindExecutionFailed,
						Content: fmt.Sprintf("Error: File '%s' not found in skill '%s'.", p.FilePath, p.SkillName),
					}, nil
				}
				return tool.ErrResult("Error: Failed to load file %s from skill %s: %v", p.FilePath, p.SkillName, err), nil
			}
			if info.IsDir() {
				return tool.ErrResult("Error: Failed to load file %s from skill %s: is a directory", p.FilePath, p.SkillName), nil
			}
			if info.Size() > maxSkillFileSize {
				return tool.ErrResult("Error: Failed to load file %s from skill %s: file too large (%d bytes, max %d)",
					p.FilePath, p.SkillName, info.Size(), maxSkillFileSize), nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return tool.ErrResult("Error: Failed to load file %s from skill %s: %v", p.FilePath, p.SkillName, err), nil
			}
			t.logger.Debug("skill file loaded", "skill", p.SkillName, "file", p.FilePath, "bytes", len(data))
			return string(data), nil
		},
	)
}

// ExecuteScriptTool runs a shell command with a skill directory as its
// working directory.
type ExecuteScriptTool struct {
	lib     *library
	timeout time.Duration
	logger  *slog.Logger
}

// NewExecuteScriptTool creates the execute_script tool. A non-positive
// timeout selects DefaultScriptTimeout.
func NewExecuteScriptTool(skills []domain.Skill, timeout time.Duration, logger *slog.Logger) *ExecuteScriptTool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecuteScriptTool{lib: newLibrary(skills, logger), timeout: timeout, logger: logger}
}

func (t *ExecuteScriptTool) Name() string { return "execute_script" }
func (t *ExecuteScriptTool) Description() string {
	return "Execute a shell command inside a skill directory and return its stdout and stderr."
}

func (t *ExecuteScriptTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters: t.lib.schema(map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "Shell command to run, e.g. 'python scripts/run.py --input data.csv'",
			},
		}, "command"),
	}
}

type executeScriptParams struct {
	SkillName string `json:"skill_name"`
	Command   string `json:"command"`
}

func (t *ExecuteScriptTool) Execute(ctx context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return tool.Execute(ctx, "skill.script", t.logger, params,
		func(ctx context.Context, span trace.Span, p executeScriptParams) (any, error) {
			in, errResult := t.lib.lookup(p.SkillName)
			if errResult != nil {
				return errResult, nil
			}
			if err := tool.RequireField("command", p.Command); err != nil {
				return nil, tool.InvalidArgs(err)
			}
			span.SetAttributes(tracer.StringAttr("skill.name", p.SkillName))

			timeout := t.timeout
			if timeout <= 0 {
				timeout = DefaultScriptTimeout
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			var stdout, stderr bytes.Buffer
			cmd := exec.CommandContext(runCtx, "sh", "-c", p.Command)
			cmd.Dir = in.sandbox.Root()
			cmd.Stdout = &stdout
			cmd.Stderr = &stderr
			cmd.WaitDelay = scriptWaitDelay

			start := time.Now()
			err := cmd.Run()
			elapsed := time.Since(start)
			span.SetAttributes(tracer.DurationAttr("skill.script.duration", elapsed))

			if err != nil {
				var exitErr *exec.ExitError
				switch {
				case ctx.Err() != nil:
					return &domain.ToolResult{
						IsError: true,
						Kind:    domain.KindCancelled,
						Content: "<stdout></stdout><stderr>Error: Execution cancelled.</stderr>",
					}, nil
				case errors.Is(runCtx.Err(), context.DeadlineExceeded):
					t.logger.Warn("skill script timed out", "skill", p.SkillName, "timeout", timeout)
					return &domain.ToolResult{
						IsError: true,
						Kind:    domain.KindExecutionTimeout,
						Content: "<stdout></stdout><stderr>Error: Execution timed out.</stderr>",
					}, nil
				case errors.As(err, &exitErr):
					// A non-zero exit still reports its output to the model.
					span.SetAttributes(tracer.IntAttr("skill.script.exit_code", exitErr.ExitCode()))
					t.logger.Debug("skill script exited non-zero",
						"skill", p.SkillName, "exit_code", exitErr.ExitCode())
				default:
					t.logger.Warn("skill script failed to start", "skill", p.SkillName, "error", err)
					return &domain.ToolResult{
						IsError: true,
						Kind:    domain.KindExecutionFailed,
						Content: fmt.Sprintf("<stdout></stdout><stderr>System Error: %v</stderr>", err),
					}, nil
				}
			}

			t.logger.Debug("skill script finished", "skill", p.SkillName, "duration", elapsed)
			return formatScriptOutput(stdout.String(), stderr.String()), nil
		},
	)
}

func formatScriptOutput(stdout, stderr string) string {
	return fmt.Sprintf("<stdout>\n%s\n</stdout>\n<stderr>\n%s\n</stderr>",
		truncateOutput(strings.TrimSpace(stdout)), truncateOutput(strings.TrimSpace(stderr)))
}

func truncateOutput(s string) string {
	if len(s) <= maxScriptOutput {
		return s
	}
	return s[:maxScriptOutput] + "\n... (output truncated)"
}
