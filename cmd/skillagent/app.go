package main

import (
	"context"
	"fmt"
	"log/slog"

	"skillagent/internal/adapter/gateway"
	"skillagent/internal/adapter/llm"
	"skillagent/internal/adapter/skill"
	"skillagent/internal/adapter/tool"
	"skillagent/internal/domain"
	"skillagent/internal/infra/config"
	"skillagent/internal/infra/logger"
	"skillagent/internal/infra/tracer"
	"skillagent/internal/usecase"
	"skillagent/internal/usecase/eventbus"
	"skillagent/internal/usecase/research"
)

// app is the wired agent shared by the serve and ask commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	provider domain.LLMProvider
	skills   []domain.Skill
	catalog  *tool.Catalog
	mcp      *tool.MCPToolset // nil when MCP is disabled
	bus      *eventbus.Bus
	agent    *usecase.Agent

	researcher *research.Solver // nil when research mode is off

	closers []func()
}

// loadRuntime reads the config and builds the logger and tracer.
func loadRuntime(ctx context.Context, configPath string) (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", domain.ErrConfigLoad, err)
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		_ = closeLog()
		return nil, nil, nil, fmt.Errorf("init tracer: %w", err)
	}

	cleanup := func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		_ = closeLog()
	}
	return cfg, log, cleanup, nil
}

// newApp wires provider, tools, skills and the agent loop from cfg.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	providers, err := llm.NewRegistryFromConfig(ctx, cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("init llm providers: %w", err)
	}
	a.provider, err = providers.Resolve(cfg.LLM, log)
	if err != nil {
		return nil, fmt.Errorf("resolve llm provider: %w", err)
	}

	if cfg.Skills.Enabled {
		a.skills, err = skill.Discover(cfg.Skills.Dirs, log)
		if err != nil {
			return nil, fmt.Errorf("discover skills: %w", err)
		}
	}

	a.catalog, err = a.buildCatalog(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	systemPrompt, firstTool := agentProfile(cfg)
	prompt := usecase.NewPromptBuilder(systemPrompt, defaultModel(cfg.LLM))
	prompt.SetSkillsSection(skill.BuildSystemPrompt(a.skills))
	prompt.SetSampling(cfg.Agent.MaxTokens, cfg.Agent.Temperature)

	a.bus = eventbus.New(log)
	a.closers = append(a.closers, a.bus.Close)

	a.agent = usecase.NewAgent(usecase.AgentDeps{
		LLM:              a.provider,
		Tools:            a.catalog,
		Prompt:           prompt,
		Logger:           log,
		Bus:              a.bus,
		ErrorClassifier:  usecase.NewErrorClassifier(),
		MaxIterations:    cfg.Agent.MaxIterations,
		MaxParallelTools: cfg.Agent.MaxParallelTools,
		StreamTimeout:    cfg.Agent.StreamTimeout,
		ToolTimeout:      cfg.Agent.ToolTimeout,
		MaxStreamRetries: cfg.Agent.MaxStreamRetries,
		FirstTurnTool:    firstTool,
	})

	if cfg.Research.Enabled {
		a.researcher, err = a.buildResearcher()
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	log.Info("agent ready",
		"provider", a.provider.Name(),
		"tools", a.catalog.Len(),
		"skills", len(a.skills),
		"research", a.researcher != nil,
	)
	return a, nil
}

// buildCatalog registers the built-in tools, the skill tools and any MCP
// tools, in that order.
func (a *app) buildCatalog(ctx context.Context) (*tool.Catalog, error) {
	reg := tool.NewRegistry(a.logger)

	builtins, err := tool.Builtins(a.cfg.Tools, a.logger)
	if err != nil {
		return nil, err
	}
	if err := reg.RegisterAll(builtins...); err != nil {
		return nil, err
	}

	if err := reg.RegisterAll(skill.NewTools(a.skills, a.cfg.Skills.ScriptTimeout, a.logger)...); err != nil {
		return nil, err
	}

	if a.cfg.Tools.MCPEnabled && len(a.cfg.Tools.MCPServers) > 0 {
		a.mcp = tool.ConnectMCP(ctx, a.cfg.Tools.MCPServers, a.logger)
		a.closers = append(a.closers, a.mcp.Close)
		for _, t := range a.mcp.Tools() {
			if err := reg.Register(t); err != nil {
				a.logger.Warn("skipping mcp tool", "tool", t.Name(), "error", err)
			}
		}
	}

	return reg.Catalog(), nil
}

// agentProfile returns the agent's system prompt and the tool its first
// turn must call. Research mode can switch the agent to bare answers
// backed by at least one web search.
func agentProfile(cfg *config.Config) (systemPrompt, firstTool string) {
	systemPrompt = cfg.Agent.SystemPrompt
	if !cfg.Research.Enabled {
		return systemPrompt, ""
	}
	if cfg.Research.AnswerOnly {
		systemPrompt = research.SystemPrompt
	}
	if cfg.Research.ForceSearch {
		firstTool = "web_search"
	}
	return systemPrompt, firstTool
}

// buildResearcher wires the research solver to its own search backend.
func (a *app) buildResearcher() (*research.Solver, error) {
	backend, err := tool.NewSearchBackend(a.cfg.Tools.Search, a.logger)
	if err != nil {
		return nil, fmt.Errorf("research search backend: %w", err)
	}
	rc := a.cfg.Research
	return research.NewSolver(a.provider, tool.NewEvidenceSearcher(backend), a.logger.With("component", "research"), research.Options{
		Model:              defaultModel(a.cfg.LLM),
		MaxRounds:          rc.MaxRounds,
		QueriesPerLanguage: rc.QueriesPerLanguage,
		MinEvidence:        rc.MinEvidence,
		ResultsPerQuery:    rc.ResultsPerQuery,
		TraceDir:           rc.TraceDir,
		Timeout:            rc.Timeout,
	}), nil
}

// researcherFor returns the gateway's research handler dependency, nil
// when research mode is off.
func (a *app) researcherFor() gateway.Researcher {
	if a.researcher == nil {
		return nil
	}
	return a.researcher
}

// Close releases MCP connections and drains the event bus, newest first.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// toolServers reports the MCP servers for the status endpoint.
func (a *app) toolServers() []gateway.ToolServerStatus {
	if a.mcp == nil {
		return nil
	}
	var out []gateway.ToolServerStatus
	for _, st := range a.mcp.Status() {
		ts := gateway.ToolServerStatus{Name: st.Name, Transport: st.Transport, Tools: st.Tools}
		if st.Err != nil {
			ts.Error = st.Err.Error()
		}
		out = append(out, ts)
	}
	return out
}

func defaultModel(cfg config.LLMConfig) string {
	for _, pc := range cfg.Providers {
		if pc.Name == cfg.DefaultProvider {
			return pc.Model
		}
	}
	return ""
}
