package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateAgent(cfg, ve)
	validateLLM(cfg, ve)
	validateSkills(cfg, ve)
	validateTools(cfg, ve)
	validateResearch(cfg, ve)
	validateGateway(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateAgent(cfg *Config, ve *ValidationError) {
	a := cfg.Agent
	if a.MaxIterations <= 0 {
		ve.Add("agent.max_iterations must be > 0")
	}
	if a.MaxParallelTools <= 0 {
		ve.Add("agent.max_parallel_tools must be > 0")
	}
	if a.StreamTimeout <= 0 {
		ve.Add("agent.stream_timeout must be > 0")
	}
	if a.ToolTimeout <= 0 {
		ve.Add("agent.tool_timeout must be > 0")
	}
	if a.MaxStreamRetries < 0 {
		ve.Add("agent.max_stream_retries must be >= 0")
	}
	if a.Temperature < 0 || a.Temperature > 2 {
		ve.Add("agent.temperature must be between 0 and 2")
	}
}

var validProviderTypes = map[string]bool{
	"openai":  true,
	"bedrock": true,
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.DefaultProvider == "" {
		ve.Add("llm.default_provider must not be empty")
	}
	if len(cfg.LLM.Providers) == 0 {
		ve.Add("llm.providers must contain at least one provider")
		return
	}

	seen := make(map[string]bool)
	for i, p := range cfg.LLM.Providers {
		if p.Name == "" {
			ve.Add("llm.providers[%d].name must not be empty", i)
			continue
		}
		if seen[p.Name] {
			ve.Add("llm.providers[%d]: duplicate provider name %q", i, p.Name)
		}
		seen[p.Name] = true

		if p.Type != "" && !validProviderTypes[p.Type] {
			ve.Add("llm.providers[%d].type %q is invalid (want: openai, bedrock)", i, p.Type)
		}
		if p.Model == "" {
			ve.Add("llm.providers[%d] (%s): model must not be empty", i, p.Name)
		}
		if p.Type == "bedrock" && p.Region == "" {
			ve.Add("llm.providers[%d] (%s): region is required for bedrock provider", i, p.Name)
		}
	}

	if cfg.LLM.DefaultProvider != "" && !seen[cfg.LLM.DefaultProvider] {
		ve.Add("llm.default_provider %q does not match any configured provider", cfg.LLM.DefaultProvider)
	}
	if cfg.LLM.Failover.Enabled {
		for _, fb := range cfg.LLM.Failover.Fallbacks {
			if !seen[fb] {
				ve.Add("llm.failover.fallbacks: unknown provider %q", fb)
			}
		}
	}
	if cb := cfg.LLM.CircuitBreaker; cb.Enabled && cb.Timeout < 0 {
		ve.Add("llm.circuit_breaker.timeout must be >= 0")
	}
}

func validateSkills(cfg *Config, ve *ValidationError) {
	if !cfg.Skills.Enabled {
		return
	}
	if len(cfg.Skills.Dirs) == 0 {
		ve.Add("skills.dirs must not be empty when skills are enabled")
	}
	if cfg.Skills.ScriptTimeout <= 0 {
		ve.Add("skills.script_timeout must be > 0")
	}
}

var validSearchBackends = map[string]bool{
	"bing":    true,
	"serpapi": true,
	"searxng": true,
}

func validateTools(cfg *Config, ve *ValidationError) {
	s := cfg.Tools.Search
	if s.Enabled {
		if !validSearchBackends[s.Backend] {
			ve.Add("tools.search.backend %q is invalid (want: bing, serpapi, searxng)", s.Backend)
		}
		if s.Backend == "searxng" && s.SearXNGURL == "" {
			ve.Add("tools.search.searxng_url is required when backend is searxng")
		}
		if s.Timeout <= 0 {
			ve.Add("tools.search.timeout must be > 0")
		}
	}

	if !cfg.Tools.MCPEnabled {
		return
	}
	names := make(map[string]bool)
	for i, srv := range cfg.Tools.MCPServers {
		if srv.Name == "" {
			ve.Add("tools.mcp_servers[%d].name must not be empty", i)
		} else if names[srv.Name] {
			ve.Add("tools.mcp_servers[%d]: duplicate server name %q", i, srv.Name)
		}
		names[srv.Name] = true

		switch srv.Transport {
		case "stdio":
			if srv.Command == "" {
				ve.Add("tools.mcp_servers[%d] (%s): command is required for stdio transport", i, srv.Name)
			}
		case "http":
			if srv.URL == "" {
				ve.Add("tools.mcp_servers[%d] (%s): url is required for http transport", i, srv.Name)
			}
		default:
			ve.Add("tools.mcp_servers[%d] (%s): transport %q is invalid (want: stdio, http)", i, srv.Name, srv.Transport)
		}
		if srv.Timeout < 0 {
			ve.Add("tools.mcp_servers[%d] (%s): timeout must not be negative", i, srv.Name)
		}
	}
}

func validateResearch(cfg *Config, ve *ValidationError) {
	r := cfg.Research
	if !r.Enabled {
		return
	}
	if !cfg.Tools.Search.Enabled {
		ve.Add("research.enabled requires tools.search.enabled")
	}
	if r.MaxRounds < 1 {
		ve.Add("research.max_rounds must be >= 1")
	}
	if r.QueriesPerLanguage < 1 {
		ve.Add("research.queries_per_language must be >= 1")
	}
	if r.MinEvidence < 1 {
		ve.Add("research.min_evidence must be >= 1")
	}
	if r.ResultsPerQuery < 1 {
		ve.Add("research.results_per_query must be >= 1")
	}
	if r.Timeout <= 0 {
		ve.Add("research.timeout must be > 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	if cfg.Gateway.Addr == "" {
		ve.Add("gateway.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(cfg.Gateway.Addr); err != nil {
		ve.Add("gateway.addr %q is not a valid host:port", cfg.Gateway.Addr)
	}
	if cfg.Gateway.MaxBodyBytes <= 0 {
		ve.Add("gateway.max_body_bytes must be > 0")
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"json": true, "text": true}
	validExporters  = map[string]bool{"noop": true, "stdout": true}
)

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is invalid (want: debug, info, warn, error)", cfg.Logger.Level)
	}
	if !validLogFormats[cfg.Logger.Format] {
		ve.Add("logger.format %q is invalid (want: json, text)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.Enabled && !validExporters[cfg.Tracer.Exporter] {
		ve.Add("tracer.exporter %q is invalid (want: noop, stdout)", cfg.Tracer.Exporter)
	}
}
