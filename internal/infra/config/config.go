package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Agent    AgentConfig    `yaml:"agent"`
	LLM      LLMConfig      `yaml:"llm"`
	Skills   SkillsConfig   `yaml:"skills"`
	Tools    ToolsConfig    `yaml:"tools"`
	Research ResearchConfig `yaml:"research"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
	Includes []string       `yaml:"includes,omitempty"`
}

// AgentConfig holds agent loop settings.
type AgentConfig struct {
	SystemPrompt     string        `yaml:"system_prompt"`
	MaxIterations    int           `yaml:"max_iterations"`
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	StreamTimeout    time.Duration `yaml:"stream_timeout"`
	ToolTimeout      time.Duration `yaml:"tool_timeout"`
	MaxStreamRetries int           `yaml:"max_stream_retries"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float64       `yaml:"temperature"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	DefaultProvider string               `yaml:"default_provider"`
	Providers       []ProviderConfig     `yaml:"providers"`
	Failover        FailoverConfig       `yaml:"failover"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// FailoverConfig holds model failover settings.
type FailoverConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Fallbacks []string `yaml:"fallbacks"`
}

// CircuitBreakerConfig holds circuit breaker settings for LLM providers.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// PoolConfig holds HTTP connection pool settings for LLM providers.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `yaml:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// ProviderConfig holds settings for a single LLM provider.
type ProviderConfig struct {
	Name        string        `yaml:"name"`
	Type        string        `yaml:"type"` // "openai" or "bedrock"
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Region      string        `yaml:"region,omitempty"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
	RespTimeout time.Duration `yaml:"resp_timeout"`
	Pool        PoolConfig    `yaml:"pool"`
}

// SkillsConfig holds skill discovery settings.
type SkillsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Dirs          []string      `yaml:"dirs"`
	ScriptTimeout time.Duration `yaml:"script_timeout"`
}

// ToolsConfig holds built-in tool settings.
type ToolsConfig struct {
	WeatherEnabled bool         `yaml:"weather_enabled"`
	Search         SearchConfig `yaml:"search"`
	MCPEnabled     bool         `yaml:"mcp_enabled"`
	MCPServers     []MCPServer  `yaml:"mcp_servers,omitempty"`
}

// SearchConfig configures the web_search tool.
type SearchConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // "bing", "serpapi" or "searxng"
	APIKey     string        `yaml:"api_key"`
	SearXNGURL string        `yaml:"searxng_url"`
	Market     string        `yaml:"market"` // e.g. "en-US"; SerpAPI uses the language part
	Timeout    time.Duration `yaml:"timeout"`
}

// ResearchConfig holds research mode settings. Research mode searches with
// the configured search backend, so tools.search must be enabled.
type ResearchConfig struct {
	Enabled            bool          `yaml:"enabled"`
	AnswerOnly         bool          `yaml:"answer_only"`  // agent replies with the bare answer
	ForceSearch        bool          `yaml:"force_search"` // first agent turn must call web_search
	MaxRounds          int           `yaml:"max_rounds"`
	QueriesPerLanguage int           `yaml:"queries_per_language"`
	MinEvidence        int           `yaml:"min_evidence"`
	ResultsPerQuery    int           `yaml:"results_per_query"`
	TraceDir           string        `yaml:"trace_dir"` // empty disables trace files
	Timeout            time.Duration `yaml:"timeout"`
}

// MCPServer configures an MCP server connection. Its tools are exposed as
// mcp_<prefix>_<tool>, where prefix defaults to the server name.
type MCPServer struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Prefix    string            `yaml:"prefix,omitempty"`
	Tools     []string          `yaml:"tools,omitempty"` // allowlist of remote tool names, empty = all
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
}

// GatewayConfig holds HTTP gateway settings.
type GatewayConfig struct {
	Addr         string        `yaml:"addr"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			SystemPrompt:     "You are a helpful assistant.",
			MaxIterations:    10,
			MaxParallelTools: 4,
			StreamTimeout:    2 * time.Minute,
			ToolTimeout:      60 * time.Second,
			MaxStreamRetries: 2,
		},
		LLM: LLMConfig{
			DefaultProvider: "default",
			Providers: []ProviderConfig{{
				Name:    "default",
				Type:    "openai",
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			}},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Skills: SkillsConfig{
			Enabled:       true,
			Dirs:          []string{"./skills"},
			ScriptTimeout: 60 * time.Second,
		},
		Tools: ToolsConfig{
			WeatherEnabled: true,
			Search: SearchConfig{
				Backend:    "bing",
				SearXNGURL: "http://localhost:6060",
				Market:     "en-US",
				Timeout:    15 * time.Second,
			},
		},
		Research: ResearchConfig{
			AnswerOnly:         true,
			ForceSearch:        true,
			MaxRounds:          3,
			QueriesPerLanguage: 8,
			MinEvidence:        4,
			ResultsPerQuery:    8,
			TraceDir:           ".output/traces",
			Timeout:            10 * time.Minute,
		},
		Gateway: GatewayConfig{
			Addr:         ":8000",
			MaxBodyBytes: 1 << 20,
			WriteTimeout: 10 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts secrets.
// A missing file yields the defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return finish(cfg)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
		// Re-apply the main file so it takes precedence over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	return finish(cfg)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("SKILLAGENT_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SKILLAGENT_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SKILLAGENT_AGENT_SYSTEM_PROMPT"); v != "" {
		cfg.Agent.SystemPrompt = v
	}
	if v := os.Getenv("SKILLAGENT_AGENT_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxIterations = n
		}
	}
	if v := os.Getenv("SKILLAGENT_AGENT_MAX_PARALLEL_TOOLS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxParallelTools = n
		}
	}
	if v := os.Getenv("SKILLAGENT_AGENT_STREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Agent.StreamTimeout = d
		}
	}
	if v := os.Getenv("SKILLAGENT_AGENT_TOOL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Agent.ToolTimeout = d
		}
	}
	if v := os.Getenv("SKILLAGENT_LLM_DEFAULT_PROVIDER"); v != "" {
		cfg.LLM.DefaultProvider = v
	}
	if v := os.Getenv("SKILLAGENT_SKILLS_DIRS"); v != "" {
		cfg.Skills.Dirs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SKILLAGENT_SKILLS_SCRIPT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Skills.ScriptTimeout = d
		}
	}
	if v := os.Getenv("SKILLAGENT_TOOLS_SEARCH_ENABLED"); v != "" {
		cfg.Tools.Search.Enabled = v == "true"
	}
	if v := os.Getenv("SKILLAGENT_TOOLS_SEARCH_BACKEND"); v != "" {
		cfg.Tools.Search.Backend = v
	}
	if v := os.Getenv("SKILLAGENT_TOOLS_SEARCH_API_KEY"); v != "" {
		cfg.Tools.Search.APIKey = v
	}
	if v := os.Getenv("SKILLAGENT_TOOLS_SEARXNG_URL"); v != "" {
		cfg.Tools.Search.SearXNGURL = v
	}
	if v := os.Getenv("SKILLAGENT_RESEARCH_ENABLED"); v != "" {
		cfg.Research.Enabled = v == "true"
	}
	if v, ok := os.LookupEnv("SKILLAGENT_RESEARCH_TRACE_DIR"); ok {
		cfg.Research.TraceDir = v
	}
	if v := os.Getenv("SKILLAGENT_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("SKILLAGENT_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SKILLAGENT_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SKILLAGENT_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SKILLAGENT_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}

	// Per-provider overrides: SKILLAGENT_LLM_PROVIDER_<NAME>_{API_KEY,BASE_URL,MODEL}
	for i := range cfg.LLM.Providers {
		p := &cfg.LLM.Providers[i]
		prefix := "SKILLAGENT_LLM_PROVIDER_" + envName(p.Name) + "_"
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			p.BaseURL = v
		}
		if v := os.Getenv(prefix + "MODEL"); v != "" {
			p.Model = v
		}
	}
}

// envName upper-cases a config name and replaces characters that are not
// valid in environment variable names.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// splitAndTrim splits s by sep and trims whitespace from each element,
// dropping empty entries.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
