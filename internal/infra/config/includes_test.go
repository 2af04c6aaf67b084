package config

import (
	"strings"
	"testing"
)

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "llm.yaml", `
llm:
  providers:
    - name: default
      type: openai
      model: gpt-4o
      api_key: sk-from-include
`)
	path := writeConfig(t, dir, "config.yaml", `
includes:
  - llm.yaml
agent:
  max_iterations: 4
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.LLM.Providers[0].APIKey; got != "sk-from-include" {
		t.Errorf("api_key = %q, want sk-from-include", got)
	}
	if cfg.Agent.MaxIterations != 4 {
		t.Errorf("MaxIterations = %d, want 4", cfg.Agent.MaxIterations)
	}
	if cfg.Includes != nil {
		t.Errorf("Includes = %v, want cleared", cfg.Includes)
	}
}

func TestIncludesMainFileWins(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "agent.yaml", "agent:\n  max_iterations: 99\n  max_parallel_tools: 2\n")
	path := writeConfig(t, dir, "config.yaml", "includes: [agent.yaml]\nagent:\n  max_iterations: 5\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.MaxIterations != 5 {
		t.Errorf("MaxIterations = %d, want main file value 5", cfg.Agent.MaxIterations)
	}
	if cfg.Agent.MaxParallelTools != 2 {
		t.Errorf("MaxParallelTools = %d, want included value 2", cfg.Agent.MaxParallelTools)
	}
}

func TestIncludesGlob(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.part.yaml", "gateway:\n  addr: 127.0.0.1:9100\n")
	writeConfig(t, dir, "b.part.yaml", "logger:\n  level: debug\n")
	path := writeConfig(t, dir, "config.yaml", "includes: ['*.part.yaml']\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Addr != "127.0.0.1:9100" || cfg.Logger.Level != "debug" {
		t.Errorf("gateway=%q logger=%q", cfg.Gateway.Addr, cfg.Logger.Level)
	}
}

func TestIncludesRejectEscapes(t *testing.T) {
	for _, inc := range []string{"../outside.yaml", "/etc/passwd"} {
		dir := t.TempDir()
		path := writeConfig(t, dir, "config.yaml", "includes: ['"+inc+"']\n")

		_, err := Load(path)
		if err == nil {
			t.Errorf("include %q: expected error", inc)
			continue
		}
		if !strings.Contains(err.Error(), "config includes") {
			t.Errorf("include %q: err = %v", inc, err)
		}
	}
}

func TestIncludesCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "includes: [b.yaml]\n")
	writeConfig(t, dir, "b.yaml", "includes: [a.yaml]\n")
	path := writeConfig(t, dir, "config.yaml", "includes: [a.yaml]\n")

	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("err = %v, want circular include", err)
	}
}

func TestIncludesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "config.yaml", "includes: [missing.yaml]\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing include")
	}
}
