package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const maxIncludeDepth = 10

// processIncludes overlays the files named by cfg.Includes onto cfg. Patterns
// are resolved against baseDir, may contain globs, and must stay inside
// baseDir. visited guards against include cycles.
func processIncludes(cfg *Config, baseDir string, visited map[string]bool, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("config includes: max depth %d exceeded", maxIncludeDepth)
	}

	patterns := cfg.Includes
	cfg.Includes = nil

	for _, pattern := range patterns {
		paths, err := resolveInclude(pattern, baseDir)
		if err != nil {
			return err
		}
		for _, p := range paths {
			if visited[p] {
				return fmt.Errorf("config includes: circular include detected for %q", p)
			}
			visited[p] = true

			if err := overlayFile(cfg, p); err != nil {
				return err
			}
			if len(cfg.Includes) > 0 {
				if err := processIncludes(cfg, filepath.Dir(p), visited, depth+1); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// resolveInclude returns the absolute paths matched by pattern. A literal
// path that does not exist is returned as-is so the read reports it.
func resolveInclude(pattern, baseDir string) ([]string, error) {
	if filepath.IsAbs(pattern) {
		return nil, fmt.Errorf("config includes: %q must be relative to the config directory", pattern)
	}
	if !filepath.IsLocal(pattern) {
		return nil, fmt.Errorf("config includes: path %q escapes config directory", pattern)
	}

	full := filepath.Join(baseDir, pattern)
	matches, err := filepath.Glob(full)
	if err != nil {
		return nil, fmt.Errorf("config includes: glob %q: %w", pattern, err)
	}
	if len(matches) == 0 && !hasMeta(pattern) {
		matches = []string{full}
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, fmt.Errorf("config includes: abs path %q: %w", m, err)
		}
		out = append(out, abs)
	}
	return out, nil
}

func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[':
			return true
		}
	}
	return false
}

func overlayFile(cfg *Config, path string) error {
	if err := validatePermissions(path); err != nil {
		return fmt.Errorf("config includes: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config includes: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config includes: parse %q: %w", path, err)
	}
	return nil
}
