package domain

import "path/filepath"

// SkillFileName is the descriptor file every skill directory must contain.
const SkillFileName = "SKILL.md"

// Skill is a capability discovered from a SKILL.md descriptor.
type Skill struct {
	Name          string            `yaml:"name" json:"name"`
	Description   string            `yaml:"description" json:"description"`
	License       string            `yaml:"license,omitempty" json:"license,omitempty"`
	Compatibility string            `yaml:"compatibility,omitempty" json:"compatibility,omitempty"`
	Metadata      map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Dir           string            `yaml:"-" json:"dir"` // absolute skill directory
}

// Location returns the path of the skill's descriptor file.
func (s Skill) Location() string {
	return filepath.Join(s.Dir, SkillFileName)
}
