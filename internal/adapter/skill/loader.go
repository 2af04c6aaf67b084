package skill

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"skillagent/internal/domain"
)

// maxSkillFileSize is the maximum allowed size for a SKILL.md file (1 MiB).
const maxSkillFileSize = 1 << 20

var (
	skillNamePattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	frontmatterRe    = regexp.MustCompile(`(?s)^---[ \t]*\r?\n(.*?)\r?\n---`)
)

// frontmatter mirrors the YAML header of a SKILL.md file.
type frontmatter struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	License       string            `yaml:"license"`
	Compatibility string            `yaml:"compatibility"`
	Metadata      map[string]string `yaml:"metadata"`
}

// Discover scans each root for immediate subdirectories holding a SKILL.md
// and returns the valid skills in directory order. Missing roots and invalid
// skills are logged and skipped; on duplicate names the first one wins.
func Discover(dirs []string, logger *slog.Logger) ([]domain.Skill, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var skills []domain.Skill
	seen := make(map[string]string)

	for _, root := range dirs {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("skills directory does not exist", "dir", root)
				continue
			}
			return nil, fmt.Errorf("read skills dir %s: %w", root, err)
		}

		for _, entry := range entries {
			if !isDirEntry(root, entry) {
				continue
			}
			dir := filepath.Join(root, entry.Name())
			path := filepath.Join(dir, domain.SkillFileName)
			if _, err := os.Stat(path); err != nil {
				continue
			}

			skill, err := LoadSkill(dir)
			if err != nil {
				logger.Warn("skipping invalid skill", "path", path, "error", err)
				continue
			}
			if prev, dup := seen[skill.Name]; dup {
				logger.Warn("duplicate skill name, keeping first",
					"skill", skill.Name, "kept", prev, "skipped", skill.Dir)
				continue
			}
			seen[skill.Name] = skill.Dir
			skills = append(skills, skill)
			logger.Debug("skill discovered", "skill", skill.Name, "dir", skill.Dir)
		}
	}

	return skills, nil
}

// LoadSkill parses the SKILL.md inside dir. The returned skill's Dir is
// absolute with symlinks resolved.
func LoadSkill(dir string) (domain.Skill, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return domain.Skill{}, fmt.Errorf("resolve skill dir: %w", err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return domain.Skill{}, fmt.Errorf("resolve skill dir: %w", err)
	}

	path := filepath.Join(abs, domain.SkillFileName)
	info, err := os.Stat(path)
	if err != nil {
		return domain.Skill{}, fmt.Errorf("stat %s: %w", domain.SkillFileName, err)
	}
	if info.Size() > maxSkillFileSize {
		return domain.Skill{}, domain.NewDomainError("LoadSkill", domain.ErrInvalidSkill,
			fmt.Sprintf("%s too large (%d bytes, max %d)", path, info.Size(), maxSkillFileSize))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Skill{}, fmt.Errorf("read %s: %w", path, err)
	}

	fm, err := parseFrontmatter(data)
	if err != nil {
		return domain.Skill{}, err
	}

	return domain.Skill{
		Name:          fm.Name,
		Description:   fm.Description,
		License:       fm.License,
		Compatibility: fm.Compatibility,
		Metadata:      fm.Metadata,
		Dir:           abs,
	}, nil
}

// parseFrontmatter extracts and validates the YAML header of a SKILL.md.
func parseFrontmatter(data []byte) (frontmatter, error) {
	data = bytes.TrimPrefix(data, []byte("\uFEFF"))

	m := frontmatterRe.FindSubmatch(data)
	if m == nil {
		return frontmatter{}, domain.NewDomainError("parseFrontmatter", domain.ErrInvalidSkill, "missing YAML frontmatter")
	}

	var fm frontmatter
	if err := yaml.Unmarshal(m[1], &fm); err != nil {
		return frontmatter{}, domain.NewDomainError("parseFrontmatter", domain.ErrInvalidSkill,
			fmt.Sprintf("invalid YAML frontmatter: %v", err))
	}

	switch {
	case fm.Name == "":
		return frontmatter{}, domain.NewDomainError("parseFrontmatter", domain.ErrInvalidSkill, "name is required")
	case !skillNamePattern.MatchString(fm.Name):
		return frontmatter{}, domain.NewDomainError("parseFrontmatter", domain.ErrInvalidSkill,
			fmt.Sprintf("invalid name %q: use lowercase letters, digits and single hyphens", fm.Name))
	case fm.Description == "":
		return frontmatter{}, domain.NewDomainError("parseFrontmatter", domain.ErrInvalidSkill, "description is required")
	}
	return fm, nil
}

// isDirEntry reports whether entry is a directory, following symlinks.
func isDirEntry(root string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(filepath.Join(root, entry.Name()))
	return err == nil && info.IsDir()
}
