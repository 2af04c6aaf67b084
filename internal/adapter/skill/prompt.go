package skill

import (
	"strings"

	"skillagent/internal/domain"
)

const skillsInstructions = `When the user asks you to perform a task, check whether one of the available skills below can help you complete it more effectively. Skills provide specialized capabilities and domain knowledge.

To use a skill:
1. Read the skill's ` + "`SKILL.md`" + ` file at the given location with the ` + "`load_skill_file`" + ` tool to get its full instructions.
2. Follow those instructions to complete the task.
3. Skills may ship scripts, references and assets that you can access as needed.
4. Run scripts with the ` + "`execute_script`" + ` tool when the skill requires it.

Notes:
- ` + "`load_skill_file`" + ` loads any file in the skill directory, ` + "`SKILL.md`" + ` or otherwise.
- Only use skills that are relevant to the current task.
- Do not load the same file more than once.
- **Skills are not tools. Only call the tools provided to you.**`

// BuildSystemPrompt renders the skills section appended to the system
// prompt. It returns an empty string when there are no skills.
func BuildSystemPrompt(skills []domain.Skill) string {
	if len(skills) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("<agent_skills>\n")
	b.WriteString(skillsInstructions)
	b.WriteString("\n\n")
	b.WriteString(SkillsXML(skills))
	b.WriteString("\n</agent_skills>")
	return b.String()
}

// SkillsXML lists skills as an <available_skills> block.
func SkillsXML(skills []domain.Skill) string {
	lines := []string{"<available_skills>"}
	for _, s := range skills {
		lines = append(lines,
			"  <skill>",
			"    <name>"+escapeXML(s.Name)+"</name>",
			"    <description>"+escapeXML(s.Description)+"</description>",
			"    <location>"+escapeXML(s.Location())+"</location>",
			"  </skill>",
		)
	}
	lines = append(lines, "</available_skills>")
	return strings.Join(lines, "\n")
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeXML(s string) string { return xmlEscaper.Replace(s) }
