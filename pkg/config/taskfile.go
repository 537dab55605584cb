package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var frontmatterDelimiter = regexp.MustCompile(`^---\s*$`)

// TaskFile is a task specification: YAML frontmatter carrying metadata plus
// a markdown body stating the research goal. The frontmatter is optional; a
// plain markdown file is a valid task file whose whole content is the goal.
type TaskFile struct {
	Version         string   `yaml:"version"`
	Name            string   `yaml:"name"`
	SuccessCriteria []string `yaml:"success_criteria"`
	VerifyCommand   string   `yaml:"verify_command"`

	Goal        string `yaml:"-"` // markdown body, whitespace-trimmed
	RawMarkdown string `yaml:"-"` // original input for audit
}

// LoadTaskFile reads and parses a task file from disk.
func LoadTaskFile(path string) (*TaskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}
	tf, err := ParseTaskFile(string(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse task file %s: %w", path, err)
	}
	return tf, nil
}

// ParseTaskFile parses task file content into a TaskFile.
func ParseTaskFile(markdown string) (*TaskFile, error) {
	tf := &TaskFile{
		RawMarkdown: markdown,
	}

	frontmatter, body := splitFrontmatter(markdown)

	if frontmatter != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), tf); err != nil {
			return nil, fmt.Errorf("failed to parse YAML frontmatter: %w", err)
		}
	}

	tf.Goal = strings.TrimSpace(body)
	if tf.Goal == "" {
		return nil, fmt.Errorf("task file has no goal text")
	}

	return tf, nil
}

// splitFrontmatter splits markdown into YAML frontmatter and body. Content
// without an opening delimiter is all body.
//
//nolint:gocritic // Separate return values are clearer than a struct here.
func splitFrontmatter(markdown string) (frontmatter string, body string) {
	lines := strings.Split(markdown, "\n")
	if len(lines) < 3 || !frontmatterDelimiter.MatchString(strings.TrimSpace(lines[0])) {
		return "", markdown
	}

	closingIdx := -1
	for i := 1; i < len(lines); i++ {
		if frontmatterDelimiter.MatchString(strings.TrimSpace(lines[i])) {
			closingIdx = i
			break
		}
	}
	if closingIdx == -1 {
		return "", markdown
	}

	return strings.Join(lines[1:closingIdx], "\n"), strings.Join(lines[closingIdx+1:], "\n")
}

// GoalText renders the task as a single goal string for planner prompts,
// folding in success criteria and the verification command when present.
func (t *TaskFile) GoalText() string {
	var b strings.Builder
	b.WriteString(t.Goal)

	if len(t.SuccessCriteria) > 0 {
		b.WriteString("\n\nSuccess criteria:\n")
		for _, c := range t.SuccessCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	if t.VerifyCommand != "" {
		b.WriteString("\nVerification command: ")
		b.WriteString(t.VerifyCommand)
	}

	return strings.TrimRight(b.String(), "\n")
}
