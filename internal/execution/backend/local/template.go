package local

import (
	"fmt"
	"os"
	"strings"

	"coderunner/internal/execution/backend"

	"github.com/kballard/go-shellquote"
	"gopkg.in/yaml.v3"
)

// Template is one language the local runner knows how to start.
type Template struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Extension string `yaml:"extension"`
	// Command is a shell command with {code}, {options}, {args} and {input}
	// placeholders.
	Command string `yaml:"command"`
}

type templateFile struct {
	Languages []Template `yaml:"languages"`
}

// LoadTemplates reads templates from a YAML file.
func LoadTemplates(path string) ([]Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates file failed: %w", err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates a templates document.
func ParseTemplates(data []byte) ([]Template, error) {
	var file templateFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse templates failed: %w", err)
	}
	seen := make(map[string]bool, len(file.Languages))
	for i := range file.Languages {
		tpl := &file.Languages[i]
		tpl.ID = backend.NormalizeID(tpl.ID)
		if tpl.ID == "" {
			return nil, fmt.Errorf("template %d: id is required", i)
		}
		if strings.TrimSpace(tpl.Command) == "" {
			return nil, fmt.Errorf("template %q: command is required", tpl.ID)
		}
		if seen[tpl.ID] {
			return nil, fmt.Errorf("template %q: duplicate id", tpl.ID)
		}
		seen[tpl.ID] = true
		if tpl.Name == "" {
			tpl.Name = tpl.ID
		}
		if tpl.Extension == "" {
			tpl.Extension = backend.GuessExtension(tpl.ID)
		}
		if tpl.Extension == "" {
			tpl.Extension = "txt"
		}
	}
	return file.Languages, nil
}

// Expand fills the placeholders in one pass. Substituted values are never
// rescanned, so code paths or input containing braces are left alone.
func (t Template) Expand(codePath string, attempt backend.Attempt) string {
	r := strings.NewReplacer(
		"{code}", shellquote.Join(codePath),
		"{options}", shellquote.Join(attempt.Options...),
		"{args}", shellquote.Join(attempt.Args...),
		"{input}", shellquote.Join(attempt.Stdin),
	)
	return r.Replace(t.Command)
}
