package local

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coderunner/internal/execution/backend"
)

func TestParseTemplates(t *testing.T) {
	data := []byte(`
languages:
  - id: python3
    name: Python 3
    command: python3 {code} {args}
  - id: whitespace
    command: ws {code}
`)
	got, err := ParseTemplates(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("templates = %+v", got)
	}
	if got[0].Extension != "py" || got[0].Name != "Python 3" {
		t.Fatalf("python3 = %+v", got[0])
	}
	if got[1].Extension != "txt" || got[1].Name != "whitespace" {
		t.Fatalf("whitespace = %+v", got[1])
	}
}

func TestParseTemplatesNormalizesIDs(t *testing.T) {
	got, err := ParseTemplates([]byte("languages:\n  - {id: \" Shell_Script \", extension: sh, command: sh {code}}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got[0].ID != "shell-script" || got[0].Name != "shell-script" {
		t.Fatalf("template = %+v", got[0])
	}
}

func TestParseTemplatesErrors(t *testing.T) {
	tests := map[string]string{
		"missing id":                  "languages:\n  - command: x\n",
		"missing command":             "languages:\n  - id: x\n",
		"duplicate":                   "languages:\n  - {id: x, command: a}\n  - {id: x, command: b}\n",
		"duplicate after normalizing": "languages:\n  - {id: Shell_Script, command: a}\n  - {id: shell-script, command: b}\n",
		"bad yaml":                    "languages: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseTemplates([]byte(doc)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadTemplates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "languages.yaml")
	if err := os.WriteFile(path, []byte("languages:\n  - {id: bash, command: bash {code}}\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(got) != 1 || got[0].Extension != "sh" {
		t.Fatalf("templates = %+v", got)
	}
	if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestExpand(t *testing.T) {
	tpl := Template{Command: "run {code} {options} -- {args} < {input}"}
	got := tpl.Expand("/tmp/.code_1.py", backend.Attempt{
		Stdin:   "{code}",
		Options: []string{"-O"},
		Args:    []string{"{options}"},
	})
	if strings.Count(got, "/tmp/.code_1.py") != 1 {
		t.Fatalf("placeholders inside values must not be expanded: %q", got)
	}
	if !strings.HasPrefix(got, "run /tmp/.code_1.py -O -- ") {
		t.Fatalf("unexpected expansion %q", got)
	}
}

func TestExpandEmptyValues(t *testing.T) {
	tpl := Template{Command: "x {options}|{args}|{input}"}
	got := tpl.Expand("f", backend.Attempt{})
	if got != "x ||''" {
		t.Fatalf("got %q", got)
	}
}
