package render

import (
	"reflect"
	"strings"
	"testing"

	"coderunner/internal/execution/backend"
)

var showAll = Visibility{Stdout: true, Stderr: true, Info: true}

func TestRenderPlainStdout(t *testing.T) {
	p := Render(Input{Stdout: []byte("hi\n"), Status: backend.StatusSuccess, Visibility: showAll})
	if p.Content != "hi\n" || len(p.Fields) != 0 || len(p.Files) != 0 {
		t.Fatalf("unexpected presentation %+v", p)
	}
	if p.Status != "Success" {
		t.Fatalf("status = %q", p.Status)
	}
}

func TestRenderInvalidUTF8IsAttached(t *testing.T) {
	bad := []byte{0xff, 0xfe, 'a'}
	p := Render(Input{Stdout: bad, Visibility: showAll})
	if len(p.Files) != 1 || p.Files[0].Name != "stdout.txt" || string(p.Files[0].Content) != string(bad) {
		t.Fatalf("expected stdout attachment, got %+v", p)
	}
	if p.Content != "" {
		t.Fatalf("content must be empty, got %q", p.Content)
	}
}

func TestRenderLineLimit(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		attached bool
	}{
		{name: "eleven short lines", text: strings.Repeat("x\n", 11), attached: false},
		{name: "twelve short lines", text: strings.Repeat("x\n", 12), attached: true},
		{name: "one wrapped line", text: strings.Repeat("y", LineWidth*11), attached: true},
		{name: "one line just under", text: strings.Repeat("y", LineWidth*11-1), attached: false},
		{name: "wide runes count once", text: strings.Repeat("é", LineWidth*10), attached: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Render(Input{Stdout: []byte(tt.text), Visibility: showAll})
			if got := len(p.Files) == 1; got != tt.attached {
				t.Fatalf("attached = %v, want %v (lines %d)", got, tt.attached, displayLines(tt.text))
			}
		})
	}
}

func TestRenderStderrFence(t *testing.T) {
	tests := []struct {
		name   string
		stderr string
		want   string
	}{
		{name: "plain", stderr: "oops", want: "```\n\u200boops```"},
		{name: "three backticks", stderr: "a```b", want: "```\n\u200ba`\u200b`\u200b`b```"},
		{name: "four backticks", stderr: "a````b", want: "```\n\u200ba`\u200b`\u200b`\u200b`b```"},
		{name: "single backticks kept", stderr: "`x` `y`z", want: "```\n\u200b`x` `y`z```"},
		{name: "trailing backtick", stderr: "x`", want: "```\n\u200bx`\u200b```"},
		{name: "trailing pair", stderr: "x``", want: "```\n\u200bx`\u200b`\u200b```"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Render(Input{Stderr: []byte(tt.stderr), Visibility: showAll})
			if p.Content != tt.want {
				t.Fatalf("content = %q, want %q", p.Content, tt.want)
			}
			body := strings.TrimSuffix(strings.TrimPrefix(p.Content, "```"), "```")
			if strings.Contains(body, "``") {
				t.Fatalf("output can close the fence early: %q", p.Content)
			}
		})
	}
}

func TestRenderStderrFollowsStdoutAttachment(t *testing.T) {
	p := Render(Input{
		Stdout:     []byte(strings.Repeat("line\n", 20)),
		Stderr:     []byte("short"),
		Visibility: showAll,
	})
	if len(p.Files) != 2 || p.Files[1].Name != "stderr.txt" {
		t.Fatalf("stderr must be attached when stdout is, got %+v", p.Files)
	}
	if p.Content != "" {
		t.Fatalf("no inline content expected, got %q", p.Content)
	}
}

func TestRenderStructured(t *testing.T) {
	p := Render(Input{
		Stdout:     []byte("out"),
		Stderr:     []byte("err"),
		Status:     backend.StatusFailed,
		Info:       "exit 1",
		Stdin:      "in",
		Options:    []string{"-O2", "a b"},
		Args:       []string{"x"},
		Visibility: showAll,
	})
	var names []string
	for _, f := range p.Fields {
		names = append(names, f.Name)
	}
	want := []string{"Options", "Input", "Arguments", "Info", "stdout", "stderr"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("fields = %v, want %v", names, want)
	}
	if p.Content != "" {
		t.Fatalf("structured presentation has no plain content")
	}
	if v := p.Fields[0].Value; v != "-O2 'a b'" && v != `-O2 a\ b` {
		t.Fatalf("options = %q", v)
	}
}

func TestRenderMetadataAloneIsStructured(t *testing.T) {
	p := Render(Input{Stdout: []byte("out"), Stdin: "in", Visibility: showAll})
	if len(p.Fields) != 2 || p.Fields[0].Name != "Input" || p.Fields[1].Name != "stdout" {
		t.Fatalf("fields = %+v", p.Fields)
	}
}

func TestRenderVisibility(t *testing.T) {
	in := Input{Stdout: []byte("out"), Stderr: []byte("err"), Status: backend.StatusFailed}

	if p := Render(in); !p.IsEmpty() {
		t.Fatalf("nothing visible must be empty, got %+v", p)
	}

	in.Visibility = Visibility{Stderr: true}
	p := Render(in)
	if !strings.Contains(p.Content, "err") || strings.Contains(p.Content, "out") {
		t.Fatalf("only stderr expected, got %+v", p)
	}

	in.Visibility.Stdout = true
	if p := Render(in); len(p.Fields) != 2 {
		t.Fatalf("both streams expected as fields, got %+v", p)
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	in := Input{
		Stdout:     []byte("a\nb\n"),
		Stderr:     []byte("```"),
		Stdin:      "s",
		Visibility: showAll,
	}
	first := Render(in)
	for i := 0; i < 3; i++ {
		if got := Render(in); !reflect.DeepEqual(got, first) {
			t.Fatalf("render %d differs: %+v vs %+v", i, got, first)
		}
	}
	if string(in.Stderr) != "```" {
		t.Fatalf("input mutated")
	}
}

func TestRenderInfoOnly(t *testing.T) {
	p := Render(Input{Status: backend.StatusTimeout, Info: "Execution timed out after 30s.", Visibility: showAll})
	if p.Content != "Execution timed out after 30s." {
		t.Fatalf("content = %q", p.Content)
	}
}

func TestDefaultVisibility(t *testing.T) {
	res := backend.Result{Stdout: []byte("o"), Stderr: []byte("e"), Status: backend.StatusFailed, Info: "boom"}

	if got := DefaultVisibility(res, false); got != (Visibility{Stdout: true, Stderr: true, Info: true}) {
		t.Fatalf("full = %+v", got)
	}
	if got := DefaultVisibility(res, true); got != (Visibility{Info: true}) {
		t.Fatalf("compact failure = %+v", got)
	}
	res.Status = backend.StatusSuccess
	if got := DefaultVisibility(res, true); got != (Visibility{Stdout: true}) {
		t.Fatalf("compact success = %+v", got)
	}
}

func TestRunning(t *testing.T) {
	if p := Running(true); p.Content != RecalculatingText || p.Status != StatusRunning {
		t.Fatalf("running with output = %+v", p)
	}
	if p := Running(false); p.IsEmpty() {
		t.Fatalf("running without output must be visible")
	}
}
