// Package render turns a stored execution result into a presentation.
package render

import (
	"strings"
	"unicode/utf8"

	"coderunner/internal/execution/backend"

	"github.com/kballard/go-shellquote"
)

const (
	// LineWidth is the column at which long lines wrap.
	LineWidth = 90
	// MaxLines is the most display lines shown inline.
	MaxLines = 11

	fence         = "```"
	zeroWidth     = "\u200b"
	StatusRunning = "Running"

	// RecalculatingText replaces a stale output while a resubmission runs.
	RecalculatingText = "Message edited. Recalculating..."
	RunningText       = "Running..."
)

// Visibility selects which parts of a result are shown.
type Visibility struct {
	Stdout bool `json:"stdout"`
	Stderr bool `json:"stderr"`
	Info   bool `json:"info"`
}

// Input is everything the renderer needs. It is never modified.
type Input struct {
	Stdout     []byte
	Stderr     []byte
	Status     backend.Status
	Info       string
	Stdin      string
	Options    []string
	Args       []string
	Visibility Visibility
}

// Field is one named entry of a structured presentation.
type Field struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// File is an attachment.
type File struct {
	Name    string `json:"name"`
	Content []byte `json:"content,omitempty"`
	// Key points at offloaded content in object storage.
	Key string `json:"key,omitempty"`
}

// Presentation is the output form of a result.
type Presentation struct {
	Status  string  `json:"status,omitempty"`
	Content string  `json:"content,omitempty"`
	Fields  []Field `json:"fields,omitempty"`
	Files   []File  `json:"files,omitempty"`
}

// IsEmpty reports whether there is nothing to show.
func (p Presentation) IsEmpty() bool {
	return strings.TrimSpace(p.Content) == "" && len(p.Fields) == 0 && len(p.Files) == 0
}

// Running is shown while an attempt takes longer than the indicator delay.
// An existing output is blanked so a stale result is not mistaken for the new one.
func Running(hasOutput bool) Presentation {
	if hasOutput {
		return Presentation{Status: StatusRunning, Content: RecalculatingText}
	}
	return Presentation{Status: StatusRunning, Content: RunningText}
}

// DefaultVisibility is the visibility a fresh result starts with. In compact
// mode stdout is only shown on success and stderr stays hidden until toggled.
func DefaultVisibility(res backend.Result, compact bool) Visibility {
	v := Visibility{
		Stdout: len(res.Stdout) > 0,
		Stderr: len(res.Stderr) > 0,
		Info:   res.Status != backend.StatusSuccess && res.Info != "",
	}
	if compact {
		v.Stdout = v.Stdout && res.Status == backend.StatusSuccess
		v.Stderr = false
	}
	return v
}

// Render derives the full presentation from in.
func Render(in Input) Presentation {
	var texts []Field
	var files []File

	if in.Visibility.Stdout && len(in.Stdout) > 0 {
		if text, ok := inline(in.Stdout, false); ok {
			texts = append(texts, Field{Name: "stdout", Value: text})
		} else {
			files = append(files, File{Name: "stdout.txt", Content: in.Stdout})
		}
	}
	if in.Visibility.Stderr && len(in.Stderr) > 0 {
		text, ok := inline(in.Stderr, true)
		if ok && len(files) == 0 {
			texts = append(texts, Field{Name: "stderr", Value: text})
		} else {
			files = append(files, File{Name: "stderr.txt", Content: in.Stderr})
		}
	}
	info := ""
	if in.Visibility.Info {
		info = strings.TrimSpace(in.Info)
	}

	p := Presentation{Status: string(in.Status), Files: files}
	structured := len(texts) == 2 || in.Stdin != "" || len(in.Options) > 0 || len(in.Args) > 0 || (info != "" && len(texts) > 0)
	switch {
	case structured:
		if len(in.Options) > 0 {
			p.Fields = append(p.Fields, Field{Name: "Options", Value: shellquote.Join(in.Options...)})
		}
		if in.Stdin != "" {
			p.Fields = append(p.Fields, Field{Name: "Input", Value: in.Stdin})
		}
		if len(in.Args) > 0 {
			p.Fields = append(p.Fields, Field{Name: "Arguments", Value: shellquote.Join(in.Args...)})
		}
		if info != "" {
			p.Fields = append(p.Fields, Field{Name: "Info", Value: info})
		}
		p.Fields = append(p.Fields, texts...)
	case len(texts) == 1:
		p.Content = texts[0].Value
	case info != "":
		p.Content = info
	}
	return p
}

// inline returns the display text of b, or false when it must be attached.
func inline(b []byte, codeblock bool) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	text := string(b)
	if displayLines(text) > MaxLines {
		return "", false
	}
	if codeblock {
		text = fence + "\n" + zeroWidth + breakFences(text) + fence
	}
	return text, true
}

// breakFences separates every pair of adjacent backticks so no run of three
// survives, including one formed with the closing fence.
func breakFences(text string) string {
	if !strings.Contains(text, "`") {
		return text
	}
	var b strings.Builder
	b.Grow(len(text) + len(zeroWidth))
	for i := 0; i < len(text); i++ {
		if text[i] == '`' && i > 0 && text[i-1] == '`' {
			b.WriteString(zeroWidth)
		}
		b.WriteByte(text[i])
	}
	if strings.HasSuffix(text, "`") {
		b.WriteString(zeroWidth)
	}
	return b.String()
}

// displayLines counts lines as they appear once wrapped at LineWidth.
func displayLines(text string) int {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return 0
	}
	n := 0
	for _, line := range strings.Split(text, "\n") {
		n += 1 + utf8.RuneCountInString(line)/LineWidth
	}
	return n
}
