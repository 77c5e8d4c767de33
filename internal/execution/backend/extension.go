package backend

import "strings"

var extensionByFamily = map[string]string{
	"apl":        "apl",
	"assembly":   "asm",
	"bash":       "sh",
	"brainfuck":  "bf",
	"c":          "c",
	"clojure":    "clj",
	"cpp":        "cpp",
	"crystal":    "cr",
	"cs":         "cs",
	"fsharp":     "fs",
	"go":         "go",
	"haskell":    "hs",
	"java":       "java",
	"javascript": "js",
	"julia":      "jl",
	"kotlin":     "kt",
	"lua":        "lua",
	"objective":  "m",
	"ocaml":      "ml",
	"perl5":      "pl",
	"php":        "php",
	"python":     "py",
	"python2":    "py",
	"python3":    "py",
	"r":          "r",
	"ruby":       "rb",
	"rust":       "rs",
	"scala":      "scala",
	"swift":      "swift",
	"typescript": "ts",
	"vb":         "vb",
	"zsh":        "zsh",
}

var idReplacer = strings.NewReplacer("_", "-", " ", "-")

// NormalizeID canonicalizes a language id: trimmed, lower-case, with
// underscores and spaces turned into dashes.
func NormalizeID(id string) string {
	return idReplacer.Replace(strings.ToLower(strings.TrimSpace(id)))
}

// GuessExtension maps a language id such as "cpp-gcc" to a file extension.
// The first dash-separated component is tried first, then the whole id.
func GuessExtension(id string) string {
	id = strings.ToLower(id)
	if ext, ok := extensionByFamily[id]; ok {
		return ext
	}
	family, _, _ := strings.Cut(id, "-")
	return extensionByFamily[family]
}
