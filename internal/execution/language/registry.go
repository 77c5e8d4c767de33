// Package language keeps the catalog of languages offered by every backend.
package language

import (
	"context"
	"sort"
	"strings"
	"sync"

	"coderunner/internal/execution/backend"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

const DefaultSearchLimit = 25

// Language is one runnable language bound to the backend that serves it.
type Language struct {
	ID        string
	Name      string
	Extension string
	// Runner names the backend, e.g. "tio" or "local".
	Runner  string
	Backend backend.Backend
}

// Aliases maps shorthand ids to canonical ones.
var Aliases = map[string]string{
	"bf":         "brainfuck",
	"rb":         "ruby",
	"rs":         "rust",
	"py":         "python3",
	"python":     "python3",
	"java":       "java-jdk",
	"c":          "c-gcc",
	"cpp":        "cpp-gcc",
	"c++":        "cpp-gcc",
	"cs":         "cs-core",
	"csharp":     "cs-core",
	"js":         "javascript-node",
	"javascript": "javascript-node",
	"hs":         "haskell",
	"pl":         "perl5",
	"perl":       "perl5",
	"vb":         "vb-core",
	"x86asm":     "assembly-fasm",
	"k":          "k-ngn",
	"apl":        "apl-dyalog",
	"cr":         "crystal",
	"clj":        "clojure",
}

// Registry is safe for concurrent use. Populate swaps the whole table.
type Registry struct {
	sources []backend.Source

	mu        sync.RWMutex
	languages map[string]Language
}

// NewRegistry creates a registry over sources. Later sources win the backend
// binding for ids offered by several of them.
func NewRegistry(sources ...backend.Source) *Registry {
	return &Registry{
		sources:   sources,
		languages: make(map[string]Language),
	}
}

// Normalize canonicalizes a language id.
func Normalize(id string) string {
	return backend.NormalizeID(id)
}

// Populate queries every source in order. A failing source is skipped.
func (r *Registry) Populate(ctx context.Context) int {
	table := make(map[string]Language)
	for _, src := range r.sources {
		offers, err := src.Languages(ctx)
		if err != nil {
			logger.Warn(ctx, "language source unavailable", zap.String("backend", src.Name()), zap.Error(err))
			continue
		}
		for _, offer := range offers {
			id := Normalize(offer.ID)
			if id == "" {
				continue
			}
			lang := Language{
				ID:        id,
				Name:      offer.Name,
				Extension: offer.Extension,
				Runner:    src.Name(),
				Backend:   src,
			}
			if prev, ok := table[id]; ok && prev.Name != "" {
				lang.Name = prev.Name
			}
			if lang.Name == "" {
				lang.Name = id
			}
			if lang.Extension == "" {
				lang.Extension = backend.GuessExtension(id)
			}
			if lang.Extension == "" {
				lang.Extension = "txt"
			}
			table[id] = lang
		}
		logger.Info(ctx, "language source loaded", zap.String("backend", src.Name()), zap.Int("count", len(offers)))
	}

	r.mu.Lock()
	r.languages = table
	r.mu.Unlock()
	return len(table)
}

// Resolve looks up an id or one of its aliases.
func (r *Registry) Resolve(id string) (Language, bool) {
	id = Normalize(id)
	if canonical, ok := Aliases[id]; ok {
		id = canonical
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.languages[id]
	return lang, ok
}

// Search returns languages whose id or name starts with prefix, sorted by id.
// An empty prefix matches nothing.
func (r *Registry) Search(prefix string, limit int) []Language {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return nil
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	var out []Language
	for _, lang := range r.List() {
		if strings.HasPrefix(lang.ID, prefix) || strings.HasPrefix(strings.ToLower(lang.Name), prefix) {
			out = append(out, lang)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// List returns every language sorted by id.
func (r *Registry) List() []Language {
	r.mu.RLock()
	out := make([]Language, 0, len(r.languages))
	for _, lang := range r.languages {
		out = append(out, lang)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len reports the number of known languages.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.languages)
}
