package language

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"coderunner/internal/execution/backend"
)

type fakeSource struct {
	name   string
	offers []backend.Offer
	err    error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Execute(ctx context.Context, attempt backend.Attempt) backend.Result {
	return backend.Result{Status: backend.StatusSuccess}
}

func (f *fakeSource) Languages(ctx context.Context) ([]backend.Offer, error) {
	return f.offers, f.err
}

func TestPopulateMergesSources(t *testing.T) {
	batch := &fakeSource{name: "tio", offers: []backend.Offer{
		{ID: "python3", Name: "Python 3", Extension: "py"},
		{ID: "cpp-gcc", Name: "C++ (gcc)", Extension: "cpp"},
	}}
	broken := &fakeSource{name: "ato", err: errors.New("unreachable")}
	local := &fakeSource{name: "local", offers: []backend.Offer{
		{ID: "Python3", Name: "CPython local", Extension: "py"},
		{ID: "my_lang", Name: ""},
	}}

	r := NewRegistry(batch, broken, local)
	if n := r.Populate(context.Background()); n != 3 {
		t.Fatalf("populated %d languages", n)
	}

	py, ok := r.Resolve("python3")
	if !ok {
		t.Fatalf("python3 missing")
	}
	if py.Name != "Python 3" {
		t.Fatalf("earlier display name must win, got %q", py.Name)
	}
	if py.Runner != "local" || py.Backend != backend.Backend(local) {
		t.Fatalf("newest source must own the binding, got %q", py.Runner)
	}

	mine, ok := r.Resolve("MY LANG")
	if !ok || mine.ID != "my-lang" || mine.Name != "my-lang" || mine.Extension != "txt" {
		t.Fatalf("my-lang = %+v, %v", mine, ok)
	}
}

func TestResolveAliases(t *testing.T) {
	r := NewRegistry(&fakeSource{name: "tio", offers: []backend.Offer{
		{ID: "python3", Name: "Python 3"},
		{ID: "cpp-gcc", Name: "C++ (gcc)"},
		{ID: "javascript-node", Name: "JavaScript (Node.js)"},
	}})
	r.Populate(context.Background())

	for alias, want := range map[string]string{
		"py":      "python3",
		"python":  "python3",
		"c++":     "cpp-gcc",
		"js":      "javascript-node",
		"PYTHON3": "python3",
	} {
		lang, ok := r.Resolve(alias)
		if !ok || lang.ID != want {
			t.Fatalf("Resolve(%q) = %q, %v; want %q", alias, lang.ID, ok, want)
		}
	}
	if _, ok := r.Resolve("cobol"); ok {
		t.Fatalf("unknown language resolved")
	}
}

func TestSearch(t *testing.T) {
	var offers []backend.Offer
	for i := 0; i < 30; i++ {
		offers = append(offers, backend.Offer{ID: fmt.Sprintf("p%02d", 29-i), Name: "Lang"})
	}
	offers = append(offers, backend.Offer{ID: "zz", Name: "Python"})
	r := NewRegistry(&fakeSource{name: "tio", offers: offers})
	r.Populate(context.Background())

	got := r.Search("P", 0)
	if len(got) != DefaultSearchLimit {
		t.Fatalf("expected %d results, got %d", DefaultSearchLimit, len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID >= got[i].ID {
			t.Fatalf("results not sorted by id")
		}
	}

	byName := r.Search("pyth", 5)
	if len(byName) != 1 || byName[0].ID != "zz" {
		t.Fatalf("name match = %+v", byName)
	}
	if r.Search("", 5) != nil {
		t.Fatalf("empty prefix must match nothing")
	}
}

func TestPopulateReplacesTable(t *testing.T) {
	src := &fakeSource{name: "tio", offers: []backend.Offer{{ID: "a"}, {ID: "b"}}}
	r := NewRegistry(src)
	r.Populate(context.Background())

	src.offers = []backend.Offer{{ID: "c"}}
	r.Populate(context.Background())
	if r.Len() != 1 {
		t.Fatalf("stale entries survived: %+v", r.List())
	}
	if _, ok := r.Resolve("a"); ok {
		t.Fatalf("a must be gone")
	}
}
