package batch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coderunner/internal/execution/backend"

	"github.com/klauspost/compress/flate"
)

func newProvider(t *testing.T, run http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(languagesPath, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"python3": {"name": "Python 3", "prettify": "py"},
			"c-gcc": {"name": "C (gcc)", "unmask": ["cflags", "options"]},
			"whitespace": {"name": "Whitespace"}
		}`)
	})
	mux.HandleFunc(runPath, run)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func decodeBody(t *testing.T, r *http.Request) string {
	t.Helper()
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		t.Errorf("read body: %v", err)
		return ""
	}
	plain, err := io.ReadAll(flate.NewReader(bytes.NewReader(raw)))
	if err != nil {
		t.Errorf("inflate body: %v", err)
		return ""
	}
	return string(plain)
}

func TestBackendLanguages(t *testing.T) {
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	b := New(Config{BaseURL: srv.URL}, srv.Client())

	offers, err := b.Languages(context.Background())
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	if len(offers) != 3 {
		t.Fatalf("expected 3 offers, got %d", len(offers))
	}
	want := map[string]backend.Offer{
		"c-gcc":      {ID: "c-gcc", Name: "C (gcc)", Extension: "c"},
		"python3":    {ID: "python3", Name: "Python 3", Extension: "py"},
		"whitespace": {ID: "whitespace", Name: "Whitespace", Extension: "whitespace"},
	}
	for _, o := range offers {
		if want[o.ID] != o {
			t.Fatalf("unexpected offer %+v", o)
		}
	}
	if b.optionsVariable("c-gcc") != "TIO_CFLAGS" || b.optionsVariable("python3") != "TIO_OPTIONS" {
		t.Fatalf("cflags flags not recorded")
	}
}

func TestBackendExecuteSuccess(t *testing.T) {
	var got string
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		got = decodeBody(t, r)
		_, _ = w.Write(join("hi\n", "\nReal time: 0.02 s\nExit code: 0"))
	})
	b := New(Config{BaseURL: srv.URL}, srv.Client())
	if _, err := b.Languages(context.Background()); err != nil {
		t.Fatalf("languages: %v", err)
	}

	res := b.Execute(context.Background(), backend.Attempt{
		Language: "c-gcc",
		Code:     []byte("int main(){}"),
		Stdin:    "in",
		Options:  []string{"-O2"},
		Args:     []string{"x"},
	})
	if res.Status != backend.StatusSuccess {
		t.Fatalf("status = %s (%s)", res.Status, res.Info)
	}
	if string(res.Stdout) != "hi\n" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	for _, part := range []string{
		"Vlang\x001\x00c-gcc\x00",
		"VTIO_CFLAGS\x001\x00-O2\x00",
		"Vargs\x001\x00x\x00",
		"F.code.tio\x0012\x00int main(){}\x00",
		"F.input.tio\x002\x00in\x00R",
	} {
		if !strings.Contains(got, part) {
			t.Fatalf("request missing %q: %q", part, got)
		}
	}
}

func TestBackendExecuteFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    backend.Status
	}{
		{
			name: "http error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			want: backend.StatusFailed,
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("short"))
			},
			want: backend.StatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newProvider(t, tt.handler)
			b := New(Config{BaseURL: srv.URL}, srv.Client())
			res := b.Execute(context.Background(), backend.Attempt{Language: "python3"})
			if res.Status != tt.want {
				t.Fatalf("status = %s, want %s", res.Status, tt.want)
			}
			if res.Info == "" {
				t.Fatalf("expected a human readable info")
			}
		})
	}
}

func TestBackendExecuteUnreachable(t *testing.T) {
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {})
	url := srv.URL
	srv.Close()

	b := New(Config{BaseURL: url}, nil)
	res := b.Execute(context.Background(), backend.Attempt{Language: "python3"})
	if res.Status != backend.StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
	if !strings.Contains(res.Info, "request to tio failed") {
		t.Fatalf("info = %q", res.Info)
	}
}

func TestBackendExecuteCeiling(t *testing.T) {
	release := make(chan struct{})
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	b := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, srv.Client())
	start := time.Now()
	res := b.Execute(context.Background(), backend.Attempt{Language: "python3"})
	if res.Status != backend.StatusTimeout {
		t.Fatalf("status = %s (%s)", res.Status, res.Info)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("ceiling not enforced")
	}
}

func TestBackendExecuteCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := newProvider(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	b := New(Config{BaseURL: srv.URL}, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	res := b.Execute(ctx, backend.Attempt{Language: "python3"})
	if res.Status != backend.StatusFailed {
		t.Fatalf("status = %s", res.Status)
	}
}
