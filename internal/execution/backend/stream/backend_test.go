package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coderunner/internal/execution/backend"
	appErr "coderunner/pkg/errors"

	"github.com/gorilla/websocket"
	"github.com/tinylib/msgp/msgp"
)

var upgrader = websocket.Upgrader{}

// newProvider serves metadata and runs script for each execute channel.
func newProvider(t *testing.T, script func(conn *websocket.Conn, req map[string]interface{})) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(metadataPath, func(w http.ResponseWriter, r *http.Request) {
		b := msgp.AppendMapHeader(nil, 2)
		b = msgp.AppendString(b, "python")
		b = msgp.AppendMapHeader(b, 2)
		b = msgp.AppendString(b, "name")
		b = msgp.AppendString(b, "Python")
		b = msgp.AppendString(b, "SE_class")
		b = msgp.AppendString(b, "python")
		b = msgp.AppendString(b, "cplusplus_gcc")
		b = msgp.AppendMapHeader(b, 1)
		b = msgp.AppendString(b, "name")
		b = msgp.AppendString(b, "C++ (GCC)")
		_, _ = w.Write(b)
	})
	mux.HandleFunc(executePath, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Errorf("read request: %v", err)
			return
		}
		v, _, err := msgp.ReadIntfBytes(data)
		if err != nil {
			t.Errorf("decode request: %v", err)
			return
		}
		req, _ := v.(map[string]interface{})
		script(conn, req)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func send(t *testing.T, conn *websocket.Conn, frames ...[]byte) {
	t.Helper()
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
			t.Errorf("write frame: %v", err)
			return
		}
	}
}

func TestBackendLanguages(t *testing.T) {
	srv := newProvider(t, func(*websocket.Conn, map[string]interface{}) {})
	b := New(Config{BaseURL: srv.URL}, srv.Client())

	offers, err := b.Languages(context.Background())
	if err != nil {
		t.Fatalf("languages: %v", err)
	}
	want := []backend.Offer{
		{ID: "cpp-gcc", Name: "C++ (GCC)", Extension: "cpp"},
		{ID: "python3", Name: "Python", Extension: "python"},
	}
	if len(offers) != len(want) {
		t.Fatalf("offers = %+v", offers)
	}
	for i := range want {
		if offers[i] != want[i] {
			t.Fatalf("offer %d = %+v, want %+v", i, offers[i], want[i])
		}
	}
	if b.nativeName("python3") != "python" || b.nativeName("cpp-gcc") != "cplusplus_gcc" {
		t.Fatalf("native names not recorded")
	}
}

func TestBackendExecute(t *testing.T) {
	tests := []struct {
		name       string
		frames     [][]byte
		wantStatus backend.Status
		wantStdout string
		wantStderr string
	}{
		{
			name: "chunks append in order",
			frames: [][]byte{
				chunkFrame("Stdout", []byte("he")),
				chunkFrame("Stderr", []byte("w1 ")),
				chunkFrame("Stdout", []byte("llo")),
				chunkFrame("Stderr", []byte("w2")),
				doneFrame(false, "exited", 0),
			},
			wantStatus: backend.StatusSuccess,
			wantStdout: "hello",
			wantStderr: "w1 w2",
		},
		{
			name:       "nonzero exit",
			frames:     [][]byte{chunkFrame("Stderr", []byte("boom")), doneFrame(false, "exited", 1)},
			wantStatus: backend.StatusFailed,
			wantStderr: "boom",
		},
		{
			name:       "killed by sigkill",
			frames:     [][]byte{doneFrame(false, "killed", 9)},
			wantStatus: backend.StatusOutOfMemory,
		},
		{
			name:       "killed by another signal",
			frames:     [][]byte{doneFrame(false, "killed", 11)},
			wantStatus: backend.StatusFailed,
		},
		{
			name:       "provider timeout drops output",
			frames:     [][]byte{chunkFrame("Stdout", []byte("partial")), doneFrame(true, "killed", 9)},
			wantStatus: backend.StatusTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]interface{}
			srv := newProvider(t, func(conn *websocket.Conn, req map[string]interface{}) {
				got = req
				send(t, conn, tt.frames...)
			})
			b := New(Config{BaseURL: srv.URL}, srv.Client())
			if _, err := b.Languages(context.Background()); err != nil {
				t.Fatalf("languages: %v", err)
			}

			res := b.Execute(context.Background(), backend.Attempt{Language: "python3", Code: []byte("x")})
			if res.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s (%s)", res.Status, tt.wantStatus, res.Info)
			}
			if string(res.Stdout) != tt.wantStdout || string(res.Stderr) != tt.wantStderr {
				t.Fatalf("output = (%q, %q)", res.Stdout, res.Stderr)
			}
			if got["language"] != "python" {
				t.Fatalf("request language = %v", got["language"])
			}
			if got["timeout"] != int64(60) {
				t.Fatalf("request timeout = %v", got["timeout"])
			}
		})
	}
}

func TestBackendExecuteClosedWithoutDone(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantInfo string
	}{
		{name: "too big", code: websocket.CloseMessageTooBig, wantInfo: appErr.RequestTooLarge.Message()},
		{name: "internal", code: websocket.CloseInternalServerErr, wantInfo: appErr.ProviderError.Message()},
		{name: "other", code: websocket.CloseNormalClosure, wantInfo: appErr.ConnectionClosed.Message()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newProvider(t, func(conn *websocket.Conn, _ map[string]interface{}) {
				send(t, conn, chunkFrame("Stdout", []byte("lost")))
				msg := websocket.FormatCloseMessage(tt.code, "")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
			})
			b := New(Config{BaseURL: srv.URL}, srv.Client())
			res := b.Execute(context.Background(), backend.Attempt{Language: "python3"})
			if res.Status != backend.StatusFailed {
				t.Fatalf("status = %s", res.Status)
			}
			if len(res.Stdout) != 0 || len(res.Stderr) != 0 {
				t.Fatalf("expected empty output, got (%q, %q)", res.Stdout, res.Stderr)
			}
			if res.Info != tt.wantInfo {
				t.Fatalf("info = %q, want %q", res.Info, tt.wantInfo)
			}
		})
	}
}

func TestBackendExecuteCeiling(t *testing.T) {
	release := make(chan struct{})
	srv := newProvider(t, func(conn *websocket.Conn, _ map[string]interface{}) {
		<-release
	})
	defer close(release)

	b := New(Config{BaseURL: srv.URL, Timeout: 100 * time.Millisecond}, srv.Client())
	res := b.Execute(context.Background(), backend.Attempt{Language: "python3"})
	if res.Status != backend.StatusTimeout {
		t.Fatalf("status = %s (%s)", res.Status, res.Info)
	}
	if len(res.Stdout) != 0 {
		t.Fatalf("timeout must not carry output")
	}
}

func TestBackendExecuteCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := newProvider(t, func(conn *websocket.Conn, _ map[string]interface{}) {
		<-release
	})
	defer close(release)

	b := New(Config{BaseURL: srv.URL}, srv.Client())
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	res := b.Execute(ctx, backend.Attempt{Language: "python3"})
	if res.Status != backend.StatusFailed || res.Info != appErr.ExecutionCanceled.Message() {
		t.Fatalf("got %s %q", res.Status, res.Info)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancel did not unblock the read")
	}
}
