package batch

import (
	"strings"
	"testing"

	"coderunner/internal/execution/backend"
	appErr "coderunner/pkg/errors"
)

const token = "0123456789abcdef"

func join(segments ...string) []byte {
	return []byte(token + strings.Join(segments, token) + token)
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name       string
		body       []byte
		wantStdout string
		wantDebug  string
		wantInfo   string
	}{
		{
			name:      "single segment is debug",
			body:      join("\nReal time: 0.1 s\nExit code: 1"),
			wantDebug: "\nReal time: 0.1 s\nExit code: 1",
		},
		{
			name:       "two segments without time marker",
			body:       join("hi\n", "err\n\nReal time: 0.1 s\nExit code: 0"),
			wantStdout: "hi\n",
			wantDebug:  "err\n\nReal time: 0.1 s\nExit code: 0",
		},
		{
			name:      "two segments with time marker first",
			body:      join("\n\nReal time: 60 s\nExit code: 137", "killed"),
			wantDebug: "\n\nReal time: 60 s\nExit code: 137",
			wantInfo:  "killed",
		},
		{
			name:       "three segments",
			body:       join("out", "dbg", "info"),
			wantStdout: "out",
			wantDebug:  "dbg",
			wantInfo:   "info",
		},
		{
			name:       "empty segments are dropped",
			body:       []byte(token + token + "out" + token + token + "dbg" + token),
			wantStdout: "out",
			wantDebug:  "dbg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.body)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(got.Stdout) != tt.wantStdout || string(got.Debug) != tt.wantDebug || string(got.Info) != tt.wantInfo {
				t.Fatalf("got (%q, %q, %q), want (%q, %q, %q)", got.Stdout, got.Debug, got.Info, tt.wantStdout, tt.wantDebug, tt.wantInfo)
			}
		})
	}
}

func TestParseResponseRejectsUnexpectedShapes(t *testing.T) {
	for name, body := range map[string][]byte{
		"too short":     []byte("abc"),
		"no segments":   []byte(token + token),
		"four segments": join("a", "b", "c", "d"),
		"boundary only": []byte(token),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseResponse(body)
			if !appErr.Is(err, appErr.ProtocolError) {
				t.Fatalf("expected protocol error, got %v", err)
			}
		})
	}
}

func TestResponseResult(t *testing.T) {
	tests := []struct {
		name       string
		resp       Response
		wantStatus backend.Status
		wantStderr string
	}{
		{
			name:       "exit code zero",
			resp:       Response{Stdout: []byte("hi"), Debug: []byte("warning\n\nReal time: 0.1 s\nExit code: 0")},
			wantStatus: backend.StatusSuccess,
			wantStderr: "warning",
		},
		{
			name:       "nonzero exit",
			resp:       Response{Debug: []byte("Traceback\n\nReal time: 0.1 s\nExit code: 1")},
			wantStatus: backend.StatusFailed,
			wantStderr: "Traceback",
		},
		{
			name:       "exit code ten is not success",
			resp:       Response{Debug: []byte("x\n\nExit code: 10")},
			wantStatus: backend.StatusFailed,
			wantStderr: "x",
		},
		{
			name:       "trailer only",
			resp:       Response{Debug: []byte("Real time: 0.1 s\nExit code: 0")},
			wantStatus: backend.StatusSuccess,
		},
		{
			name:       "provider time limit",
			resp:       Response{Stdout: []byte("partial"), Debug: []byte("The request exceeded the 60 second time limit and was terminated.\n\nReal time: 60 s\nExit code: 124")},
			wantStatus: backend.StatusTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.resp.Result()
			if got.Status != tt.wantStatus {
				t.Fatalf("status = %s, want %s", got.Status, tt.wantStatus)
			}
			if string(got.Stderr) != tt.wantStderr {
				t.Fatalf("stderr = %q, want %q", got.Stderr, tt.wantStderr)
			}
			if got.Status == backend.StatusTimeout && (len(got.Stdout) != 0 || len(got.Stderr) != 0) {
				t.Fatalf("timeout result must not carry output")
			}
		})
	}
}
