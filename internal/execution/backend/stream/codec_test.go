package stream

import (
	"testing"

	appErr "coderunner/pkg/errors"

	"github.com/tinylib/msgp/msgp"
)

func chunkFrame(key string, chunk []byte) []byte {
	b := msgp.AppendMapHeader(nil, 1)
	b = msgp.AppendString(b, key)
	return msgp.AppendBytes(b, chunk)
}

func doneFrame(timedOut bool, statusType string, statusValue int) []byte {
	b := msgp.AppendMapHeader(nil, 1)
	b = msgp.AppendString(b, "Done")
	b = msgp.AppendMapHeader(b, 4)
	b = msgp.AppendString(b, "timed_out")
	b = msgp.AppendBool(b, timedOut)
	b = msgp.AppendString(b, "status_type")
	b = msgp.AppendString(b, statusType)
	b = msgp.AppendString(b, "status_value")
	b = msgp.AppendInt(b, statusValue)
	b = msgp.AppendString(b, "max_mem")
	b = msgp.AppendInt(b, 1024)
	return b
}

func TestRequestAppendMsg(t *testing.T) {
	req := Request{
		Language:  "python",
		Code:      []byte("print(1)"),
		Input:     []byte("in"),
		Options:   []string{"-u"},
		Arguments: []string{"a", "b"},
		Timeout:   60,
	}
	v, rest, err := msgp.ReadIntfBytes(req.AppendMsg(nil))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("trailing bytes: %d", len(rest))
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map, got %T", v)
	}
	if m["language"] != "python" {
		t.Fatalf("language = %v", m["language"])
	}
	if string(m["code"].([]byte)) != "print(1)" || string(m["input"].([]byte)) != "in" {
		t.Fatalf("unexpected code or input: %v", m)
	}
	args, ok := m["arguments"].([]interface{})
	if !ok || len(args) != 2 || string(args[1].([]byte)) != "b" {
		t.Fatalf("unexpected arguments: %v", m["arguments"])
	}
	if m["timeout"] != int64(60) {
		t.Fatalf("timeout = %v", m["timeout"])
	}
}

func TestDecodeFrame(t *testing.T) {
	strFrame := msgp.AppendMapHeader(nil, 1)
	strFrame = msgp.AppendString(strFrame, "Stderr")
	strFrame = msgp.AppendString(strFrame, "warn")

	tests := []struct {
		name string
		data []byte
		want Frame
	}{
		{
			name: "stdout bytes",
			data: chunkFrame("Stdout", []byte("hi")),
			want: Frame{Kind: FrameStdout, Chunk: []byte("hi")},
		},
		{
			name: "stderr as string",
			data: strFrame,
			want: Frame{Kind: FrameStderr, Chunk: []byte("warn")},
		},
		{
			name: "done skips unknown fields",
			data: doneFrame(false, "exited", 0),
			want: Frame{Kind: FrameDone, Done: Done{StatusType: "exited"}},
		},
		{
			name: "done killed",
			data: doneFrame(true, "killed", 9),
			want: Frame{Kind: FrameDone, Done: Done{TimedOut: true, StatusType: "killed", StatusValue: 9}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeFrame(tt.data)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if got.Kind != tt.want.Kind || string(got.Chunk) != string(tt.want.Chunk) || got.Done != tt.want.Done {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	twoKeys := msgp.AppendMapHeader(nil, 2)
	twoKeys = msgp.AppendString(twoKeys, "Stdout")
	twoKeys = msgp.AppendBytes(twoKeys, nil)
	twoKeys = msgp.AppendString(twoKeys, "Stderr")
	twoKeys = msgp.AppendBytes(twoKeys, nil)

	tests := []struct {
		name string
		data []byte
		code appErr.ErrorCode
	}{
		{name: "not a map", data: msgp.AppendString(nil, "x"), code: appErr.MalformedResponse},
		{name: "two keys", data: twoKeys, code: appErr.ProtocolError},
		{name: "unknown key", data: chunkFrame("Exit", nil), code: appErr.UnknownFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.data)
			if !appErr.Is(err, tt.code) {
				t.Fatalf("expected %d, got %v", tt.code, err)
			}
		})
	}
}

func TestDecodeCatalog(t *testing.T) {
	b := msgp.AppendMapHeader(nil, 2)
	b = msgp.AppendString(b, "python")
	b = msgp.AppendMapHeader(b, 2)
	b = msgp.AppendString(b, "name")
	b = msgp.AppendString(b, "Python")
	b = msgp.AppendString(b, "SE_class")
	b = msgp.AppendString(b, "python")
	b = msgp.AppendString(b, "zsh")
	b = msgp.AppendMapHeader(b, 1)
	b = msgp.AppendString(b, "name")
	b = msgp.AppendString(b, "Zsh")

	got, err := DecodeCatalog(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["python"] != (catalogEntry{Name: "Python", SEClass: "python"}) {
		t.Fatalf("python entry = %+v", got["python"])
	}
	if got["zsh"] != (catalogEntry{Name: "Zsh"}) {
		t.Fatalf("zsh entry = %+v", got["zsh"])
	}
}

func TestPublicID(t *testing.T) {
	for in, want := range map[string]string{
		"python":                  "python3",
		"cplusplus_gcc":           "cpp-gcc",
		"objective_cplusplus_gcc": "objective-c-gcc",
		"clang":                   "c-clang",
		"Rust_Nightly":            "rust-nightly",
	} {
		if got := PublicID(in); got != want {
			t.Fatalf("PublicID(%q) = %q, want %q", in, got, want)
		}
	}
}
