package stream

import (
	"fmt"

	appErr "coderunner/pkg/errors"

	"github.com/tinylib/msgp/msgp"
)

// Request is the single message sent when a channel opens.
type Request struct {
	Language  string
	Code      []byte
	Input     []byte
	Options   []string
	Arguments []string
	Timeout   int
}

// AppendMsg encodes the request as a msgpack map.
func (r Request) AppendMsg(b []byte) []byte {
	b = msgp.AppendMapHeader(b, 6)
	b = msgp.AppendString(b, "language")
	b = msgp.AppendString(b, r.Language)
	b = msgp.AppendString(b, "code")
	b = msgp.AppendBytes(b, r.Code)
	b = msgp.AppendString(b, "input")
	b = msgp.AppendBytes(b, r.Input)
	b = msgp.AppendString(b, "options")
	b = appendByteList(b, r.Options)
	b = msgp.AppendString(b, "arguments")
	b = appendByteList(b, r.Arguments)
	b = msgp.AppendString(b, "timeout")
	b = msgp.AppendInt(b, r.Timeout)
	return b
}

func appendByteList(b []byte, items []string) []byte {
	b = msgp.AppendArrayHeader(b, uint32(len(items)))
	for _, item := range items {
		b = msgp.AppendBytes(b, []byte(item))
	}
	return b
}

// FrameKind tags an inbound frame.
type FrameKind int

const (
	FrameStdout FrameKind = iota + 1
	FrameStderr
	FrameDone
)

// Done describes how the remote process ended.
type Done struct {
	TimedOut    bool
	StatusType  string
	StatusValue int64
}

// Frame is one decoded inbound message.
type Frame struct {
	Kind  FrameKind
	Chunk []byte
	Done  Done
}

// DecodeFrame parses a single-key frame map: Stdout, Stderr or Done.
func DecodeFrame(b []byte) (Frame, error) {
	n, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return Frame{}, appErr.Wrapf(err, appErr.MalformedResponse, "frame is not a map")
	}
	if n != 1 {
		return Frame{}, appErr.Protocol(fmt.Sprintf("frame has %d keys", n))
	}
	key, rest, err := msgp.ReadStringBytes(rest)
	if err != nil {
		return Frame{}, appErr.Wrapf(err, appErr.MalformedResponse, "frame key is not a string")
	}

	switch key {
	case "Stdout", "Stderr":
		chunk, _, err := readBlob(rest)
		if err != nil {
			return Frame{}, err
		}
		kind := FrameStdout
		if key == "Stderr" {
			kind = FrameStderr
		}
		return Frame{Kind: kind, Chunk: chunk}, nil
	case "Done":
		done, err := decodeDone(rest)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Kind: FrameDone, Done: done}, nil
	default:
		return Frame{}, appErr.New(appErr.UnknownFrame).WithDetail("key", key)
	}
}

func decodeDone(b []byte) (Done, error) {
	n, rest, err := msgp.ReadMapHeaderBytes(b)
	if err != nil {
		return Done{}, appErr.Wrapf(err, appErr.MalformedResponse, "done frame is not a map")
	}
	var done Done
	for i := uint32(0); i < n; i++ {
		var key string
		key, rest, err = msgp.ReadStringBytes(rest)
		if err != nil {
			return Done{}, appErr.Wrapf(err, appErr.MalformedResponse, "done key is not a string")
		}
		switch key {
		case "timed_out":
			done.TimedOut, rest, err = msgp.ReadBoolBytes(rest)
		case "status_type":
			var raw []byte
			raw, rest, err = readBlob(rest)
			done.StatusType = string(raw)
		case "status_value":
			var v interface{}
			v, rest, err = msgp.ReadIntfBytes(rest)
			if err == nil {
				done.StatusValue = toInt64(v)
			}
		default:
			rest, err = msgp.Skip(rest)
		}
		if err != nil {
			return Done{}, appErr.Wrapf(err, appErr.MalformedResponse, "decode done field %q failed", key)
		}
	}
	return done, nil
}

// readBlob accepts either a str or a bin value.
func readBlob(b []byte) ([]byte, []byte, error) {
	switch msgp.NextType(b) {
	case msgp.StrType:
		v, rest, err := msgp.ReadStringZC(b)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.MalformedResponse, "read string failed")
		}
		return append([]byte(nil), v...), rest, nil
	case msgp.BinType:
		v, rest, err := msgp.ReadBytesZC(b)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.MalformedResponse, "read bytes failed")
		}
		return append([]byte(nil), v...), rest, nil
	case msgp.NilType:
		rest, err := msgp.ReadNilBytes(b)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.MalformedResponse, "read nil failed")
		}
		return nil, rest, nil
	default:
		return nil, nil, appErr.Protocol(fmt.Sprintf("expected str or bin, got %s", msgp.NextType(b)))
	}
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return -1
	}
}

// catalogEntry is the subset of the metadata we use.
type catalogEntry struct {
	Name    string
	SEClass string
}

// DecodeCatalog parses the metadata map keyed by the provider's language name.
func DecodeCatalog(b []byte) (map[string]catalogEntry, error) {
	v, _, err := msgp.ReadIntfBytes(b)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.MalformedResponse, "decode metadata failed")
	}
	root, ok := v.(map[string]interface{})
	if !ok {
		return nil, appErr.Protocol("metadata is not a map")
	}

	out := make(map[string]catalogEntry, len(root))
	for key, raw := range root {
		fields, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		out[key] = catalogEntry{
			Name:    stringField(fields, "name"),
			SEClass: stringField(fields, "SE_class"),
		}
	}
	return out, nil
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}
