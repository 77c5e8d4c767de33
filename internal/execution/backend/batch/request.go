// Package batch implements the remote batch provider: one compressed request,
// one boundary-delimited response.
package batch

import (
	"bytes"
	"strconv"

	"github.com/klauspost/compress/flate"
)

const (
	tagVariable = 'V'
	tagFile     = 'F'
	tagRun      = 'R'
)

type variable struct {
	name   string
	values []string
}

type file struct {
	name    string
	content []byte
}

// Request collects the tagged records sent to the provider.
type Request struct {
	variables []variable
	files     []file
}

// AddVariable appends a named variable with zero or more values.
func (r *Request) AddVariable(name string, values ...string) {
	r.variables = append(r.variables, variable{name: name, values: values})
}

// AddFile appends a named file.
func (r *Request) AddFile(name string, content []byte) {
	r.files = append(r.files, file{name: name, content: content})
}

// Encode renders the uncompressed record stream. Variables come first, then
// files, then the run tag.
func (r *Request) Encode() []byte {
	var buf bytes.Buffer
	for _, v := range r.variables {
		buf.WriteByte(tagVariable)
		buf.WriteString(v.name)
		buf.WriteByte(0)
		buf.WriteString(strconv.Itoa(len(v.values)))
		buf.WriteByte(0)
		for _, value := range v.values {
			buf.WriteString(value)
			buf.WriteByte(0)
		}
	}
	for _, f := range r.files {
		buf.WriteByte(tagFile)
		buf.WriteString(f.name)
		buf.WriteByte(0)
		buf.WriteString(strconv.Itoa(len(f.content)))
		buf.WriteByte(0)
		buf.Write(f.content)
		buf.WriteByte(0)
	}
	buf.WriteByte(tagRun)
	return buf.Bytes()
}

// Compress returns the raw DEFLATE block of the encoded request. The provider
// expects no zlib header and no checksum trailer.
func (r *Request) Compress() ([]byte, error) {
	var out bytes.Buffer
	w, err := flate.NewWriter(&out, flate.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(r.Encode()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
