package batch

import (
	"bytes"
	"fmt"

	"coderunner/internal/execution/backend"
	appErr "coderunner/pkg/errors"
)

const (
	boundaryLen = 16

	// Marker printed by the provider in the timing block of the debug stream.
	elapsedMarker = "Real time"
	// Marker printed when the provider killed the program at its own limit.
	timeLimitMarker = "time limit and was terminated"
	// The timing block ends with "Exit code: N".
	successSuffix = " 0"
)

// Response holds the three logical streams of a provider response.
type Response struct {
	Stdout []byte
	Debug  []byte
	Info   []byte
}

// ParseResponse splits a response on its leading boundary token and assigns the
// remaining segments by count and content.
func ParseResponse(body []byte) (Response, error) {
	if len(body) < boundaryLen {
		return Response{}, appErr.Protocol(fmt.Sprintf("response of %d bytes is shorter than the boundary", len(body)))
	}
	token := body[:boundaryLen]

	var segments [][]byte
	for _, seg := range bytes.Split(body, token) {
		if len(seg) > 0 {
			segments = append(segments, seg)
		}
	}

	switch len(segments) {
	case 1:
		return Response{Debug: segments[0]}, nil
	case 2:
		if !bytes.Contains(segments[0], []byte(elapsedMarker)) {
			return Response{Stdout: segments[0], Debug: segments[1]}, nil
		}
		return Response{Debug: segments[0], Info: segments[1]}, nil
	case 3:
		return Response{Stdout: segments[0], Debug: segments[1], Info: segments[2]}, nil
	default:
		return Response{}, appErr.Protocol(fmt.Sprintf("unexpected segment count %d", len(segments)))
	}
}

// Result classifies the response. The timing block at the end of the debug
// stream is stripped from stderr and decides success.
func (r Response) Result() backend.Result {
	stderr, trailer := splitTrailer(r.Debug)
	res := backend.Result{
		Stdout: r.Stdout,
		Stderr: stderr,
		Info:   string(r.Info),
		Status: backend.StatusFailed,
	}

	switch {
	case bytes.Contains(r.Debug, []byte(timeLimitMarker)) || bytes.Contains(r.Info, []byte(timeLimitMarker)):
		res.Status = backend.StatusTimeout
		res.Stdout = nil
		res.Stderr = nil
		if res.Info == "" {
			res.Info = string(bytes.TrimSpace(trailer))
		}
	case bytes.HasSuffix(bytes.TrimRight(trailer, "\r\n"), []byte(successSuffix)):
		res.Status = backend.StatusSuccess
	}
	return res
}

// splitTrailer separates the last blank-line delimited block from the rest.
// Without a blank line everything is trailer.
func splitTrailer(debug []byte) (body, trailer []byte) {
	idx := bytes.LastIndex(debug, []byte("\n\n"))
	if idx < 0 {
		return nil, debug
	}
	return debug[:idx], debug[idx+2:]
}
