// Package sink delivers rendered presentations to wherever outputs are read.
package sink

import (
	"bytes"
	"context"
	"io"
	"time"

	"coderunner/internal/execution/render"
	appErr "coderunner/pkg/errors"
)

// Handle identifies one rendered output.
type Handle string

// Sink receives presentations. Editing or deleting an unknown handle is a
// no-op, since an output may be removed by its owner at any time.
type Sink interface {
	Send(ctx context.Context, triggerID string, p render.Presentation) (Handle, error)
	Edit(ctx context.Context, h Handle, p render.Presentation) error
	Delete(ctx context.Context, h Handle) error
}

// Store is a sink whose outputs can be read back.
type Store interface {
	Sink
	Load(ctx context.Context, h Handle) (Output, error)
	OpenFile(ctx context.Context, h Handle, name string) (io.ReadCloser, error)
}

// Output is the stored form of one rendered output.
type Output struct {
	Handle       Handle              `json:"handle"`
	TriggerID    string              `json:"trigger_id"`
	Presentation render.Presentation `json:"presentation"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func findFile(out Output, name string) (render.File, error) {
	for _, f := range out.Presentation.Files {
		if f.Name == name {
			return f, nil
		}
	}
	return render.File{}, appErr.Newf(appErr.OutputNotFound, "attachment %s not found", name)
}

func inlineReader(f render.File) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(f.Content))
}
