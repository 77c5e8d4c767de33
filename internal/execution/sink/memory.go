package sink

import (
	"context"
	"io"
	"sync"
	"time"

	"coderunner/internal/execution/render"
	appErr "coderunner/pkg/errors"

	"github.com/google/uuid"
)

// MemorySink keeps outputs in process memory.
type MemorySink struct {
	mu      sync.Mutex
	outputs map[Handle]Output
	now     func() time.Time
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		outputs: make(map[Handle]Output),
		now:     time.Now,
	}
}

func (m *MemorySink) Send(ctx context.Context, triggerID string, p render.Presentation) (Handle, error) {
	h := Handle(uuid.NewString())
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[h] = Output{Handle: h, TriggerID: triggerID, Presentation: p, UpdatedAt: m.now()}
	return h, nil
}

func (m *MemorySink) Edit(ctx context.Context, h Handle, p render.Presentation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outputs[h]
	if !ok {
		return nil
	}
	out.Presentation = p
	out.UpdatedAt = m.now()
	m.outputs[h] = out
	return nil
}

func (m *MemorySink) Delete(ctx context.Context, h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outputs, h)
	return nil
}

func (m *MemorySink) Load(ctx context.Context, h Handle) (Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out, ok := m.outputs[h]
	if !ok {
		return Output{}, appErr.New(appErr.OutputNotFound)
	}
	return out, nil
}

func (m *MemorySink) OpenFile(ctx context.Context, h Handle, name string) (io.ReadCloser, error) {
	out, err := m.Load(ctx, h)
	if err != nil {
		return nil, err
	}
	f, err := findFile(out, name)
	if err != nil {
		return nil, err
	}
	return inlineReader(f), nil
}

// Len reports how many outputs are stored.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outputs)
}
