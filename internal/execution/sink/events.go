package sink

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"coderunner/internal/common/mq"
	"coderunner/internal/execution/render"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// Publisher is the producer side of the message queue.
type Publisher interface {
	Publish(ctx context.Context, topic string, message *mq.Message) error
}

const (
	OpSend   = "send"
	OpEdit   = "edit"
	OpDelete = "delete"
	// OpReject reports a trigger refused before anything ran. It has no handle.
	OpReject = "reject"
)

// OutputEvent announces a change of a stored output.
type OutputEvent struct {
	Op        string    `json:"op"`
	Handle    Handle    `json:"handle,omitempty"`
	TriggerID string    `json:"trigger_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Message   string    `json:"message,omitempty"`
	At        time.Time `json:"at"`
}

// EventSink publishes an OutputEvent after every successful write to the
// wrapped store. Publishing is best effort.
type EventSink struct {
	Store
	publisher Publisher
	topic     string
}

func NewEventSink(store Store, publisher Publisher, topic string) *EventSink {
	return &EventSink{Store: store, publisher: publisher, topic: topic}
}

func (s *EventSink) Send(ctx context.Context, triggerID string, p render.Presentation) (Handle, error) {
	h, err := s.Store.Send(ctx, triggerID, p)
	if err != nil {
		return "", err
	}
	s.publish(ctx, OutputEvent{Op: OpSend, Handle: h, TriggerID: triggerID, Status: p.Status})
	return h, nil
}

func (s *EventSink) Edit(ctx context.Context, h Handle, p render.Presentation) error {
	if err := s.Store.Edit(ctx, h, p); err != nil {
		return err
	}
	s.publish(ctx, OutputEvent{Op: OpEdit, Handle: h, Status: p.Status})
	return nil
}

func (s *EventSink) Delete(ctx context.Context, h Handle) error {
	if err := s.Store.Delete(ctx, h); err != nil {
		return err
	}
	s.publish(ctx, OutputEvent{Op: OpDelete, Handle: h})
	return nil
}

func (s *EventSink) Load(ctx context.Context, h Handle) (Output, error) {
	return s.Store.Load(ctx, h)
}

func (s *EventSink) OpenFile(ctx context.Context, h Handle, name string) (io.ReadCloser, error) {
	return s.Store.OpenFile(ctx, h, name)
}

func (s *EventSink) publish(ctx context.Context, ev OutputEvent) {
	if err := PublishEvent(ctx, s.publisher, s.topic, ev); err != nil {
		logger.Warn(ctx, "publish output event failed", zap.String("op", ev.Op), zap.String("handle", string(ev.Handle)), zap.Error(err))
	}
}

// PublishEvent stamps and publishes one event, keyed by trigger id so events
// of a trigger stay ordered.
func PublishEvent(ctx context.Context, publisher Publisher, topic string, ev OutputEvent) error {
	ev.At = time.Now()
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := ev.TriggerID
	if key == "" {
		key = string(ev.Handle)
	}
	return publisher.Publish(ctx, topic, mq.NewMessage(key, body))
}
