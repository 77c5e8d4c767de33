package mq

import (
	"context"
	"time"
)

// Queue is the slice of a message broker the trigger pipeline uses.
type Queue interface {
	Publish(ctx context.Context, topic string, message *Message) error
	Subscribe(ctx context.Context, topic string, handler HandlerFunc, opts *SubscribeOptions) error
	Start() error
	Stop() error
	Close() error
}

// Message is one broker record.
type Message struct {
	// Key routes records of the same trigger to the same partition.
	Key       string            `json:"key"`
	Body      []byte            `json:"body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`

	// Expiration drops the message unprocessed once it is older than this.
	Expiration time.Duration `json:"expiration"`
}

// HandlerFunc processes one message. Errors are logged and the message is
// committed anyway: a trigger is never replayed automatically.
type HandlerFunc func(ctx context.Context, message *Message) error

// SubscribeOptions tunes one subscription.
type SubscribeOptions struct {
	ConsumerGroup string
	// InFlight bounds how many handlers run at once.
	// Default: 1, which keeps per-partition order.
	InFlight int
	// MessageTTL applies to messages without their own expiration.
	MessageTTL time.Duration
}

func (o *SubscribeOptions) setDefaults(topic string) {
	if o.InFlight <= 0 {
		o.InFlight = 1
	}
	if o.ConsumerGroup == "" {
		o.ConsumerGroup = "coderunner-" + topic
	}
}

// NewMessage creates a message keyed by key.
func NewMessage(key string, body []byte) *Message {
	return &Message{
		Key:       key,
		Body:      body,
		Headers:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// SetHeader sets a header value
func (m *Message) SetHeader(key, value string) {
	if m.Headers == nil {
		m.Headers = make(map[string]string)
	}
	m.Headers[key] = value
}

// GetHeader retrieves a header value
func (m *Message) GetHeader(key string) (string, bool) {
	if m.Headers == nil {
		return "", false
	}
	val, ok := m.Headers[key]
	return val, ok
}

// Expired reports whether the message outlived its expiration at now.
func (m *Message) Expired(now time.Time) bool {
	return m.Expiration > 0 && !m.Timestamp.IsZero() && now.Sub(m.Timestamp) > m.Expiration
}
