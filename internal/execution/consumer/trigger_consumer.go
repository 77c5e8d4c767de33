// Package consumer feeds trigger events from the message queue into the
// invokation service.
package consumer

import (
	"context"
	"encoding/json"
	"strings"

	"coderunner/internal/common/mq"
	"coderunner/internal/execution/invokation"
	"coderunner/internal/execution/sink"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/contextkey"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

const traceIDHeader = "trace_id"

// Action selects what a trigger message does.
type Action string

const (
	ActionRun    Action = "run"
	ActionDelete Action = "delete"
)

// TriggerMessage is the JSON body of a trigger event.
type TriggerMessage struct {
	Action    Action `json:"action"`
	TriggerID string `json:"trigger_id"`
	Language  string `json:"language"`
	Code      string `json:"code"`
	Stdin     string `json:"stdin"`
	Options   string `json:"options"`
	Args      string `json:"args"`
	Compact   bool   `json:"compact"`
}

// TriggerService is the part of the invokation service the consumer drives.
type TriggerService interface {
	Submit(ctx context.Context, t invokation.Trigger) (*invokation.Invokation, error)
	Delete(ctx context.Context, triggerID string) error
}

// TriggerConsumer handles trigger events.
type TriggerConsumer struct {
	service TriggerService
	queue   mq.Queue

	rejections  sink.Publisher
	rejectTopic string
}

func NewTriggerConsumer(service TriggerService, queue mq.Queue) *TriggerConsumer {
	return &TriggerConsumer{service: service, queue: queue}
}

// WithRejections makes the consumer publish a reject event on topic for every
// trigger refused because of its input.
func (c *TriggerConsumer) WithRejections(publisher sink.Publisher, topic string) *TriggerConsumer {
	c.rejections = publisher
	c.rejectTopic = topic
	return c
}

// Subscribe registers the consumer on topic.
func (c *TriggerConsumer) Subscribe(ctx context.Context, topic string, opts *mq.SubscribeOptions) error {
	return c.queue.Subscribe(ctx, topic, c.HandleMessage, opts)
}

// HandleMessage processes one trigger event. Problems with the submission
// itself are logged and swallowed; only infrastructure failures are returned.
func (c *TriggerConsumer) HandleMessage(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	if traceID, ok := msg.GetHeader(traceIDHeader); ok && traceID != "" {
		ctx = context.WithValue(ctx, contextkey.TraceID, traceID)
	}

	var tm TriggerMessage
	if err := json.Unmarshal(msg.Body, &tm); err != nil {
		logger.Warn(ctx, "drop malformed trigger message", zap.String("key", msg.Key), zap.Error(err))
		return nil
	}
	if strings.TrimSpace(tm.TriggerID) == "" {
		tm.TriggerID = msg.Key
	}
	ctx = context.WithValue(ctx, contextkey.TriggerID, tm.TriggerID)

	var err error
	switch tm.Action {
	case ActionRun, "":
		err = c.run(ctx, tm)
	case ActionDelete:
		err = c.service.Delete(ctx, tm.TriggerID)
		if appErr.Is(err, appErr.TriggerNotFound) {
			err = nil
		}
	default:
		logger.Warn(ctx, "drop trigger message with unknown action", zap.String("action", string(tm.Action)))
		return nil
	}
	if err == nil {
		return nil
	}
	if appErr.GetCode(err).IsUserInput() || appErr.Is(err, appErr.RequiredFieldEmpty) {
		logger.Info(ctx, "trigger rejected", zap.String("reason", err.Error()))
		c.reject(ctx, tm.TriggerID, err)
		return nil
	}
	return err
}

func (c *TriggerConsumer) reject(ctx context.Context, triggerID string, cause error) {
	if c.rejections == nil || triggerID == "" {
		return
	}
	ev := sink.OutputEvent{
		Op:        sink.OpReject,
		TriggerID: triggerID,
		Status:    "Rejected",
		Message:   cause.Error(),
	}
	if err := sink.PublishEvent(ctx, c.rejections, c.rejectTopic, ev); err != nil {
		logger.Warn(ctx, "publish trigger rejection failed", zap.Error(err))
	}
}

func (c *TriggerConsumer) run(ctx context.Context, tm TriggerMessage) error {
	trig, err := invokation.ParseRequest(invokation.Request{
		TriggerID: tm.TriggerID,
		Language:  tm.Language,
		Code:      tm.Code,
		Stdin:     tm.Stdin,
		Options:   tm.Options,
		Args:      tm.Args,
		Compact:   tm.Compact,
	})
	if err != nil {
		return err
	}
	_, err = c.service.Submit(ctx, trig)
	return err
}
