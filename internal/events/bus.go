// Package events carries work between the HTTP surface and the async
// workflows over an in-process pub/sub channel.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"fragmentforge/internal/logging"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Topic names. One inbound classification topic, one per dispatchable
// conversation type.
const (
	TopicProcessMessage = "process-message"
	TopicBuildFragment  = "build-initial-fragment"
	TopicUpdateFragment = "update-existing-fragment"
	TopicFixErrors      = "fix-errors-in-existing-fragment"
)

// MessageEvent is the payload published on every topic.
type MessageEvent struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
	Message        string `json:"message"`
	ProjectID      string `json:"project_id"`
	OrgID          string `json:"org_id"`
	UserID         string `json:"user_id"`
	TemplateName   string `json:"template_name,omitempty"`
}

// Handler consumes one event. A returned error is logged and the event is
// dropped; workflows surface failures through conversation status instead
// of redelivery.
type Handler func(ctx context.Context, ev MessageEvent) error

// Bus is a thin wrapper over watermill's in-process pub/sub.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates the in-process bus. Publishes before the first subscriber
// attaches are dropped, so subscribe during startup.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{OutputChannelBuffer: 64},
			watermill.NopLogger{},
		),
	}
}

// Publish emits one event on the given topic.
func (b *Bus) Publish(topic string, ev MessageEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event for %s: %w", topic, err)
	}
	msg := message.NewMessage(uuid.New().String(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe attaches a handler to a topic and consumes until ctx ends.
// Each event is handled on the subscriber goroutine; workflows run long,
// so handlers that should not block the topic must spawn their own work.
func (b *Bus) Subscribe(ctx context.Context, topic string, h Handler) error {
	msgs, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	go func() {
		for msg := range msgs {
			var ev MessageEvent
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.L().Error("discarding malformed event",
					zap.String("topic", topic),
					zap.Error(err))
				msg.Ack()
				continue
			}
			if err := h(ctx, ev); err != nil {
				logging.L().Error("event handler failed",
					zap.String("topic", topic),
					zap.String("conversationId", ev.ConversationID),
					zap.Error(err))
			}
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the bus down; subscriber channels drain and close.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
