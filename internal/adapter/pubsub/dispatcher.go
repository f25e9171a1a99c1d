package pubsub

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
)

// TopicBroadcast is the internal topic the transport fan-out subscribes to.
const TopicBroadcast = "ice.broadcast"

// Metadata keys carried by bus messages.
const (
	MetaEventType = "event_type"
	MetaEventName = "event_name"
)

// EventDispatcher defines the high-level contract for outgoing events.
// Arbitration publishes once; fan-out policy lives entirely on the subscriber side.
type EventDispatcher interface {
	Publish(ctx context.Context, ev *event.Event) error
	Publisher() message.Publisher
}

// eventDispatcher is the concrete implementation (private).
type eventDispatcher struct {
	local       message.Publisher
	mirror      message.Publisher // nil when no broker is configured
	mirrorTopic string
	logger      watermill.LoggerAdapter
}

// NewEventDispatcher returns the interface instead of the pointer to the struct.
// mirror may be nil; producer events are then only published in-process.
func NewEventDispatcher(local message.Publisher, mirror message.Publisher, mirrorTopic string, logger watermill.LoggerAdapter) EventDispatcher {
	return &eventDispatcher{
		local:       local,
		mirror:      mirror,
		mirrorTopic: mirrorTopic,
		logger:      logger,
	}
}

func (d *eventDispatcher) Publish(ctx context.Context, ev *event.Event) error {
	if ev == nil {
		return fmt.Errorf("event dispatcher: cannot publish nil event")
	}

	msg, err := NewMessage(ctx, ev)
	if err != nil {
		return err
	}

	if err := d.local.Publish(TopicBroadcast, msg); err != nil {
		return fmt.Errorf("event dispatcher: failed to publish to topic %s: %w", TopicBroadcast, err)
	}

	// [MIRROR] producer events only; presence and arm status are node-local chatter
	if d.mirror != nil && ev.Priority() == event.PriorityHigh {
		if err := d.mirror.Publish(d.mirrorTopic, msg.Copy()); err != nil {
			// The local broadcast already happened; the mirror is best effort.
			d.logger.Error("MIRROR_PUBLISH_FAILED", err, watermill.LogFields{"event_id": ev.ID(), "topic": d.mirrorTopic})
		}
	}

	return nil
}

func (d *eventDispatcher) Publisher() message.Publisher {
	return d.local
}

// NewMessage encodes ev as a bus message.
func NewMessage(ctx context.Context, ev *event.Event) (*message.Message, error) {
	payload, err := json.Marshal(ev.View())
	if err != nil {
		return nil, fmt.Errorf("event dispatcher: marshal failure: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetaEventType, ev.Type())
	msg.Metadata.Set(MetaEventName, ev.Name())
	msg.SetContext(ctx)
	return msg, nil
}

// DecodeMessage is the inverse of NewMessage.
func DecodeMessage(msg *message.Message) (*event.Event, error) {
	var v model.EventView
	if err := json.Unmarshal(msg.Payload, &v); err != nil {
		return nil, fmt.Errorf("decode bus message %s: %w", msg.UUID, err)
	}
	return event.FromView(v), nil
}
