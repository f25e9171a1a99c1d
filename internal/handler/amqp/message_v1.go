package amqp

import (
	"context"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
)

// EventV1 is a producer event as published on the ingress topic.
type EventV1 struct {
	ID     string         `json:"id"`
	Event  string         `json:"event"`
	Type   string         `json:"type"`
	Source string         `json:"source"`
	Data   map[string]any `json:"data,omitempty"`
}

// ToDraft maps the message onto an arbitration draft. Broker producers are
// home-automation bridges unless they say otherwise.
func (m EventV1) ToDraft() event.Draft {
	source := m.Source
	if source == "" {
		source = model.ClientHub.Tag()
	}
	return event.Draft{ID: m.ID, Name: m.Event, Type: m.Type, Source: source, Data: m.Data}
}

// [ON_EVENT_SUBMITTED]
// Every verdict is terminal: ignored and rejected events are acked, never retried.
func (h *IngressHandler) OnEventSubmittedV1(ctx context.Context, raw *EventV1) error {
	outcome, reason, _ := h.arbiter.Submit(ctx, raw.ToDraft())

	h.logger.Debug("INGRESS_EVENT_ARBITRATED",
		"event_id", raw.ID,
		"correlation_id", event.CorrelationID(ctx),
		"event", raw.Event,
		"outcome", outcome.String(),
		"reason", reason,
	)
	return nil
}
