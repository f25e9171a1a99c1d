package event

import (
	"maps"
	"sync/atomic"
	"time"

	"github.com/kimiroo/ice-server/internal/domain/model"
)

type EventPriority int32

const (
	PriorityLow    EventPriority = 10 // presence and ignored-event notices
	PriorityNormal EventPriority = 20 // arm status
	PriorityHigh   EventPriority = 30 // producer events
)

// Reserved event types synthesized by the broker itself.
const (
	TypeClient  = "client"
	TypeSystem  = "system"
	TypeIgnored = "ignored"
	TypeONVIF   = "onvif"
)

// SourceServer tags events synthesized inside the broker.
const SourceServer = "server"

// Event is one notable occurrence. It is immutable once constructed and may be
// shared by the history and any number of mailboxes without copying.
type Event struct {
	id        string
	name      string
	typ       string
	source    string
	data      map[string]any
	timestamp time.Time

	// cached holds the transport encoding so fan-out marshals once per event.
	cached atomic.Value
}

// New builds an event stamped with the current time.
func New(id, name, typ, source string, data map[string]any) *Event {
	return NewWithClock(id, name, typ, source, data, time.Now)
}

// NewWithClock builds an event stamped by the given clock.
func NewWithClock(id, name, typ, source string, data map[string]any, now func() time.Time) *Event {
	return &Event{
		id:        id,
		name:      name,
		typ:       typ,
		source:    source,
		data:      maps.Clone(data),
		timestamp: now(),
	}
}

func (e *Event) ID() string           { return e.id }
func (e *Event) Name() string         { return e.name }
func (e *Event) Type() string         { return e.typ }
func (e *Event) Source() string       { return e.source }
func (e *Event) Timestamp() time.Time { return e.timestamp }

// Data returns a shallow copy of the payload.
func (e *Event) Data() map[string]any { return maps.Clone(e.data) }

// Priority drives connector backpressure: presence chatter is shed first.
func (e *Event) Priority() EventPriority {
	switch e.typ {
	case TypeClient, TypeIgnored:
		return PriorityLow
	case TypeSystem:
		return PriorityNormal
	default:
		return PriorityHigh
	}
}

func (e *Event) GetCached() any  { return e.cached.Load() }
func (e *Event) SetCached(v any) { e.cached.Store(v) }

// View returns the wire representation of the event.
func (e *Event) View() model.EventView {
	return model.EventView{
		ID:        e.id,
		Event:     e.name,
		Type:      e.typ,
		Source:    e.source,
		Data:      e.Data(),
		Timestamp: e.timestamp,
	}
}

// Views maps a slice of events onto their wire representation, never returning nil.
func Views(events []*Event) []model.EventView {
	out := make([]model.EventView, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.View())
	}
	return out
}

// FromView rebuilds an event decoded from the bus, keeping its original timestamp.
func FromView(v model.EventView) *Event {
	return NewWithClock(v.ID, v.Event, v.Type, v.Source, v.Data, func() time.Time { return v.Timestamp })
}
