package event

import (
	"github.com/google/uuid"

	"github.com/kimiroo/ice-server/internal/domain/model"
)

// ClientEventKind is the presence change announced to the other clients.
type ClientEventKind string

const (
	ClientConnected    ClientEventKind = "connected"
	ClientOutdated     ClientEventKind = "outdated"
	ClientDisconnected ClientEventKind = "disconnected"
)

// Arm status event names.
const (
	NameArmed    = "armed"
	NameDisarmed = "disarmed"
)

// NewClientEvent synthesizes a presence notification about a Session.
func NewClientEvent(kind ClientEventKind, info model.SessionInfo) *Event {
	return New(uuid.NewString(), string(kind), TypeClient, SourceServer, map[string]any{
		"clientName": info.Name,
		"clientType": info.Type.Tag(),
		"sid":        info.Handle,
	})
}

// NewIgnoredEvent announces that a producer event was suppressed and why.
// It is published like presence: never recorded, never replayed.
func NewIgnoredEvent(ev *Event, reason string) *Event {
	return New(uuid.NewString(), ev.Name(), TypeIgnored, SourceServer, map[string]any{
		"event":  ev.View(),
		"reason": reason,
	})
}

// NewArmStatusEvent synthesizes the broadcast sent after the armed flag flips.
func NewArmStatusEvent(armed bool) *Event {
	name := NameDisarmed
	if armed {
		name = NameArmed
	}
	return New(uuid.NewString(), name, TypeSystem, SourceServer, map[string]any{
		"isArmed": armed,
	})
}
