package wsmarshaller

import (
	"github.com/goccy/go-json"

	"github.com/kimiroo/ice-server/internal/domain/model"
)

// Inbound message types.
const (
	TypeIntroduce    = "introduce"
	TypeEvent        = "event"
	TypeAck          = "ack"
	TypePing         = "ping"
	TypeGet          = "get"
	TypeRestoreQueue = "restore_queue"
)

// Outbound message types.
const (
	TypeConnected    = "connected"
	TypeEventResult  = "event_result"
	TypePong         = "pong"
	TypeAckResult    = "ack_result"
	TypeGetResult    = "get_result"
	TypeClientEvent  = "client_event"
	TypeEventIgnored = "event_ignored"
	TypeStatus       = "ice_status"
	TypeError        = "error"
)

// ResourceClients is the only resource served by get.
const ResourceClients = "clients"

// Inbound is a client frame; Data is decoded once Type is known.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is a server frame.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type IntroducePayload struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	LastEventID string `json:"lastEventId,omitempty"`
}

type AckPayload struct {
	AckList []string `json:"ackList"`
}

type GetPayload struct {
	Resource string `json:"resource"`
}

type RestoreQueuePayload struct {
	ID string `json:"id"`
}

// ClientEvent announces a presence change of another client.
type ClientEvent struct {
	Event  string                   `json:"event"`
	Client model.ClientEventPayload `json:"client"`
}

// EventIgnored tells every client which producer event was suppressed.
// Event is the suppressed event in its wire form.
type EventIgnored struct {
	Event  any    `json:"event"`
	Reason string `json:"reason"`
}
