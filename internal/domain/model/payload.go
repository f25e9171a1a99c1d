package model

import "time"

// ServerVersion is reported to clients in the connected handshake.
const ServerVersion = "1.0.0"

// EventView is the wire representation of an event.
type EventView struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ConnectedPayload represents the data sent to the client upon successful introduction.
type ConnectedPayload struct {
	Result        string `json:"result"`
	ClientName    string `json:"clientName"`
	ClientType    string `json:"clientType"`
	Handle        string `json:"sid"`
	LastEventID   string `json:"lastEventId,omitempty"`
	ServerVersion string `json:"serverVersion"`
}

// EventResultPayload answers an event submission. Producers always get one.
type EventResultPayload struct {
	ID      string `json:"id"`
	Result  string `json:"result"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// PongPayload answers a heartbeat with the armed flag and everything still pending.
type PongPayload struct {
	Result    string      `json:"result"`
	Timestamp time.Time   `json:"timestamp"`
	IsArmed   bool        `json:"isArmed"`
	Events    []EventView `json:"events"`
}

// AckResultPayload answers ack and restore_queue.
type AckResultPayload struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

// GetResultPayload answers get(resource).
type GetResultPayload struct {
	Result   string `json:"result"`
	Resource string `json:"resource,omitempty"`
	Data     any    `json:"data,omitempty"`
	Message  string `json:"message,omitempty"`
}

// ArmStatusPayload is broadcast whenever the armed flag flips.
type ArmStatusPayload struct {
	IsArmed bool `json:"isArmed"`
}

// ClientEventPayload describes a presence change of another client.
type ClientEventPayload struct {
	ClientName string `json:"clientName"`
	ClientType string `json:"clientType"`
	Handle     string `json:"sid,omitempty"`
}

// ErrorPayload is sent when a connection is refused or a message cannot be decoded.
type ErrorPayload struct {
	Result  string `json:"result"`
	Message string `json:"message"`
}
