package model

import "time"

// SessionInfo is a read-only snapshot of one logical client.
// It is copied out of the registry so callers never hold registry memory.
type SessionInfo struct {
	Name         string     `json:"name"`
	Type         ClientType `json:"type"`
	Handle       string     `json:"sid,omitempty"` // most recently bound connection
	RegisteredAt time.Time  `json:"registered"`
	LastSeenAt   time.Time  `json:"last_seen"`
	Alive        bool       `json:"alive"`
	Connections  int        `json:"connections"`
	Generation   uint64     `json:"-"` // bumped each time the name is created anew

	// Filled from the mailbox by the service layer.
	LastAckedEventID string `json:"lastAckedEventId,omitempty"`
	Pending          int    `json:"pending"`
}

// ClientsPayload is the snapshot returned for get(resource="clients") and the status endpoint.
type ClientsPayload struct {
	ClientList      map[string][]SessionInfo `json:"clientList"`
	AliveClientList map[string][]SessionInfo `json:"aliveClientList"`
	AliveCount      map[string]int           `json:"aliveClientCount"`
}

// NewClientsPayload pre-fills every tracked type so consumers always see all keys.
func NewClientsPayload() ClientsPayload {
	p := ClientsPayload{
		ClientList:      make(map[string][]SessionInfo, len(TrackedClientTypes)),
		AliveClientList: make(map[string][]SessionInfo, len(TrackedClientTypes)),
		AliveCount:      make(map[string]int, len(TrackedClientTypes)),
	}
	for _, t := range TrackedClientTypes {
		p.ClientList[t.Tag()] = []SessionInfo{}
		p.AliveClientList[t.Tag()] = []SessionInfo{}
		p.AliveCount[t.Tag()] = 0
	}
	return p
}
