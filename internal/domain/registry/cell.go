package registry

import (
	"time"

	"github.com/kimiroo/ice-server/internal/domain/model"
)

// cell is the registry record of one logical client. It outlives individual
// transport connections: reconnects re-bind the same cell by name.
type cell struct {
	// [IDENTITY] set once at introduction, immutable thereafter
	name       string
	typ        model.ClientType
	generation uint64

	registeredAt time.Time
	lastSeenAt   time.Time
	alive        bool

	// handle of the most recently bound connection, for reporting only
	handle string
	// number of live bindings in the connection index
	conns int
}

func newCell(name string, typ model.ClientType, generation uint64, handle string, now time.Time) *cell {
	return &cell{
		name:         name,
		typ:          typ,
		generation:   generation,
		registeredAt: now,
		lastSeenAt:   now,
		alive:        true,
		handle:       handle,
	}
}

func (c *cell) touch(now time.Time) {
	c.lastSeenAt = now
	c.alive = true
}

func (c *cell) idle(now time.Time) time.Duration {
	return now.Sub(c.lastSeenAt)
}

func (c *cell) snapshot() model.SessionInfo {
	return model.SessionInfo{
		Name:         c.name,
		Type:         c.typ,
		Handle:       c.handle,
		RegisteredAt: c.registeredAt,
		LastSeenAt:   c.lastSeenAt,
		Alive:        c.alive,
		Connections:  c.conns,
		Generation:   c.generation,
	}
}
