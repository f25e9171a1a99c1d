/*
Package registry is the authoritative mapping of transport connections to logical clients.

Key Architectural Concepts:
  - Cells: every logical client (Session) is an isolated record addressed by its
    stable name. Reconnects re-bind the same cell, so nothing tied to the name
    (pending events in the mailbox) is lost across transport churn.
  - Connection Index: raw connection handles map to a cell name. Anonymous
    connections live only here and are never tracked as Sessions.
  - Liveness: a periodic Sweep flips idle cells to not-alive and later removes
    them. Notifications are the caller's job, after the lock is released.
  - Concurrency: one mutex guards both maps. Nothing inside it performs I/O or
    calls into other components.
*/
package registry

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kimiroo/ice-server/internal/domain/model"
)

// Hubber defines the gateway for session management and connection lookup.
type Hubber interface {
	Register(conn Connector, typ model.ClientType, name string) (model.SessionInfo, error)
	Lookup(handle string) (model.SessionInfo, bool)
	Heartbeat(handle string) bool
	Release(handle string) (model.SessionInfo, bool)
	ListByType(typ model.ClientType, aliveOnly bool) []model.SessionInfo
	Connections() []Connector
	Sweep(now time.Time) (outdated, deleted []model.SessionInfo)
	Stats() Stats
	Shutdown()
}

var _ Hubber = (*Hub)(nil)

// Stats is a point-in-time count used by metrics and the status endpoint.
type Stats struct {
	Sessions    int
	Alive       int
	Connections int
}

// Hub implements the Session Registry.
type Hub struct {
	config hubConfig

	mu         sync.Mutex
	cells      map[string]*cell    // name -> session
	conns      map[string]*binding // handle -> binding
	generation uint64
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		config: hubConfig{
			invalidThreshold: DefaultInvalidThreshold,
			deleteThreshold:  DefaultDeleteThreshold,
			now:              time.Now,
		},
		cells: make(map[string]*cell),
		conns: make(map[string]*binding),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register binds conn to the Session called name, creating it on first introduction.
// Re-introducing an existing name re-binds it and resets liveness.
func (h *Hub) Register(conn Connector, typ model.ClientType, name string) (model.SessionInfo, error) {
	if !typ.Tracked() && typ != model.ClientAnonymous {
		return model.SessionInfo{}, &model.ValidationError{Field: "type", Reason: "unknown client type"}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		if typ.RequiresName() {
			return model.SessionInfo{}, &model.ValidationError{Field: "name", Reason: "client name is required for " + typ.Tag() + " clients"}
		}
		name = typ.Tag() + "_" + conn.Handle()
	}

	handle := conn.Handle()
	now := h.config.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	// [ANONYMOUS] connection index only
	if !typ.Tracked() {
		h.unbindLocked(handle)
		h.conns[handle] = &binding{conn: conn, name: name, typ: typ}
		return model.SessionInfo{
			Name: name, Type: typ, Handle: handle,
			RegisteredAt: now, LastSeenAt: now, Alive: true, Connections: 1,
		}, nil
	}

	c, ok := h.cells[name]
	if ok && c.typ != typ {
		return model.SessionInfo{}, &model.ValidationError{
			Field:  "type",
			Reason: "client '" + name + "' is already registered as " + c.typ.Tag(),
		}
	}

	h.unbindLocked(handle)

	if !ok {
		h.generation++
		c = newCell(name, typ, h.generation, handle, now)
		h.cells[name] = c
	} else {
		c.handle = handle
		c.touch(now)
	}

	c.conns++
	h.conns[handle] = &binding{conn: conn, name: name, typ: typ}

	return c.snapshot(), nil
}

// Lookup resolves a connection handle to its Session.
func (h *Hub) Lookup(handle string) (model.SessionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.conns[handle]
	if !ok {
		return model.SessionInfo{}, false
	}
	if !b.typ.Tracked() {
		return model.SessionInfo{Name: b.name, Type: b.typ, Handle: handle, Alive: true, Connections: 1}, true
	}

	c, ok := h.cells[b.name]
	if !ok {
		return model.SessionInfo{}, false
	}
	return c.snapshot(), true
}

// Heartbeat refreshes the Session bound to handle.
// False means the caller should force-disconnect the connection.
func (h *Hub) Heartbeat(handle string) bool {
	now := h.config.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.conns[handle]
	if !ok {
		return false
	}
	if !b.typ.Tracked() {
		return true
	}

	c, ok := h.cells[b.name]
	if !ok {
		return false
	}
	c.touch(now)
	return true
}

// Release removes the connection binding. The Session itself stays until the
// liveness sweep deletes it, except for anonymous connections.
func (h *Hub) Release(handle string) (model.SessionInfo, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.conns[handle]
	if !ok {
		return model.SessionInfo{}, false
	}
	h.unbindLocked(handle)

	if !b.typ.Tracked() {
		return model.SessionInfo{Name: b.name, Type: b.typ, Handle: handle}, true
	}
	if c, ok := h.cells[b.name]; ok {
		return c.snapshot(), true
	}
	return model.SessionInfo{Name: b.name, Type: b.typ, Handle: handle}, true
}

// ListByType returns Session snapshots of one type, sorted by name.
func (h *Hub) ListByType(typ model.ClientType, aliveOnly bool) []model.SessionInfo {
	h.mu.Lock()
	out := make([]model.SessionInfo, 0, len(h.cells))
	for _, c := range h.cells {
		if c.typ != typ || (aliveOnly && !c.alive) {
			continue
		}
		out = append(out, c.snapshot())
	}
	h.mu.Unlock()

	slices.SortFunc(out, func(a, b model.SessionInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Connections returns every bound connection for fan-out.
func (h *Hub) Connections() []Connector {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Connector, 0, len(h.conns))
	for _, b := range h.conns {
		out = append(out, b.conn)
	}
	return out
}

// Sweep classifies every Session by idle time in a single critical section.
// Deleted Sessions lose their connection bindings too, so they never receive
// the notification about their own departure.
func (h *Hub) Sweep(now time.Time) (outdated, deleted []model.SessionInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for name, c := range h.cells {
		idle := c.idle(now)

		if idle > h.config.deleteThreshold {
			c.alive = false
			deleted = append(deleted, c.snapshot())
			delete(h.cells, name)
			for handle, b := range h.conns {
				if b.name == name && b.typ.Tracked() {
					delete(h.conns, handle)
				}
			}
			continue
		}

		if idle > h.config.invalidThreshold && c.alive {
			c.alive = false
			outdated = append(outdated, c.snapshot())
		}
	}
	return outdated, deleted
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Stats{Sessions: len(h.cells), Connections: len(h.conns)}
	for _, c := range h.cells {
		if c.alive {
			s.Alive++
		}
	}
	return s
}

// Shutdown closes every bound connection. Sessions are in-memory only and simply dropped.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	conns := make([]Connector, 0, len(h.conns))
	for _, b := range h.conns {
		conns = append(conns, b.conn)
	}
	h.conns = make(map[string]*binding)
	h.cells = make(map[string]*cell)
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

func (h *Hub) unbindLocked(handle string) {
	b, ok := h.conns[handle]
	if !ok {
		return
	}
	delete(h.conns, handle)
	if c, ok := h.cells[b.name]; ok && b.typ.Tracked() && c.conns > 0 {
		c.conns--
	}
}
