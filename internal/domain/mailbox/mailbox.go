// Package mailbox keeps the global event history and one undelivered-event
// queue per Session, with acknowledgement and resume semantics.
//
// Every read and mutation happens under one mutex. The workload is low-volume
// control-plane traffic, so the mailbox favours a single consistent order over
// fine-grained locking.
package mailbox

import (
	"slices"
	"sync"
	"time"

	"github.com/kimiroo/ice-server/internal/domain/event"
)

const (
	DefaultValidityWindow = 15 * time.Second
	DefaultMaxHistory     = 1024
)

// Boxer is the contract used by arbitration, delivery and the history reaper.
type Boxer interface {
	Open(name string, generation, cursor uint64) bool
	Close(name string, generation uint64) bool
	Cursor() uint64
	RecordAndDistribute(ev *event.Event)
	PendingFor(name string) ([]*event.Event, bool)
	Acknowledge(name string, ids []string) bool
	ResumeFrom(name, lastID string) bool
	IsRecentlyValid(eventName string, within time.Duration) bool
	Expire(now time.Time) []string
	LastEventID() string
	History() []*event.Event
	Stats(name string) (QueueStats, bool)
}

var _ Boxer = (*Mailbox)(nil)

// QueueStats describes one Session's queue for status reporting.
type QueueStats struct {
	Pending          int
	LastAckedEventID string
}

type queue struct {
	generation uint64 // registry generation of the Session that owns it
	pending    []*event.Event
	lastAcked  string
}

type Mailbox struct {
	validity   time.Duration
	maxHistory int
	now        func() time.Time

	mu          sync.Mutex
	history     []*event.Event // arrival order, oldest first
	seq         map[*event.Event]uint64
	recorded    uint64
	queues      map[string]*queue
	lastEventID string
}

type Option func(*Mailbox)

// WithValidityWindow sets how long an event stays in history.
func WithValidityWindow(d time.Duration) Option {
	return func(m *Mailbox) {
		if d > 0 {
			m.validity = d
		}
	}
}

// WithMaxHistory bounds the history. Trimmed entries leave every queue, like expired ones.
func WithMaxHistory(n int) Option {
	return func(m *Mailbox) {
		if n > 0 {
			m.maxHistory = n
		}
	}
}

// WithClock replaces time.Now for IsRecentlyValid.
func WithClock(now func() time.Time) Option {
	return func(m *Mailbox) {
		if now != nil {
			m.now = now
		}
	}
}

func New(opts ...Option) *Mailbox {
	m := &Mailbox{
		validity:   DefaultValidityWindow,
		maxHistory: DefaultMaxHistory,
		now:        time.Now,
		seq:        make(map[*event.Event]uint64),
		queues:     make(map[string]*queue),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Cursor counts every event recorded so far. A caller takes it before
// registering a Session and hands it to Open, so events recorded in between
// still reach the new queue.
func (m *Mailbox) Cursor() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorded
}

// Open creates the queue of the Session generation, seeded with the history
// recorded after cursor. A queue of the same generation is kept intact so a
// reconnecting Session finds the events accumulated while it was away; a queue
// left by an older generation is replaced.
func (m *Mailbox) Open(name string, generation, cursor uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q, ok := m.queues[name]; ok && q.generation == generation {
		return false
	}

	q := &queue{generation: generation}
	for _, ev := range m.history {
		if m.seq[ev] > cursor {
			q.pending = append(q.pending, ev)
		}
	}
	m.queues[name] = q
	return true
}

// Close drops the queue of a deleted Session. A queue already re-opened by a
// newer generation is left alone.
func (m *Mailbox) Close(name string, generation uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok || q.generation != generation {
		return false
	}
	delete(m.queues, name)
	return true
}

// RecordAndDistribute appends ev to history and to every open queue.
func (m *Mailbox) RecordAndDistribute(ev *event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recorded++
	m.seq[ev] = m.recorded
	m.history = append(m.history, ev)
	m.lastEventID = ev.ID()

	for _, q := range m.queues {
		q.pending = append(q.pending, ev)
	}

	if over := len(m.history) - m.maxHistory; over > 0 {
		dropped := m.history[:over]
		m.history = slices.Clone(m.history[over:])
		m.forgetLocked(dropped)
	}
}

// PendingFor returns a copy of the queue.
func (m *Mailbox) PendingFor(name string) ([]*event.Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(q.pending), true
}

// Acknowledge removes the given ids from the queue. Unknown ids are ignored.
// False only when name has no queue: the caller must re-introduce.
func (m *Mailbox) Acknowledge(name string, ids []string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return false
	}
	if len(ids) == 0 {
		return true
	}

	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	kept := q.pending[:0]
	for _, ev := range q.pending {
		if _, hit := set[ev.ID()]; hit {
			q.lastAcked = ev.ID() // queue is in arrival order: the last hit is the newest
			continue
		}
		kept = append(kept, ev)
	}
	clear(q.pending[len(kept):])
	q.pending = kept
	return true
}

// ResumeFrom replaces the queue with every history entry strictly newer than lastID.
// When lastID is no longer in history the queue becomes the whole remaining history:
// a best-effort replay, gaps are detectable through event ids.
func (m *Mailbox) ResumeFrom(name, lastID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return false
	}

	start := 0
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].ID() == lastID {
			start = i + 1
			q.lastAcked = lastID
			break
		}
	}
	q.pending = slices.Clone(m.history[start:])
	return true
}

// IsRecentlyValid reports whether an event named eventName was recorded less than within ago.
func (m *Mailbox) IsRecentlyValid(eventName string, within time.Duration) bool {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.history) - 1; i >= 0; i-- {
		ev := m.history[i]
		if ev.Name() == eventName && now.Sub(ev.Timestamp()) < within {
			return true
		}
	}
	return false
}

// Expire drops history entries older than the validity window and acknowledges
// them out of every queue. It returns the dropped ids.
func (m *Mailbox) Expire(now time.Time) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var dropped []*event.Event
	kept := make([]*event.Event, 0, len(m.history))
	for _, ev := range m.history {
		if now.Sub(ev.Timestamp()) > m.validity {
			dropped = append(dropped, ev)
			continue
		}
		kept = append(kept, ev)
	}
	if len(dropped) == 0 {
		return nil
	}

	m.history = kept
	m.forgetLocked(dropped)

	ids := make([]string, 0, len(dropped))
	for _, ev := range dropped {
		ids = append(ids, ev.ID())
	}
	return ids
}

func (m *Mailbox) LastEventID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEventID
}

// History returns a copy of the live history, oldest first.
func (m *Mailbox) History() []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

func (m *Mailbox) Stats(name string) (QueueStats, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[name]
	if !ok {
		return QueueStats{}, false
	}
	return QueueStats{Pending: len(q.pending), LastAckedEventID: q.lastAcked}, true
}

// forgetLocked removes dropped events from every queue without touching lastAcked.
func (m *Mailbox) forgetLocked(dropped []*event.Event) {
	gone := make(map[*event.Event]struct{}, len(dropped))
	for _, ev := range dropped {
		gone[ev] = struct{}{}
		delete(m.seq, ev)
	}
	for _, q := range m.queues {
		q.pending = slices.DeleteFunc(q.pending, func(ev *event.Event) bool {
			_, hit := gone[ev]
			return hit
		})
	}
}
