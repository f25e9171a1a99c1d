package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimiroo/ice-server/internal/domain/event"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(id, name string, ts time.Time) *event.Event {
	return event.NewWithClock(id, name, event.TypeONVIF, event.SourceServer, nil, func() time.Time { return ts })
}

func ids(events []*event.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.ID())
	}
	return out
}

func TestRecordAndDistribute(t *testing.T) {
	m := New()
	m.Open("cam1", 1, 0)
	m.Open("desk", 1, 0)

	m.RecordAndDistribute(at("e1", "motion", t0))
	m.RecordAndDistribute(at("e2", "person", t0))

	for _, name := range []string{"cam1", "desk"} {
		pending, ok := m.PendingFor(name)
		require.True(t, ok)
		assert.Equal(t, []string{"e1", "e2"}, ids(pending))
	}
	assert.Equal(t, "e2", m.LastEventID())

	_, ok := m.PendingFor("ghost")
	assert.False(t, ok)
}

func TestOpenKeepsExistingQueue(t *testing.T) {
	m := New()
	assert.True(t, m.Open("cam1", 1, 0))
	m.RecordAndDistribute(at("e1", "motion", t0))

	assert.False(t, m.Open("cam1", 1, 0))
	pending, _ := m.PendingFor("cam1")
	assert.Equal(t, []string{"e1"}, ids(pending))
}

func TestAcknowledge(t *testing.T) {
	m := New()
	m.Open("cam1", 1, 0)
	m.RecordAndDistribute(at("e1", "motion", t0))
	m.RecordAndDistribute(at("e2", "person", t0))
	m.RecordAndDistribute(at("e3", "doorbell", t0))

	require.True(t, m.Acknowledge("cam1", []string{"e3", "e1"}))
	pending, _ := m.PendingFor("cam1")
	assert.Equal(t, []string{"e2"}, ids(pending))

	stats, ok := m.Stats("cam1")
	require.True(t, ok)
	assert.Equal(t, QueueStats{Pending: 1, LastAckedEventID: "e3"}, stats)

	t.Run("idempotent", func(t *testing.T) {
		assert.True(t, m.Acknowledge("cam1", []string{"e1", "unknown"}))
		pending, _ := m.PendingFor("cam1")
		assert.Equal(t, []string{"e2"}, ids(pending))
	})

	t.Run("unknown session", func(t *testing.T) {
		assert.False(t, m.Acknowledge("ghost", []string{"e2"}))
	})

	t.Run("history untouched", func(t *testing.T) {
		assert.Len(t, m.History(), 3)
	})
}

func TestPendingForReturnsCopy(t *testing.T) {
	m := New()
	m.Open("cam1", 1, 0)
	m.RecordAndDistribute(at("e1", "motion", t0))

	pending, _ := m.PendingFor("cam1")
	pending[0] = nil

	again, _ := m.PendingFor("cam1")
	require.NotNil(t, again[0])
}

func TestResumeFrom(t *testing.T) {
	m := New()
	m.Open("cam1", 1, 0)
	for _, id := range []string{"e1", "e2", "e3", "e4"} {
		m.RecordAndDistribute(at(id, "motion-"+id, t0))
	}

	require.True(t, m.ResumeFrom("cam1", "e2"))
	pending, _ := m.PendingFor("cam1")
	assert.Equal(t, []string{"e3", "e4"}, ids(pending))

	require.True(t, m.ResumeFrom("cam1", "e4"))
	pending, _ = m.PendingFor("cam1")
	assert.Empty(t, pending)

	assert.False(t, m.ResumeFrom("ghost", "e1"))
}

// An id that already left history yields the entire remaining history.
// This is a best-effort replay, not a gap signal.
func TestResumeFromExpiredIDReplaysEverything(t *testing.T) {
	m := New()
	m.Open("cam1", 1, 0)
	m.RecordAndDistribute(at("old", "motion", t0))
	m.RecordAndDistribute(at("e2", "person", t0.Add(10*time.Second)))
	m.RecordAndDistribute(at("e3", "doorbell", t0.Add(11*time.Second)))

	assert.Equal(t, []string{"old"}, m.Expire(t0.Add(16*time.Second)))

	require.True(t, m.ResumeFrom("cam1", "old"))
	pending, _ := m.PendingFor("cam1")
	assert.Equal(t, []string{"e2", "e3"}, ids(pending))
}

func TestIsRecentlyValid(t *testing.T) {
	now := t0
	m := New(WithClock(func() time.Time { return now }))
	m.RecordAndDistribute(at("e1", "motion", t0))

	assert.True(t, m.IsRecentlyValid("motion", 15*time.Second))
	assert.False(t, m.IsRecentlyValid("person", 15*time.Second))

	now = t0.Add(15 * time.Second)
	assert.False(t, m.IsRecentlyValid("motion", 15*time.Second))
}

func TestExpireAcksQueues(t *testing.T) {
	m := New()
	m.Open("cam1", 1, 0)
	m.RecordAndDistribute(at("e1", "motion", t0))
	m.RecordAndDistribute(at("e2", "person", t0.Add(5*time.Second)))

	assert.Nil(t, m.Expire(t0.Add(15*time.Second)), "exactly the window is still valid")

	assert.Equal(t, []string{"e1"}, m.Expire(t0.Add(16*time.Second)))
	pending, _ := m.PendingFor("cam1")
	assert.Equal(t, []string{"e2"}, ids(pending))
	assert.Equal(t, []string{"e2"}, ids(m.History()))

	assert.Equal(t, []string{"e2"}, m.Expire(t0.Add(time.Minute)))
	pending, _ = m.PendingFor("cam1")
	assert.Empty(t, pending)
	assert.Empty(t, m.History())
}

func TestMaxHistoryTrimsQueues(t *testing.T) {
	m := New(WithMaxHistory(2))
	m.Open("cam1", 1, 0)
	m.RecordAndDistribute(at("e1", "a", t0))
	m.RecordAndDistribute(at("e2", "b", t0))
	m.RecordAndDistribute(at("e3", "c", t0))

	assert.Equal(t, []string{"e2", "e3"}, ids(m.History()))
	pending, _ := m.PendingFor("cam1")
	assert.Equal(t, []string{"e2", "e3"}, ids(pending))
}

func TestCloseDropsQueue(t *testing.T) {
	m := New()
	m.Open("cam1", 1, 0)
	assert.True(t, m.Close("cam1", 1))

	_, ok := m.Stats("cam1")
	assert.False(t, ok)
	m.RecordAndDistribute(at("e1", "a", t0))
	assert.Len(t, m.History(), 1)
}

func TestOpenSeedsEventsRecordedAfterCursor(t *testing.T) {
	m := New()
	m.RecordAndDistribute(at("before", "motion", t0))

	cursor := m.Cursor()
	m.RecordAndDistribute(at("between", "person", t0))

	require.True(t, m.Open("cam1", 1, cursor))
	pending, _ := m.PendingFor("cam1")
	assert.Equal(t, []string{"between"}, ids(pending))
}

func TestGenerations(t *testing.T) {
	m := New()
	require.True(t, m.Open("laptop", 1, m.Cursor()))
	m.RecordAndDistribute(at("e1", "motion", t0))

	// the Session was deleted and re-created before its old queue was closed
	require.True(t, m.Open("laptop", 2, m.Cursor()))
	pending, _ := m.PendingFor("laptop")
	assert.Empty(t, pending)

	assert.False(t, m.Close("laptop", 1), "stale close must not drop the new queue")

	m.RecordAndDistribute(at("e2", "person", t0))
	pending, ok := m.PendingFor("laptop")
	require.True(t, ok)
	assert.Equal(t, []string{"e2"}, ids(pending))
	assert.True(t, m.Acknowledge("laptop", []string{"e2"}))

	assert.True(t, m.Close("laptop", 2))
	_, ok = m.PendingFor("laptop")
	assert.False(t, ok)
}
