package service

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/mailbox"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/metrics"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (r *LivenessReaper) withClock(now func() time.Time) *LivenessReaper {
	r.now = now
	return r
}

type recordingDispatcher struct {
	mu        sync.Mutex
	published []*event.Event
}

func (d *recordingDispatcher) Publish(_ context.Context, ev *event.Event) error {
	d.mu.Lock()
	d.published = append(d.published, ev)
	d.mu.Unlock()
	return nil
}

func (d *recordingDispatcher) Publisher() message.Publisher { return nil }

func (d *recordingDispatcher) ofType(typ string) []*event.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []*event.Event
	for _, ev := range d.published {
		if ev.Type() == typ {
			out = append(out, ev)
		}
	}
	return out
}

type notification struct {
	id      string
	outcome model.Outcome
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

func (n *recordingNotifier) Notify(ev *event.Event, outcome model.Outcome) bool {
	n.mu.Lock()
	n.calls = append(n.calls, notification{id: ev.ID(), outcome: outcome})
	n.mu.Unlock()
	return true
}

type fixture struct {
	clock      *clock
	app        *state.State
	hub        *registry.Hub
	box        *mailbox.Mailbox
	dispatcher *recordingDispatcher
	notifier   *recordingNotifier
	arbiter    *Arbiter
	delivery   *DeliveryService
	logger     *slog.Logger
}

func newFixture(t *testing.T, armed bool) *fixture {
	t.Helper()

	clk := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f := &fixture{
		clock:      clk,
		app:        state.New(armed),
		hub:        registry.NewHub(registry.WithClock(clk.Now)),
		box:        mailbox.New(mailbox.WithClock(clk.Now)),
		dispatcher: &recordingDispatcher{},
		notifier:   &recordingNotifier{},
		logger:     logger,
	}

	a, err := NewArbiter(ArbiterConfig{
		ValidityWindow: 15 * time.Second,
		DedupTypes:     []string{event.TypeONVIF},
		SeenIDs:        16,
	}, f.box, f.app, f.dispatcher, f.notifier, noop.NewTracerProvider().Tracer("test"), logger)
	require.NoError(t, err)
	a.now = clk.Now
	f.arbiter = a

	f.delivery = NewDeliveryService(f.hub, f.box, a, logger)
	f.delivery.now = clk.Now
	return f
}

func (f *fixture) connect(t *testing.T, typ model.ClientType, name string) registry.Connector {
	t.Helper()
	conn := registry.NewConnector(context.Background(), 16, registry.ConnectMetadata{})
	_, err := f.delivery.Connect(context.Background(), conn, typ, name, "")
	require.NoError(t, err)
	return conn
}

func motion(id string) event.Draft {
	return event.Draft{ID: id, Name: "motion", Type: event.TypeONVIF, Source: event.SourceServer}
}

func pendingIDs(t *testing.T, box *mailbox.Mailbox, name string) []string {
	t.Helper()
	pending, ok := box.PendingFor(name)
	require.True(t, ok)
	ids := make([]string, 0, len(pending))
	for _, ev := range pending {
		ids = append(ids, ev.ID())
	}
	return ids
}

func TestAcceptThenAcknowledge(t *testing.T) {
	f := newFixture(t, true)
	conn := f.connect(t, model.ClientHub, "cam1")

	outcome, reason, ev := f.arbiter.Submit(context.Background(), motion("e1"))
	require.Equal(t, model.OutcomeAccepted, outcome)
	assert.Empty(t, reason)
	require.NotNil(t, ev)
	assert.Equal(t, []string{"e1"}, pendingIDs(t, f.box, "cam1"))

	require.NoError(t, f.delivery.Ack(conn.Handle(), []string{"e1"}))
	assert.Empty(t, pendingIDs(t, f.box, "cam1"))

	// idempotent
	require.NoError(t, f.delivery.Ack(conn.Handle(), []string{"e1", "unknown"}))

	published := f.dispatcher.ofType(event.TypeONVIF)
	require.Len(t, published, 1)
	assert.Equal(t, "e1", published[0].ID())

	require.Len(t, f.notifier.calls, 1)
	assert.Equal(t, notification{id: "e1", outcome: model.OutcomeAccepted}, f.notifier.calls[0])
}

func TestRejectedInvalid(t *testing.T) {
	tests := []struct {
		name  string
		draft event.Draft
		field string
	}{
		{name: "empty name", draft: event.Draft{ID: "e1", Type: "onvif", Source: "server"}, field: "event"},
		{name: "missing id", draft: event.Draft{Name: "motion", Type: "onvif", Source: "server"}, field: "id"},
		{name: "blank source", draft: event.Draft{ID: "e1", Name: "motion", Type: "onvif", Source: "  "}, field: "source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)

			outcome, reason, ev := f.arbiter.Submit(context.Background(), tt.draft)
			assert.Equal(t, model.OutcomeRejectedInvalid, outcome)
			assert.Contains(t, reason, "'"+tt.field+"'")
			assert.Nil(t, ev)
			assert.Empty(t, f.box.History())
			assert.Empty(t, f.dispatcher.ofType(event.TypeONVIF))
			assert.Empty(t, f.notifier.calls)
		})
	}
}

func TestDuplicateSuppressionWindow(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	outcome, _, _ := f.arbiter.Submit(ctx, motion("e1"))
	assert.Equal(t, model.OutcomeAccepted, outcome)

	f.clock.Advance(5 * time.Second)
	outcome, reason, _ := f.arbiter.Submit(ctx, motion("e2"))
	assert.Equal(t, model.OutcomeIgnoredDuplicate, outcome)
	assert.Equal(t, model.ReasonPreviousValid, reason)
	assert.Equal(t, model.ResultSuccess, outcome.Result())

	f.clock.Advance(11 * time.Second)
	outcome, _, _ = f.arbiter.Submit(ctx, motion("e3"))
	assert.Equal(t, model.OutcomeAccepted, outcome)

	require.Len(t, f.box.History(), 2)

	notices := f.dispatcher.ofType(event.TypeIgnored)
	require.Len(t, notices, 1)
	assert.Equal(t, model.ReasonPreviousValid, notices[0].Data()["reason"])
}

func TestDuplicateSuppressionOnlyForListedTypes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	ring := func(id string) event.Draft {
		return event.Draft{ID: id, Name: "doorbell", Type: "intercom", Source: "ha"}
	}
	for _, id := range []string{"d1", "d2", "d3"} {
		outcome, _, _ := f.arbiter.Submit(ctx, ring(id))
		assert.Equal(t, model.OutcomeAccepted, outcome, id)
	}
}

func TestResubmittedIDIsIgnored(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	duplicates := metrics.EventsSubmitted.WithLabelValues(model.OutcomeIgnoredDuplicate.String())
	before := testutil.ToFloat64(duplicates)

	draft := event.Draft{ID: "same", Name: "doorbell", Type: "intercom", Source: "ha"}
	outcome, _, _ := f.arbiter.Submit(ctx, draft)
	require.Equal(t, model.OutcomeAccepted, outcome)

	outcome, reason, _ := f.arbiter.Submit(ctx, draft)
	assert.Equal(t, model.OutcomeIgnoredDuplicate, outcome)
	assert.Equal(t, model.ReasonDuplicateID, reason)
	assert.Len(t, f.box.History(), 1)
	assert.Equal(t, before+1, testutil.ToFloat64(duplicates))
}

func TestDisarmedGating(t *testing.T) {
	f := newFixture(t, false)
	f.connect(t, model.ClientCompanion, "laptop")

	for _, id := range []string{"e1", "e2"} {
		outcome, reason, ev := f.arbiter.Submit(context.Background(), motion(id))
		assert.Equal(t, model.OutcomeIgnoredDisarmed, outcome)
		assert.Equal(t, model.ReasonNotArmed, reason)
		assert.NotNil(t, ev)
	}

	assert.Empty(t, f.box.History())
	assert.Empty(t, pendingIDs(t, f.box, "laptop"))
	assert.Empty(t, f.dispatcher.ofType(event.TypeONVIF))
	// the notifier still sees ignored events; its own filters decide
	assert.Len(t, f.notifier.calls, 2)

	notices := f.dispatcher.ofType(event.TypeIgnored)
	require.Len(t, notices, 2)
	for i, notice := range notices {
		assert.Equal(t, model.ReasonNotArmed, notice.Data()["reason"])
		assert.Equal(t, []string{"e1", "e2"}[i], notice.Data()["event"].(model.EventView).ID)
	}
}

func TestSetArmedBroadcastsStatus(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	assert.True(t, f.arbiter.SetArmed(ctx, true))
	assert.False(t, f.arbiter.SetArmed(ctx, true))
	assert.True(t, f.arbiter.IsArmed())

	status := f.dispatcher.ofType(event.TypeSystem)
	require.Len(t, status, 2)
	assert.Equal(t, event.NameArmed, status[1].Name())
	assert.Equal(t, true, status[1].Data()["isArmed"])
}

func TestReconnectKeepsPending(t *testing.T) {
	f := newFixture(t, true)
	first := f.connect(t, model.ClientHub, "cam1")

	outcome, _, _ := f.arbiter.Submit(context.Background(), motion("e1"))
	require.Equal(t, model.OutcomeAccepted, outcome)

	f.delivery.Disconnect(first.Handle())
	second := f.connect(t, model.ClientHub, "cam1")

	pong, err := f.delivery.Ping(second.Handle())
	require.NoError(t, err)
	assert.True(t, pong.IsArmed)
	require.Len(t, pong.Events, 1)
	assert.Equal(t, "e1", pong.Events[0].ID)

	_, err = f.delivery.Ping(first.Handle())
	assert.ErrorIs(t, err, model.ErrConnectionNotBound)
}

func TestConnectWithLastEventIDResumes(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	for _, id := range []string{"d1", "d2", "d3"} {
		f.arbiter.Submit(ctx, event.Draft{ID: id, Name: id, Type: "intercom", Source: "ha"})
	}

	conn := registry.NewConnector(ctx, 16, registry.ConnectMetadata{})
	res, err := f.delivery.Connect(ctx, conn, model.ClientCompanion, "laptop", "d1")
	require.NoError(t, err)
	assert.Equal(t, "d3", res.LastEventID)
	assert.Equal(t, model.ServerVersion, res.ServerVersion)
	assert.Equal(t, []string{"d2", "d3"}, pendingIDs(t, f.box, "laptop"))

	// unknown id replays the whole remaining history
	require.NoError(t, f.delivery.RestoreQueue(conn.Handle(), "expired"))
	assert.Equal(t, []string{"d1", "d2", "d3"}, pendingIDs(t, f.box, "laptop"))
}

func TestConnectRefusals(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	conn := registry.NewConnector(ctx, 4, registry.ConnectMetadata{})
	_, err := f.delivery.Connect(ctx, conn, model.ClientHub, "", "")
	assert.True(t, model.IsValidation(err))

	browser := registry.NewConnector(ctx, 4, registry.ConnectMetadata{})
	res, err := f.delivery.Connect(ctx, browser, model.ClientBrowser, "", "")
	require.NoError(t, err)
	assert.Equal(t, "html_"+browser.Handle(), res.ClientName)
}

func TestAnonymousConnection(t *testing.T) {
	f := newFixture(t, true)
	conn := f.connect(t, model.ClientAnonymous, "tester")

	_, err := f.delivery.Ping(conn.Handle())
	require.NoError(t, err)

	err = f.delivery.Ack(conn.Handle(), []string{"x"})
	assert.True(t, model.IsValidation(err))

	res := f.delivery.SubmitFrom(context.Background(), conn.Handle(), motion("e1"))
	assert.Equal(t, model.ResultSuccess, res.Result)
	assert.Equal(t, "accepted", res.Outcome)

	assert.Empty(t, f.dispatcher.ofType(event.TypeClient), "anonymous clients are not announced")
}

func TestSubmitFromUnboundConnection(t *testing.T) {
	f := newFixture(t, true)

	res := f.delivery.SubmitFrom(context.Background(), "nope", motion("e1"))
	assert.Equal(t, model.ResultFailed, res.Result)
	assert.Empty(t, f.box.History())
}

func TestClientsSnapshot(t *testing.T) {
	f := newFixture(t, true)
	f.connect(t, model.ClientHub, "cam1")
	f.connect(t, model.ClientCompanion, "laptop")
	f.arbiter.Submit(context.Background(), motion("e1"))

	f.clock.Advance(3 * time.Second)
	NewLivenessReaper(f.hub, f.box, f.arbiter, f.app, time.Second, f.logger).withClock(f.clock.Now).Reap(context.Background())

	p := f.delivery.Clients()
	require.Len(t, p.ClientList["ha"], 1)
	assert.Equal(t, 1, p.ClientList["ha"][0].Pending)
	assert.Equal(t, 0, p.AliveCount["ha"])
	assert.Empty(t, p.AliveClientList["pc"])
	assert.Empty(t, p.ClientList["html"])
}

func TestLivenessReaper(t *testing.T) {
	f := newFixture(t, true)
	laptop := f.connect(t, model.ClientCompanion, "laptop")
	f.connect(t, model.ClientBrowser, "tab")
	reaper := NewLivenessReaper(f.hub, f.box, f.arbiter, f.app, 100*time.Millisecond, f.logger).withClock(f.clock.Now)
	ctx := context.Background()

	f.clock.Advance(2 * time.Second)
	reaper.Reap(ctx)
	info, ok := f.hub.Lookup(laptop.Handle())
	require.True(t, ok)
	assert.True(t, info.Alive, "idle must exceed the threshold strictly")

	f.clock.Advance(100 * time.Millisecond)
	reaper.Reap(ctx)
	info, _ = f.hub.Lookup(laptop.Handle())
	assert.False(t, info.Alive)

	f.clock.Advance(28 * time.Second)
	reaper.Reap(ctx)
	_, ok = f.hub.Lookup(laptop.Handle())
	assert.False(t, ok)
	_, ok = f.box.Stats("laptop")
	assert.False(t, ok, "mailbox is closed with the session")
	assert.Empty(t, f.hub.Connections(), "departed sessions receive nothing")

	var kinds []string
	for _, ev := range f.dispatcher.ofType(event.TypeClient) {
		if ev.Data()["clientName"] == "laptop" {
			kinds = append(kinds, ev.Name())
		}
	}
	assert.Equal(t, []string{"connected", "outdated", "disconnected"}, kinds)

	for _, ev := range f.dispatcher.ofType(event.TypeClient) {
		assert.NotEqual(t, "tab", ev.Data()["clientName"], "browsers are not announced")
	}
}

func TestReconnectBetweenSweepAndCloseKeepsMailbox(t *testing.T) {
	f := newFixture(t, true)
	f.connect(t, model.ClientCompanion, "laptop")
	reaper := NewLivenessReaper(f.hub, f.box, f.arbiter, f.app, 100*time.Millisecond, f.logger).withClock(f.clock.Now)
	ctx := context.Background()

	f.clock.Advance(31 * time.Second)
	outdated, deleted := f.hub.Sweep(f.clock.Now())
	require.Len(t, deleted, 1)

	conn := f.connect(t, model.ClientCompanion, "laptop")
	reaper.settle(ctx, outdated, deleted)

	outcome, _, _ := f.arbiter.Submit(ctx, motion("e1"))
	require.Equal(t, model.OutcomeAccepted, outcome)

	pong, err := f.delivery.Ping(conn.Handle())
	require.NoError(t, err)
	require.Len(t, pong.Events, 1)
	assert.Equal(t, "e1", pong.Events[0].ID)

	require.NoError(t, f.delivery.Ack(conn.Handle(), []string{"e1"}))
	assert.Empty(t, pendingIDs(t, f.box, "laptop"))
}

// interleavingHub runs hook right after a registration, before the caller continues.
type interleavingHub struct {
	*registry.Hub
	hook func()
}

func (h *interleavingHub) Register(conn registry.Connector, typ model.ClientType, name string) (model.SessionInfo, error) {
	info, err := h.Hub.Register(conn, typ, name)
	if err == nil && h.hook != nil {
		h.hook()
	}
	return info, err
}

func TestEventAcceptedDuringConnectReachesNewQueue(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	outcome, _, _ := f.arbiter.Submit(ctx, motion("old"))
	require.Equal(t, model.OutcomeAccepted, outcome)
	f.clock.Advance(20 * time.Second)

	hub := &interleavingHub{Hub: f.hub}
	hub.hook = func() {
		outcome, _, _ := f.arbiter.Submit(ctx, motion("e1"))
		require.Equal(t, model.OutcomeAccepted, outcome)
	}
	delivery := NewDeliveryService(hub, f.box, f.arbiter, f.logger)

	conn := registry.NewConnector(ctx, 16, registry.ConnectMetadata{})
	_, err := delivery.Connect(ctx, conn, model.ClientCompanion, "laptop", "")
	require.NoError(t, err)

	assert.Equal(t, []string{"e1"}, pendingIDs(t, f.box, "laptop"))
}

func TestHistoryReaper(t *testing.T) {
	f := newFixture(t, true)
	f.connect(t, model.ClientHub, "cam1")
	f.arbiter.Submit(context.Background(), motion("e1"))

	reaper := NewHistoryReaper(f.box, f.app, 100*time.Millisecond, f.logger)
	reaper.now = f.clock.Now

	f.clock.Advance(15 * time.Second)
	reaper.Reap(context.Background())
	assert.Len(t, f.box.History(), 1)

	f.clock.Advance(time.Millisecond)
	reaper.Reap(context.Background())
	assert.Empty(t, f.box.History())
	assert.Empty(t, pendingIDs(t, f.box, "cam1"))
}

func TestReapersStopWhenNotRunning(t *testing.T) {
	f := newFixture(t, true)
	f.app.Stop()

	reaper := NewHistoryReaper(f.box, f.app, time.Millisecond, f.logger)
	done := make(chan error, 1)
	go func() { done <- reaper.Serve(context.Background()) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("reaper kept running")
	}
}

func TestCorrelationIDIsTraced(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{name: "correlated submission", ctx: event.WithCorrelationID(context.Background(), "bridge-42"), want: "bridge-42"},
		{name: "uncorrelated submission", ctx: context.Background()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)
			recorder := tracetest.NewSpanRecorder()
			var logs bytes.Buffer
			f.arbiter.tracer = sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder)).Tracer("test")
			f.arbiter.logger = slog.New(slog.NewJSONHandler(&logs, nil))

			outcome, _, _ := f.arbiter.Submit(tt.ctx, motion("e1"))
			require.Equal(t, model.OutcomeAccepted, outcome)

			spans := recorder.Ended()
			require.Len(t, spans, 1)
			var got string
			for _, kv := range spans[0].Attributes() {
				if kv.Key == "ice.correlation_id" {
					got = kv.Value.AsString()
				}
			}
			assert.Equal(t, tt.want, got)
			assert.Contains(t, logs.String(), `"correlation_id":"`+tt.want+`"`)
		})
	}
}
