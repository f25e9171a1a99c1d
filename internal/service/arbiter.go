package service

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kimiroo/ice-server/internal/adapter/pubsub"
	"github.com/kimiroo/ice-server/internal/adapter/webhook"
	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/mailbox"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/metrics"
)

// [ARBITRATION] SOLE DECISION POINT FOR ACCEPTANCE, FAN-OUT AND SIDE EFFECTS
type Arbitrator interface {
	Submit(ctx context.Context, d event.Draft) (model.Outcome, string, *event.Event)
	Notify(ctx context.Context, ev *event.Event)
	SetArmed(ctx context.Context, armed bool) bool
	IsArmed() bool
}

var _ Arbitrator = (*Arbiter)(nil)

// ArbiterConfig carries the de-duplication policy.
type ArbiterConfig struct {
	ValidityWindow time.Duration
	DedupTypes     []string // event types checked against recent history
	DedupNames     []string // event names checked regardless of type
	SeenIDs        int      // capacity of the recently-accepted id cache
}

type Arbiter struct {
	box        mailbox.Boxer
	app        *state.State
	dispatcher pubsub.EventDispatcher
	notifier   webhook.Notifier
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time
	cfg        ArbiterConfig

	// mu serializes validate -> record -> distribute so history has one total order.
	mu   sync.Mutex
	seen *lru.Cache[string, struct{}]
}

func NewArbiter(
	cfg ArbiterConfig,
	box mailbox.Boxer,
	app *state.State,
	dispatcher pubsub.EventDispatcher,
	notifier webhook.Notifier,
	tracer trace.Tracer,
	logger *slog.Logger,
) (*Arbiter, error) {
	if cfg.SeenIDs <= 0 {
		cfg.SeenIDs = 4096
	}
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = mailbox.DefaultValidityWindow
	}
	seen, err := lru.New[string, struct{}](cfg.SeenIDs)
	if err != nil {
		return nil, err
	}

	return &Arbiter{
		box:        box,
		app:        app,
		dispatcher: dispatcher,
		notifier:   notifier,
		tracer:     tracer,
		logger:     logger,
		now:        time.Now,
		cfg:        cfg,
		seen:       seen,
	}, nil
}

func (a *Arbiter) IsArmed() bool { return a.app.IsArmed() }

// Submit arbitrates one producer event. The returned event is nil only for rejected drafts.
func (a *Arbiter) Submit(ctx context.Context, d event.Draft) (model.Outcome, string, *event.Event) {
	correlationID := event.CorrelationID(ctx)
	ctx, span := a.tracer.Start(ctx, "arbiter.Submit", trace.WithAttributes(
		attribute.String("event.id", d.ID),
		attribute.String("event.name", d.Name),
		attribute.String("event.type", d.Type),
		attribute.String("event.source", d.Source),
		attribute.String("ice.correlation_id", correlationID),
	))
	defer span.End()

	outcome, reason, ev := a.decide(ctx, d)

	metrics.EventsSubmitted.WithLabelValues(outcome.String()).Inc()
	span.SetAttributes(attribute.String("event.outcome", outcome.String()))
	if outcome == model.OutcomeRejectedInvalid {
		span.SetStatus(codes.Error, reason)
	}

	a.logger.Info("EVENT_ARBITRATED",
		"id", d.ID,
		"event", d.Name,
		"type", d.Type,
		"source", d.Source,
		"outcome", outcome.String(),
		"reason", reason,
		"correlation_id", correlationID,
	)

	// [IGNORED_NOTICE] every client hears why the event was dropped; history does not
	if ev != nil && outcome.Ignored() {
		a.Notify(ctx, event.NewIgnoredEvent(ev, reason))
	}

	// [SIDE_EFFECT] fire-and-forget; never changes the outcome
	if ev != nil && a.notifier != nil {
		a.notifier.Notify(ev, outcome)
	}
	return outcome, reason, ev
}

func (a *Arbiter) decide(ctx context.Context, d event.Draft) (model.Outcome, string, *event.Event) {
	// 1. Required fields
	if err := d.Validate(); err != nil {
		return model.OutcomeRejectedInvalid, err.Error(), nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ev := d.Build(a.now)

	// 2. Armed gating: nothing reaches history while disarmed
	if !a.app.IsArmed() {
		return model.OutcomeIgnoredDisarmed, model.ReasonNotArmed, ev
	}

	// 3. Suppression inside the validity window
	if a.dedupable(ev) && a.box.IsRecentlyValid(ev.Name(), a.cfg.ValidityWindow) {
		return model.OutcomeIgnoredDuplicate, model.ReasonPreviousValid, ev
	}
	if a.seen.Contains(ev.ID()) {
		return model.OutcomeIgnoredDuplicate, model.ReasonDuplicateID, ev
	}

	// 4. Record then fan out, still under mu so bus order equals history order
	a.box.RecordAndDistribute(ev)
	a.seen.Add(ev.ID(), struct{}{})

	if err := a.dispatcher.Publish(ctx, ev); err != nil {
		// Recorded events stay pending in every mailbox; clients recover them on ping.
		a.logger.Error("EVENT_PUBLISH_FAILED", "id", ev.ID(), "err", err)
	}
	return model.OutcomeAccepted, "", ev
}

func (a *Arbiter) dedupable(ev *event.Event) bool {
	return slices.Contains(a.cfg.DedupTypes, ev.Type()) || slices.Contains(a.cfg.DedupNames, ev.Name())
}

// Notify broadcasts a synthesized presence or status event. It bypasses gating
// and history: such events are not part of the replayable stream.
func (a *Arbiter) Notify(ctx context.Context, ev *event.Event) {
	if err := a.dispatcher.Publish(ctx, ev); err != nil {
		a.logger.Error("NOTIFY_PUBLISH_FAILED", "event", ev.Name(), "type", ev.Type(), "err", err)
	}
}

// SetArmed stores the flag and broadcasts the resulting status even when it
// did not change. It reports whether the flag actually changed.
func (a *Arbiter) SetArmed(ctx context.Context, armed bool) bool {
	changed := a.app.SetArmed(armed)
	a.logger.Info("ARM_STATE_SET", "armed", armed, "changed", changed)
	a.Notify(ctx, event.NewArmStatusEvent(armed))
	return changed
}
