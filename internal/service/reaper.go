package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/mailbox"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/metrics"
)

var (
	_ suture.Service = (*LivenessReaper)(nil)
	_ suture.Service = (*HistoryReaper)(nil)
)

// LivenessReaper flips idle Sessions to not-alive and later deletes them.
type LivenessReaper struct {
	hub      registry.Hubber
	box      mailbox.Boxer
	arbiter  Arbitrator
	app      *state.State
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewLivenessReaper(hub registry.Hubber, box mailbox.Boxer, arbiter Arbitrator, app *state.State, interval time.Duration, logger *slog.Logger) *LivenessReaper {
	return &LivenessReaper{
		hub:      hub,
		box:      box,
		arbiter:  arbiter,
		app:      app,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *LivenessReaper) String() string { return "liveness-reaper" }

func (r *LivenessReaper) Serve(ctx context.Context) error {
	return tick(ctx, r.app, r.interval, r.Reap)
}

// Reap runs one sweep. Notifications go out after the registry lock is released.
func (r *LivenessReaper) Reap(ctx context.Context) {
	outdated, deleted := r.hub.Sweep(r.now())
	r.settle(ctx, outdated, deleted)
}

// settle closes the mailboxes of deleted Sessions and announces every transition.
func (r *LivenessReaper) settle(ctx context.Context, outdated, deleted []model.SessionInfo) {
	// A name re-created since the sweep owns a newer queue, which Close keeps.
	for _, info := range deleted {
		if !r.box.Close(info.Name, info.Generation) {
			r.logger.Debug("MAILBOX_KEPT", "client", info.Name, "generation", info.Generation)
		}
	}

	r.announce(ctx, event.ClientOutdated, outdated)
	r.announce(ctx, event.ClientDisconnected, deleted)
}

func (r *LivenessReaper) announce(ctx context.Context, kind event.ClientEventKind, sessions []model.SessionInfo) {
	for _, info := range sessions {
		metrics.SessionTransitions.WithLabelValues(string(kind)).Inc()
		r.logger.Info("CLIENT_"+strings.ToUpper(string(kind)), "client", info.Name, "type", info.Type.Tag(), "last_seen", info.LastSeenAt)

		if info.Type.Announced() {
			r.arbiter.Notify(ctx, event.NewClientEvent(kind, info))
		}
	}
}

// HistoryReaper drops history older than the validity window.
type HistoryReaper struct {
	box      mailbox.Boxer
	app      *state.State
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewHistoryReaper(box mailbox.Boxer, app *state.State, interval time.Duration, logger *slog.Logger) *HistoryReaper {
	return &HistoryReaper{
		box:      box,
		app:      app,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *HistoryReaper) String() string { return "history-reaper" }

func (r *HistoryReaper) Serve(ctx context.Context) error {
	return tick(ctx, r.app, r.interval, r.Reap)
}

func (r *HistoryReaper) Reap(context.Context) {
	ids := r.box.Expire(r.now())
	if len(ids) == 0 {
		return
	}
	metrics.EventsExpired.Add(float64(len(ids)))
	r.logger.Debug("HISTORY_EXPIRED", "count", len(ids), "ids", ids)
}

// tick runs fn every interval until ctx ends or the process stops running.
func tick(ctx context.Context, app *state.State, interval time.Duration, fn func(context.Context)) error {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if !app.IsRunning() {
				return suture.ErrDoNotRestart
			}
			fn(ctx)
		}
	}
}
