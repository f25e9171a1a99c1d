// Package camera runs the long-lived ONVIF pull subscription and feeds
// normalized detections into broadcast arbitration.
package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/adapter/onvif"
	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/metrics"
)

// Device is the camera side of one subscription attempt.
type Device interface {
	Connect(ctx context.Context) error
	CreatePullPoint(ctx context.Context, lease time.Duration) (onvif.Subscription, error)
}

// Submitter is the arbitration entry point detections are handed to.
type Submitter interface {
	Submit(ctx context.Context, d event.Draft) (model.Outcome, string, *event.Event)
}

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StatePolling
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StatePolling:
		return "polling"
	default:
		return "disconnected"
	}
}

const (
	// requestSlack is added on top of the pull wait for the HTTP round trip.
	requestSlack = 5 * time.Second
	// teardownTimeout bounds the best-effort Unsubscribe.
	teardownTimeout = 3 * time.Second
)

var _ suture.Service = (*Monitor)(nil)

// Monitor is the camera adapter state machine. It never gives up while the
// process runs: every terminal exit re-enters Connecting after restart_delay.
type Monitor struct {
	device  Device
	arbiter Submitter
	app     *state.State
	cfg     config.ONVIFConfig
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	state atomic.Int32
}

func NewMonitor(device Device, arbiter Submitter, app *state.State, cfg config.ONVIFConfig, logger *slog.Logger) *Monitor {
	return &Monitor{
		device:  device,
		arbiter: arbiter,
		app:     app,
		cfg:     cfg,
		logger:  logger.With("component", "camera", "host", cfg.Host),
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

func (m *Monitor) String() string { return "camera-monitor" }

// State reports the current position in the state machine.
func (m *Monitor) State() State { return State(m.state.Load()) }

func (m *Monitor) setState(s State) {
	if State(m.state.Swap(int32(s))) != s {
		metrics.CameraState.Set(float64(s))
		m.logger.Debug("CAMERA_STATE", "state", s.String())
	}
}

// Serve is the outer restart loop.
func (m *Monitor) Serve(ctx context.Context) error {
	defer m.setState(StateDisconnected)

	for {
		if !m.app.IsRunning() {
			return suture.ErrDoNotRestart
		}

		err := m.attempt(ctx)
		m.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !m.app.IsRunning() {
			return suture.ErrDoNotRestart
		}

		metrics.CameraRestarts.Inc()
		m.logger.Warn("CAMERA_ATTEMPT_ENDED", "err", err, "restart_in", m.cfg.RestartDelay)

		if !sleep(ctx, m.cfg.RestartDelay) {
			return ctx.Err()
		}
	}
}

// attempt runs Connecting -> Subscribed -> Polling once and returns why it ended.
func (m *Monitor) attempt(ctx context.Context) error {
	m.setState(StateConnecting)
	if err := m.device.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	sub, err := m.device.CreatePullPoint(ctx, m.cfg.SubscriptionTime)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	m.setState(StateSubscribed)
	m.logger.Info("CAMERA_SUBSCRIBED", "address", sub.Address(), "lease", m.cfg.SubscriptionTime)
	defer m.teardown(sub)

	if err := sub.SetSynchronizationPoint(ctx); err != nil {
		m.logger.Debug("CAMERA_SYNC_POINT_FAILED", "err", err)
	}

	m.setState(StatePolling)
	return m.poll(ctx, sub)
}

// poll is the inner loop. It returns nil only when the process stops running.
func (m *Monitor) poll(ctx context.Context, sub onvif.Subscription) error {
	renewAt := m.now().Add(m.cfg.SubscriptionTime / 2)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !m.app.IsRunning() {
			return nil
		}

		if !m.now().Before(renewAt) {
			if err := sub.Renew(ctx, m.cfg.SubscriptionTime); err != nil {
				return fmt.Errorf("lease renewal: %w", err)
			}
			renewAt = m.now().Add(m.cfg.SubscriptionTime / 2)
			m.logger.Debug("CAMERA_LEASE_RENEWED")
		}

		pullCtx, cancel := context.WithTimeout(ctx, m.cfg.PullTimeout+requestSlack)
		msgs, err := sub.PullMessages(pullCtx, m.cfg.PullTimeout, m.cfg.MessageLimit)
		cancel()

		switch {
		case err == nil:
			for _, msg := range msgs {
				m.forward(ctx, msg)
			}

		case ctx.Err() != nil:
			return ctx.Err()

		case onvif.IsTransient(err), errors.Is(err, context.DeadlineExceeded):
			m.logger.Warn("CAMERA_PULL_TRANSIENT", "err", err, "retry_in", m.cfg.RetryDelay)
			if !sleep(ctx, m.cfg.RetryDelay) {
				return ctx.Err()
			}

		case onvif.IsSubscriptionLost(err):
			m.logger.Warn("CAMERA_SUBSCRIPTION_LOST", "err", err)
			if rerr := sub.Renew(ctx, m.cfg.SubscriptionTime); rerr != nil {
				return fmt.Errorf("resume subscription: %w", errors.Join(err, rerr))
			}
			renewAt = m.now().Add(m.cfg.SubscriptionTime / 2)
			m.logger.Info("CAMERA_SUBSCRIPTION_RESUMED")

		default:
			return fmt.Errorf("pull: %w", err)
		}
	}
}

// forward normalizes one notification and submits it when it is an active detection.
func (m *Monitor) forward(ctx context.Context, msg onvif.NotificationMessage) {
	d, ok := onvif.Normalize(msg)
	if !ok {
		metrics.CameraNotifications.WithLabelValues(metrics.NotificationIgnored).Inc()
		return
	}
	if !d.Active() {
		metrics.CameraNotifications.WithLabelValues(metrics.NotificationCleared).Inc()
		return
	}
	metrics.CameraNotifications.WithLabelValues(metrics.NotificationForwarded).Inc()

	data := map[string]any{
		"topic": d.Topic,
		"value": d.Value,
	}
	if len(d.Source) > 0 {
		data["source"] = d.Source
	}

	draft := event.Draft{
		ID:     m.newID(),
		Name:   d.Name,
		Type:   event.TypeONVIF,
		Source: event.SourceServer,
		Data:   data,
	}
	outcome, reason, _ := m.arbiter.Submit(ctx, draft)
	m.logger.Info("CAMERA_DETECTION",
		"event", d.Name,
		"id", draft.ID,
		"outcome", outcome.String(),
		"reason", reason,
	)
}

// teardown unsubscribes with a fresh context so it also runs during shutdown.
func (m *Monitor) teardown(sub onvif.Subscription) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()

	if err := sub.Unsubscribe(ctx); err != nil {
		m.logger.Debug("CAMERA_UNSUBSCRIBE_FAILED", "err", err)
		return
	}
	m.logger.Info("CAMERA_UNSUBSCRIBED", "address", sub.Address())
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
