package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/thejerf/suture/v4"

	"github.com/kimiroo/ice-server/internal/adapter/pubsub"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/metrics"
)

var errSubscriptionClosed = errors.New("broadcast subscription closed")

// FanOut relays every broadcast published by arbitration to each bound connection.
// The local bus delivers in publish order, so every connection sees the
// arbitration order.
type FanOut struct {
	sub     message.Subscriber
	hub     registry.Hubber
	app     *state.State
	timeout time.Duration
	logger  *slog.Logger
}

func NewFanOut(sub message.Subscriber, hub registry.Hubber, app *state.State, sendTimeout time.Duration, logger *slog.Logger) *FanOut {
	return &FanOut{
		sub:     sub,
		hub:     hub,
		app:     app,
		timeout: sendTimeout,
		logger:  logger,
	}
}

func (f *FanOut) String() string { return "ws-fanout" }

func (f *FanOut) Serve(ctx context.Context) error {
	if !f.app.IsRunning() {
		return suture.ErrDoNotRestart
	}

	messages, err := f.sub.Subscribe(ctx, pubsub.TopicBroadcast)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", pubsub.TopicBroadcast, err)
	}
	f.logger.Info("FANOUT_SUBSCRIBED", "topic", pubsub.TopicBroadcast)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				if !f.app.IsRunning() {
					return suture.ErrDoNotRestart
				}
				return errSubscriptionClosed
			}
			f.deliver(msg)
			msg.Ack()
		}
	}
}

// deliver hands the event to every connection. A connection that cannot take
// it within the send timeout loses it; the others are not held back for longer.
func (f *FanOut) deliver(msg *message.Message) {
	ev, err := pubsub.DecodeMessage(msg)
	if err != nil {
		// Poison: acking keeps the bus moving.
		f.logger.Error("FANOUT_DECODE_FAILED", "message_id", msg.UUID, "error", err)
		return
	}

	conns := f.hub.Connections()
	dropped := 0
	for _, c := range conns {
		if !c.Send(ev, f.timeout) {
			dropped++
			metrics.FanOutDropped.Inc()
		}
	}

	if dropped > 0 {
		f.logger.Warn("FANOUT_DROPPED", "event_id", ev.ID(), "event", ev.Name(), "dropped", dropped, "connections", len(conns))
		return
	}
	f.logger.Debug("FANOUT_DELIVERED", "event_id", ev.ID(), "event", ev.Name(), "connections", len(conns))
}
