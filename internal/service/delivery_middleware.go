package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/registry"
)

// DeliveryMiddleware implements [DECORATOR_PATTERN] to add observability
// to the message contract without touching business logic.
type DeliveryMiddleware struct {
	Next   Deliverer
	Logger *slog.Logger
}

var _ Deliverer = (*DeliveryMiddleware)(nil)

// NewDeliveryMiddleware creates a new logging decorator for the Deliverer.
func NewDeliveryMiddleware(next Deliverer, logger *slog.Logger) Deliverer {
	return &DeliveryMiddleware{
		Next:   next,
		Logger: logger,
	}
}

// Connect wraps the introduction with timing and refusal logging.
func (m *DeliveryMiddleware) Connect(ctx context.Context, conn registry.Connector, typ model.ClientType, name, lastEventID string) (model.ConnectedPayload, error) {
	start := time.Now()

	res, err := m.Next.Connect(ctx, conn, typ, name, lastEventID)
	if err != nil {
		m.Logger.Warn("CLIENT_INTRODUCTION_REFUSED",
			"err", err,
			"name", name,
			"type", typ.Tag(),
			"sid", conn.Handle(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return res, err
}

func (m *DeliveryMiddleware) Disconnect(handle string) {
	m.Next.Disconnect(handle)
}

func (m *DeliveryMiddleware) Ping(handle string) (model.PongPayload, error) {
	res, err := m.Next.Ping(handle)
	if err != nil {
		m.Logger.Debug("PING_REJECTED", "sid", handle, "err", err)
	}
	return res, err
}

func (m *DeliveryMiddleware) Ack(handle string, ids []string) error {
	err := m.Next.Ack(handle, ids)
	if err != nil {
		m.Logger.Warn("ACK_FAILED", "sid", handle, "ids", len(ids), "err", err)
	}
	return err
}

func (m *DeliveryMiddleware) RestoreQueue(handle, lastEventID string) error {
	err := m.Next.RestoreQueue(handle, lastEventID)
	if err != nil {
		m.Logger.Warn("RESTORE_QUEUE_FAILED", "sid", handle, "from", lastEventID, "err", err)
	}
	return err
}

func (m *DeliveryMiddleware) Clients() model.ClientsPayload {
	return m.Next.Clients()
}

// SubmitFrom wraps arbitration with execution timing.
func (m *DeliveryMiddleware) SubmitFrom(ctx context.Context, handle string, d event.Draft) model.EventResultPayload {
	start := time.Now()

	res := m.Next.SubmitFrom(ctx, handle, d)

	// [OBSERVABILITY] Scoped logging for performance auditing
	m.Logger.Debug("EVENT_SUBMISSION_COMPLETED",
		"sid", handle,
		"id", d.ID,
		"outcome", res.Outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res
}
