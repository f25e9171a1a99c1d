package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/mailbox"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	"github.com/kimiroo/ice-server/internal/metrics"
)

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (Websocket/HTTP)
type Deliverer interface {
	Connect(ctx context.Context, conn registry.Connector, typ model.ClientType, name, lastEventID string) (model.ConnectedPayload, error)
	Disconnect(handle string)
	Ping(handle string) (model.PongPayload, error)
	Ack(handle string, ids []string) error
	RestoreQueue(handle, lastEventID string) error
	Clients() model.ClientsPayload
	SubmitFrom(ctx context.Context, handle string, d event.Draft) model.EventResultPayload
}

var _ Deliverer = (*DeliveryService)(nil)

// DeliveryService maps the transport message contract onto the registry,
// the mailbox and arbitration. The registry and the mailbox are never
// locked together: each call finishes with one before touching the other.
type DeliveryService struct {
	hub     registry.Hubber
	box     mailbox.Boxer
	arbiter Arbitrator
	logger  *slog.Logger
	now     func() time.Time
}

// NewDeliveryService returns a production-ready instance of the service.
func NewDeliveryService(hub registry.Hubber, box mailbox.Boxer, arbiter Arbitrator, logger *slog.Logger) *DeliveryService {
	return &DeliveryService{
		hub:     hub,
		box:     box,
		arbiter: arbiter,
		logger:  logger,
		now:     time.Now,
	}
}

// [CONNECT] HANDLES THE INTRODUCTION OF A CONNECTION
func (s *DeliveryService) Connect(ctx context.Context, conn registry.Connector, typ model.ClientType, name, lastEventID string) (model.ConnectedPayload, error) {
	// 1. Bind the connection to its Session (created on first introduction).
	// The cursor is taken first so events accepted meanwhile land in a fresh queue.
	cursor := s.box.Cursor()
	info, err := s.hub.Register(conn, typ, name)
	if err != nil {
		return model.ConnectedPayload{}, err
	}

	// 2. Anonymous connections receive broadcasts but have no queue
	if typ.Tracked() {
		if s.box.Open(info.Name, info.Generation, cursor) {
			s.logger.Debug("MAILBOX_OPENED", "client", info.Name, "generation", info.Generation)
		}
		if lastEventID != "" {
			s.box.ResumeFrom(info.Name, lastEventID)
		}
		metrics.SessionTransitions.WithLabelValues(string(event.ClientConnected)).Inc()
	}

	// 3. Tell the other clients, after every lock is released
	if typ.Announced() {
		s.arbiter.Notify(ctx, event.NewClientEvent(event.ClientConnected, info))
	}

	s.logger.Info("CLIENT_CONNECTED",
		"client", info.Name,
		"type", typ.Tag(),
		"sid", conn.Handle(),
		"resume_from", lastEventID,
	)

	return model.ConnectedPayload{
		Result:        model.ResultSuccess,
		ClientName:    info.Name,
		ClientType:    typ.Tag(),
		Handle:        conn.Handle(),
		LastEventID:   s.box.LastEventID(),
		ServerVersion: model.ServerVersion,
	}, nil
}

// [DISCONNECT] UNBINDS THE CONNECTION ONLY; THE SESSION AGES OUT IN THE REAPER
func (s *DeliveryService) Disconnect(handle string) {
	info, ok := s.hub.Release(handle)
	if !ok {
		return
	}
	s.logger.Info("CLIENT_RELEASED", "client", info.Name, "type", info.Type.Tag(), "sid", handle)
}

// [PING] HEARTBEAT; THE REPLY CARRIES EVERYTHING STILL UNACKNOWLEDGED
func (s *DeliveryService) Ping(handle string) (model.PongPayload, error) {
	if !s.hub.Heartbeat(handle) {
		return model.PongPayload{}, model.ErrConnectionNotBound
	}

	info, ok := s.hub.Lookup(handle)
	if !ok {
		return model.PongPayload{}, model.ErrConnectionNotBound
	}

	var pending []*event.Event
	if info.Type.Tracked() {
		pending, _ = s.box.PendingFor(info.Name)
	}

	return model.PongPayload{
		Result:    model.ResultSuccess,
		Timestamp: s.now(),
		IsArmed:   s.arbiter.IsArmed(),
		Events:    event.Views(pending),
	}, nil
}

// [ACK] IDEMPOTENT: UNKNOWN IDS ARE IGNORED
func (s *DeliveryService) Ack(handle string, ids []string) error {
	info, err := s.trackedSession(handle)
	if err != nil {
		return err
	}
	s.hub.Heartbeat(handle)

	if !s.box.Acknowledge(info.Name, ids) {
		return model.ErrSessionNotFound
	}
	return nil
}

// [RESTORE_QUEUE] BEST-EFFORT REPLAY OF HISTORY NEWER THAN lastEventID
func (s *DeliveryService) RestoreQueue(handle, lastEventID string) error {
	info, err := s.trackedSession(handle)
	if err != nil {
		return err
	}

	if !s.box.ResumeFrom(info.Name, lastEventID) {
		return model.ErrSessionNotFound
	}
	s.logger.Info("QUEUE_RESTORED", "client", info.Name, "from", lastEventID)
	return nil
}

// [CLIENTS] SNAPSHOT BY TYPE, ENRICHED WITH MAILBOX STATE
func (s *DeliveryService) Clients() model.ClientsPayload {
	p := model.NewClientsPayload()

	for _, typ := range model.TrackedClientTypes {
		all := s.hub.ListByType(typ, false)
		alive := make([]model.SessionInfo, 0, len(all))

		for i := range all {
			if st, ok := s.box.Stats(all[i].Name); ok {
				all[i].Pending = st.Pending
				all[i].LastAckedEventID = st.LastAckedEventID
			}
			if all[i].Alive {
				alive = append(alive, all[i])
			}
		}

		p.ClientList[typ.Tag()] = all
		p.AliveClientList[typ.Tag()] = alive
		p.AliveCount[typ.Tag()] = len(alive)
	}
	return p
}

// [SUBMIT] ARBITRATION ON BEHALF OF A CONNECTION
func (s *DeliveryService) SubmitFrom(ctx context.Context, handle string, d event.Draft) model.EventResultPayload {
	if _, ok := s.hub.Lookup(handle); !ok {
		return model.EventResultPayload{
			ID:      d.ID,
			Result:  model.ResultFailed,
			Outcome: model.OutcomeRejectedInvalid.String(),
			Message: model.ErrConnectionNotBound.Error(),
		}
	}
	outcome, reason, _ := s.arbiter.Submit(ctx, d)
	return Result(d.ID, outcome, reason)
}

// Result shapes an arbitration verdict as the producer-facing payload.
func Result(id string, outcome model.Outcome, reason string) model.EventResultPayload {
	return model.EventResultPayload{
		ID:      id,
		Result:  outcome.Result(),
		Outcome: outcome.String(),
		Message: reason,
	}
}

func (s *DeliveryService) trackedSession(handle string) (model.SessionInfo, error) {
	info, ok := s.hub.Lookup(handle)
	if !ok {
		return model.SessionInfo{}, model.ErrConnectionNotBound
	}
	if !info.Type.Tracked() {
		return model.SessionInfo{}, &model.ValidationError{Field: "type", Reason: "anonymous clients have no queue"}
	}
	return info, nil
}
