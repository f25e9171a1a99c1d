package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	wsmarshaller "github.com/kimiroo/ice-server/internal/handler/marshaller/ws"
	"github.com/kimiroo/ice-server/internal/service"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024

	// Replies queued while the write pump is busy with broadcasts.
	replyBuffer = 16
)

var (
	errRefused       = errors.New("introduction refused")
	errNotBound      = errors.New("connection not bound")
	errConnectorGone = errors.New("connector closed")
)

// session drives one websocket connection: a read pump that dispatches client
// frames to the Deliverer and a write pump that owns every write on the socket.
type session struct {
	ws        *websocket.Conn
	conn      registry.Connector
	deliverer service.Deliverer
	logger    *slog.Logger
	replies   chan []byte
}

func newSession(ws *websocket.Conn, conn registry.Connector, deliverer service.Deliverer, logger *slog.Logger) *session {
	return &session{
		ws:        ws,
		conn:      conn,
		deliverer: deliverer,
		logger:    logger.With("sid", conn.Handle()),
		replies:   make(chan []byte, replyBuffer),
	}
}

// readPump returns a non-nil error on every exit so the write pump is torn down with it.
func (s *session) readPump(ctx context.Context) error {
	s.ws.SetReadLimit(maxMessageSize)
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	s.ws.SetPongHandler(func(string) error {
		return s.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WS_READ_FAILED", "error", err)
			}
			return err
		}
		_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))

		in, err := wsmarshaller.Unmarshall(raw)
		if err != nil {
			s.replyError(ctx, err)
			continue
		}
		if err := s.dispatch(ctx, in); err != nil {
			return err
		}
	}
}

// writePump closes the socket on exit, which unblocks the read pump.
func (s *session) writePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.flush()
		_ = s.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = s.ws.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.conn.Done():
			return errConnectorGone

		case frame := <-s.replies:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				return err
			}

		case ev, ok := <-s.conn.Recv():
			if !ok {
				return errConnectorGone
			}
			frame, err := wsmarshaller.MarshallBroadcast(ev)
			if err != nil {
				s.logger.Error("WS_MARSHAL_FAILED", "event_id", ev.ID(), "error", err)
				continue
			}
			if err := s.write(websocket.TextMessage, frame); err != nil {
				return err
			}

		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return err
			}
		}
	}
}

func (s *session) write(messageType int, data []byte) error {
	if err := s.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.ws.WriteMessage(messageType, data)
}

// flush writes replies still queued so a refusal reaches the client before the close frame.
func (s *session) flush() {
	for {
		select {
		case frame := <-s.replies:
			if err := s.write(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

// [DISPATCH] ONE INBOUND FRAME; A NON-NIL ERROR ENDS THE CONNECTION
func (s *session) dispatch(ctx context.Context, in wsmarshaller.Inbound) error {
	handle := s.conn.Handle()

	switch in.Type {
	case wsmarshaller.TypeIntroduce:
		var p wsmarshaller.IntroducePayload
		if err := wsmarshaller.DecodeData(in, &p); err != nil {
			s.replyError(ctx, err)
			return errRefused
		}
		typ, err := model.ParseClientType(p.Type)
		if err != nil {
			s.replyError(ctx, err)
			return errRefused
		}
		return s.introduce(ctx, Introduction{Type: typ, Name: p.Name, LastEventID: p.LastEventID}, s.reply)

	case wsmarshaller.TypeEvent:
		var d event.Draft
		if err := wsmarshaller.DecodeData(in, &d); err != nil {
			s.reply(ctx, wsmarshaller.TypeEventResult, model.EventResultPayload{
				Result:  model.ResultFailed,
				Outcome: model.OutcomeRejectedInvalid.String(),
				Message: err.Error(),
			})
			return nil
		}
		s.reply(ctx, wsmarshaller.TypeEventResult, s.deliverer.SubmitFrom(ctx, handle, d))

	case wsmarshaller.TypeAck:
		var p wsmarshaller.AckPayload
		if err := wsmarshaller.DecodeData(in, &p); err != nil {
			s.reply(ctx, wsmarshaller.TypeAckResult, failure(err))
			return nil
		}
		return s.answer(ctx, s.deliverer.Ack(handle, p.AckList))

	case wsmarshaller.TypeRestoreQueue:
		var p wsmarshaller.RestoreQueuePayload
		if err := wsmarshaller.DecodeData(in, &p); err != nil {
			s.reply(ctx, wsmarshaller.TypeAckResult, failure(err))
			return nil
		}
		return s.answer(ctx, s.deliverer.RestoreQueue(handle, p.ID))

	case wsmarshaller.TypePing:
		pong, err := s.deliverer.Ping(handle)
		if err != nil {
			s.reply(ctx, wsmarshaller.TypePong, model.PongPayload{Result: model.ResultFailed})
			return errNotBound
		}
		s.reply(ctx, wsmarshaller.TypePong, pong)

	case wsmarshaller.TypeGet:
		var p wsmarshaller.GetPayload
		_ = wsmarshaller.DecodeData(in, &p)
		if p.Resource != wsmarshaller.ResourceClients {
			s.reply(ctx, wsmarshaller.TypeGetResult, model.GetResultPayload{
				Result:  model.ResultFailed,
				Message: "Unknown resource '" + p.Resource + "'",
			})
			return nil
		}
		s.reply(ctx, wsmarshaller.TypeGetResult, model.GetResultPayload{
			Result:   model.ResultSuccess,
			Resource: p.Resource,
			Data:     s.deliverer.Clients(),
		})

	default:
		s.replyError(ctx, &model.ValidationError{Field: "type", Reason: "unknown message type '" + in.Type + "'"})
	}
	return nil
}

// introduce binds the connection and answers with connected, or refuses it.
// send is the write path: direct before the pumps start, queued afterwards.
func (s *session) introduce(ctx context.Context, intro Introduction, send func(context.Context, string, any)) error {
	payload, err := s.deliverer.Connect(ctx, s.conn, intro.Type, intro.Name, intro.LastEventID)
	if err != nil {
		send(ctx, wsmarshaller.TypeError, model.ErrorPayload{Result: model.ResultFailed, Message: err.Error()})
		return errRefused
	}
	send(ctx, wsmarshaller.TypeConnected, payload)
	return nil
}

// answer replies to ack and restore_queue. An unbound connection is dropped.
func (s *session) answer(ctx context.Context, err error) error {
	if err != nil {
		s.reply(ctx, wsmarshaller.TypeAckResult, failure(err))
		if errors.Is(err, model.ErrConnectionNotBound) {
			return errNotBound
		}
		return nil
	}
	s.reply(ctx, wsmarshaller.TypeAckResult, model.AckResultPayload{Result: model.ResultSuccess})
	return nil
}

// reply queues a frame for the write pump.
func (s *session) reply(ctx context.Context, typ string, data any) {
	frame, err := wsmarshaller.Marshall(typ, data)
	if err != nil {
		s.logger.Error("WS_MARSHAL_FAILED", "type", typ, "error", err)
		return
	}
	select {
	case s.replies <- frame:
	case <-ctx.Done():
	}
}

// writeNow writes a frame directly; only valid before the write pump starts.
func (s *session) writeNow(_ context.Context, typ string, data any) {
	frame, err := wsmarshaller.Marshall(typ, data)
	if err != nil {
		s.logger.Error("WS_MARSHAL_FAILED", "type", typ, "error", err)
		return
	}
	if err := s.write(websocket.TextMessage, frame); err != nil {
		s.logger.Warn("WS_WRITE_FAILED", "type", typ, "error", err)
	}
}

func (s *session) replyError(ctx context.Context, err error) {
	s.reply(ctx, wsmarshaller.TypeError, model.ErrorPayload{Result: model.ResultFailed, Message: err.Error()})
}

func failure(err error) model.AckResultPayload {
	return model.AckResultPayload{Result: model.ResultFailed, Message: err.Error()}
}
