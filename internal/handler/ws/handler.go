package ws

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	wsmarshaller "github.com/kimiroo/ice-server/internal/handler/marshaller/ws"
	"github.com/kimiroo/ice-server/internal/service"
)

// Handler upgrades /ws requests and runs one session per connection.
type Handler struct {
	logger     *slog.Logger
	deliverer  service.Deliverer
	upgrader   websocket.Upgrader
	sendBuffer int
}

func NewHandler(logger *slog.Logger, deliverer service.Deliverer, allowedOrigins []string, sendBuffer int) *Handler {
	return &Handler{
		logger:     logger,
		deliverer:  deliverer,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "error", err, "remote", r.RemoteAddr)
		return
	}

	// 2. ALLOCATE THE CONNECTION; IT RECEIVES BROADCASTS ONCE INTRODUCED
	conn := registry.NewConnector(r.Context(), h.sendBuffer, registry.ConnectMetadata{
		RemoteIP:  remoteIP(r),
		UserAgent: r.UserAgent(),
	})
	s := newSession(ws, conn, h.deliverer, h.logger)

	defer func() {
		h.deliverer.Disconnect(conn.Handle())
		conn.Close()
		_ = ws.Close()
	}()

	// 3. IMPLICIT INTRODUCTION FROM THE UPGRADE REQUEST, ANSWERED BEFORE ANY BROADCAST
	intro, introduced, err := introduceFromRequest(r)
	if err != nil {
		s.writeNow(r.Context(), wsmarshaller.TypeError, model.ErrorPayload{Result: model.ResultFailed, Message: err.Error()})
		return
	}
	if introduced {
		if err := s.introduce(r.Context(), intro, s.writeNow); err != nil {
			s.logger.Info("WS_INTRODUCTION_REFUSED", "type", intro.Type.Tag(), "name", intro.Name)
			return
		}
	}

	// 4. PUMPS; THE FIRST ONE TO FAIL TEARS DOWN THE OTHER
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error { return s.writePump(ctx) })
	g.Go(func() error { return s.readPump(ctx) })

	err = g.Wait()
	switch {
	case errors.Is(err, errRefused), errors.Is(err, errNotBound):
		s.logger.Info("WS_FORCE_DISCONNECTED", "reason", err.Error())
	default:
		s.logger.Debug("WS_CLOSED", "reason", err)
	}
}

// originChecker allows every origin when the list is empty or holds "*".
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
