package httphandler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/service"
)

// maxBodyBytes bounds REST event submissions.
const maxBodyBytes = 1 << 20

// StatusResponse is the overall status: the armed flag and every tracked client.
type StatusResponse struct {
	IsArmed bool `json:"isArmed"`
	model.ClientsPayload
}

// ConnectedClientsResponse lists the clients of one type.
type ConnectedClientsResponse struct {
	ClientList      []model.SessionInfo `json:"clientList"`
	AliveClientList []model.SessionInfo `json:"aliveClientList"`
}

// ControlHandler serves the arm switch, status queries and REST event submission.
type ControlHandler struct {
	arbiter   service.Arbitrator
	deliverer service.Deliverer
	logger    *slog.Logger
}

func NewControlHandler(arbiter service.Arbitrator, deliverer service.Deliverer, logger *slog.Logger) *ControlHandler {
	return &ControlHandler{
		arbiter:   arbiter,
		deliverer: deliverer,
		logger:    logger,
	}
}

// ArmActivate arms the system and broadcasts the new status.
func (h *ControlHandler) ArmActivate(w http.ResponseWriter, r *http.Request) {
	h.setArmed(w, r, true)
}

// ArmDeactivate disarms the system and broadcasts the new status.
func (h *ControlHandler) ArmDeactivate(w http.ResponseWriter, r *http.Request) {
	h.setArmed(w, r, false)
}

func (h *ControlHandler) setArmed(w http.ResponseWriter, r *http.Request, armed bool) {
	changed := h.arbiter.SetArmed(r.Context(), armed)
	h.logger.Info("ARM_STATE_SET", "armed", armed, "changed", changed, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, model.ArmStatusPayload{IsArmed: h.arbiter.IsArmed()})
}

func (h *ControlHandler) ArmStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.ArmStatusPayload{IsArmed: h.arbiter.IsArmed()})
}

func (h *ControlHandler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		IsArmed:        h.arbiter.IsArmed(),
		ClientsPayload: h.deliverer.Clients(),
	})
}

func (h *ControlHandler) ConnectedClients(w http.ResponseWriter, r *http.Request) {
	typ, err := model.ParseClientType(chi.URLParam(r, "type"))
	if err != nil || !typ.Tracked() {
		writeJSON(w, http.StatusBadRequest, model.ErrorPayload{
			Result:  model.ResultFailed,
			Message: "unknown client type '" + chi.URLParam(r, "type") + "'",
		})
		return
	}

	clients := h.deliverer.Clients()
	writeJSON(w, http.StatusOK, ConnectedClientsResponse{
		ClientList:      clients.ClientList[typ.Tag()],
		AliveClientList: clients.AliveClientList[typ.Tag()],
	})
}

// SubmitEvent is the REST producer path; verdicts match the websocket event message.
func (h *ControlHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	var d event.Draft
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&d); err != nil {
		writeJSON(w, http.StatusBadRequest, model.EventResultPayload{
			Result:  model.ResultFailed,
			Outcome: model.OutcomeRejectedInvalid.String(),
			Message: "malformed event payload",
		})
		return
	}

	ctx := event.WithCorrelationID(r.Context(), chimiddleware.GetReqID(r.Context()))
	outcome, reason, _ := h.arbiter.Submit(ctx, d)

	status := http.StatusOK
	if outcome == model.OutcomeRejectedInvalid {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, service.Result(d.ID, outcome, reason))
}

func (h *ControlHandler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
