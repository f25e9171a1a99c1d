package httphandler

import (
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/handler/ws"
)

var Module = fx.Module("http-handler",
	fx.Provide(
		NewControlHandler,
		func(cfg *config.Config, control *ControlHandler, wsHandler *ws.Handler, logger *slog.Logger) http.Handler {
			return NewRouter(control, wsHandler, cfg.Server.AllowedOrigins, logger)
		},
	),
)
