package ws

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/thejerf/suture/v4"
	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/service"
)

var Module = fx.Module("ws-handler",
	fx.Provide(
		func(cfg *config.Config, deliverer service.Deliverer, logger *slog.Logger) *Handler {
			return NewHandler(logger, deliverer, cfg.Server.AllowedOrigins, cfg.Connection.SendBuffer)
		},
		fx.Annotate(
			func(cfg *config.Config, bus *gochannel.GoChannel, hub registry.Hubber, app *state.State, logger *slog.Logger) suture.Service {
				return NewFanOut(bus, hub, app, cfg.Connection.SendTimeout, logger)
			},
			fx.ResultTags(`group:"services"`),
		),
	),
)
