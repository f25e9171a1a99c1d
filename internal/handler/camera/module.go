package camera

import (
	"log/slog"

	"github.com/thejerf/suture/v4"
	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/adapter/onvif"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/service"
)

var Module = fx.Module("camera",
	fx.Provide(
		fx.Annotate(
			ProvideServices,
			fx.ResultTags(`group:"services,flatten"`),
		),
	),
)

// ProvideServices contributes the monitor to the supervision tree when a camera is configured.
func ProvideServices(cfg *config.Config, arbiter service.Arbitrator, app *state.State, logger *slog.Logger) []suture.Service {
	if !cfg.ONVIF.Enabled() {
		logger.Info("CAMERA_DISABLED")
		return nil
	}

	o := cfg.ONVIF
	client := onvif.NewClient(o.Host, o.Port, o.Username, o.Password)
	return []suture.Service{NewMonitor(client, arbiter, app, o, logger)}
}
