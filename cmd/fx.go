package cmd

import (
	"log/slog"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/kimiroo/ice-server/config"
	httpsrv "github.com/kimiroo/ice-server/infra/server/http"
	"github.com/kimiroo/ice-server/infra/supervisor"
	"github.com/kimiroo/ice-server/internal/adapter/pubsub"
	"github.com/kimiroo/ice-server/internal/adapter/webhook"
	"github.com/kimiroo/ice-server/internal/domain/mailbox"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	amqpdi "github.com/kimiroo/ice-server/internal/handler/amqp"
	"github.com/kimiroo/ice-server/internal/handler/camera"
	httphandler "github.com/kimiroo/ice-server/internal/handler/http"
	"github.com/kimiroo/ice-server/internal/handler/ws"
	"github.com/kimiroo/ice-server/internal/service"
)

func NewApp(v *viper.Viper, cfg *config.Config, opts ...fx.Option) *fx.App {
	return fx.New(
		fx.Provide(
			func() *config.Config { return cfg },
			func() *viper.Viper { return v },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideState,
			ProvideTracerProvider,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),

		// [DECORATOR] every transport sees the logging Deliverer
		fx.Decorate(func(next service.Deliverer, logger *slog.Logger) service.Deliverer {
			return service.NewDeliveryMiddleware(next, logger)
		}),

		registry.Module,
		mailbox.Module,
		pubsub.Module,
		webhook.Module,
		service.Module,
		ws.Module,
		httphandler.Module,
		camera.Module,
		amqpdi.Module,
		supervisor.Module,
		httpsrv.Module,

		fx.Options(opts...),
	)
}
