package service

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/thejerf/suture/v4"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/adapter/pubsub"
	"github.com/kimiroo/ice-server/internal/adapter/webhook"
	"github.com/kimiroo/ice-server/internal/domain/mailbox"
	"github.com/kimiroo/ice-server/internal/domain/registry"
	"github.com/kimiroo/ice-server/internal/domain/state"
	"github.com/kimiroo/ice-server/internal/metrics"
)

var Module = fx.Module(
	"service",

	fx.Provide(
		// Domain services
		func(cfg *config.Config, box mailbox.Boxer, app *state.State, d pubsub.EventDispatcher, n webhook.Notifier, tp trace.TracerProvider, logger *slog.Logger) (*Arbiter, error) {
			return NewArbiter(ArbiterConfig{
				ValidityWindow: cfg.Events.ValidityWindow,
				DedupTypes:     cfg.Events.DedupTypes,
				DedupNames:     cfg.Events.DedupNames,
				SeenIDs:        cfg.Events.SeenIDs,
			}, box, app, d, n, tp.Tracer("github.com/kimiroo/ice-server/internal/service"), logger)
		},
		fx.Annotate(
			func(a *Arbiter) Arbitrator { return a },
			fx.As(new(Arbitrator)),
		),
		fx.Annotate(
			NewDeliveryService,
			fx.As(new(Deliverer)),
		),

		// Periodic workers, run by the supervision tree
		fx.Annotate(
			func(cfg *config.Config, hub registry.Hubber, box mailbox.Boxer, a Arbitrator, app *state.State, logger *slog.Logger) suture.Service {
				return NewLivenessReaper(hub, box, a, app, cfg.Liveness.SweepInterval, logger)
			},
			fx.ResultTags(`group:"services"`),
		),
		fx.Annotate(
			func(cfg *config.Config, box mailbox.Boxer, app *state.State, logger *slog.Logger) suture.Service {
				return NewHistoryReaper(box, app, cfg.Events.SweepInterval, logger)
			},
			fx.ResultTags(`group:"services"`),
		),
	),

	fx.Invoke(func(hub registry.Hubber, box mailbox.Boxer) error {
		return metrics.RegisterGauges(prometheus.DefaultRegisterer,
			func() float64 { return float64(hub.Stats().Sessions) },
			func() float64 { return float64(hub.Stats().Alive) },
			func() float64 { return float64(hub.Stats().Connections) },
			func() float64 { return float64(len(box.History())) },
		)
	}),
)
