package registry

import (
	"context"

	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
)

var Module = fx.Module("registry",
	fx.Provide(
		// [CLEAN_INJECTION] Configure Hub using Functional Options
		func(cfg *config.Config) *Hub {
			return NewHub(
				WithInvalidThreshold(cfg.Liveness.InvalidThreshold),
				WithDeleteThreshold(cfg.Liveness.DeleteThreshold),
			)
		},
		fx.Annotate(
			func(h *Hub) Hubber { return h },
			fx.As(new(Hubber)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, h Hubber) {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				h.Shutdown() // [GRACEFUL_SHUTDOWN] Close every transport connection
				return nil
			},
		})
	}),
)
