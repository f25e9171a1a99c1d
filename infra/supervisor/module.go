package supervisor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/thejerf/suture/v4"
	"go.uber.org/fx"
)

// Params collects every worker contributed to the "services" group.
type Params struct {
	fx.In

	Logger   *slog.Logger
	Services []suture.Service `group:"services"`
}

var Module = fx.Module("supervisor",
	fx.Provide(func(p Params) *Tree {
		return NewTree(p.Logger, DefaultTreeConfig(), p.Services...)
	}),
	fx.Invoke(func(lc fx.Lifecycle, tree *Tree, logger *slog.Logger) {
		var (
			cancel context.CancelFunc
			done   <-chan error
		)

		lc.Append(fx.Hook{
			OnStart: func(context.Context) error {
				var ctx context.Context
				ctx, cancel = context.WithCancel(context.Background())
				done = tree.ServeBackground(ctx)
				logger.Info("SUPERVISOR_STARTED")
				return nil
			},
			OnStop: func(ctx context.Context) error {
				cancel()
				select {
				case err := <-done:
					if err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
				case <-ctx.Done():
					report, _ := tree.UnstoppedServiceReport()
					logger.Warn("SUPERVISOR_STOP_TIMEOUT", "unstopped", len(report))
					return ctx.Err()
				}
				logger.Info("SUPERVISOR_STOPPED")
				return nil
			},
		})
	}),
)
