package webhook

import (
	"context"
	"log/slog"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
)

var Module = fx.Module("webhook",
	fx.Provide(
		func(cfg *config.Config, logger *slog.Logger) *WebhookNotifier {
			return NewWebhookNotifier(cfg.Webhook, logger)
		},
		fx.Annotate(
			func(n *WebhookNotifier) Notifier { return n },
			fx.As(new(Notifier)),
		),
	),
	fx.Invoke(func(lc fx.Lifecycle, v *viper.Viper, n *WebhookNotifier, logger *slog.Logger) {
		// [HOT_RELOAD] webhook settings are the only ones applied without a restart
		config.Watch(v, logger, func(cfg *config.Config) {
			n.Update(cfg.Webhook)
		})

		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				done := make(chan struct{})
				go func() {
					n.Wait()
					close(done)
				}()
				select {
				case <-done:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
		})
	}),
)
