package amqp

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/adapter/pubsub"
	"github.com/kimiroo/ice-server/internal/service"
)

// The ingress only exists when a broker is configured.
var Module = fx.Module("amqp-handler",
	fx.Invoke(func(lc fx.Lifecycle, cfg *config.Config, broker *pubsub.BrokerProvider, arbiter service.Arbitrator, wmLogger watermill.LoggerAdapter, logger *slog.Logger) error {
		if broker == nil {
			logger.Info("AMQP_INGRESS_DISABLED")
			return nil
		}

		router, err := NewWatermillRouter(wmLogger)
		if err != nil {
			return err
		}
		if err := NewIngressHandler(arbiter, logger, cfg.AMQP.IngressTopic).RegisterHandlers(router, broker); err != nil {
			return err
		}

		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go func() {
					if err := router.Run(context.Background()); err != nil {
						logger.Error("AMQP_ROUTER_STOPPED", "error", err)
					}
				}()
				// Wait for the consumers to be subscribed before reporting started.
				select {
				case <-router.Running():
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			},
			OnStop: func(context.Context) error {
				return router.Close()
			},
		})
		return nil
	}),
)

// NewWatermillRouter builds the router with panic recovery at the router level;
// retries and the poison queue are attached per handler.
func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, err
	}
	router.AddMiddleware(middleware.Recoverer)
	return router, nil
}
