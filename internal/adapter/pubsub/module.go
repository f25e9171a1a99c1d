package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/fx"

	"github.com/kimiroo/ice-server/config"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		func(lc fx.Lifecycle, cfg *config.Config, logger watermill.LoggerAdapter) *gochannel.GoChannel {
			bus := NewLocalBus(cfg.Connection.SendBuffer, logger)
			lc.Append(fx.StopHook(bus.Close))
			return bus
		},
		// nil when no broker is configured
		func(cfg *config.Config, logger watermill.LoggerAdapter) *BrokerProvider {
			if !cfg.AMQP.Enabled() {
				return nil
			}
			return NewBrokerProvider(cfg.AMQP.URL, logger)
		},
		ProvideDispatcher,
	),
)

// ProvideDispatcher wires the local bus and, when a broker is configured, the mirror publisher.
func ProvideDispatcher(lc fx.Lifecycle, cfg *config.Config, bus *gochannel.GoChannel, broker *BrokerProvider, wmLogger watermill.LoggerAdapter, logger *slog.Logger) (EventDispatcher, error) {
	var mirror message.Publisher
	if broker != nil {
		pub, err := broker.Publisher()
		if err != nil {
			return nil, err
		}
		mirror = pub
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return pub.Close() },
		})
		logger.Info("BROKER_MIRROR_ENABLED", "topic", cfg.AMQP.MirrorTopic)
	}
	return NewEventDispatcher(bus, mirror, cfg.AMQP.MirrorTopic, wmLogger), nil
}
