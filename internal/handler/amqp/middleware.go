package amqp

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/kimiroo/ice-server/internal/domain/event"
)

// [CORRELATION_MIDDLEWARE]
// Producers that set a correlation id see it in the arbitration log and span;
// the others get one minted here so retries and poison copies stay linked.
func CorrelationMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		id := middleware.MessageCorrelationID(msg)
		if id == "" {
			id = watermill.NewUUID()
			middleware.SetCorrelationID(id, msg)
		}

		msg.SetContext(event.WithCorrelationID(msg.Context(), id))
		return h(msg)
	}
}

// [LOGGING_MIDDLEWARE]
// Failures are warnings: the retry and poison middlewares decide what happens next.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			attrs := []any{
				"handler", message.HandlerNameFromCtx(msg.Context()),
				"topic", message.SubscribeTopicFromCtx(msg.Context()),
				"msg_id", msg.UUID,
				"correlation_id", middleware.MessageCorrelationID(msg),
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if err != nil {
				logger.Warn("INGRESS_MESSAGE_FAILED", append(attrs, "err", err)...)
				return msgs, err
			}
			logger.Debug("INGRESS_MESSAGE_HANDLED", attrs...)
			return msgs, nil
		}
	}
}

// [RETRY_MIDDLEWARE]
// Only infrastructure failures reach it: arbitration verdicts are always acked.
func NewRetryMiddleware(logger *slog.Logger) middleware.Retry {
	return middleware.Retry{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2.0,
		OnRetryHook: func(retryNum int, delay time.Duration) {
			logger.Warn("INGRESS_RETRY", "attempt", retryNum, "delay", delay)
		},
	}
}
