package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/kimiroo/ice-server/internal/adapter/pubsub"
	"github.com/kimiroo/ice-server/internal/service"
)

const (
	// ------------------- QUEUES (CONSUMERS) --------------------
	IngressQueueSuffix = "ice-ingress.v1"
	PoisonTopicSuffix  = ".poison"

	// ------------------- HANDLERS ------------------------------
	HandlerEventSubmitted = "ON_EVENT_SUBMITTED"
)

// IngressHandler feeds producer events published on the broker into arbitration,
// exactly as if they had been submitted over a connection.
type IngressHandler struct {
	arbiter service.Arbitrator
	logger  *slog.Logger
	topic   string
}

func NewIngressHandler(arbiter service.Arbitrator, logger *slog.Logger, topic string) *IngressHandler {
	return &IngressHandler{arbiter: arbiter, logger: logger, topic: topic}
}

// [REGISTRATION_PIPELINE]
func (h *IngressHandler) RegisterHandlers(router *message.Router, broker *pubsub.BrokerProvider) error {
	pub, err := broker.Publisher()
	if err != nil {
		return err
	}
	poison, err := middleware.PoisonQueue(pub, h.topic+PoisonTopicSuffix)
	if err != nil {
		return fmt.Errorf("POISON_SETUP_FAILED: %w", err)
	}

	sub, err := broker.Subscriber(IngressQueueSuffix)
	if err != nil {
		return err
	}

	router.AddConsumerHandler(HandlerEventSubmitted, h.topic, sub, Bind(h, h.OnEventSubmittedV1)).AddMiddleware(
		CorrelationMiddleware,
		LoggingMiddleware(h.logger),
		NewRetryMiddleware(h.logger).Middleware,
		poison,
		middleware.NewThrottle(100, time.Second).Middleware,
		middleware.Timeout(time.Second*30),
	)

	h.logger.Info("AMQP_PIPELINE_READY", "topic", h.topic, "queue", h.topic+"_"+IngressQueueSuffix)
	return nil
}
