package pubsub

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// NewLocalBus is the in-process bus between arbitration and the transport fan-out.
// Publish returns only once the subscribers acked, so the next message cannot
// overtake it: the fan-out sees publish order, which is arbitration order.
func NewLocalBus(bufferSize int, logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            int64(bufferSize),
		BlockPublishUntilSubscriberAck: true,
	}, logger)
}

// BrokerProvider builds AMQP publishers and subscribers for one broker URL.
type BrokerProvider struct {
	url    string
	logger watermill.LoggerAdapter
}

func NewBrokerProvider(url string, logger watermill.LoggerAdapter) *BrokerProvider {
	return &BrokerProvider{url: url, logger: logger}
}

// Publisher builds a durable topic publisher.
func (p *BrokerProvider) Publisher() (message.Publisher, error) {
	pub, err := amqp.NewPublisher(p.config("publisher"), p.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp publisher: %w", err)
	}
	return pub, nil
}

// Subscriber builds a durable subscriber whose queue is <topic>_<queueSuffix>.
func (p *BrokerProvider) Subscriber(queueSuffix string) (message.Subscriber, error) {
	sub, err := amqp.NewSubscriber(p.config(queueSuffix), p.logger)
	if err != nil {
		return nil, fmt.Errorf("amqp subscriber: %w", err)
	}
	return sub, nil
}

func (p *BrokerProvider) config(queueSuffix string) amqp.Config {
	return amqp.NewDurablePubSubConfig(p.url, amqp.GenerateQueueNameTopicNameWithSuffix(queueSuffix))
}
