package pubsub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimiroo/ice-server/internal/domain/event"
)

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	msgs   []*message.Message
	err    error
}

func (p *recordingPublisher) Publish(topic string, msgs ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	for _, m := range msgs {
		p.topics = append(p.topics, topic)
		p.msgs = append(p.msgs, m)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestPublishRoundTrip(t *testing.T) {
	local := &recordingPublisher{}
	d := NewEventDispatcher(local, nil, "", watermill.NopLogger{})

	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := event.NewWithClock("e1", "motion", "onvif", "server", map[string]any{"value": true}, func() time.Time { return ts })
	require.NoError(t, d.Publish(context.Background(), ev))

	require.Len(t, local.msgs, 1)
	assert.Equal(t, TopicBroadcast, local.topics[0])
	assert.Equal(t, "onvif", local.msgs[0].Metadata.Get(MetaEventType))

	got, err := DecodeMessage(local.msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "e1", got.ID())
	assert.Equal(t, "motion", got.Name())
	assert.True(t, ts.Equal(got.Timestamp()))
	assert.Equal(t, true, got.Data()["value"])
}

func TestPublishMirrorsProducerEventsOnly(t *testing.T) {
	local, mirror := &recordingPublisher{}, &recordingPublisher{}
	d := NewEventDispatcher(local, mirror, "ice.events.accepted", watermill.NopLogger{})

	require.NoError(t, d.Publish(context.Background(), event.New("e1", "motion", "onvif", "server", nil)))
	require.NoError(t, d.Publish(context.Background(), event.NewArmStatusEvent(true)))

	assert.Len(t, local.msgs, 2)
	require.Len(t, mirror.msgs, 1)
	assert.Equal(t, "ice.events.accepted", mirror.topics[0])
}

func TestMirrorFailureDoesNotFailPublish(t *testing.T) {
	local, mirror := &recordingPublisher{}, &recordingPublisher{err: errors.New("broker down")}
	d := NewEventDispatcher(local, mirror, "ice.events.accepted", watermill.NopLogger{})

	assert.NoError(t, d.Publish(context.Background(), event.New("e1", "motion", "onvif", "server", nil)))
	assert.Len(t, local.msgs, 1)
}

func TestPublishNil(t *testing.T) {
	d := NewEventDispatcher(&recordingPublisher{}, nil, "", watermill.NopLogger{})
	assert.Error(t, d.Publish(context.Background(), nil))
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	_, err := DecodeMessage(message.NewMessage("x", []byte("{")))
	assert.Error(t, err)
}
