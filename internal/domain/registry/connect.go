package registry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
)

// Interface guard
var _ Connector = (*connect)(nil)

// [CONNECTOR] THE INTERFACE FOR EXTERNAL LAYERS (REGISTRY/TRANSPORT)
// One Connector is one transport connection. Several may point to the same Session.
type Connector interface {
	Handle() string
	Send(ev *event.Event, timeout time.Duration) bool // Thread-safe send with backpressure handling
	Recv() <-chan *event.Event
	Done() <-chan struct{}
	Dropped() uint64
	Close() // Terminate connection and release resources
}

// [METADATA] EXPORTED FOR TRANSPORT AND LOGGING
type ConnectMetadata struct {
	RemoteIP  string
	UserAgent string
}

// [CONNECT] CONCRETE IMPLEMENTATION (UNEXPORTED TO FORCE INTERFACE USAGE)
type connect struct {
	handle       string
	metadata     ConnectMetadata
	createdAt    time.Time
	ctx          context.Context
	cancelFn     context.CancelFunc
	sendCh       chan *event.Event
	closeOnce    sync.Once // [PROTECTION]
	droppedCount atomic.Uint64
}

// NewConnector allocates a connection with a fresh handle and a bounded outbox.
func NewConnector(ctx context.Context, bufferSize int, md ConnectMetadata) Connector {
	childCtx, cancel := context.WithCancel(ctx)
	return &connect{
		handle:    uuid.NewString(),
		metadata:  md,
		createdAt: time.Now(),
		ctx:       childCtx,
		cancelFn:  cancel,
		sendCh:    make(chan *event.Event, max(bufferSize, 1)),
	}
}

func (c *connect) Handle() string            { return c.handle }
func (c *connect) Recv() <-chan *event.Event { return c.sendCh }
func (c *connect) Done() <-chan struct{}     { return c.ctx.Done() }
func (c *connect) Dropped() uint64           { return c.droppedCount.Load() }
func (c *connect) Metadata() ConnectMetadata { return c.metadata }

// Send attempts to push an event into the outbox.
// If the outbox stays full for the whole timeout, it tries to evict a lower priority event.
func (c *connect) Send(ev *event.Event, timeout time.Duration) bool {
	// [LIFECYCLE_GATE] checked first: select picks randomly among ready cases
	if c.ctx.Err() != nil {
		return false
	}

	// [FAST_PATH]
	select {
	case c.sendCh <- ev:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	// 1. Abort if the transport dies while waiting.
	case <-c.ctx.Done():
		return false

	// 2. [PRIMARY_DELIVERY] Wait up to 'timeout' for space, smoothing out network jitter.
	case c.sendCh <- ev:
		return true

	// 3. [BACKPRESSURE_THRESHOLD] Persistent slow consumer.
	case <-timer.C:
		return c.handleBackpressure(ev)
	}
}

// handleBackpressure manages full buffers by dropping low-priority events.
func (c *connect) handleBackpressure(ev *event.Event) bool {
	// Presence chatter is shed immediately to keep room for producer events.
	if ev.Priority() <= event.PriorityLow {
		c.droppedCount.Add(1)
		return false
	}

	// Evict the oldest queued event if it is less important than the incoming one.
	select {
	case oldEv := <-c.sendCh:
		if oldEv.Priority() < ev.Priority() {
			select {
			case c.sendCh <- ev:
				c.droppedCount.Add(1) // oldEv
				return true
			default:
			}
		}
		// Not evictable: put it back (best effort, order of that single item may change)
		select {
		case c.sendCh <- oldEv:
		default:
			c.droppedCount.Add(1)
		}
	default:
	}

	c.droppedCount.Add(1)
	return false
}

// Close cancels the connection. The outbox is never closed so concurrent
// senders cannot panic; readers observe Done() instead.
func (c *connect) Close() {
	c.closeOnce.Do(func() {
		c.cancelFn()
	})
}

// IsClosed is a helper for logging and tests.
func IsClosed(c Connector) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

// binding is one entry of the connection index.
type binding struct {
	conn Connector
	name string
	typ  model.ClientType
}
