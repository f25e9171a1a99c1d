package registry

import "time"

const (
	DefaultInvalidThreshold = 2 * time.Second
	DefaultDeleteThreshold  = 30 * time.Second
)

type hubConfig struct {
	invalidThreshold time.Duration
	deleteThreshold  time.Duration
	now              func() time.Time
}

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithInvalidThreshold sets the [QUIET_PERIOD] after which a session is reported not-alive.
func WithInvalidThreshold(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.invalidThreshold = d
		}
	}
}

// WithDeleteThreshold sets the inactivity after which a session is removed entirely.
func WithDeleteThreshold(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.config.deleteThreshold = d
		}
	}
}

// WithClock replaces time.Now. Tests drive liveness with it instead of sleeping.
func WithClock(now func() time.Time) Option {
	return func(h *Hub) {
		if now != nil {
			h.config.now = now
		}
	}
}
