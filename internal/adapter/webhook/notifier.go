// Package webhook fires an HTTP request for arbitrated events.
// Delivery is fire-and-forget and at-most-once: failures are logged and
// counted, never retried and never reported to producers.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
	"github.com/kimiroo/ice-server/internal/metrics"
)

// Notifier is the side-effect collaborator of arbitration.
type Notifier interface {
	// Notify applies the filters and, when they match, dispatches asynchronously.
	// It reports whether a delivery was scheduled.
	Notify(ev *event.Event, outcome model.Outcome) bool
}

var _ Notifier = (*WebhookNotifier)(nil)

// ErrUnsupportedMethod is returned for anything but GET and POST.
var ErrUnsupportedMethod = errors.New("unsupported webhook method")

type WebhookNotifier struct {
	logger *slog.Logger
	client *http.Client
	cb     *gobreaker.CircuitBreaker

	mu      sync.RWMutex
	cfg     config.WebhookConfig
	limiter *rate.Limiter // nil when no minimum interval is configured

	inflight sync.WaitGroup
}

func NewWebhookNotifier(cfg config.WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	n := &WebhookNotifier{
		logger: logger,
		client: &http.Client{},
	}
	n.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("WEBHOOK_BREAKER_STATE", "name", name, "from", from.String(), "to", to.String())
		},
	})
	n.Update(cfg)
	return n
}

// Update swaps the settings in place; used by config hot reload.
func (n *WebhookNotifier) Update(cfg config.WebhookConfig) {
	var limiter *rate.Limiter
	if cfg.MinInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.MinInterval), 1)
	}

	n.mu.Lock()
	n.cfg = cfg
	n.limiter = limiter
	n.mu.Unlock()
}

func (n *WebhookNotifier) settings() (config.WebhookConfig, *rate.Limiter) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.cfg, n.limiter
}

// Matches applies the enablement, outcome and allow-list rules.
func Matches(cfg config.WebhookConfig, ev *event.Event, outcome model.Outcome) bool {
	if !cfg.Enabled() {
		return false
	}
	if outcome != model.OutcomeAccepted && !(outcome.Ignored() && cfg.OnIgnored) {
		return false
	}
	if len(cfg.OnEventType) > 0 && !slices.Contains(cfg.OnEventType, ev.Type()) {
		return false
	}
	if len(cfg.OnEventSource) > 0 && !slices.Contains(cfg.OnEventSource, ev.Source()) {
		return false
	}
	return true
}

func (n *WebhookNotifier) Notify(ev *event.Event, outcome model.Outcome) bool {
	cfg, limiter := n.settings()
	if !Matches(cfg, ev, outcome) {
		return false
	}

	n.inflight.Add(1)
	go func() {
		defer n.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				metrics.WebhookCalls.WithLabelValues(metrics.WebhookRejected).Inc()
				n.logger.Warn("WEBHOOK_RATE_LIMITED", "event_id", ev.ID(), "error", err)
				return
			}
		}

		if err := n.Send(ctx, cfg, ev); err != nil {
			label := metrics.WebhookFailed
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				label = metrics.WebhookRejected
			}
			metrics.WebhookCalls.WithLabelValues(label).Inc()
			n.logger.Error("WEBHOOK_FAILED", "event_id", ev.ID(), "url", cfg.URL, "error", err)
			return
		}
		metrics.WebhookCalls.WithLabelValues(metrics.WebhookSuccess).Inc()
	}()
	return true
}

// Send performs one synchronous delivery through the breaker.
func (n *WebhookNotifier) Send(ctx context.Context, cfg config.WebhookConfig, ev *event.Event) error {
	req, err := BuildRequest(ctx, cfg, ev)
	if err != nil {
		return err
	}

	_, err = n.cb.Execute(func() (interface{}, error) {
		resp, err := n.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("webhook request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("webhook returned status %d", resp.StatusCode)
		}
		n.logger.Debug("WEBHOOK_DELIVERED", "event_id", ev.ID(), "status", resp.StatusCode)
		return nil, nil
	})
	return err
}

// BuildRequest renders the body template. Map templates travel as JSON,
// string templates as the raw body.
func BuildRequest(ctx context.Context, cfg config.WebhookConfig, ev *event.Event) (*http.Request, error) {
	if cfg.Method != http.MethodGet && cfg.Method != http.MethodPost {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, cfg.Method)
	}

	var (
		body        io.Reader
		contentType string
	)
	switch tmpl := cfg.Data.(type) {
	case nil:
	case string:
		rendered, ok := Render(tmpl, ev).(string)
		if !ok {
			// the whole template was "$event_data"
			raw, err := json.Marshal(ev.Data())
			if err != nil {
				return nil, fmt.Errorf("marshal webhook body: %w", err)
			}
			rendered = string(raw)
		}
		body = bytes.NewBufferString(rendered)
		contentType = "text/plain; charset=utf-8"
	default:
		raw, err := json.Marshal(Render(tmpl, ev))
		if err != nil {
			return nil, fmt.Errorf("marshal webhook body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return nil, fmt.Errorf("create webhook request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// Wait blocks until every in-flight delivery finished. Used on shutdown and in tests.
func (n *WebhookNotifier) Wait() {
	n.inflight.Wait()
}
