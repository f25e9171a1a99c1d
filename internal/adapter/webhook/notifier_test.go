package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimiroo/ice-server/config"
	"github.com/kimiroo/ice-server/internal/domain/event"
	"github.com/kimiroo/ice-server/internal/domain/model"
)

var ts = time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

func testEvent() *event.Event {
	return event.NewWithClock("e1", "motion", "onvif", "server",
		map[string]any{"topic": "motion", "value": true},
		func() time.Time { return ts })
}

func testConfig(url string) config.WebhookConfig {
	return config.WebhookConfig{URL: url, Method: http.MethodPost, Timeout: time.Second}
}

func TestRender(t *testing.T) {
	tmpl := map[string]any{
		"id":      "$event_id",
		"payload": "$event_data",
		"message": "$event_name from $event_source at $event_timestamp",
		"list":    []any{"$event_type", 42},
		"nested":  map[string]any{"flag": true},
	}

	got, ok := Render(tmpl, testEvent()).(map[string]any)
	require.True(t, ok)

	assert.Equal(t, "e1", got["id"])
	assert.Equal(t, map[string]any{"topic": "motion", "value": true}, got["payload"])
	assert.Equal(t, "motion from server at 2024-03-01T08:30:00Z", got["message"])
	assert.Equal(t, []any{"onvif", 42}, got["list"])
	assert.Equal(t, map[string]any{"flag": true}, got["nested"])

	// template untouched
	assert.Equal(t, "$event_id", tmpl["id"])
}

func TestMatches(t *testing.T) {
	ev := testEvent()
	base := testConfig("http://hook")

	tests := []struct {
		name    string
		edit    func(c *config.WebhookConfig)
		outcome model.Outcome
		want    bool
	}{
		{"accepted", func(*config.WebhookConfig) {}, model.OutcomeAccepted, true},
		{"disabled", func(c *config.WebhookConfig) { c.URL = "" }, model.OutcomeAccepted, false},
		{"ignored without flag", func(*config.WebhookConfig) {}, model.OutcomeIgnoredDuplicate, false},
		{"ignored with flag", func(c *config.WebhookConfig) { c.OnIgnored = true }, model.OutcomeIgnoredDisarmed, true},
		{"rejected never", func(c *config.WebhookConfig) { c.OnIgnored = true }, model.OutcomeRejectedInvalid, false},
		{"type allowed", func(c *config.WebhookConfig) { c.OnEventType = []string{"onvif"} }, model.OutcomeAccepted, true},
		{"type filtered", func(c *config.WebhookConfig) { c.OnEventType = []string{"user"} }, model.OutcomeAccepted, false},
		{"source filtered", func(c *config.WebhookConfig) { c.OnEventSource = []string{"ha"} }, model.OutcomeAccepted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.edit(&cfg)
			assert.Equal(t, tt.want, Matches(cfg, ev, tt.outcome))
		})
	}
}

func TestBuildRequest(t *testing.T) {
	t.Run("json body", func(t *testing.T) {
		cfg := testConfig("http://hook/api")
		cfg.Data = map[string]any{"id": "$event_id"}
		cfg.Headers = map[string]string{"Authorization": "Bearer x"}

		req, err := BuildRequest(context.Background(), cfg, testEvent())
		require.NoError(t, err)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer x", req.Header.Get("Authorization"))

		raw, _ := io.ReadAll(req.Body)
		assert.JSONEq(t, `{"id":"e1"}`, string(raw))
	})

	t.Run("string body", func(t *testing.T) {
		cfg := testConfig("http://hook/api")
		cfg.Data = "event=$event_name"

		req, err := BuildRequest(context.Background(), cfg, testEvent())
		require.NoError(t, err)
		raw, _ := io.ReadAll(req.Body)
		assert.Equal(t, "event=motion", string(raw))
	})

	t.Run("no body", func(t *testing.T) {
		cfg := testConfig("http://hook/api")
		cfg.Method = http.MethodGet
		req, err := BuildRequest(context.Background(), cfg, testEvent())
		require.NoError(t, err)
		assert.Equal(t, http.MethodGet, req.Method)
	})

	t.Run("unsupported method", func(t *testing.T) {
		cfg := testConfig("http://hook/api")
		cfg.Method = http.MethodPut
		_, err := BuildRequest(context.Background(), cfg, testEvent())
		assert.ErrorIs(t, err, ErrUnsupportedMethod)
	})
}

func TestNotifyDeliversAsync(t *testing.T) {
	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Data = map[string]any{"name": "$event_name", "data": "$event_data"}
	n := NewWebhookNotifier(cfg, slog.New(slog.DiscardHandler))

	require.True(t, n.Notify(testEvent(), model.OutcomeAccepted))
	n.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "motion", body["name"])
	assert.Equal(t, map[string]any{"topic": "motion", "value": true}, body["data"])
}

func TestNotifyFilteredDoesNothing(t *testing.T) {
	n := NewWebhookNotifier(config.WebhookConfig{Method: http.MethodGet, Timeout: time.Second}, slog.New(slog.DiscardHandler))
	assert.False(t, n.Notify(testEvent(), model.OutcomeAccepted))
}

func TestSendReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	n := NewWebhookNotifier(cfg, slog.New(slog.DiscardHandler))
	assert.Error(t, n.Send(context.Background(), cfg, testEvent()))
}

func TestUpdateSwapsSettings(t *testing.T) {
	n := NewWebhookNotifier(config.WebhookConfig{Method: http.MethodGet, Timeout: time.Second}, slog.New(slog.DiscardHandler))
	assert.False(t, n.Notify(testEvent(), model.OutcomeAccepted))

	var hits sync.WaitGroup
	hits.Add(1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Done()
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.Method = http.MethodGet
	n.Update(cfg)
	assert.True(t, n.Notify(testEvent(), model.OutcomeAccepted))
	n.Wait()
	hits.Wait()
}
