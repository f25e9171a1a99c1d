package webhook

import (
	"strings"
	"time"

	"github.com/kimiroo/ice-server/internal/domain/event"
)

// Placeholders understood inside webhook bodies.
const (
	PlaceholderID        = "$event_id"
	PlaceholderName      = "$event_name"
	PlaceholderType      = "$event_type"
	PlaceholderSource    = "$event_source"
	PlaceholderData      = "$event_data"
	PlaceholderTimestamp = "$event_timestamp"
)

type replacement struct {
	placeholder string
	value       any
}

func replacements(ev *event.Event) []replacement {
	return []replacement{
		{PlaceholderID, ev.ID()},
		{PlaceholderName, ev.Name()},
		{PlaceholderType, ev.Type()},
		{PlaceholderSource, ev.Source()},
		{PlaceholderData, ev.Data()},
		{PlaceholderTimestamp, ev.Timestamp().Format(time.RFC3339Nano)},
	}
}

// Render substitutes $event_* placeholders through maps, lists and strings.
// A string equal to a placeholder becomes the raw value (so $event_data can
// become an object); a string containing placeholders gets their string values.
func Render(tmpl any, ev *event.Event) any {
	return render(tmpl, replacements(ev))
}

func render(v any, reps []replacement) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = render(item, reps)
		}
		return out
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			out = append(out, render(item, reps))
		}
		return out
	case string:
		for _, r := range reps {
			if t == r.placeholder {
				return r.value
			}
		}
		for _, r := range reps {
			if s, ok := r.value.(string); ok && strings.Contains(t, r.placeholder) {
				t = strings.ReplaceAll(t, r.placeholder, s)
			}
		}
		return t
	default:
		return v
	}
}
