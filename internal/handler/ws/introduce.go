package ws

import (
	"net/http"
	"strings"

	"github.com/kimiroo/ice-server/internal/domain/model"
)

// Introduction is the identity a connection claims for itself.
type Introduction struct {
	Type        model.ClientType
	Name        string
	LastEventID string
}

// browserAgents mark a User-Agent as a web dashboard.
var browserAgents = []string{"Mozilla", "Chrome", "Safari"}

// introduceFromRequest reads the introduction from the upgrade request.
// Query parameters win over headers. A request that names no type but comes
// from a browser is introduced as a dashboard. ok is false when the client
// has to introduce itself with an explicit message instead.
func introduceFromRequest(r *http.Request) (intro Introduction, ok bool, err error) {
	q := r.URL.Query()

	rawType := firstOf(q.Get("type"), r.Header.Get("X-Client-Type"))
	intro.Name = firstOf(q.Get("name"), r.Header.Get("X-Client-Name"))
	intro.LastEventID = firstOf(q.Get("lastEventId"), r.Header.Get("X-Last-Event-Id"))

	if rawType == "" {
		if !isBrowser(r.UserAgent()) {
			return Introduction{}, false, nil
		}
		intro.Type = model.ClientBrowser
		return intro, true, nil
	}

	intro.Type, err = model.ParseClientType(rawType)
	if err != nil {
		return Introduction{}, false, err
	}
	return intro, true, nil
}

func isBrowser(ua string) bool {
	for _, marker := range browserAgents {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

func firstOf(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
