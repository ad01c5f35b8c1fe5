package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sagaforge/sagaforge/pkg/eventbus"
)

func TestWSHubCapacity(t *testing.T) {
	hub := newWSHub(2)

	first := newWSSession(nil)
	second := newWSSession(nil)
	if err := hub.add(first); err != nil {
		t.Fatalf("add first: %v", err)
	}
	if err := hub.add(second); err != nil {
		t.Fatalf("add second: %v", err)
	}
	if hub.hasCapacity() {
		t.Error("hub at capacity must report no room")
	}
	if err := hub.add(newWSSession(nil)); err == nil {
		t.Error("add beyond capacity must fail")
	}

	hub.remove(first)
	if !hub.hasCapacity() {
		t.Error("hub must have room after remove")
	}
}

func TestWSHubFanOutFiltersBySaga(t *testing.T) {
	hub := newWSHub(4)

	all := newWSSession(nil)
	filtered := newWSSession(nil)
	filtered.setSubscribed("saga-1", true)
	other := newWSSession(nil)
	other.setSubscribed("saga-2", true)

	for _, s := range []*wsSession{all, filtered, other} {
		if err := hub.add(s); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	hub.fanOut([]byte(`{"type":"SAGA_STARTED"}`), "saga-1")

	if got := len(all.send); got != 1 {
		t.Errorf("unfiltered session received %d frames, want 1", got)
	}
	if got := len(filtered.send); got != 1 {
		t.Errorf("matching subscription received %d frames, want 1", got)
	}
	if got := len(other.send); got != 0 {
		t.Errorf("non-matching subscription received %d frames, want 0", got)
	}
}

func TestWSHubEvictsSlowSession(t *testing.T) {
	hub := newWSHub(4)
	slow := newWSSession(nil)
	if err := hub.add(slow); err != nil {
		t.Fatalf("add: %v", err)
	}

	for i := 0; i < wsSendBuffer+1; i++ {
		hub.fanOut([]byte(`{}`), "")
	}

	if hub.sessionCount() != 0 {
		t.Error("session with a full buffer must be evicted")
	}
}

func TestWSSessionUnsubscribeRestoresFirehose(t *testing.T) {
	s := newWSSession(nil)
	s.setSubscribed("saga-1", true)
	if s.wants("saga-2") {
		t.Error("subscribed session must not receive other sagas")
	}
	s.setSubscribed("saga-1", false)
	if !s.wants("saga-2") {
		t.Error("empty filter must receive everything again")
	}
}

func TestEventSagaID(t *testing.T) {
	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{"envelope", eventbus.Envelope{SagaID: "saga-1"}, "saga-1"},
		{"envelope pointer", &eventbus.Envelope{SagaID: "saga-2"}, "saga-2"},
		{"map", map[string]any{"saga_id": "saga-3"}, "saga-3"},
		{"string map", map[string]string{"saga_id": "saga-4"}, "saga-4"},
		{"missing", map[string]any{"other": "x"}, ""},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eventSagaID(tt.payload); got != tt.want {
				t.Errorf("eventSagaID() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWSOriginAllowed(t *testing.T) {
	request := func(origin, host string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/ws/events", nil)
		r.Host = host
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	tests := []struct {
		name    string
		origin  string
		host    string
		allowed []string
		want    bool
	}{
		{"no origin header", "", "api.local", nil, true},
		{"wildcard", "https://evil.example", "api.local", []string{"*"}, true},
		{"explicit match", "https://ui.example", "api.local", []string{"https://ui.example"}, true},
		{"same host fallback", "http://api.local", "api.local", nil, true},
		{"foreign origin", "https://evil.example", "api.local", []string{"https://ui.example"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wsOriginAllowed(request(tt.origin, tt.host), tt.allowed); got != tt.want {
				t.Errorf("wsOriginAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWebSocketHandlerRejectsPlainHTTP(t *testing.T) {
	h := NewWebSocketHandler(nil, WebSocketConfig{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/events", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d for non-upgrade request", rec.Code, http.StatusBadRequest)
	}
}
