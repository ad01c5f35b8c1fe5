package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sagaforge/sagaforge/pkg/eventbus"
	"github.com/sagaforge/sagaforge/pkg/logger"
)

const (
	wsDefaultMaxConnections = 100
	wsDefaultPingInterval   = 30 * time.Second
	wsDefaultPongTimeout    = 10 * time.Second
	wsWriteTimeout          = 10 * time.Second
	wsSendBuffer            = 32
	wsMaxInboundBytes       = 1 << 20
)

// WebSocketConfig tunes the /ws/events endpoint.
type WebSocketConfig struct {
	AllowedOrigins []string
	MaxConnections int
	PingInterval   time.Duration
	PongTimeout    time.Duration
}

// EventMessage is the frame pushed to websocket subscribers. Payload is
// the lifecycle envelope for a saga or step event.
type EventMessage struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// wsCommand is what clients send us: subscribe/unsubscribe to narrow the
// stream to specific sagas.
type wsCommand struct {
	Type    string         `json:"type"`
	SagaID  string         `json:"saga_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// wsSession is one connected client. sagas holds its subscription filter;
// an empty filter means the session receives every event.
type wsSession struct {
	conn      *websocket.Conn
	send      chan []byte
	mu        sync.RWMutex
	sagas     map[string]struct{}
	closeOnce sync.Once
}

func newWSSession(conn *websocket.Conn) *wsSession {
	return &wsSession{
		conn:  conn,
		send:  make(chan []byte, wsSendBuffer),
		sagas: make(map[string]struct{}),
	}
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		close(s.send)
		if s.conn != nil {
			_ = s.conn.Close()
		}
	})
}

func (s *wsSession) setSubscribed(sagaID string, on bool) {
	if sagaID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.sagas[sagaID] = struct{}{}
	} else {
		delete(s.sagas, sagaID)
	}
}

func (s *wsSession) wants(sagaID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.sagas) == 0 {
		return true
	}
	if sagaID == "" {
		return false
	}
	_, ok := s.sagas[sagaID]
	return ok
}

// wsHub tracks live sessions and fans frames out to them.
type wsHub struct {
	mu       sync.RWMutex
	sessions map[*wsSession]struct{}
	capacity int
}

func newWSHub(capacity int) *wsHub {
	if capacity <= 0 {
		capacity = wsDefaultMaxConnections
	}
	return &wsHub{
		sessions: make(map[*wsSession]struct{}),
		capacity: capacity,
	}
}

func (h *wsHub) add(s *wsSession) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sessions) >= h.capacity {
		return errors.New("websocket connection limit reached")
	}
	h.sessions[s] = struct{}{}
	return nil
}

func (h *wsHub) remove(s *wsSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	s.close()
}

func (h *wsHub) sessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *wsHub) hasCapacity() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions) < h.capacity
}

// fanOut delivers one encoded frame to every session whose filter matches.
// A session whose send buffer is full is evicted; a reader that cannot
// keep up must not stall saga event delivery for everyone else.
func (h *wsHub) fanOut(frame []byte, sagaID string) {
	h.mu.RLock()
	sessions := make([]*wsSession, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.RUnlock()

	for _, s := range sessions {
		if !s.wants(sagaID) {
			continue
		}
		select {
		case s.send <- frame:
		default:
			h.remove(s)
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.sessions {
		s.close()
		delete(h.sessions, s)
	}
}

// WebSocketHandler serves /ws/events: clients connect, optionally narrow
// the stream to specific saga IDs, and receive lifecycle events as they
// happen.
type WebSocketHandler struct {
	log          logger.Logger
	hub          *wsHub
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	pongTimeout  time.Duration
}

// NewWebSocketHandler creates the handler with defaults applied for any
// zero config field.
func NewWebSocketHandler(log logger.Logger, cfg WebSocketConfig) *WebSocketHandler {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = wsDefaultPingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = wsDefaultPongTimeout
	}

	h := &WebSocketHandler{
		log:          log,
		hub:          newWSHub(cfg.MaxConnections),
		pingInterval: cfg.PingInterval,
		pongTimeout:  cfg.PongTimeout,
	}

	origins := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return wsOriginAllowed(r, origins)
		},
	}
	return h
}

// ServeHTTP upgrades the request and runs the session's read loop until
// the client disconnects.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	if !h.hub.hasCapacity() {
		http.Error(w, "websocket connection limit reached", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warn("websocket upgrade failed", "error", err)
		}
		return
	}

	session := newWSSession(conn)
	if err := h.hub.add(session); err != nil {
		// Capacity was taken between the check above and registration.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "too many websocket connections"),
			time.Now().Add(wsWriteTimeout),
		)
		_ = conn.Close()
		return
	}

	go h.writeLoop(session)
	h.readLoop(session)
}

func (h *WebSocketHandler) readLoop(session *wsSession) {
	defer h.hub.remove(session)

	deadline := h.pingInterval + h.pongTimeout
	session.conn.SetReadLimit(wsMaxInboundBytes)
	_ = session.conn.SetReadDeadline(time.Now().Add(deadline))
	session.conn.SetPongHandler(func(string) error {
		return session.conn.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := session.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) && h.log != nil {
				h.log.Warn("websocket read error", "error", err)
			}
			return
		}
		h.applyCommand(session, data)
	}
}

func (h *WebSocketHandler) writeLoop(session *wsSession) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		h.hub.remove(session)
	}()

	for {
		select {
		case frame, ok := <-session.send:
			if !ok {
				_ = session.conn.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(wsWriteTimeout),
				)
				return
			}
			_ = session.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := session.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = session.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := session.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		}
	}
}

// applyCommand interprets a client frame. Malformed frames and unknown
// command types are ignored rather than terminating the session.
func (h *WebSocketHandler) applyCommand(session *wsSession, raw []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return
	}

	sagaID := strings.TrimSpace(cmd.SagaID)
	if sagaID == "" && cmd.Payload != nil {
		if v, ok := cmd.Payload["saga_id"].(string); ok {
			sagaID = strings.TrimSpace(v)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cmd.Type)) {
	case "subscribe":
		session.setSubscribed(sagaID, true)
	case "unsubscribe":
		session.setSubscribed(sagaID, false)
	}
}

// Broadcast pushes one lifecycle event to every subscribed session.
func (h *WebSocketHandler) Broadcast(event EventMessage) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	frame, err := json.Marshal(event)
	if err != nil {
		return err
	}
	h.hub.fanOut(frame, eventSagaID(event.Payload))
	return nil
}

// Close terminates every live session, used during server shutdown.
func (h *WebSocketHandler) Close() {
	h.hub.closeAll()
}

// eventSagaID extracts the saga ID used for subscription filtering from
// an event payload. Lifecycle envelopes carry it directly; ad-hoc map
// payloads are probed for a saga_id key.
func eventSagaID(payload any) string {
	switch v := payload.(type) {
	case eventbus.Envelope:
		return v.SagaID
	case *eventbus.Envelope:
		return v.SagaID
	case map[string]any:
		if id, ok := v["saga_id"].(string); ok {
			return id
		}
	case map[string]string:
		return v["saga_id"]
	}
	return ""
}

func wsOriginAllowed(r *http.Request, origins []string) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, allowed := range origins {
		if allowed == "*" || strings.EqualFold(strings.TrimSpace(allowed), origin) {
			return true
		}
	}
	// Same-host connections stay allowed without explicit configuration.
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}
