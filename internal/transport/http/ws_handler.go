package http

import (
	"context"
	"net/http"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait             = 10 * time.Second
	pingInterval          = 30 * time.Second
	defaultStreamLifetime = 5 * time.Minute
)

// Subscriber is the receiving side of the push broker.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan domain.Event, func(), error)
}

// SessionReader confirms a session exists before a stream is opened.
type SessionReader interface {
	SessionState(ctx context.Context, sessionID string) (domain.GameState, error)
}

type WSHandler struct {
	broker   Subscriber
	sessions SessionReader
	lifetime time.Duration
	now      func() time.Time
	upgrader websocket.Upgrader
}

// NewWSHandler serves per-session push streams. Streams are closed normally
// after lifetime so clients reconnect through fresh connections.
func NewWSHandler(broker Subscriber, sessions SessionReader, lifetime time.Duration) *WSHandler {
	if lifetime <= 0 {
		lifetime = defaultStreamLifetime
	}
	return &WSHandler{
		broker:   broker,
		sessions: sessions,
		lifetime: lifetime,
		now:      time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type connectedPayload struct {
	SessionID string `json:"sessionId"`
}

// ServeWS upgrades the request and forwards every event published on the
// session topic until the client leaves or the stream lifetime elapses.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, errorPayload{Message: "missing sessionId"})
		return
	}
	if _, err := h.sessions.SessionState(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	events, unsubscribe, err := h.broker.Subscribe(ctx, domain.SessionTopic(sessionID))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	// Reads only surface control frames and client disconnects.
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	connected, err := domain.NewEvent(domain.EventConnected, connectedPayload{SessionID: sessionID}, h.now())
	if err != nil || h.write(conn, connected) != nil {
		return
	}
	log.Debug().Str("session_id", sessionID).Msg("push stream opened")

	lifetime := time.NewTimer(h.lifetime)
	defer lifetime.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-readerDone:
			return
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				h.close(conn, websocket.CloseGoingAway, "stream closed")
				return
			}
			if err := h.write(conn, event); err != nil {
				log.Debug().Err(err).Str("session_id", sessionID).Msg("ws write error")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-lifetime.C:
			h.close(conn, websocket.CloseNormalClosure, "stream lifetime reached")
			return
		}
	}
}

func (h *WSHandler) write(conn *websocket.Conn, event domain.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(event)
}

func (h *WSHandler) close(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
