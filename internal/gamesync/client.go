package gamesync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"classroom-quiz-service/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	streamBuffer = 8
	dialTimeout  = 10 * time.Second
)

// HTTPClient fetches projected state and sends heartbeats over the JSON API.
// With a PlayerID it reads the personalized player view, otherwise the admin
// session view authenticated by AdminToken.
type HTTPClient struct {
	BaseURL    string
	SessionID  string
	PlayerID   string
	AdminToken string
	Client     *http.Client
}

// StatusError is returned for non-2xx API responses.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

// FetchState implements StateFetcher.
func (c *HTTPClient) FetchState(ctx context.Context) (domain.PlayerState, error) {
	var state domain.PlayerState
	if c.PlayerID != "" {
		err := c.do(ctx, http.MethodGet, "/api/players/"+url.PathEscape(c.PlayerID)+"/state", &state)
		return state, err
	}
	err := c.do(ctx, http.MethodGet, "/api/admin/sessions/"+url.PathEscape(c.SessionID)+"/state", &state.GameState)
	return state, err
}

// Heartbeat implements Heartbeater.
func (c *HTTPClient) Heartbeat(ctx context.Context) error {
	if c.PlayerID == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/api/players/"+url.PathEscape(c.PlayerID)+"/heartbeat", nil)
}

// PushAvailable asks the server whether push streams are enabled.
func (c *HTTPClient) PushAvailable(ctx context.Context) (bool, error) {
	var caps struct {
		Push bool `json:"push"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/capabilities", &caps); err != nil {
		return false, err
	}
	return caps.Push, nil
}

// Join registers a player and binds the client to the joined session.
func (c *HTTPClient) Join(ctx context.Context, code, name, class string) (domain.JoinResult, error) {
	body, err := json.Marshal(map[string]string{"code": code, "name": name, "class": class})
	if err != nil {
		return domain.JoinResult{}, err
	}
	var res domain.JoinResult
	if err := c.send(ctx, http.MethodPost, "/api/join", bytes.NewReader(body), &res); err != nil {
		return res, err
	}
	c.PlayerID = res.PlayerID
	c.SessionID = res.SessionID
	return res, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, out any) error {
	return c.send(ctx, method, path, nil, out)
}

func (c *HTTPClient) send(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AdminToken)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var payload struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &StatusError{Status: resp.StatusCode, Message: payload.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// WSPushSource subscribes to the server's websocket push stream.
type WSPushSource struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

func (p *WSPushSource) streamURL(sessionID string) (string, error) {
	u, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"sessionId": {sessionID}}.Encode()
	return u.String(), nil
}

// Subscribe implements PushSource. The connection is closed when ctx ends.
func (p *WSPushSource) Subscribe(ctx context.Context, sessionID string) (<-chan domain.Event, error) {
	target, err := p.streamURL(sessionID)
	if err != nil {
		return nil, err
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial push stream: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial push stream: %w", err)
	}

	out := make(chan domain.Event, streamBuffer)
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		conn.Close()
	}()
	go func() {
		defer close(out)
		defer close(stop)
		for {
			var ev domain.Event
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("push stream read ended")
				}
				return
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
