package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// EventType distinguishes sidecar events.
type EventType string

const (
	// EventSubmission carries the field values of a submitted Add Patient form.
	EventSubmission EventType = "submission"
	// EventResponse carries a completed network response seen by the page.
	EventResponse EventType = "response"
	// EventNavigation reports the page URL changed.
	EventNavigation EventType = "navigation"
	// EventClosed means the sidecar ended the session.
	EventClosed EventType = "closed"
)

// NetworkResponse is an intercepted response body.
type NetworkResponse struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"`
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Event is one message on a monitor session's event stream.
type Event struct {
	Type      EventType        `json:"type"`
	SessionID string           `json:"sessionId"`
	PageURL   string           `json:"pageUrl,omitempty"`
	Fields    map[string]any   `json:"fields,omitempty"`
	Response  *NetworkResponse `json:"response,omitempty"`
	At        time.Time        `json:"at"`
}

// Stream connects to the session's event WebSocket and calls handle for each
// event until ctx is done, the sidecar closes the session, or handle returns
// an error. Malformed messages are skipped.
func (c *Client) Stream(ctx context.Context, sessionID string, handle func(Event) error) error {
	wsURL, err := c.eventsURL(sessionID)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("browser: dial event stream: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	c.logger.Info("event stream connected", "session_id", sessionID)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("browser: read event: %w", err)
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			c.logger.Debug("skipping malformed event", "error", err)
			continue
		}
		if ev.Type == EventClosed {
			c.logger.Info("sidecar closed monitor session", "session_id", sessionID)
			return nil
		}
		if err := handle(ev); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}
}

func (c *Client) eventsURL(sessionID string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("browser: parse base url: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	base := strings.TrimRight(u.Path, "/") + "/api/v1/monitor/"
	u.Path = base + sessionID + "/events"
	u.RawPath = base + url.PathEscape(sessionID) + "/events"
	return u.String(), nil
}
