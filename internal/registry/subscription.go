package registry

import (
	"context"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType identifies a registry feed message.
type EventType string

const (
	EventRequestCreated EventType = "request_created"
	EventRequestClosed  EventType = "request_closed"
)

// Event is one message on a validator's event feed.
type Event struct {
	Type    EventType           `json:"type"`
	Request VerificationRequest `json:"request"`
}

func (c *Client) eventsURL(validatorID string) (string, error) {
	u, err := url.Parse(c.baseURL + "/v1/validators/" + url.PathEscape(validatorID) + "/events")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

// Subscribe streams newly created requests for validatorID into out until
// ctx is cancelled, reconnecting with capped exponential backoff.
func (c *Client) Subscribe(ctx context.Context, validatorID string, out chan<- VerificationRequest) error {
	wsURL, err := c.eventsURL(validatorID)
	if err != nil {
		return err
	}

	backoff := time.Second
	for {
		err := c.consume(ctx, wsURL, out)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("Registry event feed disconnected",
			zap.String("url", wsURL),
			zap.Duration("retry_in", backoff),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (c *Client) consume(ctx context.Context, wsURL string, out chan<- VerificationRequest) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
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

	c.logger.Info("Subscribed to registry event feed", zap.String("url", wsURL))
	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if ev.Type != EventRequestCreated {
			continue
		}
		select {
		case out <- ev.Request:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
