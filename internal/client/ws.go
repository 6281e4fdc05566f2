package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"messenger/internal/messaging"
	"messenger/internal/realtime"
)

// WSSubscriber receives bus events through the server's websocket relay.
type WSSubscriber struct {
	url    string
	token  string
	dialer *websocket.Dialer
	log    *slog.Logger
}

// NewWSSubscriber targets the relay of the server at baseURL (http or https).
func NewWSSubscriber(baseURL, token string, log *slog.Logger) *WSSubscriber {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WSSubscriber{
		url:    u + "/realtime",
		token:  token,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log,
	}
}

type wsSubscription struct {
	conn *websocket.Conn
	done chan struct{}
}

// Subscribe opens one relay connection per subscription. There is no
// reconnect: once the connection drops no further events arrive.
func (s *WSSubscriber) Subscribe(channel, event string, handler func(messaging.Event)) (messaging.Subscription, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := s.dialer.Dial(s.url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", s.url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", s.url, err)
	}

	sub := &wsSubscription{conn: conn, done: make(chan struct{})}
	go func() {
		defer close(sub.done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Warn("Realtime relay connection lost", "error", err)
				}
				return
			}
			var f realtime.Frame
			if err := json.Unmarshal(data, &f); err != nil {
				s.log.Debug("Ignoring malformed relay frame", "error", err)
				continue
			}
			if f.Channel != channel || f.Event != event {
				continue
			}
			handler(messaging.Event{Channel: f.Channel, Name: f.Event, Payload: f.Data})
		}
	}()
	return sub, nil
}

func (s *wsSubscription) Unsubscribe() error {
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()
	<-s.done
	return err
}
