package realtime

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"messenger/internal/messaging"
	"messenger/internal/mocks"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_ForwardsBusEventsToClients(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubscription(ctrl)
	sub.EXPECT().Unsubscribe().Return(nil)

	// Given a hub attached to the bus
	var handler func(messaging.Event)
	bus := mocks.NewMockSubscriber(ctrl)
	bus.EXPECT().Subscribe("messages", "newmessages", gomock.Any()).
		DoAndReturn(func(_, _ string, h func(messaging.Event)) (messaging.Subscription, error) {
			handler = h
			return sub, nil
		})

	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(hub.Attach(bus, "messages", "newmessages"))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// And two connected clients
	first, second := dial(t, srv), dial(t, srv)
	req.Eventually(func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	// When the bus delivers an event
	handler(messaging.Event{Channel: "messages", Name: "newmessages", Payload: []byte(`{"change":{"operationType":"insert"}}`)})

	// Then both clients receive the same frame
	for _, conn := range []*websocket.Conn{first, second} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f Frame
		req.NoError(conn.ReadJSON(&f))
		req.Equal("messages", f.Channel)
		req.Equal("newmessages", f.Event)
		req.JSONEq(`{"change":{"operationType":"insert"}}`, string(f.Data))
	}

	hub.Close()
}

func TestHub_BroadcastWithoutData(t *testing.T) {
	req := require.New(t)
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	req.Eventually(func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(Frame{Channel: "messages", Event: "newmessages"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	req.NoError(err)
	req.JSONEq(`{"channel":"messages","event":"newmessages"}`, string(data))
}

func TestHub_ClientDisconnectDeregisters(t *testing.T) {
	req := require.New(t)
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	conn := dial(t, srv)
	req.Eventually(func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	_ = conn.Close()
	req.Eventually(func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHub_AttachFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockSubscriber(ctrl)
	bus.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, websocket.ErrBadHandshake)

	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	require.ErrorIs(t, hub.Attach(bus, "messages", "newmessages"), websocket.ErrBadHandshake)
}

func TestHub_StalledClientDoesNotBlockOthers(t *testing.T) {
	req := require.New(t)
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug))
	srv := httptest.NewServer(hub)
	defer srv.Close()

	// Given a client whose queue never drains
	hub.add("stalled", &wsClient{send: make(chan []byte)})
	defer hub.remove("stalled")

	// And a healthy connected client
	conn := dial(t, srv)
	req.Eventually(func() bool { return hub.Clients() == 2 }, time.Second, 5*time.Millisecond)

	// When frames are broadcast
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			hub.Broadcast(Frame{Channel: "messages", Event: "newmessages"})
		}
	}()

	// Then broadcasting returns and the healthy client still receives
	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("broadcast blocked on a stalled client")
	}
	for i := 0; i < 3; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var f Frame
		req.NoError(conn.ReadJSON(&f))
		req.Equal("newmessages", f.Event)
	}
}
