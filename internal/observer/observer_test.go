package observer

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"messenger/internal/mocks"
	"messenger/internal/model"
	"messenger/internal/storage"
)

type fakeFeed struct {
	err error

	mu      sync.Mutex
	handler func(model.ChangeEvent)
	closed  bool
}

func (f *fakeFeed) Watch(context.Context) (storage.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f, nil
}

func (f *fakeFeed) OnEvent(handler func(model.ChangeEvent)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
}

func (f *fakeFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeFeed) emit(ev model.ChangeEvent) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	h(ev)
}

func TestObserver_PublishesOneNotificationPerInsert(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	feed := &fakeFeed{}
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	ev := model.ChangeEvent{Operation: model.OperationInsert, MessageID: uuid.New(), Seq: 7}
	published := make(chan []byte, 1)
	// Given the bus accepts the publish on the fixed channel and event
	publisher.EXPECT().
		Publish(gomock.Any(), "messages", "newmessages", gomock.Any()).
		DoAndReturn(func(_ context.Context, _, _ string, payload []byte) error {
			published <- payload
			return nil
		}).
		Times(1)

	o := New(feed, publisher, "messages", "newmessages", 2, log)
	req.NoError(o.Start(context.Background()))

	// When the store reports an insert
	feed.emit(ev)

	// Then one notification goes out
	select {
	case payload := <-published:
		var n model.Notification
		req.NoError(json.Unmarshal(payload, &n))
		req.Equal(ev, n.Change)
	case <-time.After(time.Second):
		req.Fail("notification was not published")
	}
	o.Stop()
	req.True(feed.closed)
}

func TestObserver_SetupFailureIsReported(t *testing.T) {
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	feed := &fakeFeed{err: errors.New("change streams unsupported")}

	o := New(feed, publisher, "messages", "newmessages", 1, logs.GetLoggerFromLevel(slog.LevelDebug))
	err := o.Start(context.Background())
	require.ErrorContains(t, err, "change streams unsupported")
	o.Stop()
}

func TestObserver_PublishErrorDoesNotStopObserver(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	publisher := mocks.NewMockPublisher(ctrl)
	feed := &fakeFeed{}

	done := make(chan struct{})
	gomock.InOrder(
		publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			Return(errors.New("bus unavailable")),
		publisher.EXPECT().Publish(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
			DoAndReturn(func(context.Context, string, string, []byte) error {
				close(done)
				return nil
			}),
	)

	// a single worker keeps the two publishes in order
	o := New(feed, publisher, "messages", "newmessages", 1, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(o.Start(context.Background()))
	defer o.Stop()

	feed.emit(model.ChangeEvent{Seq: 1})
	feed.emit(model.ChangeEvent{Seq: 2})

	select {
	case <-done:
	case <-time.After(time.Second):
		req.Fail("second notification was not published")
	}
}
