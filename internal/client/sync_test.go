package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"messenger/internal/messaging"
	"messenger/internal/mocks"
	"messenger/internal/model"
)

// scriptedFetcher answers each Conversation call from its own reply channel,
// so tests decide when and in which order fetches complete.
type scriptedFetcher struct {
	mu      sync.Mutex
	calls   int
	replies []chan fetchReply
}

type fetchReply struct {
	msgs []model.Message
	err  error
}

func newScriptedFetcher(n int) *scriptedFetcher {
	f := &scriptedFetcher{}
	for i := 0; i < n; i++ {
		f.replies = append(f.replies, make(chan fetchReply, 1))
	}
	return f
}

func (f *scriptedFetcher) Conversation(ctx context.Context) ([]model.Message, error) {
	f.mu.Lock()
	i := f.calls
	f.calls++
	f.mu.Unlock()
	if i >= len(f.replies) {
		return nil, errors.New("unexpected fetch")
	}
	select {
	case r := <-f.replies[i]:
		return r.msgs, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *scriptedFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *scriptedFetcher) reply(i int, msgs []model.Message, err error) {
	f.replies[i] <- fetchReply{msgs: msgs, err: err}
}

type recordingSender struct {
	mu   sync.Mutex
	sent []model.MessageInput
}

func (s *recordingSender) Send(_ context.Context, in model.MessageInput) (model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, in)
	return model.Message{Author: in.Author, Body: in.Body, SentAt: in.SentAt}, nil
}

func msgs(bodies ...string) []model.Message {
	out := make([]model.Message, len(bodies))
	for i, b := range bodies {
		out[i] = model.Message{Author: "alice", Body: b, Seq: int64(i + 1)}
	}
	return out
}

// captureSubscriber returns a mock subscriber whose registered handler is
// published on the returned channel.
func captureSubscriber(ctrl *gomock.Controller, sub messaging.Subscription) (*mocks.MockSubscriber, chan func(messaging.Event)) {
	bus := mocks.NewMockSubscriber(ctrl)
	handlers := make(chan func(messaging.Event), 4)
	bus.EXPECT().
		Subscribe("messages", "newmessages", gomock.Any()).
		DoAndReturn(func(_, _ string, h func(messaging.Event)) (messaging.Subscription, error) {
			handlers <- h
			return sub, nil
		}).
		AnyTimes()
	return bus, handlers
}

func waitFor(t *testing.T, s *Syncer, cond func(View) bool) View {
	t.Helper()
	var v View
	require.Eventually(t, func() bool {
		v = s.View()
		return cond(v)
	}, 2*time.Second, 5*time.Millisecond)
	return v
}

func startSyncer(t *testing.T, s *Syncer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestSyncer_InitialLoadThenResyncOnNotification(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	sub := mocks.NewMockSubscription(ctrl)
	sub.EXPECT().Unsubscribe().Return(nil).Times(1)
	bus, handlers := captureSubscriber(ctrl, sub)
	fetcher := newScriptedFetcher(2)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	s := NewSyncer(fetcher, &recordingSender{}, bus, "messages", "newmessages", log)
	req.Equal(StateIdle, s.View().State)
	startSyncer(t, s)

	// Given the initial load returns one message
	waitFor(t, s, func(v View) bool { return v.State == StateFetching })
	fetcher.reply(0, msgs("hi"), nil)
	v := waitFor(t, s, func(v View) bool { return v.State == StateSynced })
	req.Equal(msgs("hi"), v.Messages)

	// When a notification arrives
	handler := <-handlers
	handler(messaging.Event{Channel: "messages", Name: "newmessages"})
	req.Eventually(func() bool { return fetcher.Calls() == 2 }, time.Second, 5*time.Millisecond)
	fetcher.reply(1, msgs("hi", "yo"), nil)

	// Then the view is replaced by the full new set
	v = waitFor(t, s, func(v View) bool { return len(v.Messages) == 2 })
	req.Equal(StateSynced, v.State)
	req.Equal(uint64(2), v.Applied)
}

func TestSyncer_FailedFetchKeepsPreviousView(t *testing.T) {
	req := require.New(t)
	fetcher := newScriptedFetcher(2)
	s := NewSyncer(fetcher, &recordingSender{}, nil, "messages", "newmessages", logs.GetLoggerFromLevel(slog.LevelDebug))
	startSyncer(t, s)

	fetcher.reply(0, msgs("hi"), nil)
	waitFor(t, s, func(v View) bool { return v.State == StateSynced })

	s.Refresh()
	req.Eventually(func() bool { return fetcher.Calls() == 2 }, time.Second, 5*time.Millisecond)
	fetcher.reply(1, nil, errors.New("connection refused"))

	v := waitFor(t, s, func(v View) bool { return v.State == StateStale })
	req.Equal(msgs("hi"), v.Messages)
}

func TestSyncer_LateOlderResponseIsDiscarded(t *testing.T) {
	req := require.New(t)
	fetcher := newScriptedFetcher(3)
	s := NewSyncer(fetcher, &recordingSender{}, nil, "messages", "newmessages", logs.GetLoggerFromLevel(slog.LevelDebug))
	startSyncer(t, s)

	fetcher.reply(0, msgs("a"), nil)
	waitFor(t, s, func(v View) bool { return v.State == StateSynced })

	// Given two overlapping fetches
	s.Refresh()
	req.Eventually(func() bool { return fetcher.Calls() == 2 }, time.Second, 5*time.Millisecond)
	s.Refresh()
	req.Eventually(func() bool { return fetcher.Calls() == 3 }, time.Second, 5*time.Millisecond)

	// When the newer one answers first
	fetcher.reply(2, msgs("a", "b", "c"), nil)
	waitFor(t, s, func(v View) bool { return len(v.Messages) == 3 })

	// Then the older answer does not roll the view back
	fetcher.reply(1, msgs("a", "b"), nil)
	v := waitFor(t, s, func(v View) bool { return v.State == StateSynced })
	req.Len(v.Messages, 3)
	req.Equal(uint64(3), v.Applied)
}

func TestSyncer_SendDoesNotTouchView(t *testing.T) {
	req := require.New(t)
	fetcher := newScriptedFetcher(1)
	sender := &recordingSender{}
	s := NewSyncer(fetcher, sender, nil, "messages", "newmessages", logs.GetLoggerFromLevel(slog.LevelDebug))
	s.now = func() time.Time { return time.UnixMilli(1700000000000) }
	s.SetIdentity("alice")
	startSyncer(t, s)

	fetcher.reply(0, nil, nil)
	waitFor(t, s, func(v View) bool { return v.State == StateSynced })

	m, err := s.Send(context.Background(), "hello")
	req.NoError(err)
	req.Equal("alice", m.Author)

	req.Len(sender.sent, 1)
	req.Equal(model.MessageInput{Author: "alice", Body: "hello", SentAt: model.SentAtMillis(1700000000000)}, sender.sent[0])
	req.Empty(s.View().Messages)
	req.Equal(1, fetcher.Calls())
}

func TestSyncer_IdentityChangeResubscribes(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	first := mocks.NewMockSubscription(ctrl)
	second := mocks.NewMockSubscription(ctrl)
	first.EXPECT().Unsubscribe().Return(nil).Times(1)
	second.EXPECT().Unsubscribe().Return(nil).Times(1)

	bus := mocks.NewMockSubscriber(ctrl)
	gomock.InOrder(
		bus.EXPECT().Subscribe("messages", "newmessages", gomock.Any()).Return(first, nil),
		bus.EXPECT().Subscribe("messages", "newmessages", gomock.Any()).Return(second, nil),
	)

	fetcher := newScriptedFetcher(2)
	s := NewSyncer(fetcher, &recordingSender{}, bus, "messages", "newmessages", logs.GetLoggerFromLevel(slog.LevelDebug))
	s.SetIdentity("alice")
	startSyncer(t, s)
	fetcher.reply(0, nil, nil)
	waitFor(t, s, func(v View) bool { return v.State == StateSynced && v.Identity == "alice" })

	s.SetIdentity("bob")
	req.Eventually(func() bool { return fetcher.Calls() == 2 }, time.Second, 5*time.Millisecond)
	fetcher.reply(1, msgs("hi"), nil)
	v := waitFor(t, s, func(v View) bool { return v.Identity == "bob" && v.State == StateSynced })
	req.Len(v.Messages, 1)
}

func TestSyncer_SubscribeFailureDegrades(t *testing.T) {
	ctrl := gomock.NewController(t)
	bus := mocks.NewMockSubscriber(ctrl)
	bus.EXPECT().Subscribe(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("bus down"))

	fetcher := newScriptedFetcher(1)
	s := NewSyncer(fetcher, &recordingSender{}, bus, "messages", "newmessages", logs.GetLoggerFromLevel(slog.LevelDebug))
	startSyncer(t, s)
	fetcher.reply(0, msgs("hi"), nil)
	v := waitFor(t, s, func(v View) bool { return v.State == StateSynced })
	require.Len(t, v.Messages, 1)
}
