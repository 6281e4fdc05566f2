package main

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"messenger/internal/client"
	"messenger/internal/model"
)

func TestRender_ListsMessagesAndState(t *testing.T) {
	req := require.New(t)
	color.Enable = false
	defer func() { color.Enable = true }()

	var out bytes.Buffer
	render(&out, client.View{
		State:    client.StateStale,
		Identity: "alice",
		Messages: []model.Message{
			{Author: "bob", Body: "first", SentAt: model.SentAtString("yesterday")},
			{Author: "alice", Body: "second", SentAt: model.SentAtMillis(1700000000000)},
		},
	})

	text := out.String()
	req.Contains(text, "first")
	req.Contains(text, "second")
	req.Contains(text, "yesterday")
	req.Contains(text, "[stale] 2 messages as alice")
	req.Less(bytes.Index(out.Bytes(), []byte("first")), bytes.Index(out.Bytes(), []byte("second")))
}

func TestFormatSentAt(t *testing.T) {
	req := require.New(t)
	req.Equal("", formatSentAt(model.SentAt{}))
	req.Equal("soon", formatSentAt(model.SentAtString("soon")))
	req.NotEqual("1700000000000", formatSentAt(model.SentAtMillis(1700000000000)))
}

type countingBackend struct {
	mu      sync.Mutex
	fetches int
	sent    []model.MessageInput
}

func (b *countingBackend) Conversation(context.Context) ([]model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetches++
	return nil, nil
}

func (b *countingBackend) Send(_ context.Context, in model.MessageInput) (model.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, in)
	return model.Message{Author: in.Author, Body: in.Body}, nil
}

func (b *countingBackend) counts() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fetches, len(b.sent)
}

func runSyncer(t *testing.T, b *countingBackend) *client.Syncer {
	t.Helper()
	s := client.NewSyncer(b, b, nil, "messages", "newmessages", logs.GetLoggerFromLevel(slog.LevelDebug))
	s.SetIdentity("alice")
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
	require.Eventually(t, func() bool { return s.View().State == client.StateSynced }, time.Second, 5*time.Millisecond)
	return s
}

func TestReadLines_LiveSubscriptionWaitsForNotification(t *testing.T) {
	req := require.New(t)
	b := &countingBackend{}
	s := runSyncer(t, b)

	// When a line is sent while a subscription is live
	readLines(context.Background(), strings.NewReader("hello\n\n"), s, true)

	// Then no extra fetch is issued
	req.Never(func() bool {
		fetches, _ := b.counts()
		return fetches > 1
	}, 100*time.Millisecond, 5*time.Millisecond)
	_, sent := b.counts()
	req.Equal(1, sent)
}

func TestReadLines_WithoutSubscriptionRefreshes(t *testing.T) {
	req := require.New(t)
	b := &countingBackend{}
	s := runSyncer(t, b)

	readLines(context.Background(), strings.NewReader("hello\n"), s, false)

	req.Eventually(func() bool {
		fetches, _ := b.counts()
		return fetches == 2
	}, time.Second, 5*time.Millisecond)
}
