package client

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"messenger/internal/messaging"
	"messenger/internal/model"
)

type State int

const (
	StateIdle State = iota
	StateFetching
	StateSynced
	// StateStale means the last fetch failed and the previous messages are kept.
	StateStale
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateSynced:
		return "synced"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

type Fetcher interface {
	Conversation(ctx context.Context) ([]model.Message, error)
}

type Sender interface {
	Send(ctx context.Context, in model.MessageInput) (model.Message, error)
}

// View is a snapshot of a client's local state. Messages must not be modified.
type View struct {
	State    State
	Messages []model.Message
	Identity string
	// Applied is the sequence number of the fetch the messages came from.
	Applied uint64
}

type fetchResult struct {
	seq  uint64
	msgs []model.Message
	err  error
}

// Syncer keeps a local copy of the conversation. Every notification triggers
// a full re-fetch that replaces the view. Responses are numbered and a
// response older than the last applied one is discarded, so overlapping
// fetches never roll the view back.
//
// All state is owned by the Run goroutine.
type Syncer struct {
	fetcher Fetcher
	sender  Sender
	bus     messaging.Subscriber
	channel string
	event   string
	log     *slog.Logger
	now     func() time.Time

	notify   chan struct{}
	rebind   chan struct{}
	results  chan fetchResult
	updates  chan View
	view     atomic.Pointer[View]
	identMu  sync.Mutex
	identity string
}

func NewSyncer(fetcher Fetcher, sender Sender, bus messaging.Subscriber, channel, event string, log *slog.Logger) *Syncer {
	s := &Syncer{
		fetcher: fetcher,
		sender:  sender,
		bus:     bus,
		channel: channel,
		event:   event,
		log:     log,
		now:     time.Now,
		notify:  make(chan struct{}, 1),
		rebind:  make(chan struct{}, 1),
		results: make(chan fetchResult),
		updates: make(chan View, 1),
	}
	s.view.Store(&View{State: StateIdle})
	return s
}

// View returns the latest snapshot.
func (s *Syncer) View() View {
	return *s.view.Load()
}

// Updates yields the latest snapshot after each change. Intermediate
// snapshots are dropped if the reader is slow.
func (s *Syncer) Updates() <-chan View {
	return s.updates
}

// SetIdentity changes the author used by Send. A running loop re-subscribes
// and re-fetches for the new identity.
func (s *Syncer) SetIdentity(name string) {
	s.identMu.Lock()
	s.identity = name
	s.identMu.Unlock()
	signal(s.rebind)
}

func (s *Syncer) currentIdentity() string {
	s.identMu.Lock()
	defer s.identMu.Unlock()
	return s.identity
}

// Refresh asks for a re-fetch without a notification, e.g. a manual reload.
func (s *Syncer) Refresh() {
	signal(s.notify)
}

// Send submits a message under the current identity. The local view is not
// updated; the message shows up once its notification triggers a re-fetch.
func (s *Syncer) Send(ctx context.Context, body string) (model.Message, error) {
	return s.sender.Send(ctx, model.MessageInput{
		Author: s.currentIdentity(),
		Body:   body,
		SentAt: model.SentAtMillis(s.now().UnixMilli()),
	})
}

// signal does a non-blocking send on a one slot channel. Pending signals
// coalesce, which is fine because every fetch returns the full set.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Run subscribes, performs the initial fetch and processes notifications
// until ctx is done. The subscription is released on return.
func (s *Syncer) Run(ctx context.Context) error {
	var (
		issued      uint64
		applied     uint64
		outstanding int
	)
	lastOK := true
	v := s.View()
	v.Identity = s.currentIdentity()

	sub := s.subscribe(v.Identity)
	defer func() { s.unsubscribe(sub) }()

	fetch := func() {
		issued++
		outstanding++
		seq := issued
		go func() {
			msgs, err := s.fetcher.Conversation(ctx)
			select {
			case s.results <- fetchResult{seq: seq, msgs: msgs, err: err}:
			case <-ctx.Done():
			}
		}()
		v.State = StateFetching
		s.publish(v)
	}

	fetch()
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.notify:
			fetch()

		case <-s.rebind:
			identity := s.currentIdentity()
			if identity == v.Identity {
				continue
			}
			s.unsubscribe(sub)
			sub = s.subscribe(identity)
			v.Identity = identity
			fetch()

		case res := <-s.results:
			outstanding--
			switch {
			case res.seq <= applied:
				s.log.Debug("Discarding out of date fetch", "seq", res.seq, "applied", applied)
			case res.err != nil:
				s.log.Warn("Failed to retrieve conversation, keeping previous view", "seq", res.seq, "error", res.err)
				lastOK = false
			default:
				applied = res.seq
				lastOK = true
				v.Messages = res.msgs
				v.Applied = applied
			}
			switch {
			case outstanding > 0:
				v.State = StateFetching
			case lastOK:
				v.State = StateSynced
			default:
				v.State = StateStale
			}
			s.publish(v)
		}
	}
}

func (s *Syncer) subscribe(identity string) messaging.Subscription {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Subscribe(s.channel, s.event, func(messaging.Event) {
		signal(s.notify)
	})
	if err != nil {
		s.log.Warn("Realtime subscription failed, updates only on refresh", "identity", identity, "error", err)
		return nil
	}
	s.log.Debug("Subscribed to notifications", "identity", identity, "channel", s.channel, "event", s.event)
	return sub
}

func (s *Syncer) unsubscribe(sub messaging.Subscription) {
	if sub == nil {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		s.log.Debug("Unsubscribe failed", "error", err)
	}
}

func (s *Syncer) publish(v View) {
	snapshot := v
	s.view.Store(&snapshot)
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snapshot:
	default:
	}
}
