package storage

import (
	"sync"

	"messenger/internal/model"
)

// Subscription is a live change feed. A background reader pushes events onto
// an internal channel which is drained by the handler given to OnEvent.
type Subscription interface {
	// OnEvent registers the handler. Events are delivered one at a time.
	// Only the first registered handler is used.
	OnEvent(handler func(model.ChangeEvent))
	Close() error
}

type feedSubscription struct {
	events  chan model.ChangeEvent
	stop    chan struct{}
	release func() error

	bind  sync.Once
	close sync.Once
	err   error
	wg    sync.WaitGroup
}

func newFeedSubscription(release func() error) *feedSubscription {
	return &feedSubscription{
		events:  make(chan model.ChangeEvent, 64),
		stop:    make(chan struct{}),
		release: release,
	}
}

// spawn runs a reader until the subscription is closed.
func (s *feedSubscription) spawn(reader func(stop <-chan struct{})) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		reader(s.stop)
	}()
}

// push hands an event to the dispatcher. It returns false once closed.
func (s *feedSubscription) push(ev model.ChangeEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stop:
		return false
	}
}

func (s *feedSubscription) OnEvent(handler func(model.ChangeEvent)) {
	s.bind.Do(func() {
		s.spawn(func(stop <-chan struct{}) {
			for {
				select {
				case ev := <-s.events:
					handler(ev)
				case <-stop:
					return
				}
			}
		})
	})
}

func (s *feedSubscription) Close() error {
	s.close.Do(func() {
		close(s.stop)
		if s.release != nil {
			s.err = s.release()
		}
		s.wg.Wait()
	})
	return s.err
}
