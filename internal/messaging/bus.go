//go:generate go run go.uber.org/mock/mockgen -source=bus.go -destination=../mocks/mock_bus.go -package=mocks
package messaging

import "context"

// Event is one delivery from the notification bus. The payload is opaque;
// subscribers treat receipt as a signal that something changed.
type Event struct {
	Channel string
	Name    string
	Payload []byte
}

// Publisher sends fire-and-forget events. There is no acknowledgment and no
// ordering across channels.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
}

// Subscriber delivers every event published on channel under event name to
// handler, once per delivery. Events published while disconnected are lost.
type Subscriber interface {
	Subscribe(channel, event string, handler func(Event)) (Subscription, error)
}

type Subscription interface {
	Unsubscribe() error
}
