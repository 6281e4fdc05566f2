// internal/messaging/rabbit.go
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"messenger/internal/consumer"
)

// exchangeKind routes by event name, so one exchange per bus channel
// carries every event kind of that channel.
const exchangeKind = "direct"

// RabbitClient is the notification bus on RabbitMQ. A bus channel maps to an
// exchange and an event name to a routing key. Each subscriber gets its own
// exclusive auto-delete queue, so every subscriber sees every event.
type RabbitClient struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	URL     string
	log     *slog.Logger

	mu       sync.Mutex
	declared map[string]struct{}
}

func NewRabbitClient(url string, log *slog.Logger) (*RabbitClient, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	r := &RabbitClient{
		conn:     conn,
		channel:  ch,
		URL:      url,
		log:      log,
		declared: make(map[string]struct{}),
	}
	go r.watchClose(conn.NotifyClose(make(chan *amqp.Error, 1)))
	return r, nil
}

// watchClose only logs. There is no reconnect: publishes fail until restart.
func (r *RabbitClient) watchClose(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		r.log.Warn("Bus connection closed, realtime updates stopped", "error", err)
	}
}

// DeclareChannel creates the exchange backing a bus channel.
func (r *RabbitClient) DeclareChannel(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declareLocked(name)
}

func (r *RabbitClient) declareLocked(name string) error {
	if _, ok := r.declared[name]; ok {
		return nil
	}
	if err := r.channel.ExchangeDeclare(name, exchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", name, err)
	}
	r.declared[name] = struct{}{}
	r.log.Debug("Exchange declared", "exchange", name)
	return nil
}

// Publish sends event on channel. Nobody acknowledges it.
func (r *RabbitClient) Publish(ctx context.Context, channel, event string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.declareLocked(channel); err != nil {
		return err
	}
	err := r.channel.Publish(
		channel, // exchange
		event,   // routing key
		false,
		false,
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        payload,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s/%s: %w", channel, event, err)
	}
	return nil
}

func (r *RabbitClient) Subscribe(channel, event string, handler func(Event)) (Subscription, error) {
	if err := r.DeclareChannel(channel); err != nil {
		return nil, err
	}
	c, err := consumer.StartConsumer(r.conn, channel, event, r.log, func(d amqp.Delivery) {
		handler(Event{Channel: d.Exchange, Name: d.RoutingKey, Payload: d.Body})
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Close cleans up connection and channel
func (r *RabbitClient) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if err := r.conn.Close(); err != nil {
		return err
	}
	return nil
}
