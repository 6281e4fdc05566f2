// internal/consumer/consumer.go
package consumer

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

type DeliveryHandlerFunc func(delivery amqp.Delivery)

// Consumer holds control channels and metadata for one bus subscription
type Consumer struct {
	Exchange    string
	RoutingKey  string
	QueueName   string
	Channel     *amqp.Channel
	StopChan    chan struct{}
	DoneChan    chan struct{}
	Handler     DeliveryHandlerFunc
	ConsumerTag string
	log         *slog.Logger
}

// StartConsumer binds a private queue to exchange under routingKey and runs
// handler for every delivery until Unsubscribe.
func StartConsumer(conn *amqp.Connection, exchange, routingKey string, log *slog.Logger, handler DeliveryHandlerFunc) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s/%s: failed to open channel: %w", exchange, routingKey, err)
	}

	// Server named, exclusive and auto-deleted: the queue goes away with us.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s/%s: failed to declare queue: %w", exchange, routingKey, err)
	}
	if err := ch.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s/%s: failed to bind queue: %w", exchange, routingKey, err)
	}

	consumerTag := fmt.Sprintf("consumer-%s", uuid.NewString())
	msgs, err := ch.Consume(
		q.Name,
		consumerTag,
		true, // autoAck: notifications are best effort
		true,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s/%s: failed to start consuming: %w", exchange, routingKey, err)
	}

	c := &Consumer{
		Exchange:    exchange,
		RoutingKey:  routingKey,
		QueueName:   q.Name,
		Channel:     ch,
		StopChan:    make(chan struct{}),
		DoneChan:    make(chan struct{}),
		Handler:     handler,
		ConsumerTag: consumerTag,
		log:         log,
	}

	go c.consumeLoop(msgs)

	log.Info("Started consumer", "exchange", exchange, "event", routingKey, "queue", q.Name)
	return c, nil
}

// consumeLoop processes messages until StopChan is closed
func (c *Consumer) consumeLoop(msgs <-chan amqp.Delivery) {
	defer func() {
		close(c.DoneChan)
	}()

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				c.log.Warn("Delivery channel closed", "exchange", c.Exchange, "event", c.RoutingKey)
				return
			}
			c.Handler(msg)

		case <-c.StopChan:
			c.log.Debug("Stopping consumer", "consumer", c.ConsumerTag)
			_ = c.Channel.Cancel(c.ConsumerTag, false)
			return
		}
	}
}

// Unsubscribe signals the consumer to stop and waits for cleanup
func (c *Consumer) Unsubscribe() error {
	select {
	case <-c.StopChan:
		return nil
	default:
		close(c.StopChan)
	}
	<-c.DoneChan
	if err := c.Channel.Close(); err != nil && err != amqp.ErrClosed {
		return err
	}
	c.log.Info("Stopped consumer", "exchange", c.Exchange, "event", c.RoutingKey)
	return nil
}
