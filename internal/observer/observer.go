// Package observer turns message store inserts into notification bus events.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"messenger/internal/messaging"
	"messenger/internal/metrics"
	"messenger/internal/model"
	"messenger/internal/storage"
	"messenger/internal/worker"
)

const queueSize = 256

// Observer publishes one bus event per observed insert. Delivery is at least
// once from the feed's point of view; subscribers re-fetch idempotently.
type Observer struct {
	feed      storage.ChangeFeed
	publisher messaging.Publisher
	channel   string
	event     string
	log       *slog.Logger
	pool      *worker.Pool[model.ChangeEvent]
	sub       storage.Subscription
}

func New(feed storage.ChangeFeed, publisher messaging.Publisher, channel, event string, workers int, log *slog.Logger) *Observer {
	o := &Observer{
		feed:      feed,
		publisher: publisher,
		channel:   channel,
		event:     event,
		log:       log,
	}
	o.pool = worker.NewPool("observer", log, workers, queueSize, o.publish)
	return o
}

// Start opens the change feed. An error means the process runs without
// realtime updates; ingest and query are unaffected.
func (o *Observer) Start(ctx context.Context) error {
	sub, err := o.feed.Watch(ctx)
	if err != nil {
		return fmt.Errorf("change observer setup: %w", err)
	}
	o.sub = sub
	o.pool.Start(ctx)
	sub.OnEvent(func(ev model.ChangeEvent) {
		metrics.ChangeEvents.Inc()
		if err := o.pool.Submit(ctx, ev); err != nil {
			o.log.Debug("Dropping change event", "seq", ev.Seq, "error", err)
		}
	})
	o.log.Info("Change stream initialized", "channel", o.channel, "event", o.event)
	return nil
}

func (o *Observer) publish(ctx context.Context, ev model.ChangeEvent) error {
	payload, err := json.Marshal(model.Notification{Change: ev})
	if err != nil {
		return err
	}
	if err := o.publisher.Publish(ctx, o.channel, o.event, payload); err != nil {
		metrics.NotificationsPublished.WithLabelValues("error").Inc()
		return err
	}
	metrics.NotificationsPublished.WithLabelValues("ok").Inc()
	o.log.Debug("Notification published", "id", ev.MessageID, "seq", ev.Seq)
	return nil
}

// Stop closes the feed first so no new work arrives, then the workers.
func (o *Observer) Stop() {
	if o.sub != nil {
		if err := o.sub.Close(); err != nil {
			o.log.Warn("Failed to close change feed", "error", err)
		}
	}
	o.pool.Stop()
}
