package share

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const outboxKey = "events:outbox"

// OutboxEvent is one pending push event: which share it belongs to, the
// engine event name and its payload.
type OutboxEvent struct {
	ShareUUID string          `json:"share_uuid"`
	Event     string          `json:"event"`
	Payload   json.RawMessage `json:"payload"`
	QueuedAt  time.Time       `json:"queued_at"`
}

// Outbox decouples API writes from NATS publishing: handlers enqueue into
// a redis list and a single drain loop publishes in order. Events survive a
// NATS outage as long as redis holds them.
type Outbox struct {
	client    redis.Cmdable
	publisher *Publisher
	log       *zap.Logger
	tracer    trace.Tracer
	batchSize int64
}

// NewOutbox builds an Outbox draining to the given publisher.
func NewOutbox(client redis.Cmdable, publisher *Publisher, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Outbox{
		client:    client,
		publisher: publisher,
		log:       logger,
		tracer:    otel.Tracer("share.outbox"),
		batchSize: 64,
	}
}

// Enqueue appends one event to the outbox.
func (o *Outbox) Enqueue(ctx context.Context, shareUUID, event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	entry, err := json.Marshal(OutboxEvent{
		ShareUUID: shareUUID,
		Event:     event,
		Payload:   raw,
		QueuedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := o.client.RPush(ctx, outboxKey, entry).Err(); err != nil {
		return fmt.Errorf("enqueue event: %w", err)
	}
	return nil
}

// Pending reports how many events wait in the queue.
func (o *Outbox) Pending(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, outboxKey).Result()
}

// Run drains the outbox until the context ends.
func (o *Outbox) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := o.drainOnce(ctx); err != nil {
				o.log.Warn("outbox drain failed", zap.Error(err))
			}
		}
	}
}

// drainOnce publishes up to one batch. An event is only removed from the
// list after its publish succeeds, so ordering holds and failures retry.
func (o *Outbox) drainOnce(ctx context.Context) error {
	ctx, span := o.tracer.Start(ctx, "outbox.drain")
	defer span.End()

	entries, err := o.client.LRange(ctx, outboxKey, 0, o.batchSize-1).Result()
	if err != nil {
		return fmt.Errorf("read outbox: %w", err)
	}
	published := 0
	for _, entry := range entries {
		var evt OutboxEvent
		if err := json.Unmarshal([]byte(entry), &evt); err != nil {
			// A corrupt entry would wedge the queue; drop it.
			o.log.Warn("corrupt outbox entry dropped", zap.Error(err))
			published++
			continue
		}
		if err := o.publisher.Publish(ctx, evt.ShareUUID, evt.Event, evt.Payload); err != nil {
			break
		}
		published++
	}
	if published > 0 {
		if err := o.client.LPopCount(ctx, outboxKey, published).Err(); err != nil {
			return fmt.Errorf("trim outbox: %w", err)
		}
	}
	return nil
}
