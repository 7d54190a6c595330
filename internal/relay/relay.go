// Package relay drains the transactional outbox and fans events out
// to subscribers over Redis pub/sub. Delivery is fire-and-forget: a
// consumer that misses a publish re-reads /api/events.
package relay

import (
	"context"
	"log"

	"autoshop/workshop-service/internal/store"
)

const relayName = "redis-pubsub"

type EventSource interface {
	ListOutboxEventsFrom(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error)
	GetRelayOffset(ctx context.Context, relay string) (int64, error)
	SetRelayOffset(ctx context.Context, relay string, lastSeq int64) error
}

type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type Relay struct {
	source    EventSource
	publisher Publisher
	channel   string
	batchSize int
}

type Config struct {
	Channel   string
	BatchSize int
}

func New(source EventSource, publisher Publisher, cfg Config) *Relay {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	channel := cfg.Channel
	if channel == "" {
		channel = "workshop.events"
	}
	return &Relay{
		source:    source,
		publisher: publisher,
		channel:   channel,
		batchSize: batch,
	}
}

// Run drains one batch past the persisted offset. The offset is the
// last published outbox sequence and only advances on successful
// publish, so a Redis outage replays events rather than dropping them.
func (r *Relay) Run(ctx context.Context) (int, error) {
	last, err := r.source.GetRelayOffset(ctx, relayName)
	if err != nil {
		return 0, err
	}

	events, err := r.source.ListOutboxEventsFrom(ctx, last, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range events {
		if err := r.publisher.Publish(ctx, r.channel, event.Payload); err != nil {
			log.Printf("relay publish error event=%s: %v", event.EventID, err)
			break
		}
		last = event.Seq
		published++
	}

	if published > 0 {
		if err := r.source.SetRelayOffset(ctx, relayName, last); err != nil {
			return published, err
		}
	}
	return published, nil
}
