package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"autoshop/workshop-service/internal/store"
)

type fakeSource struct {
	events []store.OutboxEvent
	offset int64
}

func (s *fakeSource) ListOutboxEventsFrom(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, event := range s.events {
		if event.Seq <= afterSeq {
			continue
		}
		out = append(out, event)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *fakeSource) GetRelayOffset(ctx context.Context, relay string) (int64, error) {
	return s.offset, nil
}

func (s *fakeSource) SetRelayOffset(ctx context.Context, relay string, lastSeq int64) error {
	s.offset = lastSeq
	return nil
}

type fakePublisher struct {
	published [][]byte
	failAfter int
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if p.failAfter > 0 && len(p.published) >= p.failAfter {
		return errors.New("publish failed")
	}
	p.published = append(p.published, payload)
	return nil
}

func testEvents(n int) []store.OutboxEvent {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := make([]store.OutboxEvent, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]int{"seq": i + 1})
		events = append(events, store.OutboxEvent{
			EventID:   fmt.Sprintf("event-%d", i+1),
			Seq:       int64(i + 1),
			Type:      "ticket.created",
			Payload:   payload,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
	}
	return events
}

func TestRunPublishesAndAdvancesOffset(t *testing.T) {
	source := &fakeSource{events: testEvents(3)}
	publisher := &fakePublisher{}
	relay := New(source, publisher, Config{})

	count, err := relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if count != 3 {
		t.Fatalf("published %d events, want 3", count)
	}
	if source.offset != 3 {
		t.Fatalf("offset = %d, want 3", source.offset)
	}

	// A second pass finds nothing new.
	count, err = relay.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run error: %v", err)
	}
	if count != 0 {
		t.Fatalf("second pass published %d events, want 0", count)
	}
}

func TestRunStopsOnPublishFailure(t *testing.T) {
	source := &fakeSource{events: testEvents(3)}
	publisher := &fakePublisher{failAfter: 1}
	relay := New(source, publisher, Config{})

	count, err := relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if count != 1 {
		t.Fatalf("published %d events, want 1", count)
	}
	if source.offset != 1 {
		t.Fatalf("offset advanced past last successful publish: %d", source.offset)
	}

	// Recovery resumes from the stored offset without re-sending.
	publisher.failAfter = 0
	count, err = relay.Run(context.Background())
	if err != nil {
		t.Fatalf("recovery Run error: %v", err)
	}
	if count != 2 {
		t.Fatalf("recovery published %d events, want 2", count)
	}
	if len(publisher.published) != 3 {
		t.Fatalf("total published = %d, want 3", len(publisher.published))
	}
}

func TestRunRespectsBatchSize(t *testing.T) {
	source := &fakeSource{events: testEvents(5)}
	publisher := &fakePublisher{}
	relay := New(source, publisher, Config{BatchSize: 2})

	count, err := relay.Run(context.Background())
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if count != 2 {
		t.Fatalf("published %d events, want 2", count)
	}
}

func TestRunDeliversEventsSharingTimestamp(t *testing.T) {
	// Events written in one transaction can share a created_at down to
	// the microsecond; the sequence cursor must still visit each one
	// even when a batch boundary lands between them.
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := testEvents(3)
	for i := range events {
		events[i].CreatedAt = at
	}
	source := &fakeSource{events: events}
	publisher := &fakePublisher{}
	relay := New(source, publisher, Config{BatchSize: 1})

	total := 0
	for i := 0; i < 3; i++ {
		count, err := relay.Run(context.Background())
		if err != nil {
			t.Fatalf("Run %d error: %v", i+1, err)
		}
		total += count
	}
	if total != 3 {
		t.Fatalf("published %d events across batches, want 3", total)
	}
	if source.offset != 3 {
		t.Fatalf("offset = %d, want 3", source.offset)
	}
}
