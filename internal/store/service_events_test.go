package store

import (
	"encoding/json"
	"testing"
	"time"

	"autoshop/workshop-service/internal/models"
)

func chainEvents(t *testing.T, serviceID string, payloads []eventPayload, types []string) []ServiceEvent {
	t.Helper()
	if len(payloads) != len(types) {
		t.Fatal("payloads and types must align")
	}

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	prev := ""
	events := make([]ServiceEvent, 0, len(payloads))
	for i := range payloads {
		raw, err := json.Marshal(payloads[i])
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		createdAt := base.Add(time.Duration(i) * time.Minute)
		seq := i + 1
		hash := ComputeServiceEventHash(prev, serviceID, types[i], raw, createdAt, seq)
		events = append(events, ServiceEvent{
			ServiceID:  serviceID,
			ServiceSeq: seq,
			Type:       types[i],
			Payload:    raw,
			CreatedAt:  createdAt,
			PrevHash:   prev,
			Hash:       hash,
		})
		prev = hash
	}
	return events
}

func TestVerifyServiceEventsIntactChain(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	events := chainEvents(t, "svc-1", []eventPayload{
		{TicketID: "svc-1", TicketNumber: "SRV-001", Status: models.StatusPending, CreatedAt: &created},
		{TicketID: "svc-1", Status: models.StatusInProgress, WorkerID: "w-1", Role: "mechanic"},
		{TicketID: "svc-1", Status: models.StatusCompleted},
	}, []string{"ticket.created", "ticket.claimed", "ticket.completed"})

	if bad := VerifyServiceEvents(events); bad != 0 {
		t.Fatalf("VerifyServiceEvents = %d, want 0", bad)
	}
	if bad := VerifyServiceEvents(nil); bad != 0 {
		t.Fatalf("VerifyServiceEvents(nil) = %d, want 0", bad)
	}
}

func TestVerifyServiceEventsDetectsTampering(t *testing.T) {
	events := chainEvents(t, "svc-1", []eventPayload{
		{TicketID: "svc-1", Status: models.StatusPending},
		{TicketID: "svc-1", Status: models.StatusInProgress},
		{TicketID: "svc-1", Status: models.StatusCompleted},
	}, []string{"ticket.created", "ticket.claimed", "ticket.completed"})

	events[1].Payload = json.RawMessage(`{"ticket_id":"svc-1","status":"cancelled"}`)
	if bad := VerifyServiceEvents(events); bad != 2 {
		t.Fatalf("tampered payload: VerifyServiceEvents = %d, want 2", bad)
	}
}

func TestVerifyServiceEventsDetectsBrokenLink(t *testing.T) {
	events := chainEvents(t, "svc-1", []eventPayload{
		{TicketID: "svc-1", Status: models.StatusPending},
		{TicketID: "svc-1", Status: models.StatusInProgress},
	}, []string{"ticket.created", "ticket.claimed"})

	events[1].PrevHash = "deadbeef"
	if bad := VerifyServiceEvents(events); bad != 2 {
		t.Fatalf("broken link: VerifyServiceEvents = %d, want 2", bad)
	}
}

func TestRehydrateTicket(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := created.Add(3 * time.Hour)
	events := chainEvents(t, "svc-1", []eventPayload{
		{TicketID: "svc-1", TicketNumber: "SRV-007", Status: models.StatusPending, CreatedAt: &created},
		{TicketID: "svc-1", Status: models.StatusInProgress, WorkerID: "w-1", Role: "mechanic"},
		{TicketID: "svc-1", Status: models.StatusCompleted, CompletedAt: &completed},
	}, []string{"ticket.created", "ticket.claimed", "ticket.completed"})

	ticket, err := RehydrateTicket(events)
	if err != nil {
		t.Fatalf("RehydrateTicket error: %v", err)
	}
	if ticket.TicketID != "svc-1" || ticket.TicketNumber != "SRV-007" {
		t.Fatalf("unexpected ticket identity: %+v", ticket)
	}
	if ticket.Status != models.StatusCompleted {
		t.Fatalf("status = %q, want completed", ticket.Status)
	}
	if !ticket.CreatedAt.Equal(created) {
		t.Fatalf("created_at = %v, want %v", ticket.CreatedAt, created)
	}
	if ticket.CompletedAt == nil || !ticket.CompletedAt.Equal(completed) {
		t.Fatalf("completed_at = %v, want %v", ticket.CompletedAt, completed)
	}
}
