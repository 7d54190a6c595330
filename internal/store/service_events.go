package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"autoshop/workshop-service/internal/models"
)

// ServiceEvent is one entry in the per-ticket audit chain. Each entry
// hashes its predecessor, so a tampered history fails verification.
type ServiceEvent struct {
	ServiceID  string          `json:"service_id"`
	ServiceSeq int             `json:"service_seq"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

type eventPayload struct {
	TicketID     string     `json:"ticket_id"`
	TicketNumber string     `json:"ticket_number"`
	Status       string     `json:"status"`
	WorkerID     string     `json:"worker_id"`
	Role         string     `json:"role"`
	CreatedAt    *time.Time `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at"`
}

func ComputeServiceEventHash(prevHash, serviceID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, serviceID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyServiceEvents walks the chain and reports the first sequence
// whose stored hash does not match, or 0 when the chain is intact.
func VerifyServiceEvents(events []ServiceEvent) int {
	prev := ""
	for _, event := range events {
		expected := ComputeServiceEventHash(prev, event.ServiceID, event.Type, event.Payload, event.CreatedAt, event.ServiceSeq)
		if event.Hash != expected || event.PrevHash != prev {
			return event.ServiceSeq
		}
		prev = event.Hash
	}
	return 0
}

// RehydrateTicket folds an event chain back into the ticket fields it
// recorded, newest value winning.
func RehydrateTicket(events []ServiceEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Ticket{}, err
		}
		if payload.TicketID != "" {
			ticket.TicketID = payload.TicketID
		}
		if payload.TicketNumber != "" {
			ticket.TicketNumber = payload.TicketNumber
		}
		if payload.Status != "" {
			ticket.Status = payload.Status
		}
		if payload.CreatedAt != nil {
			ticket.CreatedAt = *payload.CreatedAt
		}
		if payload.CompletedAt != nil {
			ticket.CompletedAt = payload.CompletedAt
		}
	}
	return ticket, nil
}
