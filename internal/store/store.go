package store

import (
	"context"
	"encoding/json"
	"time"

	"autoshop/workshop-service/internal/models"
)

type CreateTicketInput struct {
	RequestID    string
	CustomerName string
	Phone        string
	Plate        string
	Make         string
	Model        string
	Year         int
	TotalCents   int64
	EstimatedAt  time.Time
	CreatedAt    time.Time
	Tasks        []TaskInput
}

type TaskInput struct {
	Role        models.Role
	Description string
	LaborCents  int64
}

type ClaimInput struct {
	ServiceID string
	WorkerID  string
	Role      models.Role
	ClaimedAt time.Time
}

type CompleteInput struct {
	ServiceID        string
	WorkerID         string
	Role             models.Role
	EvidenceAttached bool
	Notes            string
	FinishedAt       time.Time
}

type QualityReportInput struct {
	ServiceID       string
	WorkerID        string
	ChecklistPassed bool
	Rating          int
	Comments        string
	Defects         []string
	MediaRefs       []string
	CreatedAt       time.Time
}

type ResolveReportInput struct {
	ReportID   string
	ReviewerID string
	Comments   string
	ResolvedAt time.Time
}

// WorkshopStore is the transactional surface the coordinator and
// quality gate share. Every mutation either fully applies or fully
// fails; nothing else mutates tickets or assignments.
type WorkshopStore interface {
	CreateTicket(ctx context.Context, input CreateTicketInput) (models.Ticket, bool, error)
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	ListTickets(ctx context.Context, status string) ([]models.Ticket, error)
	CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error)

	ListClaimable(ctx context.Context, workerID string, role models.Role) ([]models.Ticket, error)
	Claim(ctx context.Context, input ClaimInput) (models.Assignment, error)
	Complete(ctx context.Context, input CompleteInput) (models.Assignment, error)
	ListAssignments(ctx context.Context, serviceID string) ([]models.Assignment, error)

	StartReview(ctx context.Context, serviceID, workerID string) error
	SubmitQualityReport(ctx context.Context, input QualityReportInput) (models.QualityReport, error)
	ApproveReport(ctx context.Context, input ResolveReportInput) (models.QualityReport, error)
	RejectReport(ctx context.Context, input ResolveReportInput) (models.QualityReport, error)

	ListCommissions(ctx context.Context, workerID string) ([]models.CommissionRecord, error)

	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
	ListServiceEvents(ctx context.Context, serviceID string) ([]ServiceEvent, error)

	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Session struct {
	SessionID string
	WorkerID  string
	Role      models.Role
	ExpiresAt time.Time
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Seq       int64           `json:"seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
