package models

import "time"

// Assignment is one ledger row per (service, worker, role) claim.
// Rows are append-only; completion mutates state, nothing deletes.
type Assignment struct {
	AssignmentID     string     `json:"assignment_id"`
	ServiceID        string     `json:"service_id"`
	WorkerID         string     `json:"worker_id"`
	Role             Role       `json:"role"`
	State            string     `json:"state"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	EvidenceAttached bool       `json:"evidence_attached"`
	Notes            string     `json:"notes,omitempty"`
}

const (
	AssignmentInProgress = "in_progress"
	AssignmentCompleted  = "completed"
)

type CommissionRecord struct {
	CommissionID string    `json:"commission_id"`
	WorkerID     string    `json:"worker_id"`
	ServiceID    string    `json:"service_id"`
	Role         Role      `json:"role"`
	AmountCents  int64     `json:"amount_cents"`
	State        string    `json:"state"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	CommissionPending = "pending"
	CommissionPaid    = "paid"
)

type QualityReport struct {
	ReportID        string     `json:"report_id"`
	ServiceID       string     `json:"service_id"`
	WorkerID        string     `json:"worker_id"`
	ChecklistPassed bool       `json:"checklist_passed"`
	Rating          int        `json:"rating"`
	Comments        string     `json:"comments,omitempty"`
	Defects         []string   `json:"defects,omitempty"`
	MediaRefs       []string   `json:"media_refs,omitempty"`
	State           string     `json:"state"`
	ResolvedBy      string     `json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

const (
	ReportPending  = "pending"
	ReportApproved = "approved"
	ReportRejected = "rejected"
)

type Worker struct {
	WorkerID string `json:"worker_id"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}
