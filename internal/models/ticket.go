package models

import "time"

type Ticket struct {
	TicketID     string     `json:"ticket_id"`
	TicketNumber string     `json:"ticket_number"`
	Status       string     `json:"status"`
	TotalCents   int64      `json:"total_cents"`
	VehicleID    string     `json:"vehicle_id,omitempty"`
	CustomerID   string     `json:"customer_id,omitempty"`
	RequestID    string     `json:"request_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	EstimatedAt  *time.Time `json:"estimated_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

// Task is one line of work on a ticket. The distinct roles across a
// ticket's tasks form the role set that must complete before the
// ticket does.
type Task struct {
	TaskID      string `json:"task_id"`
	ServiceID   string `json:"service_id"`
	Role        Role   `json:"role"`
	Description string `json:"description"`
	LaborCents  int64  `json:"labor_cents"`
}

type Customer struct {
	CustomerID string `json:"customer_id"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
}

type Vehicle struct {
	VehicleID  string `json:"vehicle_id"`
	CustomerID string `json:"customer_id"`
	Plate      string `json:"plate"`
	Make       string `json:"make,omitempty"`
	Model      string `json:"model,omitempty"`
	Year       int    `json:"year,omitempty"`
}
