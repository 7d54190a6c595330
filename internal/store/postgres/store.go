package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"autoshop/workshop-service/internal/models"
	"autoshop/workshop-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketNumberPad = 3

type Store struct {
	pool            *pgxpool.Pool
	commissionRates store.CommissionRates
}

type Options struct {
	CommissionRates store.CommissionRates
}

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	rates := options.CommissionRates
	if rates == nil {
		rates = store.CommissionRates{
			models.RoleMechanic: 10,
			models.RoleBodywork: 8,
		}
	}
	return &Store{
		pool:            pool,
		commissionRates: rates,
	}
}

func (s *Store) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findTicketByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Ticket{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Ticket{}, false, err
		}
		return existing, false, nil
	}

	for _, task := range input.Tasks {
		if !task.Role.Valid() {
			err = store.ErrUnknownRole
			return models.Ticket{}, false, err
		}
	}

	customerID, vehicleID, err := ensureCustomerVehicle(ctx, tx, input)
	if err != nil {
		return models.Ticket{}, false, err
	}

	seq, err := nextTicketNumber(ctx, tx)
	if err != nil {
		return models.Ticket{}, false, err
	}
	formattedNumber := fmt.Sprintf("SRV-%0*d", ticketNumberPad, seq)

	ticketID := uuid.NewString()
	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var ticket models.Ticket
	var estimatedAtNull sql.NullTime
	row := tx.QueryRow(ctx, `
		INSERT INTO service_tickets (
			ticket_id, request_id, ticket_number, status, total_cents,
			vehicle_id, customer_id, created_at, estimated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING ticket_id, ticket_number, status, total_cents, created_at, estimated_at, request_id
	`, ticketID, input.RequestID, formattedNumber, models.StatusPending, input.TotalCents, vehicleID, customerID, createdAt, nullTime(input.EstimatedAt))
	if err = row.Scan(&ticket.TicketID, &ticket.TicketNumber, &ticket.Status, &ticket.TotalCents, &ticket.CreatedAt, &estimatedAtNull, &ticket.RequestID); err != nil {
		return models.Ticket{}, false, err
	}
	ticket.EstimatedAt = nullTimePtr(estimatedAtNull)
	ticket.VehicleID = vehicleID
	ticket.CustomerID = customerID

	for _, task := range input.Tasks {
		if _, err = tx.Exec(ctx, `
			INSERT INTO service_tasks (task_id, service_id, role, description, labor_cents)
			VALUES ($1, $2, $3, $4, $5)
		`, uuid.NewString(), ticket.TicketID, task.Role, task.Description, task.LaborCents); err != nil {
			return models.Ticket{}, false, err
		}
	}

	if err = insertTicketOutboxEvent(ctx, tx, "ticket.created", ticket, "", ""); err != nil {
		return models.Ticket{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, false, err
	}

	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT ticket_id, ticket_number, status, total_cents, vehicle_id, customer_id, created_at, estimated_at, completed_at
		FROM service_tickets
		WHERE ticket_id = $1
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, store.ErrTicketNotFound
		}
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, status string) ([]models.Ticket, error) {
	query := `
		SELECT ticket_id, ticket_number, status, total_cents, vehicle_id, customer_id, created_at, estimated_at, completed_at
		FROM service_tickets
	`
	args := []interface{}{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, status)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func (s *Store) CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Ticket{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	status, err := lockTicket(ctx, tx, ticketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if !store.ValidTransition("cancel", status) {
		err = store.ErrInvalidState
		return models.Ticket{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE service_tickets
		SET status = 'cancelled'
		WHERE ticket_id = $1
		RETURNING ticket_id, ticket_number, status, total_cents, vehicle_id, customer_id, created_at, estimated_at, completed_at
	`, ticketID)
	ticket, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, err
	}

	if err = insertTicketOutboxEvent(ctx, tx, "ticket.cancelled", ticket, "", ""); err != nil {
		return models.Ticket{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// ListClaimable returns tickets the worker may claim: open tickets
// that either carry one of the worker's own assignments or have no
// in-progress assignment at all. A single in-progress assignment by
// anyone else locks the ticket for everyone until it completes.
func (s *Store) ListClaimable(ctx context.Context, workerID string, role models.Role) ([]models.Ticket, error) {
	if !role.Valid() {
		return nil, store.ErrUnknownRole
	}

	rows, err := s.pool.Query(ctx, `
		SELECT t.ticket_id, t.ticket_number, t.status, t.total_cents, t.vehicle_id, t.customer_id, t.created_at, t.estimated_at, t.completed_at
		FROM service_tickets t
		WHERE t.status IN ('pending', 'in_progress')
			AND (
				EXISTS (
					SELECT 1 FROM work_assignments a
					WHERE a.service_id = t.ticket_id AND a.worker_id = $1
				)
				OR NOT EXISTS (
					SELECT 1 FROM work_assignments a
					WHERE a.service_id = t.ticket_id AND a.state = 'in_progress'
				)
			)
		ORDER BY t.created_at DESC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

// Claim arbitrates a worker taking a ticket for a role. The ticket
// row is locked for the whole transaction so the lock-rule check and
// the assignment insert commit as one unit; the partial unique index
// on (service, worker, role, in_progress) is the backstop.
func (s *Store) Claim(ctx context.Context, input store.ClaimInput) (models.Assignment, error) {
	if !input.Role.Valid() {
		return models.Assignment{}, store.ErrUnknownRole
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Assignment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	status, err := lockTicket(ctx, tx, input.ServiceID)
	if err != nil {
		return models.Assignment{}, err
	}
	if !store.ValidTransition("claim", status) {
		err = store.ErrInvalidState
		return models.Assignment{}, err
	}

	existing, found, err := findActiveAssignment(ctx, tx, input.ServiceID, input.WorkerID, input.Role)
	if err != nil {
		return models.Assignment{}, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Assignment{}, err
		}
		return existing, nil
	}

	var activeCount, callerCount int
	row := tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE state = 'in_progress'),
			COUNT(*) FILTER (WHERE worker_id = $2)
		FROM work_assignments
		WHERE service_id = $1
	`, input.ServiceID, input.WorkerID)
	if err = row.Scan(&activeCount, &callerCount); err != nil {
		return models.Assignment{}, err
	}
	if activeCount > 0 && callerCount == 0 {
		err = store.ErrTicketLocked
		return models.Assignment{}, err
	}

	claimedAt := input.ClaimedAt
	if claimedAt.IsZero() {
		claimedAt = time.Now().UTC()
	}

	var assignment models.Assignment
	row = tx.QueryRow(ctx, `
		INSERT INTO work_assignments (assignment_id, service_id, worker_id, role, state, started_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING assignment_id, service_id, worker_id, role, state, started_at
	`, uuid.NewString(), input.ServiceID, input.WorkerID, input.Role, models.AssignmentInProgress, claimedAt)
	if err = row.Scan(&assignment.AssignmentID, &assignment.ServiceID, &assignment.WorkerID, &assignment.Role, &assignment.State, &assignment.StartedAt); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrTicketLocked
		}
		return models.Assignment{}, err
	}

	if status == models.StatusPending {
		if _, err = tx.Exec(ctx, `
			UPDATE service_tickets SET status = 'in_progress' WHERE ticket_id = $1
		`, input.ServiceID); err != nil {
			return models.Assignment{}, err
		}
	}

	if err = insertAssignmentOutboxEvent(ctx, tx, "ticket.claimed", assignment); err != nil {
		return models.Assignment{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

// Complete finishes the caller's in-progress assignment, accrues
// commission for eligible roles, and recomputes the ticket status in
// the same transaction: once nothing is in progress and every
// required role has a completed assignment, the ticket closes.
func (s *Store) Complete(ctx context.Context, input store.CompleteInput) (models.Assignment, error) {
	if !input.Role.Valid() {
		return models.Assignment{}, store.ErrUnknownRole
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Assignment{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	status, err := lockTicket(ctx, tx, input.ServiceID)
	if err != nil {
		return models.Assignment{}, err
	}
	if !store.ValidTransition("complete", status) {
		err = store.ErrInvalidState
		return models.Assignment{}, err
	}

	finishedAt := input.FinishedAt
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	var assignment models.Assignment
	var finishedAtNull sql.NullTime
	row := tx.QueryRow(ctx, `
		UPDATE work_assignments
		SET state = 'completed',
			finished_at = $4,
			evidence_attached = $5,
			notes = $6
		WHERE service_id = $1 AND worker_id = $2 AND role = $3 AND state = 'in_progress'
		RETURNING assignment_id, service_id, worker_id, role, state, started_at, finished_at, evidence_attached, notes
	`, input.ServiceID, input.WorkerID, input.Role, finishedAt, input.EvidenceAttached, input.Notes)
	if err = row.Scan(&assignment.AssignmentID, &assignment.ServiceID, &assignment.WorkerID, &assignment.Role, &assignment.State, &assignment.StartedAt, &finishedAtNull, &assignment.EvidenceAttached, &assignment.Notes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var completed int
			if scanErr := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM work_assignments
				WHERE service_id = $1 AND worker_id = $2 AND role = $3 AND state = 'completed'
			`, input.ServiceID, input.WorkerID, input.Role).Scan(&completed); scanErr != nil {
				err = scanErr
				return models.Assignment{}, err
			}
			if completed > 0 {
				err = store.ErrAlreadyCompleted
			} else {
				err = store.ErrAssignmentNotFound
			}
			return models.Assignment{}, err
		}
		return models.Assignment{}, err
	}
	assignment.FinishedAt = nullTimePtr(finishedAtNull)

	if input.Role.CommissionEligible() {
		if err = s.accrueCommission(ctx, tx, assignment); err != nil {
			return models.Assignment{}, err
		}
	}

	closed, err := recomputeTicketStatus(ctx, tx, input.ServiceID, finishedAt)
	if err != nil {
		return models.Assignment{}, err
	}

	if err = insertAssignmentOutboxEvent(ctx, tx, "assignment.completed", assignment); err != nil {
		return models.Assignment{}, err
	}
	if closed {
		ticket, getErr := getTicketTx(ctx, tx, input.ServiceID)
		if getErr != nil {
			err = getErr
			return models.Assignment{}, err
		}
		if err = insertTicketOutboxEvent(ctx, tx, "ticket.completed", ticket, input.WorkerID, string(input.Role)); err != nil {
			return models.Assignment{}, err
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Assignment{}, err
	}
	return assignment, nil
}

func (s *Store) ListAssignments(ctx context.Context, serviceID string) ([]models.Assignment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT assignment_id, service_id, worker_id, role, state, started_at, finished_at, evidence_attached, notes
		FROM work_assignments
		WHERE service_id = $1
		ORDER BY started_at ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []models.Assignment
	for rows.Next() {
		var assignment models.Assignment
		var finishedAtNull sql.NullTime
		if err := rows.Scan(&assignment.AssignmentID, &assignment.ServiceID, &assignment.WorkerID, &assignment.Role, &assignment.State, &assignment.StartedAt, &finishedAtNull, &assignment.EvidenceAttached, &assignment.Notes); err != nil {
			return nil, err
		}
		assignment.FinishedAt = nullTimePtr(finishedAtNull)
		assignments = append(assignments, assignment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

func (s *Store) ListCommissions(ctx context.Context, workerID string) ([]models.CommissionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT commission_id, worker_id, service_id, role, amount_cents, state, created_at
		FROM commission_records
		WHERE worker_id = $1
		ORDER BY created_at DESC
	`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.CommissionRecord
	for rows.Next() {
		var record models.CommissionRecord
		if err := rows.Scan(&record.CommissionID, &record.WorkerID, &record.ServiceID, &record.Role, &record.AmountCents, &record.State, &record.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT event_id, seq, type, payload_json, created_at
		FROM outbox_events
	`
	args := []interface{}{}
	if !after.IsZero() {
		query += " WHERE created_at > $1 ORDER BY seq ASC LIMIT $2"
		args = append(args, after, limit)
	} else {
		query += " ORDER BY seq ASC LIMIT $1"
		args = append(args, limit)
	}

	return s.queryOutboxEvents(ctx, query, args...)
}

// ListOutboxEventsFrom pages the outbox by its assigned sequence,
// which is strictly increasing, so a cursor never skips events the
// way a timestamp comparison can when two events share a microsecond.
func (s *Store) ListOutboxEventsFrom(ctx context.Context, afterSeq int64, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.queryOutboxEvents(ctx, `
		SELECT event_id, seq, type, payload_json, created_at
		FROM outbox_events
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, afterSeq, limit)
}

func (s *Store) queryOutboxEvents(ctx context.Context, query string, args ...interface{}) ([]store.OutboxEvent, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Seq, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListServiceEvents(ctx context.Context, serviceID string) ([]store.ServiceEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id, service_seq, type, payload, created_at, prev_hash, hash
		FROM service_events
		WHERE service_id = $1
		ORDER BY service_seq ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.ServiceEvent
	for rows.Next() {
		var event store.ServiceEvent
		if err := rows.Scan(&event.ServiceID, &event.ServiceSeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT s.session_id, s.worker_id, w.role, s.expires_at
		FROM sessions s
		JOIN workers w ON w.worker_id = s.worker_id
		WHERE s.session_id = $1
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.WorkerID, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

// GetRelayOffset returns the sequence of the last outbox event the
// named relay has published, zero when the relay has never run.
func (s *Store) GetRelayOffset(ctx context.Context, relay string) (int64, error) {
	var last int64
	row := s.pool.QueryRow(ctx, `
		SELECT last_seq FROM relay_offsets WHERE relay = $1
	`, relay)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return last, nil
}

func (s *Store) SetRelayOffset(ctx context.Context, relay string, lastSeq int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (relay, last_seq)
		VALUES ($1, $2)
		ON CONFLICT (relay) DO UPDATE SET last_seq = EXCLUDED.last_seq
	`, relay, lastSeq)
	return err
}

func (s *Store) accrueCommission(ctx context.Context, tx pgx.Tx, assignment models.Assignment) error {
	var total int64
	if err := tx.QueryRow(ctx, `
		SELECT total_cents FROM service_tickets WHERE ticket_id = $1
	`, assignment.ServiceID).Scan(&total); err != nil {
		return err
	}

	rows, err := tx.Query(ctx, `
		SELECT task_id, service_id, role, description, labor_cents
		FROM service_tasks
		WHERE service_id = $1
	`, assignment.ServiceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(&task.TaskID, &task.ServiceID, &task.Role, &task.Description, &task.LaborCents); err != nil {
			return err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	amount := store.CommissionAmount(s.commissionRates, assignment.Role, tasks, total)
	if amount <= 0 {
		return nil
	}

	// ON CONFLICT keeps re-accrual after a quality rework cycle from
	// duplicating the record.
	_, err = tx.Exec(ctx, `
		INSERT INTO commission_records (commission_id, worker_id, service_id, role, amount_cents, state, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6)
		ON CONFLICT (service_id, worker_id, role) DO NOTHING
	`, uuid.NewString(), assignment.WorkerID, assignment.ServiceID, assignment.Role, amount, time.Now().UTC())
	return err
}

// recomputeTicketStatus closes the ticket when no assignment remains
// in progress and every required role has a completed assignment.
// Required roles come from the task list; a ticket without tasks
// falls back to the roles that were actually claimed.
func recomputeTicketStatus(ctx context.Context, tx pgx.Tx, serviceID string, completedAt time.Time) (bool, error) {
	var active int
	if err := tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM work_assignments
		WHERE service_id = $1 AND state = 'in_progress'
	`, serviceID).Scan(&active); err != nil {
		return false, err
	}
	if active > 0 {
		return false, nil
	}

	required, err := queryRoles(ctx, tx, `
		SELECT DISTINCT role FROM service_tasks WHERE service_id = $1
	`, serviceID)
	if err != nil {
		return false, err
	}
	if len(required) == 0 {
		required, err = queryRoles(ctx, tx, `
			SELECT DISTINCT role FROM work_assignments WHERE service_id = $1
		`, serviceID)
		if err != nil {
			return false, err
		}
	}

	completed, err := queryRoles(ctx, tx, `
		SELECT DISTINCT role FROM work_assignments WHERE service_id = $1 AND state = 'completed'
	`, serviceID)
	if err != nil {
		return false, err
	}

	completedSet := make(map[string]bool, len(completed))
	for _, role := range completed {
		completedSet[role] = true
	}
	for _, role := range required {
		if !completedSet[role] {
			return false, nil
		}
	}

	tag, err := tx.Exec(ctx, `
		UPDATE service_tickets
		SET status = 'completed', completed_at = $2
		WHERE ticket_id = $1 AND status = 'in_progress'
	`, serviceID, completedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func queryRoles(ctx context.Context, tx pgx.Tx, query, serviceID string) ([]string, error) {
	rows, err := tx.Query(ctx, query, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func lockTicket(ctx context.Context, tx pgx.Tx, ticketID string) (string, error) {
	var status string
	row := tx.QueryRow(ctx, `
		SELECT status FROM service_tickets WHERE ticket_id = $1 FOR UPDATE
	`, ticketID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", store.ErrTicketNotFound
		}
		return "", err
	}
	return status, nil
}

func getTicketTx(ctx context.Context, tx pgx.Tx, ticketID string) (models.Ticket, error) {
	row := tx.QueryRow(ctx, `
		SELECT ticket_id, ticket_number, status, total_cents, vehicle_id, customer_id, created_at, estimated_at, completed_at
		FROM service_tickets
		WHERE ticket_id = $1
	`, ticketID)
	return scanTicket(row)
}

func findActiveAssignment(ctx context.Context, tx pgx.Tx, serviceID, workerID string, role models.Role) (models.Assignment, bool, error) {
	var assignment models.Assignment
	var finishedAtNull sql.NullTime
	row := tx.QueryRow(ctx, `
		SELECT assignment_id, service_id, worker_id, role, state, started_at, finished_at, evidence_attached, notes
		FROM work_assignments
		WHERE service_id = $1 AND worker_id = $2 AND role = $3 AND state = 'in_progress'
	`, serviceID, workerID, role)
	if err := row.Scan(&assignment.AssignmentID, &assignment.ServiceID, &assignment.WorkerID, &assignment.Role, &assignment.State, &assignment.StartedAt, &finishedAtNull, &assignment.EvidenceAttached, &assignment.Notes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Assignment{}, false, nil
		}
		return models.Assignment{}, false, err
	}
	assignment.FinishedAt = nullTimePtr(finishedAtNull)
	return assignment, true, nil
}

func findTicketByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Ticket, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT ticket_id, ticket_number, status, total_cents, vehicle_id, customer_id, created_at, estimated_at, completed_at
		FROM service_tickets
		WHERE request_id = $1
	`, requestID)
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func ensureCustomerVehicle(ctx context.Context, tx pgx.Tx, input store.CreateTicketInput) (string, string, error) {
	if input.Plate != "" {
		var customerID, vehicleID string
		row := tx.QueryRow(ctx, `
			SELECT vehicle_id, customer_id FROM vehicles WHERE plate = $1
		`, input.Plate)
		if err := row.Scan(&vehicleID, &customerID); err == nil {
			return customerID, vehicleID, nil
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return "", "", err
		}
	}

	customerID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO customers (customer_id, name, phone)
		VALUES ($1, $2, $3)
	`, customerID, input.CustomerName, input.Phone); err != nil {
		return "", "", err
	}

	vehicleID := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO vehicles (vehicle_id, customer_id, plate, make, model, year)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, vehicleID, customerID, input.Plate, input.Make, input.Model, input.Year); err != nil {
		return "", "", err
	}
	return customerID, vehicleID, nil
}

func nextTicketNumber(ctx context.Context, tx pgx.Tx) (int64, error) {
	var next int64
	row := tx.QueryRow(ctx, `
		INSERT INTO ticket_sequences (scope, next_number)
		VALUES ('service', 1)
		ON CONFLICT (scope)
		DO UPDATE SET next_number = ticket_sequences.next_number + 1
		RETURNING next_number
	`)
	if err := row.Scan(&next); err != nil {
		return 0, err
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var vehicleIDNull sql.NullString
	var customerIDNull sql.NullString
	var estimatedAtNull sql.NullTime
	var completedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.TicketNumber, &ticket.Status, &ticket.TotalCents, &vehicleIDNull, &customerIDNull, &ticket.CreatedAt, &estimatedAtNull, &completedAtNull); err != nil {
		return models.Ticket{}, err
	}
	if vehicleIDNull.Valid {
		ticket.VehicleID = vehicleIDNull.String
	}
	if customerIDNull.Valid {
		ticket.CustomerID = customerIDNull.String
	}
	ticket.EstimatedAt = nullTimePtr(estimatedAtNull)
	ticket.CompletedAt = nullTimePtr(completedAtNull)
	return ticket, nil
}

func insertTicketOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket, workerID, role string) error {
	createdAt := ticket.CreatedAt
	payload := map[string]interface{}{
		"ticket_id":     ticket.TicketID,
		"ticket_number": ticket.TicketNumber,
		"status":        ticket.Status,
		"created_at":    &createdAt,
		"completed_at":  ticket.CompletedAt,
	}
	if workerID != "" {
		payload["worker_id"] = workerID
	}
	if role != "" {
		payload["role"] = role
	}
	return insertOutboxEvent(ctx, tx, eventType, ticket.TicketID, payload)
}

func insertAssignmentOutboxEvent(ctx context.Context, tx pgx.Tx, eventType string, assignment models.Assignment) error {
	payload := map[string]interface{}{
		"ticket_id":     assignment.ServiceID,
		"assignment_id": assignment.AssignmentID,
		"worker_id":     assignment.WorkerID,
		"role":          assignment.Role,
		"state":         assignment.State,
	}
	return insertOutboxEvent(ctx, tx, eventType, assignment.ServiceID, payload)
}

func insertOutboxEvent(ctx context.Context, tx pgx.Tx, eventType, serviceID string, payload map[string]interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	return insertServiceEvent(ctx, tx, serviceID, eventType, payloadJSON)
}

func insertServiceEvent(ctx context.Context, tx pgx.Tx, serviceID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, serviceID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT service_seq, hash
		FROM service_events
		WHERE service_id = $1
		ORDER BY service_seq DESC
		LIMIT 1
		FOR UPDATE
	`, serviceID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	prev := ""
	if prevHash.Valid {
		prev = prevHash.String
	}
	// timestamptz stores microseconds; hash what will actually be read back.
	createdAt := time.Now().UTC().Truncate(time.Microsecond)
	hash := store.ComputeServiceEventHash(prev, serviceID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO service_events (service_id, service_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, serviceID, nextSeq, eventType, payload, createdAt, prev, hash)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func nullTime(value time.Time) interface{} {
	if value.IsZero() {
		return nil
	}
	return value
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
