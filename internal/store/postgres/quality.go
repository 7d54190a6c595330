package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"autoshop/workshop-service/internal/models"
	"autoshop/workshop-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// StartReview records that an inspector has begun looking at a
// completed ticket. Informational only: nothing is blocked by it.
func (s *Store) StartReview(ctx context.Context, serviceID, workerID string) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var status string
	row := tx.QueryRow(ctx, `SELECT status FROM service_tickets WHERE ticket_id = $1`, serviceID)
	if err = row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrTicketNotFound
		}
		return err
	}

	payload := map[string]interface{}{
		"ticket_id": serviceID,
		"worker_id": workerID,
		"status":    status,
	}
	if err = insertOutboxEvent(ctx, tx, "quality.review_started", serviceID, payload); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) SubmitQualityReport(ctx context.Context, input store.QualityReportInput) (models.QualityReport, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QualityReport{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	status, err := lockTicket(ctx, tx, input.ServiceID)
	if err != nil {
		return models.QualityReport{}, err
	}
	if !store.ValidTransition("quality_submit", status) {
		err = store.ErrInvalidState
		return models.QualityReport{}, err
	}

	var pending int
	if err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM quality_reports
		WHERE service_id = $1 AND state = 'pending'
	`, input.ServiceID).Scan(&pending); err != nil {
		return models.QualityReport{}, err
	}
	if pending > 0 {
		err = store.ErrPendingReport
		return models.QualityReport{}, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	defectsJSON, err := json.Marshal(emptyIfNil(input.Defects))
	if err != nil {
		return models.QualityReport{}, err
	}
	mediaJSON, err := json.Marshal(emptyIfNil(input.MediaRefs))
	if err != nil {
		return models.QualityReport{}, err
	}

	report := models.QualityReport{
		ReportID:        uuid.NewString(),
		ServiceID:       input.ServiceID,
		WorkerID:        input.WorkerID,
		ChecklistPassed: input.ChecklistPassed,
		Rating:          input.Rating,
		Comments:        input.Comments,
		Defects:         input.Defects,
		MediaRefs:       input.MediaRefs,
		State:           models.ReportPending,
		CreatedAt:       createdAt,
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO quality_reports (
			report_id, service_id, worker_id, checklist_passed, rating,
			comments, defects, media_refs, state, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,'pending',$9)
	`, report.ReportID, report.ServiceID, report.WorkerID, report.ChecklistPassed, report.Rating, report.Comments, defectsJSON, mediaJSON, createdAt); err != nil {
		if isUniqueViolation(err) {
			err = store.ErrPendingReport
		}
		return models.QualityReport{}, err
	}

	payload := map[string]interface{}{
		"ticket_id": report.ServiceID,
		"report_id": report.ReportID,
		"worker_id": report.WorkerID,
		"passed":    report.ChecklistPassed,
	}
	if err = insertOutboxEvent(ctx, tx, "quality.submitted", report.ServiceID, payload); err != nil {
		return models.QualityReport{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QualityReport{}, err
	}
	return report, nil
}

func (s *Store) ApproveReport(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QualityReport{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	report, err := resolveReport(ctx, tx, input, models.ReportApproved)
	if err != nil {
		return models.QualityReport{}, err
	}

	payload := map[string]interface{}{
		"ticket_id":   report.ServiceID,
		"report_id":   report.ReportID,
		"resolved_by": report.ResolvedBy,
	}
	if err = insertOutboxEvent(ctx, tx, "quality.approved", report.ServiceID, payload); err != nil {
		return models.QualityReport{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QualityReport{}, err
	}
	return report, nil
}

// RejectReport bounces a completed ticket back into rework: the
// report flips to rejected, the ticket reopens, and a fresh
// in-progress assignment is recreated for the worker and role of the
// most recently completed non-quality assignment.
func (s *Store) RejectReport(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error) {
	if strings.TrimSpace(input.Comments) == "" {
		return models.QualityReport{}, store.ErrCommentRequired
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.QualityReport{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var serviceID string
	row := tx.QueryRow(ctx, `SELECT service_id FROM quality_reports WHERE report_id = $1`, input.ReportID)
	if err = row.Scan(&serviceID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrReportNotFound
		}
		return models.QualityReport{}, err
	}

	status, err := lockTicket(ctx, tx, serviceID)
	if err != nil {
		return models.QualityReport{}, err
	}
	if !store.ValidTransition("quality_reject", status) {
		err = store.ErrInvalidState
		return models.QualityReport{}, err
	}

	report, err := resolveReport(ctx, tx, input, models.ReportRejected)
	if err != nil {
		return models.QualityReport{}, err
	}

	var reworkWorker string
	var reworkRole models.Role
	row = tx.QueryRow(ctx, `
		SELECT worker_id, role
		FROM work_assignments
		WHERE service_id = $1 AND state = 'completed'
			AND role NOT IN ('quality', 'quality-system')
		ORDER BY finished_at DESC
		LIMIT 1
	`, serviceID)
	if err = row.Scan(&reworkWorker, &reworkRole); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrInvalidState
		}
		return models.QualityReport{}, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE service_tickets
		SET status = 'in_progress', completed_at = NULL
		WHERE ticket_id = $1
	`, serviceID); err != nil {
		return models.QualityReport{}, err
	}

	resolvedAt := input.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO work_assignments (assignment_id, service_id, worker_id, role, state, started_at)
		VALUES ($1, $2, $3, $4, 'in_progress', $5)
	`, uuid.NewString(), serviceID, reworkWorker, reworkRole, resolvedAt); err != nil {
		return models.QualityReport{}, err
	}

	payload := map[string]interface{}{
		"ticket_id":     serviceID,
		"report_id":     report.ReportID,
		"resolved_by":   report.ResolvedBy,
		"rework_worker": reworkWorker,
		"rework_role":   reworkRole,
	}
	if err = insertOutboxEvent(ctx, tx, "quality.rejected", serviceID, payload); err != nil {
		return models.QualityReport{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.QualityReport{}, err
	}
	return report, nil
}

func resolveReport(ctx context.Context, tx pgx.Tx, input store.ResolveReportInput, state string) (models.QualityReport, error) {
	resolvedAt := input.ResolvedAt
	if resolvedAt.IsZero() {
		resolvedAt = time.Now().UTC()
	}

	var report models.QualityReport
	var defectsJSON, mediaJSON []byte
	var resolvedByNull sql.NullString
	var resolvedAtNull sql.NullTime
	row := tx.QueryRow(ctx, `
		UPDATE quality_reports
		SET state = $2,
			resolved_by = $3,
			resolved_at = $4,
			comments = CASE WHEN $5 <> '' THEN $5 ELSE comments END
		WHERE report_id = $1 AND state = 'pending'
		RETURNING report_id, service_id, worker_id, checklist_passed, rating, comments, defects, media_refs, state, resolved_by, resolved_at, created_at
	`, input.ReportID, state, input.ReviewerID, resolvedAt, input.Comments)
	if err := row.Scan(&report.ReportID, &report.ServiceID, &report.WorkerID, &report.ChecklistPassed, &report.Rating, &report.Comments, &defectsJSON, &mediaJSON, &report.State, &resolvedByNull, &resolvedAtNull, &report.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			var exists int
			if scanErr := tx.QueryRow(ctx, `
				SELECT COUNT(*) FROM quality_reports WHERE report_id = $1
			`, input.ReportID).Scan(&exists); scanErr != nil {
				return models.QualityReport{}, scanErr
			}
			if exists > 0 {
				return models.QualityReport{}, store.ErrInvalidState
			}
			return models.QualityReport{}, store.ErrReportNotFound
		}
		return models.QualityReport{}, err
	}
	if err := json.Unmarshal(defectsJSON, &report.Defects); err != nil {
		return models.QualityReport{}, err
	}
	if err := json.Unmarshal(mediaJSON, &report.MediaRefs); err != nil {
		return models.QualityReport{}, err
	}
	if resolvedByNull.Valid {
		report.ResolvedBy = resolvedByNull.String
	}
	report.ResolvedAt = nullTimePtr(resolvedAtNull)
	return report, nil
}

func emptyIfNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
