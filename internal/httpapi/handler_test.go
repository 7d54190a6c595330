package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"autoshop/workshop-service/internal/models"
	"autoshop/workshop-service/internal/store"
)

const (
	workerA   = "11111111-1111-1111-1111-111111111111"
	workerB   = "22222222-2222-2222-2222-222222222222"
	inspector = "33333333-3333-3333-3333-333333333333"
	ticketA   = "aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa"
	reportA   = "bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb"
)

type fakeStore struct {
	createFn      func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error)
	getTicketFn   func(ctx context.Context, ticketID string) (models.Ticket, error)
	listTicketsFn func(ctx context.Context, status string) ([]models.Ticket, error)
	cancelFn      func(ctx context.Context, ticketID string) (models.Ticket, error)
	claimableFn   func(ctx context.Context, workerID string, role models.Role) ([]models.Ticket, error)
	claimFn       func(ctx context.Context, input store.ClaimInput) (models.Assignment, error)
	completeFn    func(ctx context.Context, input store.CompleteInput) (models.Assignment, error)
	assignmentsFn func(ctx context.Context, serviceID string) ([]models.Assignment, error)
	startReviewFn func(ctx context.Context, serviceID, workerID string) error
	submitFn      func(ctx context.Context, input store.QualityReportInput) (models.QualityReport, error)
	approveFn     func(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error)
	rejectFn      func(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error)
	commissionsFn func(ctx context.Context, workerID string) ([]models.CommissionRecord, error)
	outboxFn      func(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error)
	eventsFn      func(ctx context.Context, serviceID string) ([]store.ServiceEvent, error)
	sessionFn     func(ctx context.Context, sessionID string) (store.Session, error)
}

func (f fakeStore) CreateTicket(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
	if f.createFn == nil {
		return models.Ticket{}, false, nil
	}
	return f.createFn(ctx, input)
}

func (f fakeStore) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.getTicketFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.getTicketFn(ctx, ticketID)
}

func (f fakeStore) ListTickets(ctx context.Context, status string) ([]models.Ticket, error) {
	if f.listTicketsFn == nil {
		return nil, nil
	}
	return f.listTicketsFn(ctx, status)
}

func (f fakeStore) CancelTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	if f.cancelFn == nil {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return f.cancelFn(ctx, ticketID)
}

func (f fakeStore) ListClaimable(ctx context.Context, workerID string, role models.Role) ([]models.Ticket, error) {
	if f.claimableFn == nil {
		return nil, nil
	}
	return f.claimableFn(ctx, workerID, role)
}

func (f fakeStore) Claim(ctx context.Context, input store.ClaimInput) (models.Assignment, error) {
	if f.claimFn == nil {
		return models.Assignment{}, nil
	}
	return f.claimFn(ctx, input)
}

func (f fakeStore) Complete(ctx context.Context, input store.CompleteInput) (models.Assignment, error) {
	if f.completeFn == nil {
		return models.Assignment{}, nil
	}
	return f.completeFn(ctx, input)
}

func (f fakeStore) ListAssignments(ctx context.Context, serviceID string) ([]models.Assignment, error) {
	if f.assignmentsFn == nil {
		return nil, nil
	}
	return f.assignmentsFn(ctx, serviceID)
}

func (f fakeStore) StartReview(ctx context.Context, serviceID, workerID string) error {
	if f.startReviewFn == nil {
		return nil
	}
	return f.startReviewFn(ctx, serviceID, workerID)
}

func (f fakeStore) SubmitQualityReport(ctx context.Context, input store.QualityReportInput) (models.QualityReport, error) {
	if f.submitFn == nil {
		return models.QualityReport{}, nil
	}
	return f.submitFn(ctx, input)
}

func (f fakeStore) ApproveReport(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error) {
	if f.approveFn == nil {
		return models.QualityReport{}, nil
	}
	return f.approveFn(ctx, input)
}

func (f fakeStore) RejectReport(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error) {
	if f.rejectFn == nil {
		return models.QualityReport{}, nil
	}
	return f.rejectFn(ctx, input)
}

func (f fakeStore) ListCommissions(ctx context.Context, workerID string) ([]models.CommissionRecord, error) {
	if f.commissionsFn == nil {
		return nil, nil
	}
	return f.commissionsFn(ctx, workerID)
}

func (f fakeStore) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if f.outboxFn == nil {
		return nil, nil
	}
	return f.outboxFn(ctx, after, limit)
}

func (f fakeStore) ListServiceEvents(ctx context.Context, serviceID string) ([]store.ServiceEvent, error) {
	if f.eventsFn == nil {
		return nil, nil
	}
	return f.eventsFn(ctx, serviceID)
}

func (f fakeStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.sessionFn == nil {
		return store.Session{}, store.ErrSessionNotFound
	}
	return f.sessionFn(ctx, sessionID)
}

// serveAs runs the request through the full middleware chain with a
// session for the given worker and role.
func serveAs(st fakeStore, workerID string, role models.Role, req *http.Request) *httptest.ResponseRecorder {
	st.sessionFn = func(ctx context.Context, sessionID string) (store.Session, error) {
		if sessionID != "token-"+workerID {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{SessionID: sessionID, WorkerID: workerID, Role: role, ExpiresAt: time.Now().Add(time.Hour)}, nil
	}
	req.Header.Set("Authorization", "Bearer token-"+workerID)

	handler := AuthMiddleware(st, NewHandler(st).Routes())
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	return resp
}

func decodeErrorCode(t *testing.T, resp *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return body.Error.Code
}

func TestCreateTicketSuccess(t *testing.T) {
	createdAt := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	st := fakeStore{
		createFn: func(ctx context.Context, input store.CreateTicketInput) (models.Ticket, bool, error) {
			if len(input.Tasks) != 2 {
				t.Fatalf("expected 2 tasks, got %d", len(input.Tasks))
			}
			if input.Tasks[0].Role != models.RoleMechanic {
				t.Fatalf("unexpected task role %q", input.Tasks[0].Role)
			}
			return models.Ticket{
				TicketID:     ticketA,
				TicketNumber: "SRV-001",
				Status:       models.StatusPending,
				CreatedAt:    createdAt,
				RequestID:    input.RequestID,
			}, true, nil
		},
	}

	payload := map[string]interface{}{
		"request_id":    "44444444-4444-4444-4444-444444444444",
		"customer_name": "Budi Santoso",
		"phone":         "+62811223344",
		"plate":         "B 1234 XYZ",
		"make":          "Toyota",
		"model":         "Avanza",
		"year":          2021,
		"total_cents":   250_000,
		"tasks": []map[string]interface{}{
			{"role": "mechanic", "description": "engine tune-up", "labor_cents": 150_000},
			{"role": "wash", "description": "exterior wash", "labor_cents": 20_000},
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var ticket models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&ticket); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if ticket.TicketNumber != "SRV-001" || ticket.Status != models.StatusPending {
		t.Fatalf("unexpected ticket response: %+v", ticket)
	}
}

func TestCreateTicketRejectsUnknownTaskRole(t *testing.T) {
	payload := map[string]interface{}{
		"request_id": "44444444-4444-4444-4444-444444444444",
		"tasks": []map[string]interface{}{
			{"role": "electrician", "labor_cents": 10_000},
		},
	}
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(fakeStore{}, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", code)
	}
}

func TestCreateTicketRequiresRequestID(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{"customer_name": "Budi"})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(fakeStore{}, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}

func TestClaimSuccess(t *testing.T) {
	st := fakeStore{
		claimFn: func(ctx context.Context, input store.ClaimInput) (models.Assignment, error) {
			if input.ServiceID != ticketA || input.WorkerID != workerA || input.Role != models.RoleMechanic {
				t.Fatalf("unexpected claim input: %+v", input)
			}
			started := time.Now()
			return models.Assignment{
				AssignmentID: "assignment-1",
				ServiceID:    input.ServiceID,
				WorkerID:     input.WorkerID,
				Role:         input.Role,
				State:        models.AssignmentInProgress,
				StartedAt:    started,
			}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"worker_id": workerA, "role": "mechanic"})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/actions/claim", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var assignment models.Assignment
	if err := json.NewDecoder(resp.Body).Decode(&assignment); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if assignment.State != models.AssignmentInProgress {
		t.Fatalf("unexpected assignment state %q", assignment.State)
	}
}

func TestClaimLockedTicket(t *testing.T) {
	st := fakeStore{
		claimFn: func(ctx context.Context, input store.ClaimInput) (models.Assignment, error) {
			return models.Assignment{}, store.ErrTicketLocked
		},
	}

	body, _ := json.Marshal(map[string]string{"worker_id": workerA, "role": "mechanic"})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/actions/claim", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "ticket_locked" {
		t.Fatalf("expected ticket_locked, got %q", code)
	}
}

func TestClaimRejectsMismatchedSession(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"worker_id": workerB, "role": "mechanic"})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/actions/claim", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(fakeStore{}, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestClaimUnknownRole(t *testing.T) {
	body, _ := json.Marshal(map[string]string{"worker_id": workerA, "role": "janitor"})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/actions/claim", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(fakeStore{}, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", code)
	}
}

func TestCompleteAlreadyCompleted(t *testing.T) {
	st := fakeStore{
		completeFn: func(ctx context.Context, input store.CompleteInput) (models.Assignment, error) {
			return models.Assignment{}, store.ErrAlreadyCompleted
		},
	}

	body, _ := json.Marshal(map[string]interface{}{
		"worker_id":         workerA,
		"role":              "mechanic",
		"evidence_attached": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/actions/complete", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "already_completed" {
		t.Fatalf("expected already_completed, got %q", code)
	}
}

func TestCompleteWithoutAssignment(t *testing.T) {
	st := fakeStore{
		completeFn: func(ctx context.Context, input store.CompleteInput) (models.Assignment, error) {
			return models.Assignment{}, store.ErrAssignmentNotFound
		},
	}

	body, _ := json.Marshal(map[string]string{"worker_id": workerA, "role": "mechanic"})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/actions/complete", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", resp.Code)
	}
}

func TestListClaimable(t *testing.T) {
	st := fakeStore{
		claimableFn: func(ctx context.Context, workerID string, role models.Role) ([]models.Ticket, error) {
			if workerID != workerA || role != models.RolePainter {
				t.Fatalf("unexpected claimable query: %s %s", workerID, role)
			}
			return []models.Ticket{{TicketID: ticketA, Status: models.StatusPending}}, nil
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/tickets/claimable?worker_id="+workerA+"&role=painter", nil)
	resp := serveAs(st, workerA, models.RolePainter, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var tickets []models.Ticket
	if err := json.NewDecoder(resp.Body).Decode(&tickets); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(tickets) != 1 || tickets[0].TicketID != ticketA {
		t.Fatalf("unexpected claimable list: %+v", tickets)
	}
}

func TestSubmitReportRequiresQualityRole(t *testing.T) {
	body, _ := json.Marshal(map[string]interface{}{
		"worker_id":        inspector,
		"checklist_passed": true,
		"rating":           5,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/quality/reports", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(fakeStore{}, inspector, models.RoleMechanic, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestSubmitReportPendingExists(t *testing.T) {
	st := fakeStore{
		submitFn: func(ctx context.Context, input store.QualityReportInput) (models.QualityReport, error) {
			return models.QualityReport{}, store.ErrPendingReport
		},
	}

	body, _ := json.Marshal(map[string]interface{}{
		"worker_id":        inspector,
		"checklist_passed": false,
		"rating":           2,
		"defects":          []string{"paint run on rear door"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/quality/reports", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, inspector, models.RoleQuality, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "pending_report_exists" {
		t.Fatalf("expected pending_report_exists, got %q", code)
	}
}

func TestRejectReportRequiresComments(t *testing.T) {
	st := fakeStore{
		rejectFn: func(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error) {
			return models.QualityReport{}, store.ErrCommentRequired
		},
	}

	body, _ := json.Marshal(map[string]string{"reviewer_id": inspector, "comments": "   "})
	req := httptest.NewRequest(http.MethodPost, "/api/quality/reports/"+reportA+"/reject", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, inspector, models.RoleQuality, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "validation_error" {
		t.Fatalf("expected validation_error, got %q", code)
	}
}

func TestApproveReportSuccess(t *testing.T) {
	st := fakeStore{
		approveFn: func(ctx context.Context, input store.ResolveReportInput) (models.QualityReport, error) {
			if input.ReportID != reportA || input.ReviewerID != inspector {
				t.Fatalf("unexpected approve input: %+v", input)
			}
			return models.QualityReport{ReportID: input.ReportID, State: models.ReportApproved}, nil
		},
	}

	body, _ := json.Marshal(map[string]string{"reviewer_id": inspector})
	req := httptest.NewRequest(http.MethodPost, "/api/quality/reports/"+reportA+"/approve", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp := serveAs(st, inspector, models.RoleQualitySystem, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var report models.QualityReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if report.State != models.ReportApproved {
		t.Fatalf("unexpected report state %q", report.State)
	}
}

func TestCommissionsForOtherWorkerForbidden(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/commissions?worker_id="+workerB, nil)
	resp := serveAs(fakeStore{}, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
}

func TestMissingBearerToken(t *testing.T) {
	handler := AuthMiddleware(fakeStore{}, NewHandler(fakeStore{}).Routes())

	req := httptest.NewRequest(http.MethodGet, "/api/tickets", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}
}

func TestHealthzIsPublic(t *testing.T) {
	handler := AuthMiddleware(fakeStore{}, NewHandler(fakeStore{}).Routes())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
}

func TestCancelTicketInvalidState(t *testing.T) {
	st := fakeStore{
		cancelFn: func(ctx context.Context, ticketID string) (models.Ticket, error) {
			return models.Ticket{}, store.ErrInvalidState
		},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/tickets/"+ticketA+"/actions/cancel", bytes.NewReader(nil))
	resp := serveAs(st, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != "invalid_state" {
		t.Fatalf("expected invalid_state, got %q", code)
	}
}

func TestListEventsBadAfter(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/events?after=yesterday", nil)
	resp := serveAs(fakeStore{}, workerA, models.RoleMechanic, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", resp.Code)
	}
}
