package httpapi

import (
	"encoding/json"
	"errors"
	"expvar"
	"net/http"
	"strconv"
	"strings"
	"time"

	"autoshop/workshop-service/internal/models"
	"autoshop/workshop-service/internal/store"

	"github.com/google/uuid"
)

type Handler struct {
	store store.WorkshopStore
}

type createTicketRequest struct {
	RequestID    string        `json:"request_id"`
	CustomerName string        `json:"customer_name"`
	Phone        string        `json:"phone"`
	Plate        string        `json:"plate"`
	Make         string        `json:"make"`
	Model        string        `json:"model"`
	Year         int           `json:"year"`
	TotalCents   int64         `json:"total_cents"`
	EstimatedAt  string        `json:"estimated_at"`
	Tasks        []taskRequest `json:"tasks"`
}

type taskRequest struct {
	Role        string `json:"role"`
	Description string `json:"description"`
	LaborCents  int64  `json:"labor_cents"`
}

type claimRequest struct {
	WorkerID string `json:"worker_id"`
	Role     string `json:"role"`
}

type completeRequest struct {
	WorkerID         string `json:"worker_id"`
	Role             string `json:"role"`
	EvidenceAttached bool   `json:"evidence_attached"`
	Notes            string `json:"notes"`
}

type qualityReportRequest struct {
	WorkerID        string   `json:"worker_id"`
	ChecklistPassed bool     `json:"checklist_passed"`
	Rating          int      `json:"rating"`
	Comments        string   `json:"comments"`
	Defects         []string `json:"defects"`
	MediaRefs       []string `json:"media_refs"`
}

type resolveReportRequest struct {
	ReviewerID string `json:"reviewer_id"`
	Comments   string `json:"comments"`
}

type startReviewRequest struct {
	WorkerID string `json:"worker_id"`
}

type errorResponse struct {
	RequestID string        `json:"request_id"`
	Error     responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewHandler(store store.WorkshopStore) *Handler {
	return &Handler{store: store}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.Handle("/metrics", expvar.Handler())
	mux.HandleFunc("/api/tickets", h.handleTickets)
	mux.HandleFunc("/api/tickets/claimable", h.handleClaimable)
	mux.HandleFunc("/api/tickets/", h.handleTicketSubroutes)
	mux.HandleFunc("/api/quality/reports/", h.handleReportActions)
	mux.HandleFunc("/api/commissions", h.handleCommissions)
	mux.HandleFunc("/api/events", h.handleEvents)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleCreateTicket(w, r)
	case http.MethodGet:
		h.handleListTickets(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	req.RequestID = strings.TrimSpace(req.RequestID)
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.Plate = strings.TrimSpace(req.Plate)

	if req.RequestID == "" {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id is required")
		return
	}
	if !isValidUUID(req.RequestID) {
		writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "request_id must be a UUID")
		return
	}

	var estimatedAt time.Time
	if raw := strings.TrimSpace(req.EstimatedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, req.RequestID, http.StatusBadRequest, "invalid_request", "estimated_at must be RFC3339 timestamp")
			return
		}
		estimatedAt = parsed
	}

	input := store.CreateTicketInput{
		RequestID:    req.RequestID,
		CustomerName: req.CustomerName,
		Phone:        strings.TrimSpace(req.Phone),
		Plate:        req.Plate,
		Make:         strings.TrimSpace(req.Make),
		Model:        strings.TrimSpace(req.Model),
		Year:         req.Year,
		TotalCents:   req.TotalCents,
		EstimatedAt:  estimatedAt,
		CreatedAt:    time.Now().UTC(),
	}
	for _, task := range req.Tasks {
		role, err := models.ParseRole(strings.TrimSpace(task.Role))
		if err != nil {
			writeError(w, req.RequestID, http.StatusBadRequest, "validation_error", "unknown task role")
			return
		}
		input.Tasks = append(input.Tasks, store.TaskInput{
			Role:        role,
			Description: strings.TrimSpace(task.Description),
			LaborCents:  task.LaborCents,
		})
	}

	ticket, _, err := h.store.CreateTicket(r.Context(), input)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, req.RequestID, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleListTickets(w http.ResponseWriter, r *http.Request) {
	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "", models.StatusPending, models.StatusInProgress, models.StatusCompleted, models.StatusCancelled:
	default:
		writeError(w, "", http.StatusBadRequest, "invalid_request", "unknown status filter")
		return
	}

	tickets, err := h.store.ListTickets(r.Context(), status)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleClaimable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))
	roleRaw := strings.TrimSpace(r.URL.Query().Get("role"))
	if workerID == "" || roleRaw == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id and role are required")
		return
	}
	if !isValidUUID(workerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id must be a UUID")
		return
	}
	role, err := models.ParseRole(roleRaw)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "validation_error", "unknown role")
		return
	}
	if !requireWorker(w, r, workerID) {
		return
	}

	tickets, err := h.store.ListClaimable(r.Context(), workerID, role)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleTicketSubroutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/tickets/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	ticketID := parts[0]
	if !isValidUUID(ticketID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetTicket(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		h.handleTicketEvents(w, r, ticketID)
	case len(parts) == 2 && parts[1] == "assignments" && r.Method == http.MethodGet:
		h.handleTicketAssignments(w, r, ticketID)
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleTicketAction(w, r, ticketID, parts[2])
	case len(parts) == 3 && parts[1] == "quality" && r.Method == http.MethodPost:
		h.handleQualityAction(w, r, ticketID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.store.GetTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleTicketEvents(w http.ResponseWriter, r *http.Request, ticketID string) {
	events, err := h.store.ListServiceEvents(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleTicketAssignments(w http.ResponseWriter, r *http.Request, ticketID string) {
	assignments, err := h.store.ListAssignments(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (h *Handler) handleTicketAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	switch action {
	case "claim":
		h.handleClaim(w, r, ticketID)
	case "complete":
		h.handleComplete(w, r, ticketID)
	case "cancel":
		h.handleCancel(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req claimRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	req.Role = strings.TrimSpace(req.Role)
	if req.WorkerID == "" || req.Role == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id and role are required")
		return
	}
	if !isValidUUID(req.WorkerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id must be a UUID")
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "validation_error", "unknown role")
		return
	}
	if !requireWorker(w, r, req.WorkerID) {
		return
	}

	assignment, err := h.store.Claim(r.Context(), store.ClaimInput{
		ServiceID: ticketID,
		WorkerID:  req.WorkerID,
		Role:      role,
		ClaimedAt: time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req completeRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	req.Role = strings.TrimSpace(req.Role)
	if req.WorkerID == "" || req.Role == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id and role are required")
		return
	}
	if !isValidUUID(req.WorkerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id must be a UUID")
		return
	}
	role, err := models.ParseRole(req.Role)
	if err != nil {
		writeError(w, "", http.StatusBadRequest, "validation_error", "unknown role")
		return
	}
	if !requireWorker(w, r, req.WorkerID) {
		return
	}

	assignment, err := h.store.Complete(r.Context(), store.CompleteInput{
		ServiceID:        ticketID,
		WorkerID:         req.WorkerID,
		Role:             role,
		EvidenceAttached: req.EvidenceAttached,
		Notes:            strings.TrimSpace(req.Notes),
		FinishedAt:       time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, ticketID string) {
	ticket, err := h.store.CancelTicket(r.Context(), ticketID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleQualityAction(w http.ResponseWriter, r *http.Request, ticketID, action string) {
	switch action {
	case "start-review":
		h.handleStartReview(w, r, ticketID)
	case "reports":
		h.handleSubmitReport(w, r, ticketID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleStartReview(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req startReviewRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	if !isValidUUID(req.WorkerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id must be a UUID")
		return
	}
	if !requireQualityRole(w, r) {
		return
	}

	if err := h.store.StartReview(r.Context(), ticketID, req.WorkerID); err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSubmitReport(w http.ResponseWriter, r *http.Request, ticketID string) {
	var req qualityReportRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.WorkerID = strings.TrimSpace(req.WorkerID)
	if !isValidUUID(req.WorkerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id must be a UUID")
		return
	}
	if !requireQualityRole(w, r) {
		return
	}

	report, err := h.store.SubmitQualityReport(r.Context(), store.QualityReportInput{
		ServiceID:       ticketID,
		WorkerID:        req.WorkerID,
		ChecklistPassed: req.ChecklistPassed,
		Rating:          req.Rating,
		Comments:        strings.TrimSpace(req.Comments),
		Defects:         req.Defects,
		MediaRefs:       req.MediaRefs,
		CreatedAt:       time.Now().UTC(),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleReportActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/quality/reports/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	reportID := parts[0]
	if !isValidUUID(reportID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "report_id must be a UUID")
		return
	}

	var req resolveReportRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.ReviewerID = strings.TrimSpace(req.ReviewerID)
	if !isValidUUID(req.ReviewerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "reviewer_id must be a UUID")
		return
	}
	if !requireQualityRole(w, r) {
		return
	}

	input := store.ResolveReportInput{
		ReportID:   reportID,
		ReviewerID: req.ReviewerID,
		Comments:   strings.TrimSpace(req.Comments),
		ResolvedAt: time.Now().UTC(),
	}

	var report interface{}
	var err error
	switch parts[1] {
	case "approve":
		report, err = h.store.ApproveReport(r.Context(), input)
	case "reject":
		report, err = h.store.RejectReport(r.Context(), input)
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) handleCommissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	workerID := strings.TrimSpace(r.URL.Query().Get("worker_id"))
	if workerID == "" {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id is required")
		return
	}
	if !isValidUUID(workerID) {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "worker_id must be a UUID")
		return
	}
	if !requireWorker(w, r, workerID) {
		return
	}

	records, err := h.store.ListCommissions(r.Context(), workerID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	afterRaw := strings.TrimSpace(r.URL.Query().Get("after"))
	var after time.Time
	if afterRaw != "" {
		parsed, err := time.Parse(time.RFC3339, afterRaw)
		if err != nil {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "after must be RFC3339 timestamp")
			return
		}
		after = parsed
	}

	limit := 100
	if limitRaw := strings.TrimSpace(r.URL.Query().Get("limit")); limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil || parsed <= 0 {
			writeError(w, "", http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	events, err := h.store.ListOutboxEvents(r.Context(), after, limit)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, "", status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrAssignmentNotFound):
		return http.StatusNotFound, "assignment_not_found", "no in-progress assignment for this worker and role"
	case errors.Is(err, store.ErrReportNotFound):
		return http.StatusNotFound, "report_not_found", "quality report not found"
	case errors.Is(err, store.ErrWorkerNotFound):
		return http.StatusNotFound, "worker_not_found", "worker not found"
	case errors.Is(err, store.ErrTicketLocked):
		return http.StatusConflict, "ticket_locked", "ticket is being worked by another worker"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrPendingReport):
		return http.StatusConflict, "pending_report_exists", "a pending quality report already exists"
	case errors.Is(err, store.ErrAlreadyCompleted):
		return http.StatusConflict, "already_completed", "assignment already completed"
	case errors.Is(err, store.ErrCommentRequired):
		return http.StatusBadRequest, "validation_error", "rejection comments are required"
	case errors.Is(err, store.ErrUnknownRole):
		return http.StatusBadRequest, "validation_error", "unknown role"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		RequestID: requestID,
		Error: responseError{
			Code:    code,
			Message: message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
