/*
handlers.go - HTTP API handlers for session and billing reconciliation

PURPOSE:
  Exposes the billing core via REST API. Handles HTTP request/response and
  JSON serialization, and delegates every decision to package billing.

ENDPOINTS:
  Staff:
    GET    /api/staff                         List staff
    POST   /api/staff                         Create staff member
    GET    /api/staff/{id}/commissions        Balance and commission ledger

  Treatments:
    GET    /api/treatments                    List catalog
    POST   /api/treatments                    Create treatment or promotion

  Assignments:
    GET    /api/assignments                   List assignments
    POST   /api/assignments                   Assign treatment to patient
    GET    /api/assignments/{id}              Assignment with components
    GET    /api/assignments/{id}/progress     Progress of one scope
    GET    /api/assignments/{id}/audit        Recompute and compare derived values

  Sessions:
    GET    /api/assignments/{id}/sessions              List sessions of one scope
    POST   /api/assignments/{id}/sessions              Register session
    PUT    /api/assignments/{id}/sessions/{number}     Modify session

  Reports:
    GET    /api/reports/revenue               Revenue report

  Promotion scopes are selected with ?component=NAME (or "component" in the
  register body).

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: No sessions remaining
  - 500: Storage failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/spa-admin/session-engine/billing"
	"github.com/spa-admin/session-engine/logger"
	"github.com/spa-admin/session-engine/metrics"
)

const logComponent = "api"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Sessions    *billing.SessionService
	Assignments *billing.AssignmentService
	Auditor     *billing.Auditor
	Log         *logger.Logger
}

// NewHandler wires the billing services to one store. obs may be nil.
func NewHandler(store billing.TxStore, obs billing.Observer, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.New(nil, logger.LevelInfo)
	}
	return &Handler{
		Sessions:    billing.NewSessionService(store, obs),
		Assignments: billing.NewAssignmentService(store),
		Auditor:     &billing.Auditor{Store: store},
		Log:         log,
	}
}

// =============================================================================
// STAFF HANDLERS
// =============================================================================

// ListStaff returns all staff members.
func (h *Handler) ListStaff(w http.ResponseWriter, r *http.Request) {
	staff, err := h.Assignments.ListStaff(r.Context())
	if err != nil {
		h.fail(w, "list staff", err)
		return
	}

	dtos := make([]StaffDTO, len(staff))
	for i, s := range staff {
		dtos[i] = toStaffDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateStaff adds a staff member with a zero commission balance.
func (h *Handler) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req CreateStaffRequest
	if !decode(w, r, &req) {
		return
	}

	staff, err := h.Assignments.AddStaff(r.Context(), req.Name)
	if err != nil {
		h.fail(w, "create staff", err)
		return
	}
	writeJSON(w, http.StatusCreated, toStaffDTO(*staff))
}

// GetStaffCommissions returns a staff member's balance and ledger.
func (h *Handler) GetStaffCommissions(w http.ResponseWriter, r *http.Request) {
	staff, entries, err := h.Assignments.StaffCommissions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "staff commissions", err)
		return
	}

	dto := StaffCommissionsDTO{
		Staff:   toStaffDTO(*staff),
		Entries: make([]CommissionEntryDTO, len(entries)),
		Total:   billing.Total(entries),
	}
	for i, e := range entries {
		dto.Entries[i] = toCommissionDTO(e)
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// TREATMENT HANDLERS
// =============================================================================

// ListTreatments returns the catalog.
func (h *Handler) ListTreatments(w http.ResponseWriter, r *http.Request) {
	treatments, err := h.Assignments.ListTreatments(r.Context())
	if err != nil {
		h.fail(w, "list treatments", err)
		return
	}

	dtos := make([]TreatmentDTO, len(treatments))
	for i, t := range treatments {
		dtos[i] = toTreatmentDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTreatment adds a plain treatment or a promotion to the catalog.
func (h *Handler) CreateTreatment(w http.ResponseWriter, r *http.Request) {
	var req CreateTreatmentRequest
	if !decode(w, r, &req) {
		return
	}

	t := billing.Treatment{Name: req.Name, Price: req.Price, IsPromotion: req.IsPromotion}
	for _, c := range req.Components {
		t.Components = append(t.Components, billing.PromotionDetail(c))
	}

	created, err := h.Assignments.AddTreatment(r.Context(), t)
	if err != nil {
		h.fail(w, "create treatment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTreatmentDTO(*created))
}

// =============================================================================
// ASSIGNMENT HANDLERS
// =============================================================================

// ListAssignments returns every assignment without components.
func (h *Handler) ListAssignments(w http.ResponseWriter, r *http.Request) {
	all, err := h.Assignments.ListAssignments(r.Context())
	if err != nil {
		h.fail(w, "list assignments", err)
		return
	}

	dtos := make([]AssignmentDTO, len(all))
	for i, a := range all {
		dtos[i] = toAssignmentDTO(a, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateAssignment assigns a treatment to a patient.
func (h *Handler) CreateAssignment(w http.ResponseWriter, r *http.Request) {
	var req CreateAssignmentRequest
	if !decode(w, r, &req) {
		return
	}

	d, err := h.Assignments.AssignTreatment(r.Context(), billing.AssignTreatmentInput{
		PatientID:   req.PatientID,
		PatientName: req.PatientName,
		TreatmentID: req.TreatmentID,
		Sessions:    req.Sessions,
		TotalCost:   req.TotalCost,
		TotalPaid:   req.TotalPaid,
	})
	if err != nil {
		h.fail(w, "create assignment", err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssignmentDTO(d.Assignment, d.Components))
}

// GetAssignment returns one assignment with its promotion components.
func (h *Handler) GetAssignment(w http.ResponseWriter, r *http.Request) {
	d, err := h.Assignments.GetAssignment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, "get assignment", err)
		return
	}
	writeJSON(w, http.StatusOK, toAssignmentDTO(d.Assignment, d.Components))
}

// GetProgress returns total/completed/remaining for one scope.
func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.Sessions.Progress(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("component"))
	if err != nil {
		h.fail(w, "progress", err)
		return
	}
	writeJSON(w, http.StatusOK, ProgressDTO(p))
}

// AuditAssignment recomputes the derived values of one assignment.
func (h *Handler) AuditAssignment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ds, err := h.Auditor.Check(r.Context(), id)
	if err != nil {
		h.fail(w, "audit", err)
		return
	}
	if billing.HasDrift(ds) {
		h.Log.Warn(logComponent, "audit found drift on assignment %s: %d findings", id, len(ds))
	}
	writeJSON(w, http.StatusOK, toAuditDTO(id, ds))
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// ListSessions returns the sessions of one scope ordered by number.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.ListSessions(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("component"))
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterSession creates the next session of an assignment.
func (h *Handler) RegisterSession(w http.ResponseWriter, r *http.Request) {
	var req RegisterSessionRequest
	if !decode(w, r, &req) {
		return
	}

	in := billing.RegisterSessionInput{
		AssignmentID: chi.URLParam(r, "id"),
		Component:    req.Component,
		StaffID:      req.StaffID,
		StaffName:    req.StaffName,
		Percentage:   req.Percentage,
		Payment:      billing.PaymentStatus(req.Payment),
		Performed:    req.Performed,
	}
	var err error
	if in.Date, err = parseDate("date", req.Date); err != nil {
		h.fail(w, "register session", err)
		return
	}
	if in.NextAppointment, err = parseDate("next_appointment", req.NextAppointment); err != nil {
		h.fail(w, "register session", err)
		return
	}

	res, err := h.Sessions.RegisterSession(r.Context(), in)
	metrics.ObserveWrite("register", err)
	if err != nil {
		h.fail(w, "register session", err)
		return
	}
	h.logResult("registered", res)
	writeJSON(w, http.StatusCreated, toSessionResultDTO(res))
}

// ModifySession edits an existing session.
func (h *Handler) ModifySession(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid session number", err)
		return
	}

	var req ModifySessionRequest
	if !decode(w, r, &req) {
		return
	}

	in := billing.ModifySessionInput{
		AssignmentID: chi.URLParam(r, "id"),
		Component:    r.URL.Query().Get("component"),
		Number:       number,
		StaffID:      req.StaffID,
		StaffName:    req.StaffName,
		Percentage:   req.Percentage,
		Performed:    req.Performed,
	}
	if req.Payment != nil {
		p := billing.PaymentStatus(*req.Payment)
		in.Payment = &p
	}
	if in.Date, err = parseOptionalDate("date", req.Date); err != nil {
		h.fail(w, "modify session", err)
		return
	}
	if in.NextAppointment, err = parseOptionalDate("next_appointment", req.NextAppointment); err != nil {
		h.fail(w, "modify session", err)
		return
	}

	res, err := h.Sessions.ModifySession(r.Context(), in)
	metrics.ObserveWrite("modify", err)
	if err != nil {
		h.fail(w, "modify session", err)
		return
	}
	h.logResult("modified", res)
	writeJSON(w, http.StatusOK, toSessionResultDTO(res))
}

// =============================================================================
// REPORT HANDLERS
// =============================================================================

// GetRevenue returns every revenue report line.
func (h *Handler) GetRevenue(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Assignments.Revenue(r.Context())
	if err != nil {
		h.fail(w, "revenue", err)
		return
	}

	dtos := make([]RevenueEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toRevenueDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) logResult(verb string, res *billing.SessionResult) {
	s := res.Session
	h.Log.Debug(logComponent, "%s session %s/%s#%d delta=%s", verb, s.AssignmentID, s.ComponentName, s.Number, res.Reconciliation.Delta)
	if res.Finalization.AssignmentFinalized {
		h.Log.Info(logComponent, "assignment %s finalized", s.AssignmentID)
	}
}

// fail maps a billing error to an HTTP status.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.Log.Error(logComponent, "%s: %v", op, err)
		writeError(w, status, fmt.Sprintf("Failed to %s", op), nil)
		return
	}
	writeError(w, status, errorTitle(status), err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, billing.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, billing.ErrNoSessionsRemaining):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorTitle(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "Invalid request"
	case http.StatusNotFound:
		return "Not found"
	case http.StatusConflict:
		return "No sessions remaining"
	default:
		return http.StatusText(status)
	}
}

func parseOptionalDate(field string, value *string) (*time.Time, error) {
	if value == nil {
		return nil, nil
	}
	t, err := parseDate(field, *value)
	if err != nil {
		return nil, err
	}
	if t.IsZero() {
		return nil, &billing.ValidationError{Field: field, Err: billing.ErrInvalidInput}
	}
	return &t, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
