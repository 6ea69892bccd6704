/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the billing domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ENCODING:
  - Money and percentages are decimal.Decimal, encoded as JSON strings
    ("12.50") and accepted as strings or numbers.
  - Calendar dates use YYYY-MM-DD; timestamps use RFC3339.

VALIDATION:
  Validation is done by package billing. Handlers only parse dates.

SEE ALSO:
  - handlers.go: Uses these types
  - billing/types.go: Domain types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/spa-admin/session-engine/billing"
)

// =============================================================================
// CATALOG
// =============================================================================

type StaffDTO struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	CommissionBalance decimal.Decimal `json:"commission_balance"`
}

type CreateStaffRequest struct {
	Name string `json:"name"`
}

type PromotionDetailDTO struct {
	Name     string          `json:"name"`
	Sessions int             `json:"sessions"`
	Price    decimal.Decimal `json:"price"`
}

type TreatmentDTO struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Price       decimal.Decimal      `json:"price"`
	IsPromotion bool                 `json:"is_promotion"`
	Components  []PromotionDetailDTO `json:"components,omitempty"`
}

type CreateTreatmentRequest struct {
	Name        string               `json:"name"`
	Price       decimal.Decimal      `json:"price"`
	IsPromotion bool                 `json:"is_promotion"`
	Components  []PromotionDetailDTO `json:"components"`
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

type ComponentDTO struct {
	Name              string          `json:"name"`
	SessionsAssigned  int             `json:"sessions_assigned"`
	SessionsRemaining int             `json:"sessions_remaining"`
	Price             decimal.Decimal `json:"price"`
	Closed            bool            `json:"closed"`
}

type AssignmentDTO struct {
	ID                string          `json:"id"`
	PatientID         string          `json:"patient_id"`
	PatientName       string          `json:"patient_name,omitempty"`
	TreatmentID       string          `json:"treatment_id"`
	IsPromotion       bool            `json:"is_promotion"`
	TotalCost         decimal.Decimal `json:"total_cost"`
	TotalPaid         decimal.Decimal `json:"total_paid"`
	PendingBalance    decimal.Decimal `json:"pending_balance"`
	SessionsAssigned  int             `json:"sessions_assigned"`
	SessionsRemaining int             `json:"sessions_remaining"`
	Status            string          `json:"status"`
	AccruedCommission decimal.Decimal `json:"accrued_commission"`
	AssignedAt        string          `json:"assigned_at"`
	Components        []ComponentDTO  `json:"components,omitempty"`
}

// CreateAssignmentRequest buys a treatment for a patient. Sessions and
// TotalCost only apply to plain treatments.
type CreateAssignmentRequest struct {
	PatientID   string           `json:"patient_id"`
	PatientName string           `json:"patient_name"`
	TreatmentID string           `json:"treatment_id"`
	Sessions    int              `json:"sessions"`
	TotalCost   *decimal.Decimal `json:"total_cost"`
	TotalPaid   decimal.Decimal  `json:"total_paid"`
}

type ProgressDTO struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Remaining int `json:"remaining"`
}

// =============================================================================
// SESSIONS
// =============================================================================

type SessionDTO struct {
	ID                string          `json:"id"`
	AssignmentID      string          `json:"assignment_id"`
	Component         string          `json:"component,omitempty"`
	Number            int             `json:"number"`
	Date              string          `json:"date"`
	StaffID           string          `json:"staff_id"`
	Amount            decimal.Decimal `json:"amount"`
	Payment           string          `json:"payment"`
	Performed         bool            `json:"performed"`
	Status            string          `json:"status"`
	Percentage        decimal.Decimal `json:"percentage"`
	NextAppointment   string          `json:"next_appointment"`
	CommissionAccrued bool            `json:"commission_accrued"`
	CommissionAmount  decimal.Decimal `json:"commission_amount"`
}

type RegisterSessionRequest struct {
	Component       string          `json:"component"`
	Date            string          `json:"date"`
	StaffID         string          `json:"staff_id"`
	StaffName       string          `json:"staff_name"`
	Percentage      decimal.Decimal `json:"percentage"`
	Payment         string          `json:"payment"`
	Performed       bool            `json:"performed"`
	NextAppointment string          `json:"next_appointment"`
}

// ModifySessionRequest carries only the fields being changed.
type ModifySessionRequest struct {
	Date            *string          `json:"date"`
	StaffID         *string          `json:"staff_id"`
	StaffName       *string          `json:"staff_name"`
	Percentage      *decimal.Decimal `json:"percentage"`
	Payment         *string          `json:"payment"`
	Performed       *bool            `json:"performed"`
	NextAppointment *string          `json:"next_appointment"`
}

// SessionResultDTO is returned by register and modify.
type SessionResultDTO struct {
	Session             SessionDTO       `json:"session"`
	Assignment          AssignmentDTO    `json:"assignment"`
	Component           *ComponentDTO    `json:"component,omitempty"`
	Delta               string           `json:"delta"`
	StaffDelta          decimal.Decimal  `json:"staff_delta"`
	ComponentClosed     bool             `json:"component_closed"`
	AssignmentFinalized bool             `json:"assignment_finalized"`
	Revenue             *RevenueEntryDTO `json:"revenue,omitempty"`
}

// =============================================================================
// LEDGERS AND REPORTS
// =============================================================================

type CommissionEntryDTO struct {
	ID           string          `json:"id"`
	AssignmentID string          `json:"assignment_id"`
	SessionID    string          `json:"session_id"`
	Amount       decimal.Decimal `json:"amount"`
	Date         string          `json:"date"`
	Category     string          `json:"category"`
	Note         string          `json:"note"`
}

type StaffCommissionsDTO struct {
	Staff   StaffDTO             `json:"staff"`
	Entries []CommissionEntryDTO `json:"entries"`
	Total   decimal.Decimal      `json:"total"`
}

type RevenueEntryDTO struct {
	ID           string          `json:"id"`
	Date         string          `json:"date"`
	Concept      string          `json:"concept"`
	Income       decimal.Decimal `json:"income"`
	Expense      decimal.Decimal `json:"expense"`
	Detail       string          `json:"detail"`
	AssignmentID string          `json:"assignment_id"`
}

type DiscrepancyDTO struct {
	Component     string `json:"component,omitempty"`
	SessionNumber int    `json:"session_number,omitempty"`
	Kind          string `json:"kind"`
	Expected      string `json:"expected"`
	Actual        string `json:"actual"`
	Informational bool   `json:"informational"`
}

type AuditDTO struct {
	AssignmentID  string           `json:"assignment_id"`
	Drift         bool             `json:"drift"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toStaffDTO(s billing.Staff) StaffDTO {
	return StaffDTO{ID: s.ID, Name: s.Name, CommissionBalance: s.CommissionBalance}
}

func toTreatmentDTO(t billing.Treatment) TreatmentDTO {
	dto := TreatmentDTO{ID: t.ID, Name: t.Name, Price: t.Price, IsPromotion: t.IsPromotion}
	for _, c := range t.Components {
		dto.Components = append(dto.Components, PromotionDetailDTO(c))
	}
	return dto
}

func toComponentDTO(c billing.PromotionComponent) ComponentDTO {
	return ComponentDTO{
		Name:              c.Name,
		SessionsAssigned:  c.SessionsAssigned,
		SessionsRemaining: c.SessionsRemaining,
		Price:             c.Price,
		Closed:            c.Closed(),
	}
}

func toAssignmentDTO(a billing.TreatmentAssignment, comps []billing.PromotionComponent) AssignmentDTO {
	dto := AssignmentDTO{
		ID:                a.ID,
		PatientID:         a.PatientID,
		PatientName:       a.PatientName,
		TreatmentID:       a.TreatmentID,
		IsPromotion:       a.IsPromotion,
		TotalCost:         a.TotalCost,
		TotalPaid:         a.TotalPaid,
		PendingBalance:    a.PendingBalance,
		SessionsAssigned:  a.SessionsAssigned,
		SessionsRemaining: a.SessionsRemaining,
		Status:            string(a.Status),
		AccruedCommission: a.AccruedCommission,
		AssignedAt:        formatTime(a.AssignedAt),
	}
	for _, c := range comps {
		dto.Components = append(dto.Components, toComponentDTO(c))
	}
	return dto
}

func toSessionDTO(s billing.SessionRecord) SessionDTO {
	return SessionDTO{
		ID:                s.ID,
		AssignmentID:      s.AssignmentID,
		Component:         s.ComponentName,
		Number:            s.Number,
		Date:              formatDate(s.Date),
		StaffID:           s.StaffID,
		Amount:            s.Amount,
		Payment:           string(s.Payment),
		Performed:         s.Performed,
		Status:            s.Status,
		Percentage:        s.Percentage,
		NextAppointment:   formatDate(s.NextAppointment),
		CommissionAccrued: s.CommissionAccrued,
		CommissionAmount:  s.CommissionAmount,
	}
}

func toSessionResultDTO(res *billing.SessionResult) SessionResultDTO {
	dto := SessionResultDTO{
		Session:             toSessionDTO(res.Session),
		Assignment:          toAssignmentDTO(res.Assignment, nil),
		Delta:               res.Reconciliation.Delta.String(),
		StaffDelta:          res.Reconciliation.StaffDelta,
		ComponentClosed:     res.Reconciliation.ComponentClosed || res.Finalization.ComponentClosed,
		AssignmentFinalized: res.Finalization.AssignmentFinalized,
	}
	if res.Component != nil {
		c := toComponentDTO(*res.Component)
		dto.Component = &c
	}
	if res.Finalization.Revenue != nil {
		r := toRevenueDTO(*res.Finalization.Revenue)
		dto.Revenue = &r
	}
	return dto
}

func toCommissionDTO(e billing.CommissionEntry) CommissionEntryDTO {
	return CommissionEntryDTO{
		ID:           e.ID,
		AssignmentID: e.AssignmentID,
		SessionID:    e.SessionID,
		Amount:       e.Amount,
		Date:         formatDate(e.Date),
		Category:     e.Category,
		Note:         e.Note,
	}
}

func toRevenueDTO(r billing.RevenueEntry) RevenueEntryDTO {
	return RevenueEntryDTO{
		ID:           r.ID,
		Date:         formatDate(r.Date),
		Concept:      r.Concept,
		Income:       r.Income,
		Expense:      r.Expense,
		Detail:       r.Detail,
		AssignmentID: r.AssignmentID,
	}
}

func toAuditDTO(assignmentID string, ds []billing.Discrepancy) AuditDTO {
	dto := AuditDTO{
		AssignmentID:  assignmentID,
		Drift:         billing.HasDrift(ds),
		Discrepancies: make([]DiscrepancyDTO, 0, len(ds)),
	}
	for _, d := range ds {
		dto.Discrepancies = append(dto.Discrepancies, DiscrepancyDTO{
			Component:     d.Component,
			SessionNumber: d.SessionNumber,
			Kind:          string(d.Kind),
			Expected:      d.Expected,
			Actual:        d.Actual,
			Informational: d.Informational,
		})
	}
	return dto
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(billing.DateLayout)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// parseDate parses a YYYY-MM-DD field. An empty value yields the zero time.
func parseDate(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(billing.DateLayout, value)
	if err != nil {
		return time.Time{}, &billing.ValidationError{Field: field, Err: billing.ErrInvalidInput}
	}
	return t, nil
}
