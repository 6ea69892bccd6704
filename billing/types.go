/*
Package billing provides the session and billing reconciliation core.

PURPOSE:
  A spa sells treatments (a fixed number of sessions) and promotions (bundles
  of named component treatments). Every session that is performed AND paid
  consumes one unit of the treatment's (or component's) remaining-session
  counter, moves money from pending to paid, and earns the assisting staff
  member a one-time commission. This package keeps those denormalized values
  consistent while sessions are created and edited.

KEY CONCEPTS IN THIS FILE (types.go):
  - TreatmentAssignment: a patient's purchase of a treatment or promotion
  - PromotionComponent:  remaining-session counter of one promotion component
  - SessionRecord:       one scheduled or performed appointment
  - CommissionEntry:     append-only proof of a commission payment
  - RevenueEntry:        income line posted when a treatment is finalized

DESIGN PRINCIPLES:
  1. Precision: money and percentages use decimal.Decimal
  2. One state machine: every write path goes through CompletionDelta
  3. Storage agnostic: the core depends only on the interfaces in store.go

SEE ALSO:
  - transition.go: CompletionDelta state machine
  - engine.go:     counter, balance and commission reconciliation
  - completion.go: treatment/component finalization
  - service.go:    register/modify/list entry points
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// PaymentStatus is the payment state of a single session.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "PAGADO"
	PaymentPending PaymentStatus = "Pendiente"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	return s == PaymentPaid || s == PaymentPending
}

// AssignmentStatus is the lifecycle state of a treatment assignment.
type AssignmentStatus string

const (
	StatusActive   AssignmentStatus = "ACTIVO"
	StatusInactive AssignmentStatus = "INACTIVO"
)

// Session status labels, derived from the performed flag.
const (
	SessionPerformed = "Realizada"
	SessionPending   = "Pendiente"
)

// Ledger categories.
const (
	CategorySession = "Sesion"
)

// NextAppointmentInterval is added to a session date when no next
// appointment is given explicitly.
const NextAppointmentInterval = 7 * 24 * time.Hour

// DateLayout is the calendar-date layout used for every persisted date.
const DateLayout = "2006-01-02"

// =============================================================================
// CATALOG - Read-only collaborators (treatments, staff)
// =============================================================================

// Treatment is a catalog entry. Promotions carry their component list.
type Treatment struct {
	ID          string
	Name        string
	Price       decimal.Decimal
	IsPromotion bool
	Components  []PromotionDetail
}

// PromotionDetail describes one component of a promotion in the catalog.
type PromotionDetail struct {
	Name     string
	Sessions int
	Price    decimal.Decimal // per session
}

// Component returns the catalog detail with the given name.
func (t Treatment) Component(name string) (PromotionDetail, bool) {
	for _, c := range t.Components {
		if c.Name == name {
			return c, true
		}
	}
	return PromotionDetail{}, false
}

// Staff is a staff member who can be credited with session commissions.
type Staff struct {
	ID                string
	Name              string
	CommissionBalance decimal.Decimal
}

// =============================================================================
// ASSIGNMENT - One patient's purchase
// =============================================================================

// TreatmentAssignment is a patient's purchase of one treatment or promotion.
//
// INVARIANTS (after every commit):
//   - TotalPaid + PendingBalance == TotalCost
//   - SessionsRemaining == SessionsAssigned - completed sessions (plain treatments)
type TreatmentAssignment struct {
	ID                string
	PatientID         string
	PatientName       string
	TreatmentID       string
	IsPromotion       bool
	TotalCost         decimal.Decimal
	TotalPaid         decimal.Decimal
	PendingBalance    decimal.Decimal
	SessionsAssigned  int
	SessionsRemaining int
	Status            AssignmentStatus
	AccruedCommission decimal.Decimal
	AssignedAt        time.Time
}

// SessionAmount is the per-session price of a plain treatment.
func (a TreatmentAssignment) SessionAmount() decimal.Decimal {
	if a.SessionsAssigned <= 0 {
		return decimal.Zero
	}
	return a.TotalCost.Div(decimal.NewFromInt(int64(a.SessionsAssigned))).Round(2)
}

func (a *TreatmentAssignment) settle(paid decimal.Decimal) {
	a.TotalPaid = paid
	a.PendingBalance = a.TotalCost.Sub(paid)
}

// PromotionComponent is the remaining-session counter of one named component
// inside a promotion, scoped to one assignment. Name is the identity key.
type PromotionComponent struct {
	AssignmentID      string
	Name              string
	SessionsAssigned  int
	SessionsRemaining int
	Price             decimal.Decimal
}

// Closed reports whether the component has no remaining sessions.
func (c PromotionComponent) Closed() bool { return c.SessionsRemaining <= 0 }

// =============================================================================
// SESSION RECORD
// =============================================================================

// SessionRecord is one scheduled or performed appointment.
// Number is unique and increasing within (AssignmentID, ComponentName) and is
// never reused. ComponentName is empty for plain treatments.
type SessionRecord struct {
	ID              string
	AssignmentID    string
	ComponentName   string
	Number          int
	Date            time.Time
	StaffID         string
	Amount          decimal.Decimal
	Payment         PaymentStatus
	Performed       bool
	Status          string
	Percentage      decimal.Decimal
	NextAppointment time.Time

	// Commission bookkeeping. CommissionAccrued is true iff exactly one
	// CommissionEntry exists for this session. CommissionAmount and
	// CommissionStaffID remember what was credited so an "uncomplete"
	// transition reverses exactly that.
	CommissionAccrued bool
	CommissionAmount  decimal.Decimal
	CommissionStaffID string
}

// State returns the (performed, paid) pair the state machine works on.
func (s SessionRecord) State() SessionState {
	return SessionState{Performed: s.Performed, Paid: s.Payment == PaymentPaid}
}

// Completed reports whether the session is both performed and paid.
func (s SessionRecord) Completed() bool { return s.State().Completed() }

// derive fills the fields that are pure functions of other fields.
func (s *SessionRecord) derive() {
	if s.Performed {
		s.Status = SessionPerformed
	} else {
		s.Status = SessionPending
	}
	if s.NextAppointment.IsZero() {
		s.NextAppointment = s.Date.Add(NextAppointmentInterval)
	}
}

// =============================================================================
// LEDGERS
// =============================================================================

// CommissionEntry is an append-only commission payment row.
// It is never updated, deleted or negated.
type CommissionEntry struct {
	ID           string
	StaffID      string
	AssignmentID string
	SessionID    string
	Amount       decimal.Decimal
	Date         time.Time
	Category     string
	Note         string
	CreatedAt    time.Time
}

// RevenueEntry is a line in the operational report log.
type RevenueEntry struct {
	ID           string
	Date         time.Time
	Concept      string
	Income       decimal.Decimal
	Expense      decimal.Decimal
	Detail       string
	AssignmentID string
}

// Progress summarises a scope for display.
type Progress struct {
	Total     int
	Completed int
	Remaining int
}
