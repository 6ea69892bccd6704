/*
service.go - Session register/modify/list entry points

PURPOSE:
  The inbound surface the presentation layer calls. Every write follows the
  same pipeline inside one transaction:

    validate input ──▶ load prior state ──▶ ReconciliationEngine.Apply
          │                                        │
          ▼                                        ▼
    (reject, nothing written)            write SessionRecord
                                                   │
                                                   ▼
                                      CompletionDetector.Evaluate

  If any step fails the transaction is rolled back and counters, balances
  and flags are left exactly as before.
  Observer events go out only after the transaction commits.

SESSION AMOUNT:
  Not user-editable. Plain treatments charge total_cost / sessions_assigned,
  promotion sessions charge their component's per-session price. Recomputed
  on every write.

EXAMPLE:
  svc := billing.NewSessionService(store, nil)
  res, err := svc.RegisterSession(ctx, billing.RegisterSessionInput{
      AssignmentID: "a-1",
      Date:         day,
      StaffID:      "s-1",
      Percentage:   decimal.NewFromInt(10),
      Payment:      billing.PaymentPaid,
      Performed:    true,
  })
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionService orchestrates session writes and reads.
type SessionService struct {
	Store    TxStore
	Engine   *ReconciliationEngine
	Detector *CompletionDetector
	Observer Observer
	Now      func() time.Time
}

// NewSessionService wires the engine and detector to a store. obs may be nil.
func NewSessionService(store TxStore, obs Observer) *SessionService {
	if obs == nil {
		obs = NopObserver{}
	}
	return &SessionService{
		Store:    store,
		Engine:   &ReconciliationEngine{Now: time.Now},
		Detector: &CompletionDetector{Now: time.Now},
		Observer: obs,
		Now:      time.Now,
	}
}

// RegisterSessionInput creates a new session. Exactly one of StaffID and
// StaffName is normally set; StaffID wins when both are.
type RegisterSessionInput struct {
	AssignmentID    string
	Component       string // required for promotions, empty otherwise
	Date            time.Time
	StaffID         string
	StaffName       string
	Percentage      decimal.Decimal
	Payment         PaymentStatus
	Performed       bool
	NextAppointment time.Time // zero means Date + 7 days
}

// ModifySessionInput edits an existing session. Nil fields are left as is.
type ModifySessionInput struct {
	AssignmentID    string
	Component       string
	Number          int
	Date            *time.Time
	StaffID         *string
	StaffName       *string
	Percentage      *decimal.Decimal
	Payment         *PaymentStatus
	Performed       *bool
	NextAppointment *time.Time
}

// SessionResult is the committed outcome of one session write.
type SessionResult struct {
	Session        SessionRecord
	Assignment     TreatmentAssignment
	Component      *PromotionComponent
	Reconciliation Reconciliation
	Finalization   Finalization
}

// =============================================================================
// WRITES
// =============================================================================

// RegisterSession creates the next session of an assignment (or of one of its
// promotion components) and reconciles counters, balances and commission.
func (s *SessionService) RegisterSession(ctx context.Context, in RegisterSessionInput) (*SessionResult, error) {
	if err := ValidatePercentage(in.Percentage); err != nil {
		return nil, err
	}
	if !in.Payment.Valid() {
		return nil, invalidf("payment", "unknown payment status %q", in.Payment)
	}
	if in.Date.IsZero() {
		return nil, invalidf("date", "date is required")
	}
	if in.StaffID == "" && in.StaffName == "" {
		return nil, invalid("staff", ErrNoStaffSelected)
	}

	var res *SessionResult
	err := s.Store.WithTx(ctx, func(st Store) error {
		a, comp, err := loadScope(ctx, st, in.AssignmentID, in.Component)
		if err != nil {
			return err
		}
		if exhausted(*a, comp) {
			return &ExhaustedError{AssignmentID: a.ID, Component: in.Component}
		}
		staff, err := resolveStaff(ctx, st, in.StaffID, in.StaffName)
		if err != nil {
			return err
		}
		number, err := st.NextSessionNumber(ctx, a.ID, in.Component)
		if err != nil {
			return err
		}

		rec := SessionRecord{
			ID:              uuid.NewString(),
			AssignmentID:    a.ID,
			ComponentName:   in.Component,
			Number:          number,
			Date:            in.Date,
			StaffID:         staff.ID,
			Amount:          sessionAmount(*a, comp),
			Payment:         in.Payment,
			Performed:       in.Performed,
			Percentage:      in.Percentage,
			NextAppointment: in.NextAppointment,
		}
		rec.derive()

		recon, err := s.Engine.Apply(ctx, st, a, comp, nil, &rec)
		if err != nil {
			return err
		}
		if err := st.InsertSession(ctx, rec); err != nil {
			return err
		}
		res, err = s.finish(ctx, st, rec, recon)
		return err
	})
	if err != nil {
		return nil, classify("register session", err)
	}
	s.notify(res)
	return res, nil
}

// ModifySession edits a session in place. Counters and commission move only
// when the edit changes whether the session is completed.
func (s *SessionService) ModifySession(ctx context.Context, in ModifySessionInput) (*SessionResult, error) {
	if in.Percentage != nil {
		if err := ValidatePercentage(*in.Percentage); err != nil {
			return nil, err
		}
	}
	if in.Payment != nil && !in.Payment.Valid() {
		return nil, invalidf("payment", "unknown payment status %q", *in.Payment)
	}
	if in.Date != nil && in.Date.IsZero() {
		return nil, invalidf("date", "date is required")
	}

	var res *SessionResult
	err := s.Store.WithTx(ctx, func(st Store) error {
		a, comp, err := loadScope(ctx, st, in.AssignmentID, in.Component)
		if err != nil {
			return err
		}
		prior, err := st.GetSession(ctx, a.ID, in.Component, in.Number)
		if err != nil {
			return err
		}

		next := *prior
		if in.StaffID != nil || in.StaffName != nil {
			staff, err := resolveStaff(ctx, st, deref(in.StaffID), deref(in.StaffName))
			if err != nil {
				return err
			}
			next.StaffID = staff.ID
		}
		if in.Date != nil {
			next.Date = *in.Date
			next.NextAppointment = time.Time{}
		}
		if in.NextAppointment != nil {
			next.NextAppointment = *in.NextAppointment
		}
		if in.Percentage != nil {
			next.Percentage = *in.Percentage
		}
		if in.Payment != nil {
			next.Payment = *in.Payment
		}
		if in.Performed != nil {
			next.Performed = *in.Performed
		}
		next.Amount = sessionAmount(*a, comp)
		next.derive()

		recon, err := s.Engine.Apply(ctx, st, a, comp, prior, &next)
		if err != nil {
			return err
		}
		if err := st.UpdateSession(ctx, next); err != nil {
			return err
		}
		res, err = s.finish(ctx, st, next, recon)
		return err
	})
	if err != nil {
		return nil, classify("modify session", err)
	}
	s.notify(res)
	return res, nil
}

// finish runs the completion detector and re-reads the committed aggregates.
func (s *SessionService) finish(ctx context.Context, st Store, rec SessionRecord, recon Reconciliation) (*SessionResult, error) {
	fin, err := s.Detector.Evaluate(ctx, st, rec.AssignmentID, rec.ComponentName)
	if err != nil {
		return nil, err
	}
	a, comp, err := loadScope(ctx, st, rec.AssignmentID, rec.ComponentName)
	if err != nil {
		return nil, err
	}
	return &SessionResult{
		Session:        rec,
		Assignment:     *a,
		Component:      comp,
		Reconciliation: recon,
		Finalization:   fin,
	}, nil
}

// notify reports a committed write to the observer. Called only after WithTx
// succeeds so a rolled-back write is never counted.
func (s *SessionService) notify(res *SessionResult) {
	obs := s.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	recon, fin := res.Reconciliation, res.Finalization

	obs.Transition(recon.Delta)
	switch {
	case recon.StaffDelta.IsPositive():
		obs.CommissionAccrued(recon.StaffDelta)
	case recon.StaffDelta.IsNegative():
		obs.CommissionReversed(recon.StaffDelta.Neg())
	}
	if recon.ComponentClosed || fin.ComponentClosed {
		obs.ComponentClosed(res.Session.AssignmentID, res.Session.ComponentName)
	}
	if fin.AssignmentFinalized {
		obs.AssignmentFinalized(res.Session.AssignmentID)
	}
}

// =============================================================================
// READS
// =============================================================================

// ListSessions returns the sessions of one scope ordered by number.
func (s *SessionService) ListSessions(ctx context.Context, assignmentID, component string) ([]SessionRecord, error) {
	if _, _, err := loadScope(ctx, s.Store, assignmentID, component); err != nil {
		return nil, classify("list sessions", err)
	}
	sessions, err := s.Store.ListSessions(ctx, assignmentID, component)
	if err != nil {
		return nil, classify("list sessions", err)
	}
	return sessions, nil
}

// Progress summarises one scope: assigned, completed and remaining sessions.
func (s *SessionService) Progress(ctx context.Context, assignmentID, component string) (Progress, error) {
	a, comp, err := loadScope(ctx, s.Store, assignmentID, component)
	if err != nil {
		return Progress{}, classify("progress", err)
	}
	sessions, err := s.Store.ListSessions(ctx, assignmentID, component)
	if err != nil {
		return Progress{}, classify("progress", err)
	}

	p := Progress{Total: a.SessionsAssigned, Completed: countCompleted(sessions), Remaining: a.SessionsRemaining}
	if comp != nil {
		p.Total, p.Remaining = comp.SessionsAssigned, comp.SessionsRemaining
	}
	return p, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// loadScope loads an assignment and, for promotions, the named component.
// A promotion requires a component name; a plain treatment forbids one.
func loadScope(ctx context.Context, st Store, assignmentID, component string) (*TreatmentAssignment, *PromotionComponent, error) {
	if assignmentID == "" {
		return nil, nil, invalidf("assignment_id", "assignment id is required")
	}
	a, err := st.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, nil, err
	}
	if !a.IsPromotion {
		if component != "" {
			return nil, nil, invalidf("component", "assignment %s is not a promotion", assignmentID)
		}
		return a, nil, nil
	}
	if component == "" {
		return nil, nil, invalidf("component", "promotion sessions need a component name")
	}
	comp, err := st.GetComponent(ctx, assignmentID, component)
	if err != nil {
		return nil, nil, err
	}
	return a, comp, nil
}

func resolveStaff(ctx context.Context, st Store, id, name string) (*Staff, error) {
	switch {
	case id != "":
		return st.GetStaff(ctx, id)
	case name != "":
		staff, err := st.FindStaffByName(ctx, name)
		if IsNotFound(err) {
			return nil, invalid("staff", ErrNoStaffSelected)
		}
		return staff, err
	default:
		return nil, invalid("staff", ErrNoStaffSelected)
	}
}

// exhausted reports whether a scope no longer accepts new sessions. A
// finalized assignment stays closed even after an uncomplete edit reopens
// its counter.
func exhausted(a TreatmentAssignment, comp *PromotionComponent) bool {
	if a.Status == StatusInactive {
		return true
	}
	if comp != nil {
		return comp.Closed()
	}
	return a.SessionsRemaining <= 0
}

func sessionAmount(a TreatmentAssignment, comp *PromotionComponent) decimal.Decimal {
	if comp != nil {
		return comp.Price
	}
	return a.SessionAmount()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
