/*
engine.go - Counter reconciliation engine

PURPOSE:
  Given a session's prior and new (performed, paid) state, moves exactly
  once per completion event:
    - the remaining-session counter (component counter for promotion
      sessions, assignment counter otherwise)
    - the staff member's commission balance and the assignment's
      accrued-commission aggregate
    - the commission ledger (append on accrual only)
    - the assignment's paid/pending totals

TRANSITIONS:
  none       -> nothing, even if date/staff/amount changed
  complete   -> counter -1, accrue commission if not yet accrued, paid += amount
  uncomplete -> counter +1, reverse accrued commission, paid -= recorded amount

  The ledger row of a reversed accrual is kept (see ledger.go).

  Counters are neither floored nor capped: remaining always equals assigned
  minus completed. A promotion component with more completed sessions than
  assigned goes negative, which still reads as closed.

CALLERS:
  SessionService.RegisterSession and SessionService.ModifySession, both
  inside one TxStore.WithTx.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Commission computes amount * percentage / 100, rounded to cents.
func Commission(amount, percentage decimal.Decimal) decimal.Decimal {
	return amount.Mul(percentage).Div(hundred).Round(2)
}

// ValidatePercentage rejects percentages outside [0, 100].
func ValidatePercentage(p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return invalid("percentage", ErrInvalidPercentage)
	}
	return nil
}

// =============================================================================
// OBSERVER - Side channel for metrics
// =============================================================================

// Observer is notified of reconciliation events once the transaction that
// produced them has committed. Implementations must not fail; the billing
// core never logs.
type Observer interface {
	Transition(d Delta)
	CommissionAccrued(amount decimal.Decimal)
	CommissionReversed(amount decimal.Decimal)
	ComponentClosed(assignmentID, component string)
	AssignmentFinalized(assignmentID string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) Transition(Delta)                   {}
func (NopObserver) CommissionAccrued(decimal.Decimal)  {}
func (NopObserver) CommissionReversed(decimal.Decimal) {}
func (NopObserver) ComponentClosed(string, string)     {}
func (NopObserver) AssignmentFinalized(string)         {}

// =============================================================================
// RECONCILIATION ENGINE
// =============================================================================

// ReconciliationEngine applies CompletionDelta to the denormalized state.
type ReconciliationEngine struct {
	Now func() time.Time
}

// Reconciliation describes what one Apply call changed.
type Reconciliation struct {
	Delta Delta

	// StaffDelta is the signed change applied to a staff balance.
	StaffDelta decimal.Decimal
	StaffID    string

	// Entry is set when a ledger row was appended.
	Entry *CommissionEntry

	// ComponentClosed is set when this write took a component's counter to 0.
	ComponentClosed bool
}

// Apply reconciles one session write. prior is nil for a new session.
// next must already carry the commission bookkeeping of prior; Apply updates
// it in place together with a and comp (nil for plain treatments), and
// persists a, comp, the staff balance and the ledger through st. Persisting
// next itself is the caller's job.
func (e *ReconciliationEngine) Apply(
	ctx context.Context,
	st Store,
	a *TreatmentAssignment,
	comp *PromotionComponent,
	prior *SessionRecord,
	next *SessionRecord,
) (Reconciliation, error) {
	var priorState SessionState
	if prior != nil {
		priorState = prior.State()
	}

	r := Reconciliation{Delta: CompletionDelta(priorState, next.State()), StaffDelta: decimal.Zero}
	switch r.Delta {
	case DeltaComplete:
		if err := e.complete(ctx, st, a, comp, next, &r); err != nil {
			return r, err
		}
	case DeltaUncomplete:
		if err := e.uncomplete(ctx, st, a, comp, prior, next, &r); err != nil {
			return r, err
		}
	default:
		return r, nil
	}

	if err := st.SaveAssignment(ctx, *a); err != nil {
		return r, err
	}
	if comp != nil {
		if err := st.SaveComponent(ctx, *comp); err != nil {
			return r, err
		}
	}

	return r, nil
}

func (e *ReconciliationEngine) complete(
	ctx context.Context,
	st Store,
	a *TreatmentAssignment,
	comp *PromotionComponent,
	next *SessionRecord,
	r *Reconciliation,
) error {
	if comp != nil {
		comp.SessionsRemaining--
		r.ComponentClosed = comp.SessionsRemaining == 0
	} else {
		a.SessionsRemaining--
	}

	if !next.CommissionAccrued {
		amount := Commission(next.Amount, next.Percentage)
		if err := st.AdjustStaffCommission(ctx, next.StaffID, amount); err != nil {
			return err
		}
		ledger := &CommissionLedger{Store: st, Now: e.Now}
		entry, err := ledger.Append(ctx, CommissionEntry{
			StaffID:      next.StaffID,
			AssignmentID: a.ID,
			SessionID:    next.ID,
			Amount:       amount,
			Date:         next.Date,
			Category:     CategorySession,
			Note:         fmt.Sprintf("Comisión por sesión %d", next.Number),
		})
		if err != nil {
			return err
		}
		a.AccruedCommission = a.AccruedCommission.Add(amount)
		next.CommissionAccrued = true
		next.CommissionAmount = amount
		next.CommissionStaffID = next.StaffID

		r.StaffID = next.StaffID
		r.StaffDelta = amount
		r.Entry = &entry
	}

	a.settle(a.TotalPaid.Add(next.Amount))
	return nil
}

func (e *ReconciliationEngine) uncomplete(
	ctx context.Context,
	st Store,
	a *TreatmentAssignment,
	comp *PromotionComponent,
	prior *SessionRecord,
	next *SessionRecord,
	r *Reconciliation,
) error {
	if comp != nil {
		comp.SessionsRemaining++
	} else {
		a.SessionsRemaining++
	}

	if next.CommissionAccrued {
		amount := next.CommissionAmount
		staffID := next.CommissionStaffID
		if staffID == "" {
			staffID = prior.StaffID
		}
		if err := st.AdjustStaffCommission(ctx, staffID, amount.Neg()); err != nil {
			return err
		}
		a.AccruedCommission = a.AccruedCommission.Sub(amount)
		next.CommissionAccrued = false
		next.CommissionAmount = decimal.Zero
		next.CommissionStaffID = ""

		r.StaffID = staffID
		r.StaffDelta = amount.Neg()
	}

	a.settle(a.TotalPaid.Sub(prior.Amount))
	return nil
}
