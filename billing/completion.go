/*
completion.go - Treatment and promotion-component finalization

PURPOSE:
  Runs after every session write for the affected (assignment, component)
  scope. When every assigned session of the scope is performed AND paid,
  the scope is closed:

    component scope: remaining-session counter forced to 0 if positive
    plain treatment: remaining-session counter forced to 0 if positive, assignment
                     marked INACTIVE, one revenue entry posted

  Promotions are never marked INACTIVE here; only their components close.

IDEMPOTENCE:
  Evaluate on an already-closed scope changes nothing and never fails for
  that reason. The revenue entry is posted only on the ACTIVE -> INACTIVE
  edge, so re-running cannot post twice.

  Finalization is one-way. An "uncomplete" edit afterwards reopens the
  counter through the engine but does not reactivate the assignment.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RevenueConceptCompleted is the report concept posted on finalization.
const RevenueConceptCompleted = "Tratamiento completado"

// CompletionDetector closes scopes whose sessions are all completed.
type CompletionDetector struct {
	Now func() time.Time
}

// Finalization reports what one Evaluate call changed.
type Finalization struct {
	ComponentClosed     bool
	AssignmentFinalized bool
	Revenue             *RevenueEntry
}

// Changed reports whether anything was written.
func (f Finalization) Changed() bool {
	return f.ComponentClosed || f.AssignmentFinalized
}

// Evaluate re-checks one scope. component is "" for plain treatments.
func (d *CompletionDetector) Evaluate(ctx context.Context, st Store, assignmentID, component string) (Finalization, error) {
	var out Finalization

	a, err := st.GetAssignment(ctx, assignmentID)
	if err != nil {
		return out, err
	}
	sessions, err := st.ListSessions(ctx, assignmentID, component)
	if err != nil {
		return out, err
	}
	completed := countCompleted(sessions)

	if component != "" {
		comp, err := st.GetComponent(ctx, assignmentID, component)
		if err != nil {
			return out, err
		}
		if !scopeDone(comp.SessionsAssigned, completed) || comp.SessionsRemaining <= 0 {
			return out, nil
		}
		comp.SessionsRemaining = 0
		if err := st.SaveComponent(ctx, *comp); err != nil {
			return out, err
		}
		out.ComponentClosed = true
		return out, nil
	}

	if a.IsPromotion || !scopeDone(a.SessionsAssigned, completed) {
		return out, nil
	}
	if a.SessionsRemaining <= 0 && a.Status == StatusInactive {
		return out, nil
	}

	if a.SessionsRemaining > 0 {
		a.SessionsRemaining = 0
	}
	if a.Status != StatusInactive {
		a.Status = StatusInactive
		entry, err := d.revenueEntry(ctx, st, *a)
		if err != nil {
			return out, err
		}
		if err := st.AppendRevenue(ctx, entry); err != nil {
			return out, err
		}
		out.AssignmentFinalized = true
		out.Revenue = &entry
	}
	if err := st.SaveAssignment(ctx, *a); err != nil {
		return out, err
	}
	return out, nil
}

func (d *CompletionDetector) revenueEntry(ctx context.Context, st Store, a TreatmentAssignment) (RevenueEntry, error) {
	price := a.TotalCost
	name := a.TreatmentID
	t, err := st.GetTreatment(ctx, a.TreatmentID)
	switch {
	case err == nil:
		price, name = t.Price, t.Name
	case !IsNotFound(err):
		return RevenueEntry{}, err
	}

	return RevenueEntry{
		ID:           uuid.NewString(),
		Date:         d.now(),
		Concept:      RevenueConceptCompleted,
		Income:       price,
		Expense:      decimal.Zero,
		Detail:       fmt.Sprintf("%s - %s - %s", RevenueConceptCompleted, name, a.PatientName),
		AssignmentID: a.ID,
	}, nil
}

func (d *CompletionDetector) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// scopeDone: every assigned session of the scope is completed.
func scopeDone(assigned, completed int) bool {
	return assigned > 0 && completed >= assigned
}

func countCompleted(sessions []SessionRecord) int {
	n := 0
	for _, s := range sessions {
		if s.Completed() {
			n++
		}
	}
	return n
}
