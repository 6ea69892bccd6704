/*
audit.go - Derived-state auditor

PURPOSE:
  Recomputes every cached value of an assignment from its SessionRecords and
  the commission ledger, and reports where they disagree. Read-only.

CHECKS:
  counter     remaining == assigned - completed per scope
  commission  completed sessions have commission accrued and vice versa;
              an accrued session has at least one ledger row
  accrued     assignment aggregate == sum of accrued session commissions
  balance     total_paid + pending_balance == total_cost

INFORMATIONAL:
  Ledger rows left behind by reversed accruals are reported with
  Informational=true. They are expected after toggling and are not drift.
  Gaps in session numbers are not reported.
*/
package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// DiscrepancyKind classifies an audit finding.
type DiscrepancyKind string

const (
	KindCounter         DiscrepancyKind = "counter"
	KindCommissionFlag  DiscrepancyKind = "commission"
	KindAccrued         DiscrepancyKind = "accrued"
	KindBalance         DiscrepancyKind = "balance"
	KindReversedEntries DiscrepancyKind = "reversed_entries"
)

// Discrepancy is one audit finding.
type Discrepancy struct {
	AssignmentID  string
	Component     string
	SessionNumber int
	Kind          DiscrepancyKind
	Expected      string
	Actual        string
	Informational bool
}

func (d Discrepancy) String() string {
	scope := d.AssignmentID
	if d.Component != "" {
		scope += "/" + d.Component
	}
	if d.SessionNumber > 0 {
		scope += fmt.Sprintf("#%d", d.SessionNumber)
	}
	return fmt.Sprintf("%s %s: expected %s, got %s", scope, d.Kind, d.Expected, d.Actual)
}

// HasDrift reports whether any finding is not informational.
func HasDrift(ds []Discrepancy) bool {
	for _, d := range ds {
		if !d.Informational {
			return true
		}
	}
	return false
}

// Auditor checks assignments against their session records.
type Auditor struct {
	Store Store
}

// CheckAll audits every assignment.
func (au *Auditor) CheckAll(ctx context.Context) ([]Discrepancy, error) {
	assignments, err := au.Store.ListAssignments(ctx)
	if err != nil {
		return nil, classify("audit", err)
	}
	var out []Discrepancy
	for _, a := range assignments {
		ds, err := au.Check(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ds...)
	}
	return out, nil
}

// Check audits one assignment.
func (au *Auditor) Check(ctx context.Context, assignmentID string) ([]Discrepancy, error) {
	ds, err := au.check(ctx, assignmentID)
	return ds, classify("audit", err)
}

func (au *Auditor) check(ctx context.Context, assignmentID string) ([]Discrepancy, error) {
	a, err := au.Store.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	sessions, err := au.Store.ListAllSessions(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	var out []Discrepancy
	add := func(d Discrepancy) {
		d.AssignmentID = assignmentID
		out = append(out, d)
	}

	// Counters
	if a.IsPromotion {
		comps, err := au.Store.ListComponents(ctx, assignmentID)
		if err != nil {
			return nil, err
		}
		for _, c := range comps {
			want := c.SessionsAssigned - countCompleted(inScope(sessions, c.Name))
			if c.SessionsRemaining != want {
				add(Discrepancy{Component: c.Name, Kind: KindCounter,
					Expected: fmt.Sprint(want), Actual: fmt.Sprint(c.SessionsRemaining)})
			}
		}
	} else {
		want := a.SessionsAssigned - countCompleted(sessions)
		if a.SessionsRemaining != want {
			add(Discrepancy{Kind: KindCounter,
				Expected: fmt.Sprint(want), Actual: fmt.Sprint(a.SessionsRemaining)})
		}
	}

	// Commission flags against the ledger
	accrued := decimal.Zero
	for _, s := range sessions {
		if s.CommissionAccrued {
			accrued = accrued.Add(s.CommissionAmount)
		}
		if s.Completed() != s.CommissionAccrued {
			add(Discrepancy{Component: s.ComponentName, SessionNumber: s.Number, Kind: KindCommissionFlag,
				Expected: fmt.Sprintf("accrued=%t", s.Completed()), Actual: fmt.Sprintf("accrued=%t", s.CommissionAccrued)})
		}

		entries, err := au.Store.ListCommissionsBySession(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		live := 0
		if s.CommissionAccrued {
			live = 1
		}
		switch {
		case len(entries) < live:
			add(Discrepancy{Component: s.ComponentName, SessionNumber: s.Number, Kind: KindCommissionFlag,
				Expected: "1 ledger entry", Actual: "0 ledger entries"})
		case len(entries) > live:
			add(Discrepancy{Component: s.ComponentName, SessionNumber: s.Number, Kind: KindReversedEntries,
				Expected: fmt.Sprint(live), Actual: fmt.Sprint(len(entries)), Informational: true})
		}
	}
	if !accrued.Equal(a.AccruedCommission) {
		add(Discrepancy{Kind: KindAccrued, Expected: accrued.StringFixed(2), Actual: a.AccruedCommission.StringFixed(2)})
	}

	// Money
	if sum := a.TotalPaid.Add(a.PendingBalance); !sum.Equal(a.TotalCost) {
		add(Discrepancy{Kind: KindBalance, Expected: a.TotalCost.StringFixed(2), Actual: sum.StringFixed(2)})
	}
	return out, nil
}

func inScope(sessions []SessionRecord, component string) []SessionRecord {
	var out []SessionRecord
	for _, s := range sessions {
		if s.ComponentName == component {
			out = append(out, s)
		}
	}
	return out
}
