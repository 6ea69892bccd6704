/*
ledger.go - Append-only commission ledger

PURPOSE:
  Every session that transitions into "completed" while its commission has
  not been accrued gets exactly one CommissionEntry. Entries are proof of a
  payment event; they are never updated, deleted or negated.

REVERSALS:
  When a completed session is edited back to pending, the staff member's
  running balance is reduced by the originally credited amount. The ledger
  row stays. The running balance is authoritative; the sum of ledger rows
  is a payment-event history and can exceed the balance after toggling.

SEE ALSO:
  - engine.go: the only writer
  - audit.go:  reports rows that outlive their accrual
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionLedger is the append-only commission log.
type CommissionLedger struct {
	Store CommissionStore
	Now   func() time.Time
}

// NewCommissionLedger creates a ledger over the given store.
func NewCommissionLedger(store CommissionStore) *CommissionLedger {
	return &CommissionLedger{Store: store, Now: time.Now}
}

// Append adds an entry. Identity, category and creation time are filled in
// when missing. This is the ONLY write operation.
func (l *CommissionLedger) Append(ctx context.Context, e CommissionEntry) (CommissionEntry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Category == "" {
		e.Category = CategorySession
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now()
	}
	if err := l.Store.AppendCommission(ctx, e); err != nil {
		return CommissionEntry{}, err
	}
	return e, nil
}

// EntriesForStaff returns all entries credited to a staff member, oldest first.
func (l *CommissionLedger) EntriesForStaff(ctx context.Context, staffID string) ([]CommissionEntry, error) {
	return l.Store.ListCommissionsByStaff(ctx, staffID)
}

// EntriesForSession returns the entries appended for one session.
func (l *CommissionLedger) EntriesForSession(ctx context.Context, sessionID string) ([]CommissionEntry, error) {
	return l.Store.ListCommissionsBySession(ctx, sessionID)
}

// Total sums a set of entries.
func Total(entries []CommissionEntry) decimal.Decimal {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Amount)
	}
	return sum
}

func (l *CommissionLedger) now() time.Time {
	if l.Now == nil {
		return time.Now()
	}
	return l.Now()
}
