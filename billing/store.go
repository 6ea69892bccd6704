/*
store.go - Persistence interfaces for the billing core

PURPOSE:
  The reconciliation engine depends only on these interfaces, never on a
  concrete storage technology. The core is unit-tested against the in-memory
  implementation and runs in production on SQLite.

KEY INTERFACES:
  AssignmentStore:  treatment assignments and promotion components
  SessionStore:     session records (create/update, no delete)
  CommissionStore:  append-only commission ledger + staff balances
  CatalogStore:     treatments and staff directory (read-mostly)
  RevenueStore:     operational report log
  TxStore:          all of the above plus atomic WithTx

IMPLEMENTATIONS:
  - billing/store/memory.go: in-memory for testing
  - store/sqlite/sqlite.go:  production SQLite

APPEND-ONLY CONTRACT:
  CommissionStore and RevenueStore expose Append and read methods only.
  SessionStore exposes no delete.
*/
package billing

import (
	"context"

	"github.com/shopspring/decimal"
)

// AssignmentStore persists assignments and their promotion components.
type AssignmentStore interface {
	CreateAssignment(ctx context.Context, a TreatmentAssignment, components []PromotionComponent) error

	// GetAssignment returns *NotFoundError if the assignment does not exist.
	GetAssignment(ctx context.Context, id string) (*TreatmentAssignment, error)

	// SaveAssignment overwrites counters, totals and status.
	SaveAssignment(ctx context.Context, a TreatmentAssignment) error

	ListAssignments(ctx context.Context) ([]TreatmentAssignment, error)

	// GetComponent returns *NotFoundError if the component does not exist.
	GetComponent(ctx context.Context, assignmentID, name string) (*PromotionComponent, error)

	SaveComponent(ctx context.Context, c PromotionComponent) error

	ListComponents(ctx context.Context, assignmentID string) ([]PromotionComponent, error)
}

// SessionStore persists session records.
type SessionStore interface {
	// NextSessionNumber returns max(existing)+1 within (assignment, component).
	NextSessionNumber(ctx context.Context, assignmentID, component string) (int, error)

	InsertSession(ctx context.Context, s SessionRecord) error

	// UpdateSession overwrites the mutable fields of the record keyed by
	// (AssignmentID, ComponentName, Number). Returns *NotFoundError if absent.
	UpdateSession(ctx context.Context, s SessionRecord) error

	// GetSession returns *NotFoundError if the session does not exist.
	GetSession(ctx context.Context, assignmentID, component string, number int) (*SessionRecord, error)

	// ListSessions returns the sessions of one scope ordered by Number.
	ListSessions(ctx context.Context, assignmentID, component string) ([]SessionRecord, error)

	// ListAllSessions returns every session of an assignment, any component.
	ListAllSessions(ctx context.Context, assignmentID string) ([]SessionRecord, error)
}

// CommissionStore holds the commission ledger and running staff balances.
type CommissionStore interface {
	AppendCommission(ctx context.Context, e CommissionEntry) error

	ListCommissionsByStaff(ctx context.Context, staffID string) ([]CommissionEntry, error)

	ListCommissionsBySession(ctx context.Context, sessionID string) ([]CommissionEntry, error)

	// AdjustStaffCommission adds delta (possibly negative) to the staff balance.
	AdjustStaffCommission(ctx context.Context, staffID string, delta decimal.Decimal) error
}

// CatalogStore is the treatment catalog and staff directory.
type CatalogStore interface {
	SaveTreatment(ctx context.Context, t Treatment) error
	GetTreatment(ctx context.Context, id string) (*Treatment, error)
	ListTreatments(ctx context.Context) ([]Treatment, error)

	SaveStaff(ctx context.Context, s Staff) error
	GetStaff(ctx context.Context, id string) (*Staff, error)
	FindStaffByName(ctx context.Context, name string) (*Staff, error)
	ListStaff(ctx context.Context) ([]Staff, error)
}

// RevenueStore is the operational report log.
type RevenueStore interface {
	AppendRevenue(ctx context.Context, e RevenueEntry) error
	ListRevenue(ctx context.Context) ([]RevenueEntry, error)
}

// Store is the full data-access surface used by the core.
type Store interface {
	AssignmentStore
	SessionStore
	CommissionStore
	CatalogStore
	RevenueStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}
