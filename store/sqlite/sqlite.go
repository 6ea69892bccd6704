/*
Package sqlite provides a SQLite-backed implementation of billing.TxStore.

PURPOSE:
  Persists the billing core's tables with sqlx over mattn/go-sqlite3. The
  reconciliation rules live in package billing; this package only reads and
  writes rows.

KEY TABLES:
  treatments, promotion_details: catalog (treatments and promotion contents)
  staff:                         staff directory + running commission balance
  treatment_assignments:         one row per purchase, cached counters/totals
  promotion_components:          per-assignment component counters
  sessions:                      session records, never deleted
  commission_payments:           append-only commission ledger
  revenue_reports:               operational report log (append-only)

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE is ever issued against commission_payments,
  revenue_reports or sessions (sessions are updated in place, never deleted).

VALUE ENCODING:
  Money and percentages: TEXT holding decimal.Decimal's exact string form
  Calendar dates:        TEXT "2006-01-02"
  Timestamps:            TEXT RFC3339

CONCURRENCY:
  The pool is capped at one connection, which also keeps ":memory:"
  databases on a single connection. WithTx holds a mutex for the whole
  transaction so transactions never interleave.

USAGE:
  store, err := sqlite.New("./spa.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  svc := billing.NewSessionService(store, nil)

SEE ALSO:
  - billing/store.go:        interface definitions
  - billing/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/spa-admin/session-engine/billing"
)

// ErrDuplicateSession is returned when a session number is already taken in
// its (assignment, component) scope.
var ErrDuplicateSession = errors.New("session number already in use")

// ErrCorruptDate is returned when a stored date or timestamp column cannot
// be parsed back.
var ErrCorruptDate = errors.New("stored date is malformed")

// Store implements billing.TxStore using SQLite.
type Store struct {
	*queries
	db *sqlx.DB
	mu sync.Mutex
}

// queries runs every statement against either the pool or an open transaction.
type queries struct {
	q sqlx.ExtContext
}

var _ billing.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{queries: &queries{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS treatments (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		is_promotion INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS promotion_details (
		treatment_id TEXT NOT NULL REFERENCES treatments(id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		sessions INTEGER NOT NULL,
		price TEXT NOT NULL,
		PRIMARY KEY (treatment_id, name)
	);

	-- Staff directory with running commission balance
	CREATE TABLE IF NOT EXISTS staff (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		commission_balance TEXT NOT NULL DEFAULT '0'
	);

	CREATE INDEX IF NOT EXISTS idx_staff_name ON staff(name);

	-- Purchases
	CREATE TABLE IF NOT EXISTS treatment_assignments (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		patient_name TEXT NOT NULL DEFAULT '',
		treatment_id TEXT NOT NULL REFERENCES treatments(id),
		is_promotion INTEGER NOT NULL DEFAULT 0,
		total_cost TEXT NOT NULL,
		total_paid TEXT NOT NULL,
		pending_balance TEXT NOT NULL,
		sessions_assigned INTEGER NOT NULL,
		sessions_remaining INTEGER NOT NULL,
		status TEXT NOT NULL,
		accrued_commission TEXT NOT NULL DEFAULT '0',
		assigned_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS promotion_components (
		assignment_id TEXT NOT NULL REFERENCES treatment_assignments(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		sessions_assigned INTEGER NOT NULL,
		sessions_remaining INTEGER NOT NULL,
		price TEXT NOT NULL,
		PRIMARY KEY (assignment_id, name)
	);

	-- Sessions. component is '' for plain treatments.
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		assignment_id TEXT NOT NULL REFERENCES treatment_assignments(id) ON DELETE CASCADE,
		component TEXT NOT NULL DEFAULT '',
		number INTEGER NOT NULL,
		date TEXT NOT NULL,
		staff_id TEXT NOT NULL REFERENCES staff(id),
		amount TEXT NOT NULL,
		payment TEXT NOT NULL,
		performed INTEGER NOT NULL,
		status TEXT NOT NULL,
		percentage TEXT NOT NULL,
		next_appointment TEXT NOT NULL,
		commission_accrued INTEGER NOT NULL DEFAULT 0,
		commission_amount TEXT NOT NULL DEFAULT '0',
		commission_staff_id TEXT NOT NULL DEFAULT ''
	);

	-- CRITICAL: session numbers are unique per (assignment, component)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_scope_number
		ON sessions(assignment_id, component, number);

	-- Commission ledger (append-only)
	CREATE TABLE IF NOT EXISTS commission_payments (
		id TEXT PRIMARY KEY,
		staff_id TEXT NOT NULL REFERENCES staff(id),
		assignment_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		date TEXT NOT NULL,
		category TEXT NOT NULL,
		note TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_commission_payments_staff
		ON commission_payments(staff_id);
	CREATE INDEX IF NOT EXISTS idx_commission_payments_session
		ON commission_payments(session_id);

	-- Operational report log (append-only)
	CREATE TABLE IF NOT EXISTS revenue_reports (
		id TEXT PRIMARY KEY,
		date TEXT NOT NULL,
		concept TEXT NOT NULL,
		income TEXT NOT NULL,
		expense TEXT NOT NULL,
		detail TEXT NOT NULL,
		assignment_id TEXT NOT NULL DEFAULT ''
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a database transaction.
// fn must only use the Store it is given.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateAssignment inserts an assignment and its components atomically.
func (s *Store) CreateAssignment(ctx context.Context, a billing.TreatmentAssignment, comps []billing.PromotionComponent) error {
	return s.WithTx(ctx, func(st billing.Store) error {
		return st.CreateAssignment(ctx, a, comps)
	})
}

// SaveTreatment upserts a treatment and replaces its promotion details atomically.
func (s *Store) SaveTreatment(ctx context.Context, t billing.Treatment) error {
	return s.WithTx(ctx, func(st billing.Store) error {
		return st.SaveTreatment(ctx, t)
	})
}

// =============================================================================
// ROW TYPES
// =============================================================================

type assignmentRow struct {
	ID                string          `db:"id"`
	PatientID         string          `db:"patient_id"`
	PatientName       string          `db:"patient_name"`
	TreatmentID       string          `db:"treatment_id"`
	IsPromotion       bool            `db:"is_promotion"`
	TotalCost         decimal.Decimal `db:"total_cost"`
	TotalPaid         decimal.Decimal `db:"total_paid"`
	PendingBalance    decimal.Decimal `db:"pending_balance"`
	SessionsAssigned  int             `db:"sessions_assigned"`
	SessionsRemaining int             `db:"sessions_remaining"`
	Status            string          `db:"status"`
	AccruedCommission decimal.Decimal `db:"accrued_commission"`
	AssignedAt        string          `db:"assigned_at"`
}

func toAssignmentRow(a billing.TreatmentAssignment) assignmentRow {
	return assignmentRow{
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
		AssignedAt:        formatTimestamp(a.AssignedAt),
	}
}

func (r assignmentRow) model() (billing.TreatmentAssignment, error) {
	assignedAt, err := parseTimestamp("treatment_assignments.assigned_at", r.AssignedAt)
	if err != nil {
		return billing.TreatmentAssignment{}, err
	}
	return billing.TreatmentAssignment{
		ID:                r.ID,
		PatientID:         r.PatientID,
		PatientName:       r.PatientName,
		TreatmentID:       r.TreatmentID,
		IsPromotion:       r.IsPromotion,
		TotalCost:         r.TotalCost,
		TotalPaid:         r.TotalPaid,
		PendingBalance:    r.PendingBalance,
		SessionsAssigned:  r.SessionsAssigned,
		SessionsRemaining: r.SessionsRemaining,
		Status:            billing.AssignmentStatus(r.Status),
		AccruedCommission: r.AccruedCommission,
		AssignedAt:        assignedAt,
	}, nil
}

type componentRow struct {
	AssignmentID      string          `db:"assignment_id"`
	Name              string          `db:"name"`
	SessionsAssigned  int             `db:"sessions_assigned"`
	SessionsRemaining int             `db:"sessions_remaining"`
	Price             decimal.Decimal `db:"price"`
}

func (r componentRow) model() billing.PromotionComponent {
	return billing.PromotionComponent(r)
}

type sessionRow struct {
	ID                string          `db:"id"`
	AssignmentID      string          `db:"assignment_id"`
	Component         string          `db:"component"`
	Number            int             `db:"number"`
	Date              string          `db:"date"`
	StaffID           string          `db:"staff_id"`
	Amount            decimal.Decimal `db:"amount"`
	Payment           string          `db:"payment"`
	Performed         bool            `db:"performed"`
	Status            string          `db:"status"`
	Percentage        decimal.Decimal `db:"percentage"`
	NextAppointment   string          `db:"next_appointment"`
	CommissionAccrued bool            `db:"commission_accrued"`
	CommissionAmount  decimal.Decimal `db:"commission_amount"`
	CommissionStaffID string          `db:"commission_staff_id"`
}

func toSessionRow(s billing.SessionRecord) sessionRow {
	return sessionRow{
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
		CommissionStaffID: s.CommissionStaffID,
	}
}

func (r sessionRow) model() (billing.SessionRecord, error) {
	date, err := parseDate("sessions.date", r.Date)
	if err != nil {
		return billing.SessionRecord{}, err
	}
	next, err := parseDate("sessions.next_appointment", r.NextAppointment)
	if err != nil {
		return billing.SessionRecord{}, err
	}
	return billing.SessionRecord{
		ID:                r.ID,
		AssignmentID:      r.AssignmentID,
		ComponentName:     r.Component,
		Number:            r.Number,
		Date:              date,
		StaffID:           r.StaffID,
		Amount:            r.Amount,
		Payment:           billing.PaymentStatus(r.Payment),
		Performed:         r.Performed,
		Status:            r.Status,
		Percentage:        r.Percentage,
		NextAppointment:   next,
		CommissionAccrued: r.CommissionAccrued,
		CommissionAmount:  r.CommissionAmount,
		CommissionStaffID: r.CommissionStaffID,
	}, nil
}

type commissionRow struct {
	ID           string          `db:"id"`
	StaffID      string          `db:"staff_id"`
	AssignmentID string          `db:"assignment_id"`
	SessionID    string          `db:"session_id"`
	Amount       decimal.Decimal `db:"amount"`
	Date         string          `db:"date"`
	Category     string          `db:"category"`
	Note         string          `db:"note"`
	CreatedAt    string          `db:"created_at"`
}

func (r commissionRow) model() (billing.CommissionEntry, error) {
	date, err := parseDate("commission_payments.date", r.Date)
	if err != nil {
		return billing.CommissionEntry{}, err
	}
	createdAt, err := parseTimestamp("commission_payments.created_at", r.CreatedAt)
	if err != nil {
		return billing.CommissionEntry{}, err
	}
	return billing.CommissionEntry{
		ID:           r.ID,
		StaffID:      r.StaffID,
		AssignmentID: r.AssignmentID,
		SessionID:    r.SessionID,
		Amount:       r.Amount,
		Date:         date,
		Category:     r.Category,
		Note:         r.Note,
		CreatedAt:    createdAt,
	}, nil
}

type revenueRow struct {
	ID           string          `db:"id"`
	Date         string          `db:"date"`
	Concept      string          `db:"concept"`
	Income       decimal.Decimal `db:"income"`
	Expense      decimal.Decimal `db:"expense"`
	Detail       string          `db:"detail"`
	AssignmentID string          `db:"assignment_id"`
}

type treatmentRow struct {
	ID          string          `db:"id"`
	Name        string          `db:"name"`
	Price       decimal.Decimal `db:"price"`
	IsPromotion bool            `db:"is_promotion"`
}

type detailRow struct {
	TreatmentID string          `db:"treatment_id"`
	Position    int             `db:"position"`
	Name        string          `db:"name"`
	Sessions    int             `db:"sessions"`
	Price       decimal.Decimal `db:"price"`
}

type staffRow struct {
	ID                string          `db:"id"`
	Name              string          `db:"name"`
	CommissionBalance decimal.Decimal `db:"commission_balance"`
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

const assignmentColumns = `id, patient_id, patient_name, treatment_id, is_promotion, total_cost, total_paid,
	pending_balance, sessions_assigned, sessions_remaining, status, accrued_commission, assigned_at`

func (q *queries) CreateAssignment(ctx context.Context, a billing.TreatmentAssignment, comps []billing.PromotionComponent) error {
	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO treatment_assignments (`+assignmentColumns+`)
		VALUES (:id, :patient_id, :patient_name, :treatment_id, :is_promotion, :total_cost, :total_paid,
			:pending_balance, :sessions_assigned, :sessions_remaining, :status, :accrued_commission, :assigned_at)
	`, toAssignmentRow(a))
	if err != nil {
		if isForeignKeyError(err) {
			return &billing.NotFoundError{Entity: "treatment", ID: a.TreatmentID}
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}

	for _, c := range comps {
		c.AssignmentID = a.ID
		_, err := sqlx.NamedExecContext(ctx, q.q, `
			INSERT INTO promotion_components (assignment_id, name, sessions_assigned, sessions_remaining, price)
			VALUES (:assignment_id, :name, :sessions_assigned, :sessions_remaining, :price)
		`, componentRow(c))
		if err != nil {
			return fmt.Errorf("failed to insert component %q: %w", c.Name, err)
		}
	}
	return nil
}

func (q *queries) GetAssignment(ctx context.Context, id string) (*billing.TreatmentAssignment, error) {
	var row assignmentRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT `+assignmentColumns+` FROM treatment_assignments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Entity: "assignment", ID: id}
	}
	if err != nil {
		return nil, err
	}
	a, err := row.model()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (q *queries) SaveAssignment(ctx context.Context, a billing.TreatmentAssignment) error {
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		UPDATE treatment_assignments SET
			total_cost = :total_cost,
			total_paid = :total_paid,
			pending_balance = :pending_balance,
			sessions_assigned = :sessions_assigned,
			sessions_remaining = :sessions_remaining,
			status = :status,
			accrued_commission = :accrued_commission
		WHERE id = :id
	`, toAssignmentRow(a))
	if err != nil {
		return fmt.Errorf("failed to save assignment: %w", err)
	}
	return requireRow(res, &billing.NotFoundError{Entity: "assignment", ID: a.ID})
}

func (q *queries) ListAssignments(ctx context.Context) ([]billing.TreatmentAssignment, error) {
	var rows []assignmentRow
	if err := sqlx.SelectContext(ctx, q.q, &rows,
		`SELECT `+assignmentColumns+` FROM treatment_assignments ORDER BY assigned_at, id`); err != nil {
		return nil, err
	}
	out := make([]billing.TreatmentAssignment, 0, len(rows))
	for _, r := range rows {
		a, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (q *queries) GetComponent(ctx context.Context, assignmentID, name string) (*billing.PromotionComponent, error) {
	var row componentRow
	err := sqlx.GetContext(ctx, q.q, &row, `
		SELECT assignment_id, name, sessions_assigned, sessions_remaining, price
		FROM promotion_components WHERE assignment_id = ? AND name = ?
	`, assignmentID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Entity: "component", ID: assignmentID + "/" + name}
	}
	if err != nil {
		return nil, err
	}
	c := row.model()
	return &c, nil
}

func (q *queries) SaveComponent(ctx context.Context, c billing.PromotionComponent) error {
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		UPDATE promotion_components SET
			sessions_assigned = :sessions_assigned,
			sessions_remaining = :sessions_remaining,
			price = :price
		WHERE assignment_id = :assignment_id AND name = :name
	`, componentRow(c))
	if err != nil {
		return fmt.Errorf("failed to save component: %w", err)
	}
	return requireRow(res, &billing.NotFoundError{Entity: "component", ID: c.AssignmentID + "/" + c.Name})
}

func (q *queries) ListComponents(ctx context.Context, assignmentID string) ([]billing.PromotionComponent, error) {
	var rows []componentRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, `
		SELECT assignment_id, name, sessions_assigned, sessions_remaining, price
		FROM promotion_components WHERE assignment_id = ? ORDER BY name
	`, assignmentID); err != nil {
		return nil, err
	}
	out := make([]billing.PromotionComponent, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, assignment_id, component, number, date, staff_id, amount, payment, performed,
	status, percentage, next_appointment, commission_accrued, commission_amount, commission_staff_id`

func (q *queries) NextSessionNumber(ctx context.Context, assignmentID, component string) (int, error) {
	var next int
	err := sqlx.GetContext(ctx, q.q, &next,
		`SELECT COALESCE(MAX(number), 0) + 1 FROM sessions WHERE assignment_id = ? AND component = ?`,
		assignmentID, component)
	return next, err
}

func (q *queries) InsertSession(ctx context.Context, s billing.SessionRecord) error {
	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (:id, :assignment_id, :component, :number, :date, :staff_id, :amount, :payment, :performed,
			:status, :percentage, :next_appointment, :commission_accrued, :commission_amount, :commission_staff_id)
	`, toSessionRow(s))
	switch {
	case err == nil:
		return nil
	case isUniqueConstraintError(err):
		return ErrDuplicateSession
	case isForeignKeyError(err):
		return &billing.NotFoundError{Entity: "assignment", ID: s.AssignmentID}
	default:
		return fmt.Errorf("failed to insert session: %w", err)
	}
}

func (q *queries) UpdateSession(ctx context.Context, s billing.SessionRecord) error {
	res, err := sqlx.NamedExecContext(ctx, q.q, `
		UPDATE sessions SET
			date = :date,
			staff_id = :staff_id,
			amount = :amount,
			payment = :payment,
			performed = :performed,
			status = :status,
			percentage = :percentage,
			next_appointment = :next_appointment,
			commission_accrued = :commission_accrued,
			commission_amount = :commission_amount,
			commission_staff_id = :commission_staff_id
		WHERE assignment_id = :assignment_id AND component = :component AND number = :number
	`, toSessionRow(s))
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}
	return requireRow(res, sessionNotFound(s.AssignmentID, s.ComponentName, s.Number))
}

func (q *queries) GetSession(ctx context.Context, assignmentID, component string, number int) (*billing.SessionRecord, error) {
	var row sessionRow
	err := sqlx.GetContext(ctx, q.q, &row,
		`SELECT `+sessionColumns+` FROM sessions WHERE assignment_id = ? AND component = ? AND number = ?`,
		assignmentID, component, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sessionNotFound(assignmentID, component, number)
	}
	if err != nil {
		return nil, err
	}
	s, err := row.model()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (q *queries) ListSessions(ctx context.Context, assignmentID, component string) ([]billing.SessionRecord, error) {
	return q.selectSessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE assignment_id = ? AND component = ? ORDER BY number`,
		assignmentID, component)
}

func (q *queries) ListAllSessions(ctx context.Context, assignmentID string) ([]billing.SessionRecord, error) {
	return q.selectSessions(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE assignment_id = ? ORDER BY component, number`,
		assignmentID)
}

func (q *queries) selectSessions(ctx context.Context, query string, args ...any) ([]billing.SessionRecord, error) {
	var rows []sessionRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]billing.SessionRecord, 0, len(rows))
	for _, r := range rows {
		s, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// =============================================================================
// COMMISSIONS
// =============================================================================

const commissionColumns = `id, staff_id, assignment_id, session_id, amount, date, category, note, created_at`

func (q *queries) AppendCommission(ctx context.Context, e billing.CommissionEntry) error {
	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO commission_payments (`+commissionColumns+`)
		VALUES (:id, :staff_id, :assignment_id, :session_id, :amount, :date, :category, :note, :created_at)
	`, commissionRow{
		ID:           e.ID,
		StaffID:      e.StaffID,
		AssignmentID: e.AssignmentID,
		SessionID:    e.SessionID,
		Amount:       e.Amount,
		Date:         formatDate(e.Date),
		Category:     e.Category,
		Note:         e.Note,
		CreatedAt:    formatTimestamp(e.CreatedAt),
	})
	if err != nil {
		return fmt.Errorf("failed to append commission: %w", err)
	}
	return nil
}

func (q *queries) ListCommissionsByStaff(ctx context.Context, staffID string) ([]billing.CommissionEntry, error) {
	return q.selectCommissions(ctx,
		`SELECT `+commissionColumns+` FROM commission_payments WHERE staff_id = ? ORDER BY rowid`, staffID)
}

func (q *queries) ListCommissionsBySession(ctx context.Context, sessionID string) ([]billing.CommissionEntry, error) {
	return q.selectCommissions(ctx,
		`SELECT `+commissionColumns+` FROM commission_payments WHERE session_id = ? ORDER BY rowid`, sessionID)
}

func (q *queries) selectCommissions(ctx context.Context, query string, args ...any) ([]billing.CommissionEntry, error) {
	var rows []commissionRow
	if err := sqlx.SelectContext(ctx, q.q, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]billing.CommissionEntry, 0, len(rows))
	for _, r := range rows {
		e, err := r.model()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// AdjustStaffCommission is a read-modify-write so the balance stays an exact
// decimal; SQLite arithmetic on TEXT would go through floating point.
func (q *queries) AdjustStaffCommission(ctx context.Context, staffID string, delta decimal.Decimal) error {
	staff, err := q.GetStaff(ctx, staffID)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx,
		`UPDATE staff SET commission_balance = ? WHERE id = ?`,
		staff.CommissionBalance.Add(delta), staffID)
	if err != nil {
		return fmt.Errorf("failed to adjust commission balance: %w", err)
	}
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (q *queries) SaveTreatment(ctx context.Context, t billing.Treatment) error {
	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO treatments (id, name, price, is_promotion)
		VALUES (:id, :name, :price, :is_promotion)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			is_promotion = excluded.is_promotion
	`, treatmentRow{ID: t.ID, Name: t.Name, Price: t.Price, IsPromotion: t.IsPromotion})
	if err != nil {
		return fmt.Errorf("failed to save treatment: %w", err)
	}

	if _, err := q.q.ExecContext(ctx, `DELETE FROM promotion_details WHERE treatment_id = ?`, t.ID); err != nil {
		return fmt.Errorf("failed to replace promotion details: %w", err)
	}
	for i, c := range t.Components {
		_, err := sqlx.NamedExecContext(ctx, q.q, `
			INSERT INTO promotion_details (treatment_id, position, name, sessions, price)
			VALUES (:treatment_id, :position, :name, :sessions, :price)
		`, detailRow{TreatmentID: t.ID, Position: i, Name: c.Name, Sessions: c.Sessions, Price: c.Price})
		if err != nil {
			return fmt.Errorf("failed to save promotion detail %q: %w", c.Name, err)
		}
	}
	return nil
}

func (q *queries) GetTreatment(ctx context.Context, id string) (*billing.Treatment, error) {
	var row treatmentRow
	err := sqlx.GetContext(ctx, q.q, &row, `SELECT id, name, price, is_promotion FROM treatments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Entity: "treatment", ID: id}
	}
	if err != nil {
		return nil, err
	}
	return q.withDetails(ctx, row)
}

func (q *queries) ListTreatments(ctx context.Context) ([]billing.Treatment, error) {
	var rows []treatmentRow
	if err := sqlx.SelectContext(ctx, q.q, &rows,
		`SELECT id, name, price, is_promotion FROM treatments ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]billing.Treatment, 0, len(rows))
	for _, r := range rows {
		t, err := q.withDetails(ctx, r)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func (q *queries) withDetails(ctx context.Context, row treatmentRow) (*billing.Treatment, error) {
	t := billing.Treatment{ID: row.ID, Name: row.Name, Price: row.Price, IsPromotion: row.IsPromotion}
	if !t.IsPromotion {
		return &t, nil
	}

	var details []detailRow
	if err := sqlx.SelectContext(ctx, q.q, &details, `
		SELECT treatment_id, position, name, sessions, price
		FROM promotion_details WHERE treatment_id = ? ORDER BY position
	`, row.ID); err != nil {
		return nil, err
	}
	for _, d := range details {
		t.Components = append(t.Components, billing.PromotionDetail{Name: d.Name, Sessions: d.Sessions, Price: d.Price})
	}
	return &t, nil
}

func (q *queries) SaveStaff(ctx context.Context, s billing.Staff) error {
	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO staff (id, name, commission_balance)
		VALUES (:id, :name, :commission_balance)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			commission_balance = excluded.commission_balance
	`, staffRow(s))
	if err != nil {
		return fmt.Errorf("failed to save staff: %w", err)
	}
	return nil
}

func (q *queries) GetStaff(ctx context.Context, id string) (*billing.Staff, error) {
	return q.getStaff(ctx, "id", id)
}

func (q *queries) FindStaffByName(ctx context.Context, name string) (*billing.Staff, error) {
	return q.getStaff(ctx, "name", name)
}

func (q *queries) getStaff(ctx context.Context, column, value string) (*billing.Staff, error) {
	var row staffRow
	err := sqlx.GetContext(ctx, q.q, &row,
		`SELECT id, name, commission_balance FROM staff WHERE `+column+` = ? ORDER BY id LIMIT 1`, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &billing.NotFoundError{Entity: "staff", ID: value}
	}
	if err != nil {
		return nil, err
	}
	s := billing.Staff(row)
	return &s, nil
}

func (q *queries) ListStaff(ctx context.Context) ([]billing.Staff, error) {
	var rows []staffRow
	if err := sqlx.SelectContext(ctx, q.q, &rows,
		`SELECT id, name, commission_balance FROM staff ORDER BY name`); err != nil {
		return nil, err
	}
	out := make([]billing.Staff, 0, len(rows))
	for _, r := range rows {
		out = append(out, billing.Staff(r))
	}
	return out, nil
}

// =============================================================================
// REVENUE
// =============================================================================

func (q *queries) AppendRevenue(ctx context.Context, e billing.RevenueEntry) error {
	_, err := sqlx.NamedExecContext(ctx, q.q, `
		INSERT INTO revenue_reports (id, date, concept, income, expense, detail, assignment_id)
		VALUES (:id, :date, :concept, :income, :expense, :detail, :assignment_id)
	`, revenueRow{
		ID:           e.ID,
		Date:         formatDate(e.Date),
		Concept:      e.Concept,
		Income:       e.Income,
		Expense:      e.Expense,
		Detail:       e.Detail,
		AssignmentID: e.AssignmentID,
	})
	if err != nil {
		return fmt.Errorf("failed to append revenue: %w", err)
	}
	return nil
}

func (q *queries) ListRevenue(ctx context.Context) ([]billing.RevenueEntry, error) {
	var rows []revenueRow
	if err := sqlx.SelectContext(ctx, q.q, &rows,
		`SELECT id, date, concept, income, expense, detail, assignment_id FROM revenue_reports ORDER BY rowid`); err != nil {
		return nil, err
	}
	out := make([]billing.RevenueEntry, 0, len(rows))
	for _, r := range rows {
		date, err := parseDate("revenue_reports.date", r.Date)
		if err != nil {
			return nil, err
		}
		out = append(out, billing.RevenueEntry{
			ID:           r.ID,
			Date:         date,
			Concept:      r.Concept,
			Income:       r.Income,
			Expense:      r.Expense,
			Detail:       r.Detail,
			AssignmentID: r.AssignmentID,
		})
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(billing.DateLayout)
}

// parseDate reads a column written by formatDate. Empty means the zero time.
func parseDate(column, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(billing.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s = %q", ErrCorruptDate, column, s)
	}
	return t, nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTimestamp(column, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s = %q", ErrCorruptDate, column, s)
	}
	return t, nil
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func sessionNotFound(assignmentID, component string, number int) error {
	id := fmt.Sprintf("%s#%d", assignmentID, number)
	if component != "" {
		id = fmt.Sprintf("%s/%s#%d", assignmentID, component, number)
	}
	return &billing.NotFoundError{Entity: "session", ID: id}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
