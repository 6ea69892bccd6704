// Package store provides an in-memory billing.TxStore.
package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/spa-admin/session-engine/billing"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps every table in maps guarded by one lock. It implements
// billing.TxStore; WithTx is simulated with a snapshot + rollback on error.
type Memory struct {
	mu sync.Locker
	t  *tables
}

type componentKey struct {
	AssignmentID string
	Name         string
}

type sessionKey struct {
	AssignmentID string
	Component    string
	Number       int
}

type tables struct {
	assignments map[string]billing.TreatmentAssignment
	components  map[componentKey]billing.PromotionComponent
	sessions    map[sessionKey]billing.SessionRecord
	staff       map[string]billing.Staff
	treatments  map[string]billing.Treatment
	commissions []billing.CommissionEntry
	revenue     []billing.RevenueEntry
}

var _ billing.TxStore = (*Memory)(nil)

var errDuplicateSession = errors.New("session number already in use")

func sessionNotFound(assignmentID, component string, number int) error {
	id := fmt.Sprintf("%s#%d", assignmentID, number)
	if component != "" {
		id = fmt.Sprintf("%s/%s#%d", assignmentID, component, number)
	}
	return &billing.NotFoundError{Entity: "session", ID: id}
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		mu: &sync.Mutex{},
		t: &tables{
			assignments: make(map[string]billing.TreatmentAssignment),
			components:  make(map[componentKey]billing.PromotionComponent),
			sessions:    make(map[sessionKey]billing.SessionRecord),
			staff:       make(map[string]billing.Staff),
			treatments:  make(map[string]billing.Treatment),
		},
	}
}

// WithTx executes fn against a view that shares this store's tables. The
// store stays locked for the whole call, so transactions never interleave.
func (m *Memory) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Snapshot current state
	snapshot := m.t.clone()

	view := &Memory{mu: nopLocker{}, t: m.t}
	if err := fn(view); err != nil {
		// Rollback
		*m.t = *snapshot
		return err
	}
	return nil
}

// =============================================================================
// ASSIGNMENTS
// =============================================================================

func (m *Memory) CreateAssignment(_ context.Context, a billing.TreatmentAssignment, comps []billing.PromotionComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.t.treatments[a.TreatmentID]; !ok {
		return &billing.NotFoundError{Entity: "treatment", ID: a.TreatmentID}
	}
	m.t.assignments[a.ID] = a
	for _, c := range comps {
		c.AssignmentID = a.ID
		m.t.components[componentKey{a.ID, c.Name}] = c
	}
	return nil
}

func (m *Memory) GetAssignment(_ context.Context, id string) (*billing.TreatmentAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.t.assignments[id]
	if !ok {
		return nil, &billing.NotFoundError{Entity: "assignment", ID: id}
	}
	return &a, nil
}

func (m *Memory) SaveAssignment(_ context.Context, a billing.TreatmentAssignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.t.assignments[a.ID]; !ok {
		return &billing.NotFoundError{Entity: "assignment", ID: a.ID}
	}
	m.t.assignments[a.ID] = a
	return nil
}

func (m *Memory) ListAssignments(_ context.Context) ([]billing.TreatmentAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]billing.TreatmentAssignment, 0, len(m.t.assignments))
	for _, a := range m.t.assignments {
		out = append(out, a)
	}
	slices.SortFunc(out, func(x, y billing.TreatmentAssignment) int {
		if c := x.AssignedAt.Compare(y.AssignedAt); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
	return out, nil
}

func (m *Memory) GetComponent(_ context.Context, assignmentID, name string) (*billing.PromotionComponent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.t.components[componentKey{assignmentID, name}]
	if !ok {
		return nil, &billing.NotFoundError{Entity: "component", ID: assignmentID + "/" + name}
	}
	return &c, nil
}

func (m *Memory) SaveComponent(_ context.Context, c billing.PromotionComponent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := componentKey{c.AssignmentID, c.Name}
	if _, ok := m.t.components[k]; !ok {
		return &billing.NotFoundError{Entity: "component", ID: c.AssignmentID + "/" + c.Name}
	}
	m.t.components[k] = c
	return nil
}

func (m *Memory) ListComponents(_ context.Context, assignmentID string) ([]billing.PromotionComponent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.PromotionComponent
	for k, c := range m.t.components {
		if k.AssignmentID == assignmentID {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(x, y billing.PromotionComponent) int { return cmp.Compare(x.Name, y.Name) })
	return out, nil
}

// =============================================================================
// SESSIONS
// =============================================================================

func (m *Memory) NextSessionNumber(_ context.Context, assignmentID, component string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := 1
	for k := range m.t.sessions {
		if k.AssignmentID == assignmentID && k.Component == component && k.Number >= next {
			next = k.Number + 1
		}
	}
	return next, nil
}

func (m *Memory) InsertSession(_ context.Context, s billing.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.t.assignments[s.AssignmentID]; !ok {
		return &billing.NotFoundError{Entity: "assignment", ID: s.AssignmentID}
	}
	k := sessionKey{s.AssignmentID, s.ComponentName, s.Number}
	if _, ok := m.t.sessions[k]; ok {
		return errDuplicateSession
	}
	m.t.sessions[k] = s
	return nil
}

func (m *Memory) UpdateSession(_ context.Context, s billing.SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := sessionKey{s.AssignmentID, s.ComponentName, s.Number}
	prior, ok := m.t.sessions[k]
	if !ok {
		return sessionNotFound(s.AssignmentID, s.ComponentName, s.Number)
	}
	s.ID = prior.ID
	m.t.sessions[k] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, assignmentID, component string, number int) (*billing.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.t.sessions[sessionKey{assignmentID, component, number}]
	if !ok {
		return nil, sessionNotFound(assignmentID, component, number)
	}
	return &s, nil
}

func (m *Memory) ListSessions(_ context.Context, assignmentID, component string) ([]billing.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.SessionRecord
	for k, s := range m.t.sessions {
		if k.AssignmentID == assignmentID && k.Component == component {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, bySessionNumber)
	return out, nil
}

func (m *Memory) ListAllSessions(_ context.Context, assignmentID string) ([]billing.SessionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.SessionRecord
	for k, s := range m.t.sessions {
		if k.AssignmentID == assignmentID {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, bySessionNumber)
	return out, nil
}

func bySessionNumber(x, y billing.SessionRecord) int {
	if c := cmp.Compare(x.ComponentName, y.ComponentName); c != 0 {
		return c
	}
	return cmp.Compare(x.Number, y.Number)
}

// =============================================================================
// COMMISSIONS - Append-only ledger + running balances
// =============================================================================

func (m *Memory) AppendCommission(_ context.Context, e billing.CommissionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.commissions = append(m.t.commissions, e)
	return nil
}

func (m *Memory) ListCommissionsByStaff(_ context.Context, staffID string) ([]billing.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.CommissionEntry
	for _, e := range m.t.commissions {
		if e.StaffID == staffID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) ListCommissionsBySession(_ context.Context, sessionID string) ([]billing.CommissionEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []billing.CommissionEntry
	for _, e := range m.t.commissions {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *Memory) AdjustStaffCommission(_ context.Context, staffID string, delta decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.t.staff[staffID]
	if !ok {
		return &billing.NotFoundError{Entity: "staff", ID: staffID}
	}
	s.CommissionBalance = s.CommissionBalance.Add(delta)
	m.t.staff[staffID] = s
	return nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (m *Memory) SaveTreatment(_ context.Context, t billing.Treatment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.Components = slices.Clone(t.Components)
	m.t.treatments[t.ID] = t
	return nil
}

func (m *Memory) GetTreatment(_ context.Context, id string) (*billing.Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.t.treatments[id]
	if !ok {
		return nil, &billing.NotFoundError{Entity: "treatment", ID: id}
	}
	t.Components = slices.Clone(t.Components)
	return &t, nil
}

func (m *Memory) ListTreatments(_ context.Context) ([]billing.Treatment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]billing.Treatment, 0, len(m.t.treatments))
	for _, t := range m.t.treatments {
		t.Components = slices.Clone(t.Components)
		out = append(out, t)
	}
	slices.SortFunc(out, func(x, y billing.Treatment) int { return cmp.Compare(x.Name, y.Name) })
	return out, nil
}

func (m *Memory) SaveStaff(_ context.Context, s billing.Staff) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.staff[s.ID] = s
	return nil
}

func (m *Memory) GetStaff(_ context.Context, id string) (*billing.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.t.staff[id]
	if !ok {
		return nil, &billing.NotFoundError{Entity: "staff", ID: id}
	}
	return &s, nil
}

func (m *Memory) FindStaffByName(_ context.Context, name string) (*billing.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.t.staff {
		if s.Name == name {
			return &s, nil
		}
	}
	return nil, &billing.NotFoundError{Entity: "staff", ID: name}
}

func (m *Memory) ListStaff(_ context.Context) ([]billing.Staff, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]billing.Staff, 0, len(m.t.staff))
	for _, s := range m.t.staff {
		out = append(out, s)
	}
	slices.SortFunc(out, func(x, y billing.Staff) int { return cmp.Compare(x.Name, y.Name) })
	return out, nil
}

// =============================================================================
// REVENUE
// =============================================================================

func (m *Memory) AppendRevenue(_ context.Context, e billing.RevenueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.t.revenue = append(m.t.revenue, e)
	return nil
}

func (m *Memory) ListRevenue(_ context.Context) ([]billing.RevenueEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.t.revenue), nil
}

// =============================================================================
// SNAPSHOT / ROLLBACK
// =============================================================================

func (t *tables) clone() *tables {
	c := &tables{
		assignments: make(map[string]billing.TreatmentAssignment, len(t.assignments)),
		components:  make(map[componentKey]billing.PromotionComponent, len(t.components)),
		sessions:    make(map[sessionKey]billing.SessionRecord, len(t.sessions)),
		staff:       make(map[string]billing.Staff, len(t.staff)),
		treatments:  make(map[string]billing.Treatment, len(t.treatments)),
		commissions: slices.Clone(t.commissions),
		revenue:     slices.Clone(t.revenue),
	}
	for k, v := range t.assignments {
		c.assignments[k] = v
	}
	for k, v := range t.components {
		c.components[k] = v
	}
	for k, v := range t.sessions {
		c.sessions[k] = v
	}
	for k, v := range t.staff {
		c.staff[k] = v
	}
	for k, v := range t.treatments {
		c.treatments[k] = v
	}
	return c
}

// nopLocker is used by the transactional view; the parent lock is already held.
type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}
