package billing

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ASSIGNMENT SERVICE - Purchases, catalog and read-only queries
// =============================================================================

// AssignmentService creates assignments and serves the catalog and report
// queries the presentation layer needs. It never moves session counters.
type AssignmentService struct {
	Store TxStore
	Now   func() time.Time
}

// NewAssignmentService creates a service over store.
func NewAssignmentService(store TxStore) *AssignmentService {
	return &AssignmentService{Store: store, Now: time.Now}
}

// AssignTreatmentInput describes a purchase.
type AssignTreatmentInput struct {
	PatientID   string
	PatientName string
	TreatmentID string

	// Sessions is required for plain treatments and ignored for promotions,
	// whose session counts come from the catalog.
	Sessions int

	// TotalCost overrides the catalog price of a plain treatment.
	TotalCost *decimal.Decimal
	TotalPaid decimal.Decimal
}

// AssignmentDetail is an assignment together with its promotion components.
type AssignmentDetail struct {
	Assignment TreatmentAssignment
	Components []PromotionComponent
}

// AssignTreatment records a patient's purchase. No session is created.
func (s *AssignmentService) AssignTreatment(ctx context.Context, in AssignTreatmentInput) (*AssignmentDetail, error) {
	if strings.TrimSpace(in.PatientID) == "" {
		return nil, invalidf("patient_id", "patient id is required")
	}
	if in.TotalPaid.IsNegative() {
		return nil, invalidf("total_paid", "must not be negative")
	}
	if in.TotalCost != nil && in.TotalCost.IsNegative() {
		return nil, invalidf("total_cost", "must not be negative")
	}

	var out *AssignmentDetail
	err := s.Store.WithTx(ctx, func(st Store) error {
		t, err := st.GetTreatment(ctx, in.TreatmentID)
		if err != nil {
			return err
		}

		a := TreatmentAssignment{
			ID:                uuid.NewString(),
			PatientID:         in.PatientID,
			PatientName:       in.PatientName,
			TreatmentID:       t.ID,
			IsPromotion:       t.IsPromotion,
			TotalCost:         t.Price,
			Status:            StatusActive,
			AccruedCommission: decimal.Zero,
			AssignedAt:        s.now(),
		}

		var comps []PromotionComponent
		if t.IsPromotion {
			if len(t.Components) == 0 {
				return invalidf("treatment_id", "promotion %s has no components", t.ID)
			}
			for _, d := range t.Components {
				comps = append(comps, PromotionComponent{
					AssignmentID:      a.ID,
					Name:              d.Name,
					SessionsAssigned:  d.Sessions,
					SessionsRemaining: d.Sessions,
					Price:             d.Price,
				})
				a.SessionsAssigned += d.Sessions
			}
		} else {
			if in.Sessions <= 0 {
				return invalidf("sessions", "must be greater than zero")
			}
			a.SessionsAssigned = in.Sessions
			if in.TotalCost != nil {
				a.TotalCost = *in.TotalCost
			}
		}
		a.SessionsRemaining = a.SessionsAssigned

		if in.TotalPaid.GreaterThan(a.TotalCost) {
			return invalidf("total_paid", "exceeds total cost %s", a.TotalCost.StringFixed(2))
		}
		a.settle(in.TotalPaid)

		if err := st.CreateAssignment(ctx, a, comps); err != nil {
			return err
		}
		out = &AssignmentDetail{Assignment: a, Components: comps}
		return nil
	})
	if err != nil {
		return nil, classify("assign treatment", err)
	}
	return out, nil
}

// GetAssignment returns an assignment with its components.
func (s *AssignmentService) GetAssignment(ctx context.Context, id string) (*AssignmentDetail, error) {
	a, err := s.Store.GetAssignment(ctx, id)
	if err != nil {
		return nil, classify("get assignment", err)
	}
	comps, err := s.Store.ListComponents(ctx, id)
	if err != nil {
		return nil, classify("get assignment", err)
	}
	return &AssignmentDetail{Assignment: *a, Components: comps}, nil
}

// ListAssignments returns every assignment.
func (s *AssignmentService) ListAssignments(ctx context.Context) ([]TreatmentAssignment, error) {
	out, err := s.Store.ListAssignments(ctx)
	return out, classify("list assignments", err)
}

// =============================================================================
// CATALOG
// =============================================================================

// AddTreatment validates and saves a catalog treatment or promotion.
func (s *AssignmentService) AddTreatment(ctx context.Context, t Treatment) (*Treatment, error) {
	if strings.TrimSpace(t.Name) == "" {
		return nil, invalidf("name", "treatment name is required")
	}
	if t.Price.IsNegative() {
		return nil, invalidf("price", "must not be negative")
	}
	seen := make(map[string]bool, len(t.Components))
	for _, c := range t.Components {
		switch {
		case !t.IsPromotion:
			return nil, invalidf("components", "only promotions have components")
		case strings.TrimSpace(c.Name) == "":
			return nil, invalidf("components", "component name is required")
		case seen[c.Name]:
			return nil, invalidf("components", "duplicate component %q", c.Name)
		case c.Sessions <= 0:
			return nil, invalidf("components", "component %q needs at least one session", c.Name)
		case c.Price.IsNegative():
			return nil, invalidf("components", "component %q has a negative price", c.Name)
		}
		seen[c.Name] = true
	}
	if t.IsPromotion && len(t.Components) == 0 {
		return nil, invalidf("components", "a promotion needs at least one component")
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if err := s.Store.SaveTreatment(ctx, t); err != nil {
		return nil, classify("add treatment", err)
	}
	return &t, nil
}

// ListTreatments returns the catalog.
func (s *AssignmentService) ListTreatments(ctx context.Context) ([]Treatment, error) {
	out, err := s.Store.ListTreatments(ctx)
	return out, classify("list treatments", err)
}

// AddStaff saves a staff member with a zero commission balance.
func (s *AssignmentService) AddStaff(ctx context.Context, name string) (*Staff, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, invalidf("name", "staff name is required")
	}
	st := Staff{ID: uuid.NewString(), Name: name, CommissionBalance: decimal.Zero}
	if err := s.Store.SaveStaff(ctx, st); err != nil {
		return nil, classify("add staff", err)
	}
	return &st, nil
}

// ListStaff returns the staff directory.
func (s *AssignmentService) ListStaff(ctx context.Context) ([]Staff, error) {
	out, err := s.Store.ListStaff(ctx)
	return out, classify("list staff", err)
}

// StaffCommissions returns a staff member's running balance and ledger rows.
func (s *AssignmentService) StaffCommissions(ctx context.Context, staffID string) (*Staff, []CommissionEntry, error) {
	staff, err := s.Store.GetStaff(ctx, staffID)
	if err != nil {
		return nil, nil, classify("staff commissions", err)
	}
	entries, err := NewCommissionLedger(s.Store).EntriesForStaff(ctx, staffID)
	if err != nil {
		return nil, nil, classify("staff commissions", err)
	}
	return staff, entries, nil
}

// Revenue returns the operational report log.
func (s *AssignmentService) Revenue(ctx context.Context) ([]RevenueEntry, error) {
	out, err := s.Store.ListRevenue(ctx)
	return out, classify("revenue", err)
}

func (s *AssignmentService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}
