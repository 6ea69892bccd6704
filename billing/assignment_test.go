package billing_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spa-admin/session-engine/billing"
)

func TestAssignTreatment_Plain(t *testing.T) {
	f := newFixture(t)
	tr, err := f.assignments.AddTreatment(f.ctx, billing.Treatment{Name: "Limpieza", Price: dec("250")})
	require.NoError(t, err)

	cost := dec("270")
	d, err := f.assignments.AssignTreatment(f.ctx, billing.AssignTreatmentInput{
		PatientID:   "p-1",
		TreatmentID: tr.ID,
		Sessions:    3,
		TotalCost:   &cost,
		TotalPaid:   dec("70"),
	})
	require.NoError(t, err)

	a := d.Assignment
	assert.Empty(t, d.Components)
	assert.Equal(t, billing.StatusActive, a.Status)
	assert.Equal(t, 3, a.SessionsRemaining)
	assertDecimal(t, "270", a.TotalCost)
	assertDecimal(t, "200", a.PendingBalance)
	assertDecimal(t, "90", a.SessionAmount())

	got, err := f.assignments.GetAssignment(f.ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.Assignment.ID)
}

func TestAssignTreatment_PromotionCopiesComponents(t *testing.T) {
	f := newFixture(t)
	a := f.promotion(t)

	d, err := f.assignments.GetAssignment(f.ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, d.Components, 2)

	// Components are listed by name.
	assert.Equal(t, "Facial", d.Components[0].Name)
	assert.Equal(t, 1, d.Components[0].SessionsRemaining)
	assert.Equal(t, "Masaje", d.Components[1].Name)
	assert.Equal(t, 2, d.Components[1].SessionsAssigned)
	assertDecimal(t, "50", d.Components[1].Price)
}

func TestAssignTreatment_Validation(t *testing.T) {
	f := newFixture(t)
	tr, err := f.assignments.AddTreatment(f.ctx, billing.Treatment{Name: "Limpieza", Price: dec("100")})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input billing.AssignTreatmentInput
	}{
		{"missing patient", billing.AssignTreatmentInput{TreatmentID: tr.ID, Sessions: 1}},
		{"no sessions", billing.AssignTreatmentInput{PatientID: "p", TreatmentID: tr.ID}},
		{"overpaid", billing.AssignTreatmentInput{PatientID: "p", TreatmentID: tr.ID, Sessions: 1, TotalPaid: dec("101")}},
		{"negative paid", billing.AssignTreatmentInput{PatientID: "p", TreatmentID: tr.ID, Sessions: 1, TotalPaid: dec("-1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.assignments.AssignTreatment(f.ctx, tt.input)
			assert.ErrorIs(t, err, billing.ErrValidation)
		})
	}

	_, err = f.assignments.AssignTreatment(f.ctx, billing.AssignTreatmentInput{PatientID: "p", TreatmentID: "missing", Sessions: 1})
	assert.True(t, billing.IsNotFound(err))

	all, err := f.assignments.ListAssignments(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAddTreatment_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.assignments.AddTreatment(f.ctx, billing.Treatment{Name: ""})
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = f.assignments.AddTreatment(f.ctx, billing.Treatment{Name: "Vacia", IsPromotion: true})
	assert.ErrorIs(t, err, billing.ErrValidation)

	_, err = f.assignments.AddTreatment(f.ctx, billing.Treatment{
		Name:        "Doble",
		IsPromotion: true,
		Components: []billing.PromotionDetail{
			{Name: "Masaje", Sessions: 1, Price: dec("10")},
			{Name: "Masaje", Sessions: 1, Price: dec("10")},
		},
	})
	assert.ErrorIs(t, err, billing.ErrValidation)
}

func TestStaffCommissions(t *testing.T) {
	f := newFixture(t)
	a := f.plain(t, 3, "300")
	f.register(t, a.ID, "", true, billing.PaymentPaid, "10")
	f.register(t, a.ID, "", true, billing.PaymentPaid, "5")

	staff, entries, err := f.assignments.StaffCommissions(f.ctx, f.staff.ID)
	require.NoError(t, err)
	assertDecimal(t, "15", staff.CommissionBalance)
	require.Len(t, entries, 2)
	assertDecimal(t, "15", billing.Total(entries))

	_, _, err = f.assignments.StaffCommissions(f.ctx, "missing")
	assert.True(t, billing.IsNotFound(err))
}
