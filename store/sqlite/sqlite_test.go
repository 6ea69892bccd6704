package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spa-admin/session-engine/billing"
	"github.com/spa-admin/session-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var march10 = time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func seedPlain(t *testing.T, store *sqlite.Store, sessions int, cost string) (billing.TreatmentAssignment, *billing.Staff) {
	t.Helper()
	ctx := context.Background()
	svc := billing.NewAssignmentService(store)

	staff, err := svc.AddStaff(ctx, "Lucia")
	require.NoError(t, err)
	tr, err := svc.AddTreatment(ctx, billing.Treatment{Name: "Drenaje", Price: dec(cost)})
	require.NoError(t, err)
	d, err := svc.AssignTreatment(ctx, billing.AssignTreatmentInput{
		PatientID:   "p-1",
		PatientName: "Ana Torres",
		TreatmentID: tr.ID,
		Sessions:    sessions,
	})
	require.NoError(t, err)
	return d.Assignment, staff
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_TreatmentWithComponents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	promo := billing.Treatment{
		ID:          "t-1",
		Name:        "Paquete Relax",
		Price:       dec("180.50"),
		IsPromotion: true,
		Components: []billing.PromotionDetail{
			{Name: "Masaje", Sessions: 2, Price: dec("50")},
			{Name: "Facial", Sessions: 1, Price: dec("80.50")},
		},
	}
	require.NoError(t, store.SaveTreatment(ctx, promo))

	got, err := store.GetTreatment(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, "Paquete Relax", got.Name)
	assert.True(t, got.Price.Equal(dec("180.50")))
	require.Len(t, got.Components, 2)
	assert.Equal(t, "Masaje", got.Components[0].Name, "catalog order is kept")
	assert.True(t, got.Components[1].Price.Equal(dec("80.50")))

	// Saving again replaces the component list.
	promo.Components = promo.Components[:1]
	require.NoError(t, store.SaveTreatment(ctx, promo))
	got, err = store.GetTreatment(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, got.Components, 1)

	_, err = store.GetTreatment(ctx, "missing")
	assert.True(t, billing.IsNotFound(err))
}

func TestStore_SessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, staff := seedPlain(t, store, 3, "300")

	rec := billing.SessionRecord{
		ID:                "x-1",
		AssignmentID:      a.ID,
		Number:            1,
		Date:              march10,
		StaffID:           staff.ID,
		Amount:            dec("100"),
		Payment:           billing.PaymentPaid,
		Performed:         true,
		Status:            billing.SessionPerformed,
		Percentage:        dec("12.5"),
		NextAppointment:   march10.AddDate(0, 0, 7),
		CommissionAccrued: true,
		CommissionAmount:  dec("12.5"),
		CommissionStaffID: staff.ID,
	}
	require.NoError(t, store.InsertSession(ctx, rec))

	got, err := store.GetSession(ctx, a.ID, "", 1)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, march10, got.Date)
	assert.Equal(t, rec.NextAppointment, got.NextAppointment)
	assert.True(t, got.Performed)
	assert.True(t, got.CommissionAccrued)
	assert.True(t, got.Percentage.Equal(dec("12.5")))
	assert.Equal(t, billing.PaymentPaid, got.Payment)

	n, err := store.NextSessionNumber(ctx, a.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = store.InsertSession(ctx, rec)
	assert.True(t, errors.Is(err, sqlite.ErrDuplicateSession))

	err = store.UpdateSession(ctx, billing.SessionRecord{AssignmentID: a.ID, Number: 9})
	assert.True(t, billing.IsNotFound(err))
}

func TestStore_AdjustStaffCommissionIsExact(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	_, staff := seedPlain(t, store, 1, "100")

	for range 10 {
		require.NoError(t, store.AdjustStaffCommission(ctx, staff.ID, dec("0.1")))
	}
	require.NoError(t, store.AdjustStaffCommission(ctx, staff.ID, dec("-0.3")))

	got, err := store.GetStaff(ctx, staff.ID)
	require.NoError(t, err)
	assert.True(t, got.CommissionBalance.Equal(dec("0.7")), "got %s", got.CommissionBalance)

	err = store.AdjustStaffCommission(ctx, "missing", dec("1"))
	assert.True(t, billing.IsNotFound(err))
}

func TestStore_CorruptDateIsReported(t *testing.T) {
	// GIVEN: a session whose date column was damaged outside the store
	// WHEN: the session is read back directly, through the service and the auditor
	// THEN: every path fails with ErrCorruptDate instead of a zero date

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "spa.db")
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	a, staff := seedPlain(t, store, 3, "300")
	_, err = billing.NewSessionService(store, nil).RegisterSession(ctx, billing.RegisterSessionInput{
		AssignmentID: a.ID,
		Date:         march10,
		StaffID:      staff.ID,
		Payment:      billing.PaymentPending,
	})
	require.NoError(t, err)

	raw, err := sqlx.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.ExecContext(ctx, `UPDATE sessions SET date = '10/03/2025'`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	_, err = store.GetSession(ctx, a.ID, "", 1)
	assert.ErrorIs(t, err, sqlite.ErrCorruptDate)
	assert.ErrorContains(t, err, "sessions.date")

	_, err = billing.NewSessionService(store, nil).ListSessions(ctx, a.ID, "")
	assert.ErrorIs(t, err, sqlite.ErrCorruptDate)
	assert.ErrorIs(t, err, billing.ErrStorage)

	_, err = (&billing.Auditor{Store: store}).Check(ctx, a.ID)
	assert.ErrorIs(t, err, sqlite.ErrCorruptDate)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	a, staff := seedPlain(t, store, 3, "300")
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(st billing.Store) error {
		changed := a
		changed.SessionsRemaining = 0
		require.NoError(t, st.SaveAssignment(ctx, changed))
		require.NoError(t, st.AdjustStaffCommission(ctx, staff.ID, dec("10")))
		require.NoError(t, st.AppendCommission(ctx, billing.CommissionEntry{
			ID: "c-1", StaffID: staff.ID, AssignmentID: a.ID, SessionID: "x", Amount: dec("10"), Date: march10,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.GetAssignment(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SessionsRemaining)

	s, err := store.GetStaff(ctx, staff.ID)
	require.NoError(t, err)
	assert.True(t, s.CommissionBalance.IsZero())

	entries, err := store.ListCommissionsByStaff(ctx, staff.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// FULL PIPELINE ON SQLITE
// =============================================================================

func TestStore_SessionLifecycle(t *testing.T) {
	// GIVEN: a 3-session plain treatment on SQLite
	// WHEN: session #1 is completed, uncompleted, and all three are completed
	// THEN: counters, balances, ledger and revenue match the in-memory behavior

	ctx := context.Background()
	store := newTestStore(t)
	a, staff := seedPlain(t, store, 3, "300")
	svc := billing.NewSessionService(store, nil)

	register := func() *billing.SessionResult {
		res, err := svc.RegisterSession(ctx, billing.RegisterSessionInput{
			AssignmentID: a.ID,
			Date:         march10,
			StaffID:      staff.ID,
			Percentage:   dec("10"),
			Payment:      billing.PaymentPaid,
			Performed:    true,
		})
		require.NoError(t, err)
		return res
	}

	res := register()
	assert.Equal(t, 2, res.Assignment.SessionsRemaining)

	performed := false
	res, err := svc.ModifySession(ctx, billing.ModifySessionInput{AssignmentID: a.ID, Number: 1, Performed: &performed})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Assignment.SessionsRemaining)

	performed = true
	_, err = svc.ModifySession(ctx, billing.ModifySessionInput{AssignmentID: a.ID, Number: 1, Performed: &performed})
	require.NoError(t, err)
	register()
	res = register()

	assert.Equal(t, billing.StatusInactive, res.Assignment.Status)
	assert.Equal(t, 0, res.Assignment.SessionsRemaining)
	assert.True(t, res.Assignment.PendingBalance.IsZero())

	s, err := store.GetStaff(ctx, staff.ID)
	require.NoError(t, err)
	assert.True(t, s.CommissionBalance.Equal(dec("30")))

	entries, err := store.ListCommissionsByStaff(ctx, staff.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "three live accruals plus one reversed")
	assert.Equal(t, "Comisión por sesión 1", entries[0].Note)

	rev, err := store.ListRevenue(ctx)
	require.NoError(t, err)
	require.Len(t, rev, 1)
	assert.True(t, rev[0].Income.Equal(dec("300")))

	_, err = svc.RegisterSession(ctx, billing.RegisterSessionInput{
		AssignmentID: a.ID, Date: march10, StaffID: staff.ID, Payment: billing.PaymentPaid,
	})
	assert.ErrorIs(t, err, billing.ErrNoSessionsRemaining)

	ds, err := (&billing.Auditor{Store: store}).CheckAll(ctx)
	require.NoError(t, err)
	assert.False(t, billing.HasDrift(ds), "%v", ds)
}

func TestStore_PromotionComponents(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	svc := billing.NewAssignmentService(store)

	staff, err := svc.AddStaff(ctx, "Lucia")
	require.NoError(t, err)
	tr, err := svc.AddTreatment(ctx, billing.Treatment{
		Name:        "Paquete Relax",
		Price:       dec("180"),
		IsPromotion: true,
		Components: []billing.PromotionDetail{
			{Name: "Masaje", Sessions: 2, Price: dec("50")},
			{Name: "Facial", Sessions: 1, Price: dec("80")},
		},
	})
	require.NoError(t, err)
	d, err := svc.AssignTreatment(ctx, billing.AssignTreatmentInput{PatientID: "p-2", TreatmentID: tr.ID})
	require.NoError(t, err)

	sessions := billing.NewSessionService(store, nil)
	res, err := sessions.RegisterSession(ctx, billing.RegisterSessionInput{
		AssignmentID: d.Assignment.ID,
		Component:    "Facial",
		Date:         march10,
		StaffName:    "Lucia",
		Percentage:   dec("10"),
		Payment:      billing.PaymentPaid,
		Performed:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, staff.ID, res.Session.StaffID)
	assert.True(t, res.Component.Closed())

	comps, err := store.ListComponents(ctx, d.Assignment.ID)
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "Facial", comps[0].Name)
	assert.Equal(t, 0, comps[0].SessionsRemaining)
	assert.Equal(t, 2, comps[1].SessionsRemaining)
}
