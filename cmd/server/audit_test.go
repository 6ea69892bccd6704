package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spa-admin/session-engine/billing"
	"github.com/spa-admin/session-engine/store/sqlite"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestAuditCommand(t *testing.T) {
	// GIVEN: a database with one completed session
	// WHEN: audit runs before and after the stored counter is corrupted
	// THEN: the clean run passes and the corrupted run reports drift

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "spa.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	assignments := billing.NewAssignmentService(store)
	staff, err := assignments.AddStaff(ctx, "Lucia")
	require.NoError(t, err)
	tr, err := assignments.AddTreatment(ctx, billing.Treatment{Name: "Drenaje", Price: decimal.NewFromInt(300)})
	require.NoError(t, err)
	d, err := assignments.AssignTreatment(ctx, billing.AssignTreatmentInput{PatientID: "p-1", TreatmentID: tr.ID, Sessions: 3})
	require.NoError(t, err)
	_, err = billing.NewSessionService(store, nil).RegisterSession(ctx, billing.RegisterSessionInput{
		AssignmentID: d.Assignment.ID,
		Date:         time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC),
		StaffID:      staff.ID,
		Percentage:   decimal.NewFromInt(10),
		Payment:      billing.PaymentPaid,
		Performed:    true,
	})
	require.NoError(t, err)

	out, err := runCLI(t, "audit", "--db", path, "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "no drift")

	a, err := store.GetAssignment(ctx, d.Assignment.ID)
	require.NoError(t, err)
	a.SessionsRemaining = 3
	require.NoError(t, store.SaveAssignment(ctx, *a))
	require.NoError(t, store.Close())

	out, err = runCLI(t, "audit", "--db", path, "--log-level", "error", d.Assignment.ID)
	assert.ErrorIs(t, err, errDrift)
	assert.Contains(t, out, "DRIFT")
	assert.Contains(t, out, string(billing.KindCounter))
}
