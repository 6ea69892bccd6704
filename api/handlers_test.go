/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Catalog, staff and assignment creation
- Session register/modify through the router, including finalization
- Error status mapping (400/404/409)
- Health and metrics endpoints
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spa-admin/session-engine/billing/store"
	"github.com/spa-admin/session-engine/logger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t   *testing.T
	srv *httptest.Server
}

func newTestServer(t *testing.T, metricsOn bool) *testServer {
	t.Helper()
	h := NewHandler(store.NewMemory(), nil, logger.New(io.Discard, logger.LevelError))
	srv := httptest.NewServer(NewRouter(h, RouterOptions{Metrics: metricsOn}))
	t.Cleanup(srv.Close)
	return &testServer{t: t, srv: srv}
}

// do sends body as JSON and decodes the response into out when non-nil.
func (s *testServer) do(method, path string, body any, out any) int {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(s.t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.srv.Client().Do(req)
	require.NoError(s.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(s.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(dec(want)), "want %s, got %s", want, got)
}

// seed creates one staff member and one treatment, returning their IDs.
func (s *testServer) seed(req CreateTreatmentRequest) (staffID, treatmentID string) {
	s.t.Helper()
	var staff StaffDTO
	require.Equal(s.t, http.StatusCreated, s.do("POST", "/api/staff", CreateStaffRequest{Name: "Lucia"}, &staff))
	var tr TreatmentDTO
	require.Equal(s.t, http.StatusCreated, s.do("POST", "/api/treatments", req, &tr))
	return staff.ID, tr.ID
}

func (s *testServer) assign(treatmentID string, sessions int) AssignmentDTO {
	s.t.Helper()
	var a AssignmentDTO
	code := s.do("POST", "/api/assignments", CreateAssignmentRequest{
		PatientID:   "p-1",
		PatientName: "Ana Torres",
		TreatmentID: treatmentID,
		Sessions:    sessions,
	}, &a)
	require.Equal(s.t, http.StatusCreated, code)
	return a
}

// =============================================================================
// PLAIN TREATMENT LIFECYCLE
// =============================================================================

func TestAPI_PlainTreatmentLifecycle(t *testing.T) {
	// GIVEN: a 3-session treatment costing 300
	// WHEN: three performed and paid sessions are registered, with one
	//       toggled back to pending and forward again in between
	// THEN: the treatment finalizes, revenue is posted, and staff earns 30

	s := newTestServer(t, false)
	staffID, trID := s.seed(CreateTreatmentRequest{Name: "Drenaje", Price: dec("300")})
	a := s.assign(trID, 3)
	assert.Equal(t, "ACTIVO", a.Status)
	assertDecimal(t, "300", a.PendingBalance)

	path := "/api/assignments/" + a.ID + "/sessions"
	register := RegisterSessionRequest{
		Date:       "2025-03-10",
		StaffID:    staffID,
		Percentage: dec("10"),
		Payment:    "PAGADO",
		Performed:  true,
	}

	var res SessionResultDTO
	require.Equal(t, http.StatusCreated, s.do("POST", path, register, &res))
	assert.Equal(t, 1, res.Session.Number)
	assert.Equal(t, "complete", res.Delta)
	assert.Equal(t, "2025-03-17", res.Session.NextAppointment)
	assertDecimal(t, "100", res.Session.Amount)
	assertDecimal(t, "10", res.StaffDelta)
	assert.Equal(t, 2, res.Assignment.SessionsRemaining)

	pending := "Pendiente"
	require.Equal(t, http.StatusOK, s.do("PUT", path+"/1", ModifySessionRequest{Payment: &pending}, &res))
	assert.Equal(t, "uncomplete", res.Delta)
	assert.Equal(t, 3, res.Assignment.SessionsRemaining)
	assertDecimal(t, "-10", res.StaffDelta)

	paid := "PAGADO"
	require.Equal(t, http.StatusOK, s.do("PUT", path+"/1", ModifySessionRequest{Payment: &paid}, &res))
	require.Equal(t, http.StatusCreated, s.do("POST", path, register, &res))
	require.Equal(t, http.StatusCreated, s.do("POST", path, register, &res))

	assert.True(t, res.AssignmentFinalized)
	assert.Equal(t, "INACTIVO", res.Assignment.Status)
	assertDecimal(t, "0", res.Assignment.PendingBalance)
	require.NotNil(t, res.Revenue)
	assertDecimal(t, "300", res.Revenue.Income)
	assert.Equal(t, "Tratamiento completado - Drenaje - Ana Torres", res.Revenue.Detail)

	// A fourth session is refused.
	var errResp ErrorResponse
	assert.Equal(t, http.StatusConflict, s.do("POST", path, register, &errResp))
	assert.NotEmpty(t, errResp.Details)

	var sessions []SessionDTO
	require.Equal(t, http.StatusOK, s.do("GET", path, nil, &sessions))
	assert.Len(t, sessions, 3)

	var progress ProgressDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/assignments/"+a.ID+"/progress", nil, &progress))
	assert.Equal(t, ProgressDTO{Total: 3, Completed: 3, Remaining: 0}, progress)

	var commissions StaffCommissionsDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/staff/"+staffID+"/commissions", nil, &commissions))
	assertDecimal(t, "30", commissions.Staff.CommissionBalance)
	assert.Len(t, commissions.Entries, 4, "ledger keeps the reversed accrual")
	assert.Equal(t, "Comisión por sesión 1", commissions.Entries[0].Note)

	var revenue []RevenueEntryDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/reports/revenue", nil, &revenue))
	assert.Len(t, revenue, 1)

	var audit AuditDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/assignments/"+a.ID+"/audit", nil, &audit))
	assert.False(t, audit.Drift)
}

// =============================================================================
// PROMOTIONS
// =============================================================================

func TestAPI_PromotionComponentScope(t *testing.T) {
	s := newTestServer(t, false)
	_, trID := s.seed(CreateTreatmentRequest{
		Name:        "Paquete Relax",
		Price:       dec("180"),
		IsPromotion: true,
		Components: []PromotionDetailDTO{
			{Name: "Masaje", Sessions: 2, Price: dec("50")},
			{Name: "Facial", Sessions: 1, Price: dec("80")},
		},
	})
	a := s.assign(trID, 0)
	require.Len(t, a.Components, 2)
	assert.Equal(t, 3, a.SessionsAssigned)

	path := "/api/assignments/" + a.ID + "/sessions"

	// Promotions need a component.
	var errResp ErrorResponse
	code := s.do("POST", path, RegisterSessionRequest{Date: "2025-03-10", StaffName: "Lucia", Payment: "PAGADO"}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)

	var res SessionResultDTO
	code = s.do("POST", path, RegisterSessionRequest{
		Component:  "Facial",
		Date:       "2025-03-10",
		StaffName:  "Lucia",
		Percentage: dec("10"),
		Payment:    "PAGADO",
		Performed:  true,
	}, &res)
	require.Equal(t, http.StatusCreated, code)
	require.NotNil(t, res.Component)
	assert.True(t, res.Component.Closed)
	assert.True(t, res.ComponentClosed)
	assertDecimal(t, "80", res.Session.Amount)
	assertDecimal(t, "8", res.StaffDelta)

	performed := false
	code = s.do("PUT", path+"/1?component=Facial", ModifySessionRequest{Performed: &performed}, &res)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, res.Component.SessionsRemaining)

	var sessions []SessionDTO
	require.Equal(t, http.StatusOK, s.do("GET", path+"?component=Facial", nil, &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "Pendiente", sessions[0].Status)

	require.Equal(t, http.StatusOK, s.do("GET", path+"?component=Masaje", nil, &sessions))
	assert.Empty(t, sessions)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	s := newTestServer(t, false)
	staffID, trID := s.seed(CreateTreatmentRequest{Name: "Drenaje", Price: dec("300")})
	a := s.assign(trID, 3)
	path := "/api/assignments/" + a.ID + "/sessions"

	valid := func() RegisterSessionRequest {
		return RegisterSessionRequest{Date: "2025-03-10", StaffID: staffID, Percentage: dec("10"), Payment: "PAGADO", Performed: true}
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"percentage over 100", "POST", path, func() any { r := valid(); r.Percentage = dec("101"); return r }(), http.StatusBadRequest},
		{"bad date", "POST", path, func() any { r := valid(); r.Date = "10/03/2025"; return r }(), http.StatusBadRequest},
		{"no staff", "POST", path, func() any { r := valid(); r.StaffID = ""; return r }(), http.StatusBadRequest},
		{"unknown staff name", "POST", path, func() any { r := valid(); r.StaffID = ""; r.StaffName = "Nadie"; return r }(), http.StatusBadRequest},
		{"unknown payment", "POST", path, func() any { r := valid(); r.Payment = "MAYBE"; return r }(), http.StatusBadRequest},
		{"unknown assignment", "POST", "/api/assignments/missing/sessions", valid(), http.StatusNotFound},
		{"unknown session", "PUT", path + "/7", ModifySessionRequest{}, http.StatusNotFound},
		{"bad session number", "PUT", path + "/abc", ModifySessionRequest{}, http.StatusBadRequest},
		{"component on plain", "GET", path + "?component=Facial", nil, http.StatusBadRequest},
		{"unknown staff commissions", "GET", "/api/staff/missing/commissions", nil, http.StatusNotFound},
		{"unknown treatment", "POST", "/api/assignments", CreateAssignmentRequest{PatientID: "p", TreatmentID: "missing", Sessions: 1}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			code := s.do(tt.method, tt.path, tt.body, &errResp)
			assert.Equal(t, tt.want, code)
			assert.NotEmpty(t, errResp.Error)
		})
	}

	// Nothing above touched the counter.
	var got AssignmentDTO
	require.Equal(t, http.StatusOK, s.do("GET", "/api/assignments/"+a.ID, nil, &got))
	assert.Equal(t, 3, got.SessionsRemaining)
}

func TestAPI_InvalidBody(t *testing.T) {
	s := newTestServer(t, false)

	resp, err := s.srv.Client().Post(s.srv.URL+"/api/staff", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// OPERATIONAL ENDPOINTS
// =============================================================================

func TestAPI_HealthAndMetrics(t *testing.T) {
	for _, on := range []bool{true, false} {
		t.Run(fmt.Sprintf("metrics=%v", on), func(t *testing.T) {
			s := newTestServer(t, on)

			var health map[string]string
			require.Equal(t, http.StatusOK, s.do("GET", "/health", nil, &health))
			assert.Equal(t, "ok", health["status"])

			resp, err := s.srv.Client().Get(s.srv.URL + "/metrics")
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()

			if on {
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Contains(t, string(body), "go_goroutines")
			} else {
				assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			}
		})
	}
}
