// Package metrics exposes Prometheus counters for session reconciliation.
// Recorder implements billing.Observer so the billing core stays free of
// any metrics dependency.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/spa-admin/session-engine/billing"
)

// ─── Session Writes ─────────────────────────────────────────────────────────

// SessionWrites counts successful session writes by operation (register|modify).
var SessionWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spa",
	Name:      "session_writes_total",
	Help:      "Total committed session writes by operation.",
}, []string{"op"})

// SessionWriteErrors counts failed session writes by error kind.
var SessionWriteErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spa",
	Name:      "session_write_errors_total",
	Help:      "Total rejected or failed session writes by error kind.",
}, []string{"kind"})

// SessionTransitions counts completion deltas (none|complete|uncomplete).
var SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spa",
	Name:      "session_transitions_total",
	Help:      "Total completion-state transitions computed per session write.",
}, []string{"delta"})

// ─── Commission ─────────────────────────────────────────────────────────────

// CommissionAccrued sums commission credited to staff balances.
var CommissionAccrued = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "spa",
	Name:      "commission_accrued_total",
	Help:      "Total commission credited to staff balances.",
})

// CommissionReversed sums commission taken back on uncomplete edits.
var CommissionReversed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "spa",
	Name:      "commission_reversed_total",
	Help:      "Total commission reversed from staff balances.",
})

// ─── Finalization ───────────────────────────────────────────────────────────

// AssignmentsFinalized counts plain treatments marked inactive.
var AssignmentsFinalized = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "spa",
	Name:      "assignments_finalized_total",
	Help:      "Total treatment assignments finalized.",
})

// ComponentsClosed counts promotion components whose counter reached zero.
var ComponentsClosed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "spa",
	Name:      "components_closed_total",
	Help:      "Total promotion components closed.",
})

// Recorder forwards billing events to the package-level collectors.
type Recorder struct{}

var _ billing.Observer = Recorder{}

func (Recorder) Transition(d billing.Delta) {
	SessionTransitions.WithLabelValues(d.String()).Inc()
}

func (Recorder) CommissionAccrued(amount decimal.Decimal) {
	CommissionAccrued.Add(amount.InexactFloat64())
}

func (Recorder) CommissionReversed(amount decimal.Decimal) {
	CommissionReversed.Add(amount.InexactFloat64())
}

func (Recorder) ComponentClosed(string, string) {
	ComponentsClosed.Inc()
}

func (Recorder) AssignmentFinalized(string) {
	AssignmentsFinalized.Inc()
}

// ObserveWrite records the outcome of one session write.
func ObserveWrite(op string, err error) {
	if err == nil {
		SessionWrites.WithLabelValues(op).Inc()
		return
	}
	SessionWriteErrors.WithLabelValues(ErrorKind(err)).Inc()
}

// ErrorKind maps an error from package billing to a low-cardinality label.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, billing.ErrValidation):
		return "validation"
	case errors.Is(err, billing.ErrNotFound):
		return "not_found"
	case errors.Is(err, billing.ErrNoSessionsRemaining):
		return "exhausted"
	default:
		return "storage"
	}
}
