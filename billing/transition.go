package billing

// =============================================================================
// COMPLETION STATE MACHINE
// =============================================================================

// SessionState is the pair a session's completion depends on.
type SessionState struct {
	Performed bool
	Paid      bool
}

// Completed is true when the session is performed AND paid.
func (s SessionState) Completed() bool { return s.Performed && s.Paid }

// Delta is the outcome of comparing a session's completion before and after a write.
type Delta int

const (
	// DeltaNone: completed -> completed, or not completed -> not completed.
	DeltaNone Delta = iota
	// DeltaComplete: the session becomes completed.
	DeltaComplete
	// DeltaUncomplete: a completed session is edited back to pending/unperformed.
	DeltaUncomplete
)

func (d Delta) String() string {
	switch d {
	case DeltaComplete:
		return "complete"
	case DeltaUncomplete:
		return "uncomplete"
	default:
		return "none"
	}
}

// CompletionDelta is the single transition rule shared by every write path.
// Counters and commission move only on DeltaComplete/DeltaUncomplete, no
// matter how many unrelated fields change in the same write.
func CompletionDelta(prior, next SessionState) Delta {
	switch was, is := prior.Completed(), next.Completed(); {
	case !was && is:
		return DeltaComplete
	case was && !is:
		return DeltaUncomplete
	default:
		return DeltaNone
	}
}
