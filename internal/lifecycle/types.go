package lifecycle

import (
	"time"

	"github.com/fyrsmithlabs/remedyd/internal/datastore"
)

// State is a position in the fix-attempt state machine.
type State string

const (
	// StateProposed is the initial state; no store access has happened.
	StateProposed State = "proposed"
	// StatePreviewed means the fix passed the safety gate and its effect
	// was previewed without mutating anything.
	StatePreviewed State = "previewed"
	// StateApplied means the mutation was executed.
	StateApplied State = "applied"

	// StateVerified is the success terminal: the detection rule found zero
	// violations after apply.
	StateVerified State = "verified"
	// StatePartiallyVerified is a non-success terminal: the mutation ran but
	// violations remain. Not a failure; the caller must inspect it.
	StatePartiallyVerified State = "partially_verified"
	// StateRejected is the terminal for fixes the safety gate refused.
	StateRejected State = "rejected"
	// StateFailed means execution against the data store failed.
	StateFailed State = "failed"
	// StateEscalated is the terminal reached from StateFailed once a ticket
	// has been opened.
	StateEscalated State = "escalated"
)

// Terminal reports whether the state ends an attempt.
func (s State) Terminal() bool {
	switch s {
	case StateVerified, StatePartiallyVerified, StateRejected, StateEscalated:
		return true
	}
	return false
}

// Success reports whether the state is the success terminal.
func (s State) Success() bool {
	return s == StateVerified
}

// Issue describes the data-quality problem an attempt is remediating.
type Issue struct {
	// Summary is a one-line characterization.
	Summary string `json:"summary"`

	// Description is the free-text detail, also used for pattern matching.
	Description string `json:"description"`

	// Priority is inherited by any escalation ticket.
	Priority string `json:"priority"`

	// DetectionSQL is the rule that found the issue: a query template with a
	// {table} placeholder returning one row per violation. Re-run after
	// apply to verify the fix.
	DetectionSQL string `json:"detection_sql"`
}

// Fix is the remediation to attempt.
type Fix struct {
	// FixID identifies the fix, if it came from the knowledge bank.
	FixID string `json:"fix_id,omitempty"`

	// Description is a human-readable summary of the remediation.
	Description string `json:"description"`

	// SQLTemplate is the mutation template with a {table} placeholder.
	SQLTemplate string `json:"sql_template"`
}

// Request carries everything one attempt needs.
type Request struct {
	Issue Issue  `json:"issue"`
	Fix   Fix    `json:"fix"`
	Table string `json:"table"`
}

// Attempt is one execution of a fix against a target table. It lives only
// for the duration of the run; only its terminal outcome is durably recorded
// via the feedback tracker or the ticket log.
type Attempt struct {
	ID    string `json:"id"`
	Table string `json:"table"`
	State State  `json:"state"`

	// Statement is the resolved mutation, set once the gate passes.
	Statement string `json:"statement,omitempty"`

	// PreviewSQL is the row-selecting form of the mutation.
	PreviewSQL string `json:"preview_sql,omitempty"`

	// SampleRows is a capped sample of rows the mutation would touch.
	SampleRows []datastore.Row `json:"sample_rows,omitempty"`

	// EstimatedRows is the true affected-row total from the preview count.
	EstimatedRows int64 `json:"estimated_rows"`

	// AffectedRows is the actual count reported by the mutation.
	AffectedRows int64 `json:"affected_rows"`

	// RemainingViolations is the detection-rule count after apply.
	RemainingViolations int64 `json:"remaining_violations"`

	// Reason explains any non-success terminal state.
	Reason string `json:"reason,omitempty"`

	// TicketID references the escalation ticket, when one was created.
	TicketID string `json:"ticket_id,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}
