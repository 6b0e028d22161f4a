package schemas

import "time"

// Step names a state of the per-credential session state machine.
type Step string

const (
	StepStart            Step = "start"
	StepAuthenticating   Step = "authenticating"
	StepNavigating       Step = "navigating"
	StepAwaitingReady    Step = "awaiting_ready"
	StepLocatingTarget   Step = "locating_target"
	StepPerformingAction Step = "performing_action"
	StepLoggingOut       Step = "logging_out"
	StepDone             Step = "done"
)

func (s Step) String() string { return string(s) }

// ErrorKind classifies why a session did not complete.
type ErrorKind string

const (
	ErrorKindNone                 ErrorKind = ""
	ErrorKindTimeout              ErrorKind = "timeout"
	ErrorKindElementNotFound      ErrorKind = "element_not_found"
	ErrorKindStaleElement         ErrorKind = "stale_element"
	ErrorKindAuthenticationFailed ErrorKind = "authentication_failed"
	ErrorKindContentNotReady      ErrorKind = "content_not_ready"
	ErrorKindActionRejected       ErrorKind = "action_rejected"
	ErrorKindCancelled            ErrorKind = "cancelled"
	ErrorKindInvalidCredential    ErrorKind = "invalid_credential"
	ErrorKindInternal             ErrorKind = "internal"
)

func (k ErrorKind) String() string { return string(k) }

// OutcomeStatus is the coarse result of one batch item.
type OutcomeStatus string

const (
	StatusSucceeded OutcomeStatus = "succeeded"
	StatusFailed    OutcomeStatus = "failed"
	StatusSkipped   OutcomeStatus = "skipped"
)

func (s OutcomeStatus) String() string { return string(s) }

// SessionOutcome records what happened for one credential. Outcomes are created once and never mutated
// after they have been handed to a recorder.
type SessionOutcome struct {
	RunID                string        `json:"run_id"`
	Index                int           `json:"index"`
	CredentialIdentifier string        `json:"credential_identifier"`
	Metadata             string        `json:"metadata,omitempty"`
	Action               ActionKind    `json:"action"`
	Status               OutcomeStatus `json:"status"`
	StepReached          Step          `json:"step_reached"`
	Succeeded            bool          `json:"succeeded"`
	ErrorKind            ErrorKind     `json:"error_kind,omitempty"`
	ErrorDetail          string        `json:"error_detail,omitempty"`
	Warnings             []string      `json:"warnings,omitempty"`
	StartedAt            time.Time     `json:"started_at"`
	EndedAt              time.Time     `json:"ended_at"`
}

// Duration is the wall time the session took.
func (o SessionOutcome) Duration() time.Duration {
	if o.EndedAt.Before(o.StartedAt) {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt)
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID     string     `json:"run_id"`
	Action    ActionKind `json:"action"`
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Skipped   int        `json:"skipped"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// Summarize counts outcomes by status.
func Summarize(runID string, action ActionKind, outcomes []SessionOutcome) Summary {
	s := Summary{RunID: runID, Action: action, Total: len(outcomes)}
	for _, o := range outcomes {
		switch o.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusSkipped:
			s.Skipped++
		default:
			s.Failed++
		}
		if !o.StartedAt.IsZero() && (s.StartedAt.IsZero() || o.StartedAt.Before(s.StartedAt)) {
			s.StartedAt = o.StartedAt
		}
		if o.EndedAt.After(s.EndedAt) {
			s.EndedAt = o.EndedAt
		}
	}
	return s
}
