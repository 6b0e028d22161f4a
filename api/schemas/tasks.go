package schemas

import (
	"fmt"
	"strings"
)

// -- Task Schemas --

// ActionKind defines which downstream action is performed once the target row is found.
type ActionKind string

const (
	ActionOpenSession       ActionKind = "open_session"
	ActionSubmitAttendance  ActionKind = "submit_attendance"
	ActionApproveAttendance ActionKind = "approve_attendance"
)

// ActionKinds lists every supported action in a stable order.
var ActionKinds = []ActionKind{ActionOpenSession, ActionSubmitAttendance, ActionApproveAttendance}

func (a ActionKind) String() string { return string(a) }

// Valid reports whether a names a supported action.
func (a ActionKind) Valid() bool {
	for _, k := range ActionKinds {
		if a == k {
			return true
		}
	}
	return false
}

// ParseActionKind accepts the canonical names as well as the dashed forms used on the command line.
func ParseActionKind(s string) (ActionKind, error) {
	k := ActionKind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("unknown action %q (expected one of %v)", s, ActionKinds)
	}
	return k, nil
}

// TargetSpec identifies the row to act on and the action to perform. It does not change during a run.
type TargetSpec struct {
	MatchText string     `json:"match_text" yaml:"match_text"`
	Action    ActionKind `json:"action" yaml:"action"`
}

// Validate checks that the target can be matched and acted upon.
func (t TargetSpec) Validate() error {
	if strings.TrimSpace(t.MatchText) == "" {
		return fmt.Errorf("target match text must not be empty")
	}
	if !t.Action.Valid() {
		return fmt.Errorf("target action %q is not supported", t.Action)
	}
	return nil
}
