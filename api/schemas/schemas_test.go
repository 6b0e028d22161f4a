package schemas_test

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/rollcall/api/schemas"
)

// getTestTime provides a fixed, reproducible timestamp for consistent test results.
func getTestTime(t *testing.T) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, "2025-10-26T10:00:00.123456789Z")
	require.NoError(t, err, "Test setup failed: unable to parse fixed timestamp")
	return ts
}

// TestConstants verifies that constants keep the values used in reports and the database.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant fmt.Stringer
		expected string
	}{
		{"ActionOpenSession", schemas.ActionOpenSession, "open_session"},
		{"ActionSubmitAttendance", schemas.ActionSubmitAttendance, "submit_attendance"},
		{"ActionApproveAttendance", schemas.ActionApproveAttendance, "approve_attendance"},
		{"StepAuthenticating", schemas.StepAuthenticating, "authenticating"},
		{"StepAwaitingReady", schemas.StepAwaitingReady, "awaiting_ready"},
		{"ErrorKindContentNotReady", schemas.ErrorKindContentNotReady, "content_not_ready"},
		{"ErrorKindActionRejected", schemas.ErrorKindActionRejected, "action_rejected"},
		{"StatusSkipped", schemas.StatusSkipped, "skipped"},
	}

	for _, tc := range testCases {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.constant.String())
		})
	}
}

func TestParseActionKind(t *testing.T) {
	t.Parallel()

	k, err := schemas.ParseActionKind("approve-attendance")
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionApproveAttendance, k)

	k, err = schemas.ParseActionKind(" OPEN_SESSION ")
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionOpenSession, k)

	_, err = schemas.ParseActionKind("delete_everything")
	assert.Error(t, err)
}

func TestTargetSpecValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, schemas.TargetSpec{MatchText: "Basis Data", Action: schemas.ActionSubmitAttendance}.Validate())
	assert.Error(t, schemas.TargetSpec{MatchText: "  ", Action: schemas.ActionSubmitAttendance}.Validate())
	assert.Error(t, schemas.TargetSpec{MatchText: "Basis Data", Action: "nope"}.Validate())
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	base := getTestTime(t)

	outcomes := []schemas.SessionOutcome{
		{Status: schemas.StatusSucceeded, StartedAt: base.Add(time.Second), EndedAt: base.Add(3 * time.Second)},
		{Status: schemas.StatusSkipped},
		{Status: schemas.StatusFailed, StartedAt: base, EndedAt: base.Add(5 * time.Second)},
	}

	s := schemas.Summarize("run-1", schemas.ActionOpenSession, outcomes)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, base, s.StartedAt)
	assert.Equal(t, base.Add(5*time.Second), s.EndedAt)
}

func TestSessionOutcomeJSON(t *testing.T) {
	t.Parallel()
	ts := getTestTime(t)

	o := schemas.SessionOutcome{
		RunID:                "run-1",
		CredentialIdentifier: "dosen01",
		Status:               schemas.StatusFailed,
		StepReached:          schemas.StepAuthenticating,
		ErrorKind:            schemas.ErrorKindAuthenticationFailed,
		StartedAt:            ts,
		EndedAt:              ts.Add(2 * time.Second),
	}

	data, err := json.Marshal(o)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "authentication_failed", decoded["error_kind"])
	assert.Equal(t, "authenticating", decoded["step_reached"])
	assert.NotContains(t, decoded, "warnings", "empty warnings are omitted")
	assert.Equal(t, 2*time.Second, o.Duration())
}
