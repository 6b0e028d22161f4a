package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"

	"github.com/xkilldash9x/rollcall/api/schemas"
	"github.com/xkilldash9x/rollcall/internal/browser/simulated"
	"github.com/xkilldash9x/rollcall/internal/config"
	"github.com/xkilldash9x/rollcall/internal/credentials"
	"github.com/xkilldash9x/rollcall/internal/mocks"
	"github.com/xkilldash9x/rollcall/internal/observability"
)

const pw = "rahasia"

func testConfig() *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.Site.LoginURL = "https://campus.test/login"
	cfg.Wait = config.WaitConfig{Timeout: 300 * time.Millisecond, PollInterval: 5 * time.Millisecond, ReadyTimeout: 300 * time.Millisecond}
	cfg.Batch.SettleDelay = 0
	return cfg
}

func cred(id string) credentials.Credential {
	return credentials.Credential{Identifier: id, Secret: credentials.NewSecret(pw)}
}

var submit = schemas.TargetSpec{MatchText: "Basis Data", Action: schemas.ActionSubmitAttendance}

// memRecorder keeps everything it is given.
type memRecorder struct {
	mu       sync.Mutex
	outcomes []schemas.SessionOutcome
	summary  *schemas.Summary
	err      error
}

func (m *memRecorder) RecordOutcome(_ context.Context, o schemas.SessionOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, o)
	return m.err
}

func (m *memRecorder) RecordSummary(_ context.Context, s schemas.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary = &s
	return m.err
}

func fixedRunID() string { return "run-1" }

var ignoreTimes = cmpopts.IgnoreFields(schemas.SessionOutcome{}, "StartedAt", "EndedAt", "ErrorDetail")

func TestRun_SkipsBlankCredentialAndStartsClean(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Batch.Logout = false
	site := simulated.NewSite(simulated.WithAccount("a@x", pw), simulated.WithAccount("c@x", pw))
	audit := &bytes.Buffer{}
	rec := &memRecorder{}
	o := NewOrchestrator(site, cfg, observability.NewAuditLog(zapcore.AddSync(audit)), zaptest.NewLogger(t),
		WithRecorders(rec), WithSource("users.csv"), WithRunIDGenerator(fixedRunID))

	creds := []credentials.Credential{cred("a@x"), {Identifier: "", Secret: credentials.NewSecret(pw), Row: 3}, cred("c@x")}
	outcomes, summary, err := o.Run(context.Background(), creds, submit)
	require.NoError(t, err)

	want := []schemas.SessionOutcome{
		{RunID: "run-1", Index: 0, CredentialIdentifier: "a@x", Action: submit.Action, Status: schemas.StatusSucceeded, StepReached: schemas.StepDone, Succeeded: true},
		{RunID: "run-1", Index: 1, Action: submit.Action, Status: schemas.StatusSkipped, StepReached: schemas.StepStart, ErrorKind: schemas.ErrorKindInvalidCredential},
		{RunID: "run-1", Index: 2, CredentialIdentifier: "c@x", Action: submit.Action, Status: schemas.StatusSucceeded, StepReached: schemas.StepDone, Succeeded: true},
	}
	if diff := cmp.Diff(want, outcomes, ignoreTimes); diff != "" {
		t.Errorf("outcomes mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "skipped: invalid credential", outcomes[1].ErrorDetail)

	// One tab, reset before each attempted login, never carrying the previous user.
	pages := site.Pages()
	require.Len(t, pages, 1)
	assert.Equal(t, 2, pages[0].Resets())
	logins := site.Logins()
	require.Len(t, logins, 2)
	for _, l := range logins {
		assert.True(t, l.Succeeded)
		assert.False(t, l.HadSession)
	}

	assert.Equal(t, schemas.Summary{RunID: "run-1", Action: submit.Action, Total: 3, Succeeded: 2, Skipped: 1,
		StartedAt: summary.StartedAt, EndedAt: summary.EndedAt}, summary)
	assert.Len(t, rec.outcomes, 3)
	require.NotNil(t, rec.summary)
	assert.Equal(t, summary, *rec.summary)

	log := audit.String()
	assert.Contains(t, log, "=== Run started: SUBMIT_ATTENDANCE ===")
	assert.Contains(t, log, "Target: Basis Data")
	assert.Contains(t, log, "Source: users.csv (3 credentials)")
	assert.Contains(t, log, "Skipping invalid credential at row 3.")
	assert.Contains(t, log, "All credentials processed. 2 succeeded, 0 failed, 1 skipped.")
	assert.NotContains(t, log, pw)
}

func TestRun_FailureDoesNotStopBatch(t *testing.T) {
	t.Parallel()
	site := simulated.NewSite(simulated.WithAccount("a@x", pw), simulated.WithAccount("c@x", pw))
	o := NewOrchestrator(site, testConfig(), nil, zaptest.NewLogger(t))

	creds := []credentials.Credential{cred("a@x"), {Identifier: "b@x", Secret: credentials.NewSecret("nope")}, cred("c@x")}
	outcomes, summary, err := o.Run(context.Background(), creds, submit)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, schemas.StatusSucceeded, outcomes[0].Status)
	assert.Equal(t, schemas.StatusFailed, outcomes[1].Status)
	assert.Equal(t, schemas.ErrorKindAuthenticationFailed, outcomes[1].ErrorKind)
	assert.Equal(t, schemas.StatusSucceeded, outcomes[2].Status)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, site.Events(), 2)
}

func TestRun_Cancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Wait.ReadyTimeout = 10 * time.Second
	site := simulated.NewSite(simulated.WithAccount("a@x", pw), simulated.WithAccount("b@x", pw), simulated.WithRowDelay(time.Hour))
	o := NewOrchestrator(site, cfg, nil, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	outcomes, summary, err := o.Run(ctx, []credentials.Credential{cred("a@x"), cred("b@x"), cred("c@x")}, submit)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, schemas.StatusFailed, outcomes[0].Status)
	assert.Equal(t, schemas.ErrorKindCancelled, outcomes[0].ErrorKind)
	assert.Equal(t, schemas.StepAwaitingReady, outcomes[0].StepReached)
	for _, o := range outcomes[1:] {
		assert.Equal(t, schemas.StatusSkipped, o.Status)
		assert.Equal(t, schemas.ErrorKindCancelled, o.ErrorKind)
		assert.Equal(t, "skipped: run cancelled", o.ErrorDetail)
	}
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 2, summary.Skipped)
}

func TestRun_ParallelPreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	cfg := testConfig()
	cfg.Batch.Workers = 3
	opts := []simulated.Option{}
	var creds []credentials.Credential
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("user%d@x", i)
		if i != 4 {
			opts = append(opts, simulated.WithAccount(id, pw))
		}
		creds = append(creds, cred(id))
	}
	site := simulated.NewSite(opts...)
	rec := &memRecorder{}
	o := NewOrchestrator(site, cfg, nil, zaptest.NewLogger(t), WithRecorders(rec), WithRunIDGenerator(fixedRunID))

	outcomes, summary, err := o.Run(context.Background(), creds, submit)
	require.NoError(t, err)
	require.Len(t, outcomes, len(creds))
	assert.Len(t, site.Pages(), 3)

	for i, out := range outcomes {
		assert.Equal(t, i, out.Index)
		assert.Equal(t, creds[i].Identifier, out.CredentialIdentifier)
		if i == 4 {
			assert.Equal(t, schemas.ErrorKindAuthenticationFailed, out.ErrorKind)
		} else {
			assert.True(t, out.Succeeded, "credential %d", i)
		}
	}
	assert.Equal(t, 6, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, rec.outcomes, len(creds))
}

func TestRun_WorkersCappedByCredentials(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Batch.Workers = 8
	site := simulated.NewSite(simulated.WithAccount("a@x", pw))
	o := NewOrchestrator(site, cfg, nil, nil)

	outcomes, _, err := o.Run(context.Background(), []credentials.Credential{cred("a@x")}, submit)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Len(t, site.Pages(), 1)
}

func TestRun_EmptyBatch(t *testing.T) {
	t.Parallel()
	site := simulated.NewSite()
	o := NewOrchestrator(site, testConfig(), nil, nil)
	outcomes, summary, err := o.Run(context.Background(), nil, submit)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
	assert.Equal(t, 0, summary.Total)
	assert.Empty(t, site.Pages())
}

func TestRun_BrowserFailureIsFatal(t *testing.T) {
	t.Parallel()
	provider := new(mocks.MockProvider)
	provider.On("NewPage", mock.Anything).Return(nil, errors.New("chrome not found")).Once()
	rec := new(mocks.MockRecorder)

	o := NewOrchestrator(provider, testConfig(), nil, nil, WithRecorders(rec))
	_, _, err := o.Run(context.Background(), []credentials.Credential{cred("a@x")}, submit)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chrome not found")
	provider.AssertExpectations(t)
	rec.AssertNotCalled(t, "RecordSummary", mock.Anything, mock.Anything)
}

func TestRun_RecorderErrorsAreLogged(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.WarnLevel)
	site := simulated.NewSite(simulated.WithAccount("a@x", pw))
	rec := new(mocks.MockRecorder)
	rec.On("RecordOutcome", mock.Anything, mock.MatchedBy(func(o schemas.SessionOutcome) bool {
		return o.Index == 0 && o.RunID == "run-1"
	})).Return(errors.New("disk full")).Once()
	rec.On("RecordSummary", mock.Anything, mock.AnythingOfType("schemas.Summary")).Return(errors.New("disk full")).Once()
	o := NewOrchestrator(site, testConfig(), nil, zap.New(core), WithRecorders(rec), WithRunIDGenerator(fixedRunID))

	outcomes, _, err := o.Run(context.Background(), []credentials.Credential{cred("a@x")}, submit)
	require.NoError(t, err)
	assert.True(t, outcomes[0].Succeeded)
	rec.AssertExpectations(t)
	assert.Equal(t, 1, logs.FilterMessage("Failed to record outcome.").Len())
	assert.Equal(t, 1, logs.FilterMessage("Failed to record run summary.").Len())
}

func TestRun_SettleDelayAfterAttempts(t *testing.T) {
	t.Parallel()
	cfg := testConfig()
	cfg.Batch.SettleDelay = 60 * time.Millisecond
	site := simulated.NewSite(simulated.WithAccount("a@x", pw), simulated.WithAccount("b@x", pw))
	o := NewOrchestrator(site, cfg, nil, nil)

	start := time.Now()
	_, _, err := o.Run(context.Background(), []credentials.Credential{cred("a@x"), {}, cred("b@x")}, submit)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 120*time.Millisecond)
}

func TestHoldOpen_ReturnsWhenCancelled(t *testing.T) {
	t.Parallel()
	audit := &bytes.Buffer{}
	o := NewOrchestrator(simulated.NewSite(), testConfig(), observability.NewAuditLog(zapcore.AddSync(audit)), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	o.HoldOpen(ctx)
	assert.Contains(t, audit.String(), "Browser left open for manual inspection.")
}

// Every credential gets exactly one outcome at its own index, whatever the mix of valid, blank and
// rejected credentials and however many workers run.
func TestRun_OutcomeCountAndOrderProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 6).Draw(rt, "n")
		workers := rapid.IntRange(1, 3).Draw(rt, "workers")

		cfg := testConfig()
		cfg.Batch.Workers = workers
		cfg.Batch.Logout = rapid.Bool().Draw(rt, "logout")

		var opts []simulated.Option
		creds := make([]credentials.Credential, n)
		wantSkipped := make([]bool, n)
		for i := range creds {
			id := fmt.Sprintf("u%d", i)
			switch rapid.IntRange(0, 2).Draw(rt, fmt.Sprintf("kind%d", i)) {
			case 0:
				opts = append(opts, simulated.WithAccount(id, pw))
				creds[i] = cred(id)
			case 1:
				creds[i] = credentials.Credential{Identifier: id}
				wantSkipped[i] = true
			default:
				creds[i] = cred(id)
			}
		}

		o := NewOrchestrator(simulated.NewSite(opts...), cfg, nil, nil)
		outcomes, summary, err := o.Run(context.Background(), creds, submit)
		if err != nil {
			rt.Fatalf("unexpected error: %v", err)
		}
		if len(outcomes) != n {
			rt.Fatalf("got %d outcomes for %d credentials", len(outcomes), n)
		}
		for i, out := range outcomes {
			if out.Index != i || out.CredentialIdentifier != creds[i].Identifier {
				rt.Fatalf("outcome %d is for %q at index %d", i, out.CredentialIdentifier, out.Index)
			}
			if (out.Status == schemas.StatusSkipped) != wantSkipped[i] {
				rt.Fatalf("outcome %d status %s, want skipped=%t", i, out.Status, wantSkipped[i])
			}
		}
		if summary.Succeeded+summary.Failed+summary.Skipped != n {
			rt.Fatalf("summary does not add up: %+v", summary)
		}
	})
}
