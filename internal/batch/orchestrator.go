// Package batch runs the session workflow over a list of credentials. Credentials are processed in
// input order, one failure never stops the run, and every credential ends up with exactly one
// outcome at its own index, including the ones that were skipped or never started.
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/rollcall/api/schemas"
	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/config"
	"github.com/xkilldash9x/rollcall/internal/credentials"
	"github.com/xkilldash9x/rollcall/internal/observability"
	"github.com/xkilldash9x/rollcall/internal/session"
)

const (
	detailInvalidCredential = "skipped: invalid credential"
	detailCancelled         = "skipped: run cancelled"
	recordTimeout           = 10 * time.Second
)

// Recorder receives outcomes as they are produced and the summary at the end. Implementations must be
// safe for concurrent use.
type Recorder interface {
	RecordOutcome(ctx context.Context, outcome schemas.SessionOutcome) error
	RecordSummary(ctx context.Context, summary schemas.Summary) error
}

// Orchestrator drives a batch of sessions through pages obtained from a provider.
type Orchestrator struct {
	provider  browser.Provider
	cfg       *config.Config
	audit     *observability.AuditLog
	logger    *zap.Logger
	recorders []Recorder
	source    string
	newRunID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorders adds outcome sinks.
func WithRecorders(r ...Recorder) Option {
	return func(o *Orchestrator) { o.recorders = append(o.recorders, r...) }
}

// WithSource names where the credentials came from, for the audit banner.
func WithSource(source string) Option {
	return func(o *Orchestrator) { o.source = source }
}

// WithRunIDGenerator replaces the uuid run id generator.
func WithRunIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) { o.newRunID = fn }
}

// NewOrchestrator creates an orchestrator. A nil audit log disables the audit trail.
func NewOrchestrator(provider browser.Provider, cfg *config.Config, audit *observability.AuditLog, logger *zap.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		provider: provider,
		cfg:      cfg,
		audit:    audit,
		logger:   logger.Named("batch"),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes creds against target. The returned slice always has len(creds) entries in input
// order. The only error is failing to obtain a browser page, which is fatal to the whole run.
func (o *Orchestrator) Run(ctx context.Context, creds []credentials.Credential, target schemas.TargetSpec) ([]schemas.SessionOutcome, schemas.Summary, error) {
	runID := o.newRunID()
	workers := o.cfg.Batch.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(creds) {
		workers = len(creds)
	}

	o.banner(target, len(creds))
	o.logger.Info("Starting batch run.",
		zap.String("run_id", runID),
		zap.Stringer("action", target.Action),
		zap.Int("credentials", len(creds)),
		zap.Int("workers", workers))

	outcomes := make([]schemas.SessionOutcome, len(creds))
	if len(creds) > 0 {
		seqs, err := o.sequencers(ctx, workers)
		if err != nil {
			return nil, schemas.Summary{}, err
		}
		if len(seqs) == 1 {
			o.runSequential(ctx, seqs[0], runID, creds, target, outcomes)
		} else {
			o.runParallel(ctx, seqs, runID, creds, target, outcomes)
		}
	}

	// Anything still empty was never reached.
	for i := range outcomes {
		if outcomes[i].Status == "" {
			outcomes[i] = o.skipped(runID, i, creds[i], target, schemas.ErrorKindCancelled, detailCancelled)
			o.record(ctx, outcomes[i])
		}
	}

	summary := schemas.Summarize(runID, target.Action, outcomes)
	o.audit.Recordf("All credentials processed. %d succeeded, %d failed, %d skipped.", summary.Succeeded, summary.Failed, summary.Skipped)
	o.logger.Info("Batch run finished.",
		zap.String("run_id", runID),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped))

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	for _, r := range o.recorders {
		if err := r.RecordSummary(recordCtx, summary); err != nil {
			o.logger.Warn("Failed to record run summary.", zap.Error(err))
		}
	}
	return outcomes, summary, nil
}

// HoldOpen blocks until ctx ends so the browser can be inspected after a run.
func (o *Orchestrator) HoldOpen(ctx context.Context) {
	o.audit.Record("Browser left open for manual inspection.")
	o.logger.Info("Holding the browser open until interrupted.")
	<-ctx.Done()
}

func (o *Orchestrator) sequencers(ctx context.Context, n int) ([]*session.Sequencer, error) {
	seqs := make([]*session.Sequencer, 0, n)
	for i := 0; i < n; i++ {
		page, err := o.provider.NewPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to obtain browser page: %w", err)
		}
		seqs = append(seqs, session.New(page, o.cfg, o.audit, o.logger))
	}
	return seqs, nil
}

func (o *Orchestrator) runSequential(ctx context.Context, seq *session.Sequencer, runID string, creds []credentials.Credential, target schemas.TargetSpec, outcomes []schemas.SessionOutcome) {
	for i, cred := range creds {
		if ctx.Err() != nil {
			return
		}
		outcomes[i] = o.process(ctx, seq, runID, i, cred, target)
	}
}

// runParallel hands indices to one worker per sequencer. Each worker owns its page exclusively.
func (o *Orchestrator) runParallel(ctx context.Context, seqs []*session.Sequencer, runID string, creds []credentials.Credential, target schemas.TargetSpec, outcomes []schemas.SessionOutcome) {
	jobs := make(chan int)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for i := range creds {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return nil
			}
		}
		return nil
	})
	for _, seq := range seqs {
		seq := seq
		g.Go(func() error {
			for i := range jobs {
				if gctx.Err() != nil {
					continue
				}
				// Each index is written by exactly one worker.
				outcomes[i] = o.process(gctx, seq, runID, i, creds[i], target)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// process runs one credential and, if it was attempted, the settle delay after it.
func (o *Orchestrator) process(ctx context.Context, seq *session.Sequencer, runID string, index int, cred credentials.Credential, target schemas.TargetSpec) schemas.SessionOutcome {
	o.audit.Record(strings.Repeat("=", 60))
	if cred.Metadata != "" {
		o.audit.Recordf("Credential %d: %s (%s)", index+1, cred.Identifier, cred.Metadata)
	} else {
		o.audit.Recordf("Credential %d: %s", index+1, cred.Identifier)
	}

	if err := cred.Validate(); err != nil {
		o.audit.Recordf("Skipping invalid credential at row %d.", rowOf(cred, index))
		o.logger.Warn("Skipping invalid credential.", zap.Int("index", index), zap.Object("credential", cred), zap.Error(err))
		out := o.skipped(runID, index, cred, target, schemas.ErrorKindInvalidCredential, detailInvalidCredential)
		o.record(ctx, out)
		return out
	}

	out, err := seq.Run(ctx, cred, target)
	out.RunID = runID
	out.Index = index
	if err != nil {
		seq.Recover(ctx)
	}
	o.record(ctx, out)
	o.settle(ctx)
	return out
}

func (o *Orchestrator) skipped(runID string, index int, cred credentials.Credential, target schemas.TargetSpec, kind schemas.ErrorKind, detail string) schemas.SessionOutcome {
	now := time.Now()
	return schemas.SessionOutcome{
		RunID:                runID,
		Index:                index,
		CredentialIdentifier: cred.Identifier,
		Metadata:             cred.Metadata,
		Action:               target.Action,
		Status:               schemas.StatusSkipped,
		StepReached:          schemas.StepStart,
		ErrorKind:            kind,
		ErrorDetail:          detail,
		StartedAt:            now,
		EndedAt:              now,
	}
}

func (o *Orchestrator) record(ctx context.Context, out schemas.SessionOutcome) {
	if len(o.recorders) == 0 {
		return
	}
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	for _, r := range o.recorders {
		if err := r.RecordOutcome(recordCtx, out); err != nil {
			o.logger.Warn("Failed to record outcome.", zap.Int("index", out.Index), zap.Error(err))
		}
	}
}

func (o *Orchestrator) settle(ctx context.Context) {
	d := o.cfg.Batch.SettleDelay
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) banner(target schemas.TargetSpec, n int) {
	o.audit.Recordf("=== Run started: %s ===", strings.ToUpper(target.Action.String()))
	o.audit.Recordf("Target: %s", target.MatchText)
	if o.source != "" {
		o.audit.Recordf("Source: %s (%d credentials)", o.source, n)
	}
}

func rowOf(cred credentials.Credential, index int) int {
	if cred.Row > 0 {
		return cred.Row
	}
	return index + 1
}
