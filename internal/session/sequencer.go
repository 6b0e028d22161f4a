// Package session drives one credential through the attendance workflow: reset and log in, open the
// attendance page, wait for its table, find the course row, act on it and optionally log out. Each
// step waits on explicit conditions through the wait package and a failure ends the session with a
// classified outcome instead of an error escaping to the caller.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/api/schemas"
	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/config"
	"github.com/xkilldash9x/rollcall/internal/credentials"
	"github.com/xkilldash9x/rollcall/internal/observability"
	"github.com/xkilldash9x/rollcall/internal/wait"
)

// Sequencer runs sessions on a single page. It is not safe for concurrent use; parallel workers each
// get their own Sequencer and page.
type Sequencer struct {
	page       browser.Page
	waiter     *wait.Waiter
	site       config.SiteConfig
	actions    config.ActionsConfig
	ready      time.Duration
	grace      time.Duration
	navTimeout time.Duration
	logout     bool
	audit      *observability.AuditLog
	logger     *zap.Logger
}

// New creates a sequencer bound to page. A nil audit log disables the audit trail.
func New(page browser.Page, cfg *config.Config, audit *observability.AuditLog, logger *zap.Logger) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("session")
	ready := cfg.Wait.ReadyTimeout
	if ready <= 0 {
		ready = 60 * time.Second
	}
	nav := cfg.Browser.NavigationTimeout
	if nav <= 0 {
		nav = 60 * time.Second
	}
	return &Sequencer{
		page:       page,
		waiter:     wait.New(page, cfg.Wait, logger),
		site:       cfg.Site,
		actions:    cfg.Actions,
		ready:      ready,
		grace:      cfg.Wait.ObstructionGrace,
		navTimeout: nav,
		logout:     cfg.Batch.Logout,
		audit:      audit,
		logger:     logger,
	}
}

// Page returns the page this sequencer drives.
func (s *Sequencer) Page() browser.Page { return s.page }

// Run executes the full workflow for cred. The returned outcome is always complete; the error is a
// *StepError when the session failed and nil otherwise.
func (s *Sequencer) Run(ctx context.Context, cred credentials.Credential, target schemas.TargetSpec) (schemas.SessionOutcome, error) {
	r := &run{
		Sequencer: s,
		cred:      cred,
		target:    target,
		match:     normalizeSpace(target.MatchText),
		out: schemas.SessionOutcome{
			CredentialIdentifier: cred.Identifier,
			Metadata:             cred.Metadata,
			Action:               target.Action,
			StepReached:          schemas.StepStart,
			StartedAt:            time.Now(),
		},
	}
	err := r.execute(ctx)
	r.out.EndedAt = time.Now()
	if err != nil {
		var se *StepError
		errors.As(err, &se)
		r.out.Status = schemas.StatusFailed
		r.out.ErrorKind = se.Kind
		r.out.ErrorDetail = se.Err.Error()
		s.audit.Recordf("Error while processing %s at %s: %s", cred.Identifier, se.Step, r.out.ErrorDetail)
		s.logger.Warn("Session failed.",
			zap.String("identifier", cred.Identifier),
			zap.Stringer("step", se.Step),
			zap.Stringer("kind", se.Kind),
			zap.String("url", s.currentURL(ctx)),
			zap.Error(se.Err))
		return r.out, se
	}
	r.out.Status = schemas.StatusSucceeded
	r.out.Succeeded = true
	s.logger.Info("Session completed.",
		zap.String("identifier", cred.Identifier),
		zap.Stringer("action", target.Action),
		zap.Duration("duration", r.out.Duration()))
	return r.out, nil
}

// Recover puts the page back on the login page after a failed session so the next one does not start
// from a half-finished modal. Errors are only logged.
func (s *Sequencer) Recover(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()
	if err := s.page.Navigate(opCtx, s.site.LoginURL); err != nil {
		s.logger.Warn("Recovery navigation failed.", zap.String("url", s.currentURL(ctx)), zap.Error(err))
	}
}

// currentURL returns the address the page is on, or "" when it cannot be read. It still answers after
// ctx is cancelled so failures can say where they happened.
func (s *Sequencer) currentURL(ctx context.Context) string {
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.navTimeout)
	defer cancel()
	u, err := s.page.URL(opCtx)
	if err != nil {
		return ""
	}
	return u
}

// run carries the state of one session.
type run struct {
	*Sequencer
	cred   credentials.Credential
	target schemas.TargetSpec
	match  string
	action config.ActionConfig
	row    browser.Element
	out    schemas.SessionOutcome
}

func (r *run) execute(ctx context.Context) error {
	if err := r.target.Validate(); err != nil {
		return &StepError{Step: schemas.StepStart, Kind: schemas.ErrorKindInternal, Err: err}
	}
	if err := r.cred.Validate(); err != nil {
		return &StepError{Step: schemas.StepStart, Kind: schemas.ErrorKindInvalidCredential, Err: err}
	}
	ac, err := r.actions.For(r.target.Action)
	if err != nil {
		return &StepError{Step: schemas.StepStart, Kind: schemas.ErrorKindInternal, Err: err}
	}
	r.action = ac

	steps := []struct {
		step schemas.Step
		fn   func(context.Context) error
	}{
		{schemas.StepAuthenticating, r.authenticate},
		{schemas.StepNavigating, r.navigate},
		{schemas.StepAwaitingReady, r.awaitReady},
		{schemas.StepLocatingTarget, r.locate},
		{schemas.StepPerformingAction, r.perform},
	}
	for _, st := range steps {
		r.out.StepReached = st.step
		r.logger.Debug("Entering step.", zap.Stringer("step", st.step), zap.String("identifier", r.cred.Identifier))
		if err := st.fn(ctx); err != nil {
			return r.stepError(ctx, st.step, err)
		}
	}

	if r.logout {
		r.out.StepReached = schemas.StepLoggingOut
		r.signOut(ctx)
	}
	r.out.StepReached = schemas.StepDone
	return nil
}

func (r *run) stepError(ctx context.Context, step schemas.Step, err error) *StepError {
	kind := Classify(err)
	if ctx.Err() != nil {
		kind = schemas.ErrorKindCancelled
	}
	var se *StepError
	if errors.As(err, &se) {
		err = se.Err
	}
	return &StepError{Step: step, Kind: kind, Err: err}
}

// -- Steps --

func (r *run) authenticate(ctx context.Context) error {
	if err := r.page.ResetSession(ctx); err != nil {
		return fmt.Errorf("failed to reset browser session: %w", err)
	}
	if err := r.load(ctx, r.site.LoginURL); err != nil {
		return err
	}

	identifier := browser.ParseSelector(r.site.IdentifierField)
	if err := r.fill(ctx, identifier, r.cred.Identifier, "identifier field"); err != nil {
		return err
	}
	if err := r.fill(ctx, browser.ParseSelector(r.site.SecretField), r.cred.Secret.Reveal(), "password field"); err != nil {
		return err
	}
	if err := r.clickSelector(ctx, browser.ParseSelector(r.site.SubmitButton), "login button"); err != nil {
		return err
	}

	conds := []wait.Condition{wait.Present(browser.ParseSelector(r.site.LoggedInMarker))}
	if r.site.LoginErrorMarker != "" {
		// Error markers often ship hidden in the form markup.
		conds = append(conds, wait.Visible(browser.ParseSelector(r.site.LoginErrorMarker)))
	}
	idx, el, err := r.waiter.First(ctx, conds)
	switch {
	case err == nil && idx == 0:
		r.audit.Recordf("Logged in as %s (password=%s)", r.cred.Identifier, r.cred.Secret)
		return nil
	case err == nil:
		msg, _ := r.page.Text(ctx, el)
		if msg == "" {
			msg = "the site displayed a login error"
		}
		return failure(schemas.ErrorKindAuthenticationFailed, fmt.Errorf("login rejected: %s", msg))
	case errors.Is(err, wait.ErrTimeout):
		// Some deployments re-render the form without any message on bad credentials.
		if _, ferr := r.page.FindElement(ctx, identifier); ferr == nil {
			return failure(schemas.ErrorKindAuthenticationFailed, fmt.Errorf("login form still displayed after submitting: %w", err))
		}
		return err
	default:
		return err
	}
}

func (r *run) navigate(ctx context.Context) error {
	target, err := r.site.ResolveURL(r.action.TargetURL)
	if err != nil {
		return err
	}
	if err := r.load(ctx, target); err != nil {
		return err
	}
	if _, err := r.waiter.Until(ctx, wait.Present(browser.ParseSelector(r.site.ContentContainer))); err != nil {
		return fmt.Errorf("content container did not appear: %w", err)
	}
	r.audit.Recordf("Opened %s page.", strings.TrimPrefix(r.action.TargetURL, "/"))
	return nil
}

func (r *run) awaitReady(ctx context.Context) error {
	rows := browser.ParseSelector(r.site.Rows)
	r.audit.Record("Waiting for table rows to be populated...")
	if _, err := r.waiter.Until(ctx, wait.RowsPopulated(rows), wait.WithTimeout(r.ready)); err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			return failure(schemas.ErrorKindContentNotReady, fmt.Errorf("table rows not loaded within %v: %w", r.ready, err))
		}
		return err
	}
	els, err := r.page.FindElements(ctx, rows)
	if err != nil {
		return err
	}
	r.audit.Recordf("Table populated. Rows detected: %d", len(els))
	return nil
}

func (r *run) locate(ctx context.Context) error {
	sel := RowSelector(r.site, r.match)
	el, err := r.waiter.Until(ctx, wait.Present(sel))
	if err != nil {
		if errors.Is(err, wait.ErrTimeout) {
			return failure(schemas.ErrorKindElementNotFound, fmt.Errorf("no row matching %q: %w", r.match, err))
		}
		return err
	}
	r.row = el

	if all, err := r.page.FindElements(ctx, sel); err == nil && len(all) > 1 {
		r.warn(fmt.Sprintf("%d rows match %q; acting on the first", len(all), r.match))
	}
	r.audit.Recordf("Found row for: %s", r.match)
	return nil
}

func (r *run) perform(ctx context.Context) error {
	label := buttonLabel(r.target.Action)
	btn, err := r.rowButton(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrNotFound) {
			r.dumpMarkers(ctx)
			return failure(schemas.ErrorKindElementNotFound, fmt.Errorf("no %s in the row for %q", label, r.match))
		}
		return err
	}
	if err := r.click(ctx, btn, label, r.requeryRowButton); err != nil {
		return err
	}
	r.audit.Recordf("Clicked %s for: %s", label, r.match)

	ac := r.action
	if ac.Modal != "" {
		if _, err := r.waiter.Until(ctx, wait.Visible(browser.ParseSelector(ac.Modal))); err != nil {
			return fmt.Errorf("dialog did not open: %w", err)
		}
		r.audit.Record("Modal opened.")
	}
	if ac.TopicField != "" {
		if err := r.fill(ctx, browser.ParseSelector(ac.TopicField), ac.TopicText, "topic field"); err != nil {
			return err
		}
		r.audit.Recordf("Filled topic with: %s", ac.TopicText)
	}
	if ac.Toggle != "" {
		if err := r.ensureToggle(ctx, browser.ParseSelector(ac.Toggle), ac.ToggleDesired); err != nil {
			return err
		}
	}
	if ac.ConfirmButton != "" {
		if err := r.clickSelector(ctx, browser.ParseSelector(ac.ConfirmButton), "confirm button"); err != nil {
			return err
		}
		r.audit.Record("Confirmed by clicking the dialog's confirm button.")
	}
	if ac.SubmitButton != "" {
		if err := r.clickSelector(ctx, browser.ParseSelector(ac.SubmitButton), "save button"); err != nil {
			return err
		}
		r.audit.Record("Clicked the dialog's save button.")
	}
	r.audit.Recordf("%s completed for %s.", r.target.Action, r.cred.Identifier)
	return nil
}

// signOut is best effort; problems become warnings on an otherwise successful outcome.
func (r *run) signOut(ctx context.Context) {
	if r.site.LogoutLink == "" {
		return
	}
	link := browser.ParseSelector(r.site.LogoutLink)
	el, err := r.waiter.Until(ctx, wait.Present(link))
	if err != nil {
		r.warn(fmt.Sprintf("logout link not found, possibly already logged out: %v", err))
		return
	}
	requery := func(ctx context.Context) (browser.Element, error) { return r.page.FindElement(ctx, link) }
	if err := r.click(ctx, el, "logout link", requery); err != nil {
		r.warn(fmt.Sprintf("logout failed: %v", err))
		return
	}
	if _, err := r.waiter.Until(ctx, wait.Present(browser.ParseSelector(r.site.IdentifierField))); err != nil {
		r.warn(fmt.Sprintf("login form did not reappear after logout: %v", err))
		return
	}
	r.audit.Record("Logged out successfully.")
}

// -- Helpers --

func (r *run) load(ctx context.Context, url string) error {
	opCtx, cancel := context.WithTimeout(ctx, r.navTimeout)
	defer cancel()
	if err := r.page.Navigate(opCtx, url); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w during navigation to %s: %w", wait.ErrCancelled, url, ctx.Err())
		}
		if opCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation to %s exceeded %v: %w", url, r.navTimeout, wait.ErrTimeout)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (r *run) warn(msg string) {
	r.out.Warnings = append(r.out.Warnings, msg)
	r.audit.Recordf("Warning: %s", msg)
	r.logger.Warn("Session warning.", zap.String("identifier", r.cred.Identifier), zap.String("warning", msg))
}

// RowSelector builds the XPath that finds the table row whose label column contains match. The label
// column is compared case-insensitively; the match text is compared as configured.
func RowSelector(site config.SiteConfig, match string) browser.Selector {
	match = normalizeSpace(match)
	text := "normalize-space(.)"
	if site.IgnoreMatchCase {
		text = browser.XPathLower(text)
		match = strings.ToLower(match)
	}
	label := strings.ToLower(normalizeSpace(site.LabelColumn))
	pred := fmt.Sprintf("[td[@data-label and contains(%s, %s) and contains(%s, %s)]]",
		browser.XPathLower("@data-label"), browser.XPathLiteral(label),
		text, browser.XPathLiteral(match))
	return browser.ByXPath(strings.TrimSpace(site.Rows) + pred)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func buttonLabel(kind schemas.ActionKind) string {
	switch kind {
	case schemas.ActionOpenSession:
		return "open button"
	case schemas.ActionSubmitAttendance:
		return "submit button"
	case schemas.ActionApproveAttendance:
		return "attendance button"
	}
	return "row button"
}
