// Package wait implements bounded polling against a live page. Every interaction with the page is
// preceded by a wait here instead of a fixed sleep; each wait either yields an element, fails with a
// *TimeoutError naming the condition, or stops with ErrCancelled when the context ends.
package wait

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/config"
)

var (
	// ErrTimeout is matched by every *TimeoutError.
	ErrTimeout = errors.New("timed out waiting for condition")
	// ErrCancelled is returned when the caller's context ends during a wait.
	ErrCancelled = errors.New("wait cancelled")
	// ErrNotReady is returned by a condition whose target exists but does not yet satisfy it.
	ErrNotReady = errors.New("condition not yet satisfied")
)

// TimeoutError reports a condition that never held within its bound.
type TimeoutError struct {
	Condition string
	Timeout   time.Duration
	// Last is the most recent "not yet" result, kept for diagnostics.
	Last error
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timed out after %v waiting for %s", e.Timeout, e.Condition)
	if e.Last != nil {
		msg += " (last: " + e.Last.Error() + ")"
	}
	return msg
}

// Is makes errors.Is(err, ErrTimeout) hold.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// abortError stops polling immediately with the wrapped error.
type abortError struct{ err error }

func (a *abortError) Error() string { return a.err.Error() }
func (a *abortError) Unwrap() error { return a.err }

// Abort marks err as final so the poll loop returns it instead of retrying.
func Abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// Condition is a predicate evaluated against the page. Check returns the element that satisfies it,
// or ErrNotReady / browser.ErrNotFound / browser.ErrStaleElement to keep polling. Any other error
// ends the wait.
type Condition struct {
	Description string
	Check       func(ctx context.Context, page browser.Page) (browser.Element, error)
}

// Waiter polls conditions against one page.
type Waiter struct {
	page     browser.Page
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// New creates a waiter using the configured default timeout and poll interval.
func New(page browser.Page, cfg config.WaitConfig, logger *zap.Logger) *Waiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Waiter{page: page, timeout: timeout, interval: interval, logger: logger.Named("wait")}
}

// Page returns the page the waiter polls.
func (w *Waiter) Page() browser.Page { return w.page }

// Timeout returns the default bound.
func (w *Waiter) Timeout() time.Duration { return w.timeout }

type settings struct {
	timeout time.Duration
}

// Option adjusts a single wait.
type Option func(*settings)

// WithTimeout overrides the default bound for one wait.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// Until polls cond until it holds.
func (w *Waiter) Until(ctx context.Context, cond Condition, opts ...Option) (browser.Element, error) {
	_, el, err := w.First(ctx, []Condition{cond}, opts...)
	return el, err
}

// First polls all conditions on every tick and returns the index of the first one that holds, checking
// them in the given order. It is used where a page can settle into one of several outcomes.
func (w *Waiter) First(ctx context.Context, conds []Condition, opts ...Option) (int, browser.Element, error) {
	if len(conds) == 0 {
		return -1, browser.Element{}, errors.New("wait: no conditions given")
	}
	s := settings{timeout: w.timeout}
	for _, opt := range opts {
		opt(&s)
	}
	desc := describe(conds)

	waitCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(w.interval), 1)
	var last error

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return -1, browser.Element{}, cancelled(ctx, desc)
			}
			// The next tick would land past the deadline: sit out the remaining time, then look once more.
			if err := sleepUntilDone(ctx, waitCtx); err != nil {
				return -1, browser.Element{}, cancelled(ctx, desc)
			}
			idx, el, err := w.check(ctx, conds)
			if err == nil {
				return idx, el, nil
			}
			if !notYet(err) {
				return -1, browser.Element{}, final(err)
			}
			return -1, browser.Element{}, w.timedOut(desc, s.timeout, err)
		}

		idx, el, err := w.check(waitCtx, conds)
		if err == nil {
			return idx, el, nil
		}
		if ctx.Err() != nil {
			return -1, browser.Element{}, cancelled(ctx, desc)
		}
		if notYet(err) {
			last = err
		}
		if waitCtx.Err() != nil && (notYet(err) || errors.Is(err, context.DeadlineExceeded)) {
			return -1, browser.Element{}, w.timedOut(desc, s.timeout, last)
		}
		if !notYet(err) {
			return -1, browser.Element{}, final(err)
		}
		last = err
	}
}

// check evaluates the conditions in order. The first success wins; otherwise the first hard error is
// returned, or the last "not yet" error when every condition merely has not held yet.
func (w *Waiter) check(ctx context.Context, conds []Condition) (int, browser.Element, error) {
	var pending error
	for i, c := range conds {
		el, err := c.Check(ctx, w.page)
		if err == nil {
			return i, el, nil
		}
		if !notYet(err) {
			return -1, browser.Element{}, err
		}
		pending = err
	}
	return -1, browser.Element{}, pending
}

func (w *Waiter) timedOut(desc string, timeout time.Duration, last error) error {
	w.logger.Debug("Wait timed out.", zap.String("condition", desc), zap.Duration("timeout", timeout), zap.NamedError("last", last))
	return &TimeoutError{Condition: desc, Timeout: timeout, Last: last}
}

func notYet(err error) bool {
	var ae *abortError
	if errors.As(err, &ae) {
		return false
	}
	return errors.Is(err, ErrNotReady) || browser.IsLookupMiss(err)
}

func final(err error) error {
	var ae *abortError
	if errors.As(err, &ae) {
		return ae.err
	}
	return err
}

func cancelled(ctx context.Context, desc string) error {
	return fmt.Errorf("%w while waiting for %s: %w", ErrCancelled, desc, ctx.Err())
}

func sleepUntilDone(parent, waitCtx context.Context) error {
	select {
	case <-waitCtx.Done():
		if parent.Err() != nil {
			return parent.Err()
		}
		return nil
	case <-parent.Done():
		return parent.Err()
	}
}

func describe(conds []Condition) string {
	if len(conds) == 1 {
		return conds[0].Description
	}
	names := make([]string, len(conds))
	for i, c := range conds {
		names[i] = c.Description
	}
	return "any of [" + strings.Join(names, "; ") + "]"
}
