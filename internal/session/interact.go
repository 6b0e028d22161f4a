package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/api/schemas"
	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/wait"
)

type requeryFunc func(ctx context.Context) (browser.Element, error)

// click scrolls el into view, waits for it to become clickable and clicks it. An overlay is given the
// obstruction grace to go away; if it stays, the natural click is tried anyway. An intercepted click
// is retried exactly once as a dispatched click on the same element; a stale handle is re-queried and
// the fresh element receives the dispatched click. If the fallback fails too the action is rejected.
func (r *run) click(ctx context.Context, el browser.Element, label string, requery requeryFunc) error {
	err := r.page.ScrollIntoView(ctx, el)
	if err == nil {
		_, err = r.waiter.Until(ctx, wait.ClickableElement(el, label))
	}
	if err == nil {
		r.awaitUncovered(ctx, el, label)
		if err = r.page.Click(ctx, el); err == nil {
			return nil
		}
	}

	switch {
	case errors.Is(err, browser.ErrClickIntercepted):
		r.logger.Debug("Click intercepted, dispatching directly.", zap.String("target", label), zap.Error(err))
		if ferr := r.page.DispatchClick(ctx, el); ferr != nil {
			return rejected(label, err, ferr)
		}
		return nil
	case errors.Is(err, browser.ErrStaleElement) && requery != nil:
		r.logger.Debug("Element went stale, re-querying.", zap.String("target", label), zap.Error(err))
		fresh, qerr := requery(ctx)
		if qerr != nil {
			return rejected(label, err, qerr)
		}
		if ferr := r.page.DispatchClick(ctx, fresh); ferr != nil {
			return rejected(label, err, ferr)
		}
		return nil
	default:
		return fmt.Errorf("failed to click %s: %w", label, err)
	}
}

// awaitUncovered gives an overlay on el the obstruction grace to disappear. It never fails: a covered
// element is clicked regardless and the interception is handled by the caller.
func (r *run) awaitUncovered(ctx context.Context, el browser.Element, label string) {
	if r.grace <= 0 {
		return
	}
	if _, err := r.waiter.Until(ctx, wait.InteractableElement(el, label), wait.WithTimeout(r.grace)); err != nil {
		r.logger.Debug("Element still covered, clicking anyway.", zap.String("target", label), zap.Error(err))
	}
}

func rejected(label string, first, fallback error) error {
	return failure(schemas.ErrorKindActionRejected,
		fmt.Errorf("click on %s failed (%v) and the dispatched fallback failed: %w", label, first, fallback))
}

// clickSelector waits for sel to become clickable and clicks it.
func (r *run) clickSelector(ctx context.Context, sel browser.Selector, label string) error {
	el, err := r.waiter.Until(ctx, wait.Clickable(sel))
	if err != nil {
		return fmt.Errorf("%s not clickable: %w", label, err)
	}
	requery := func(ctx context.Context) (browser.Element, error) { return r.page.FindElement(ctx, sel) }
	return r.click(ctx, el, label, requery)
}

// fill waits for sel to become interactable and replaces its value with text. Error messages name the
// field, never the text.
func (r *run) fill(ctx context.Context, sel browser.Selector, text, label string) error {
	for attempt := 0; ; attempt++ {
		el, err := r.waiter.Until(ctx, wait.Interactable(sel))
		if err != nil {
			return fmt.Errorf("%s not ready: %w", label, err)
		}
		err = r.page.TypeText(ctx, el, text)
		if err == nil {
			return nil
		}
		if attempt == 0 && errors.Is(err, browser.ErrStaleElement) {
			continue
		}
		return fmt.Errorf("failed to type into %s: %w", label, err)
	}
}

// ensureToggle clicks the toggle only when its state differs from desired.
func (r *run) ensureToggle(ctx context.Context, sel browser.Selector, desired bool) error {
	el, err := r.waiter.Until(ctx, wait.Clickable(sel))
	if err != nil {
		return fmt.Errorf("toggle not ready: %w", err)
	}
	selected, err := r.page.IsSelected(ctx, el)
	if err != nil {
		return fmt.Errorf("failed to read toggle state: %w", err)
	}
	if selected == desired {
		r.logger.Debug("Toggle already in desired state.", zap.Bool("selected", selected))
		return nil
	}
	requery := func(ctx context.Context) (browser.Element, error) { return r.page.FindElement(ctx, sel) }
	if err := r.click(ctx, el, "toggle", requery); err != nil {
		return err
	}
	r.audit.Recordf("Set toggle to %t.", desired)
	return nil
}

// rowButton returns the first configured row button candidate present in the located row. A stale
// row is located again once.
func (r *run) rowButton(ctx context.Context) (browser.Element, error) {
	for attempt := 0; ; attempt++ {
		el, err := r.findInRow(ctx)
		if attempt == 0 && errors.Is(err, browser.ErrStaleElement) {
			if rerr := r.relocateRow(ctx); rerr != nil {
				return browser.Element{}, rerr
			}
			continue
		}
		return el, err
	}
}

func (r *run) findInRow(ctx context.Context) (browser.Element, error) {
	for _, raw := range r.action.RowButtons {
		els, err := r.page.FindElementsIn(ctx, r.row, browser.ParseSelector(raw))
		if err != nil {
			return browser.Element{}, err
		}
		if len(els) > 0 {
			return els[0], nil
		}
	}
	return browser.Element{}, fmt.Errorf("%w: none of %d row button candidates matched", browser.ErrNotFound, len(r.action.RowButtons))
}

func (r *run) relocateRow(ctx context.Context) error {
	el, err := r.page.FindElement(ctx, RowSelector(r.site, r.match))
	if err != nil {
		return fmt.Errorf("failed to locate row again: %w", err)
	}
	r.row = el
	return nil
}

func (r *run) requeryRowButton(ctx context.Context) (browser.Element, error) {
	if err := r.relocateRow(ctx); err != nil {
		return browser.Element{}, err
	}
	return r.findInRow(ctx)
}

// dumpMarkers writes the attributes of every diagnostic marker in the row to the audit log, to show
// what the row offered instead of the expected button.
func (r *run) dumpMarkers(ctx context.Context) {
	if r.action.DiagnosticMarkers == "" {
		return
	}
	markers, err := r.page.FindElementsIn(ctx, r.row, browser.ParseSelector(r.action.DiagnosticMarkers))
	if err != nil {
		r.logger.Debug("Could not list row markers.", zap.Error(err))
		return
	}
	if len(markers) == 0 {
		r.audit.Record("No markers found in this row.")
		return
	}
	r.audit.Recordf("Found %d marker(s) in the row:", len(markers))
	for i, m := range markers {
		attrs, err := r.page.Attributes(ctx, m)
		if err != nil {
			continue
		}
		r.audit.Recordf("   %d. <i %s>", i+1, formatAttrs(attrs))
	}
}

func formatAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, attrs[k])
	}
	return strings.Join(parts, " ")
}
