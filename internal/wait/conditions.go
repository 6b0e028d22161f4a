package wait

import (
	"context"
	"errors"
	"fmt"

	"github.com/xkilldash9x/rollcall/internal/browser"
)

// Present holds once an element matching sel exists in the DOM.
func Present(sel browser.Selector) Condition {
	return Condition{
		Description: "presence of " + sel.String(),
		Check: func(ctx context.Context, page browser.Page) (browser.Element, error) {
			return page.FindElement(ctx, sel)
		},
	}
}

// Visible holds once an element matching sel exists and is rendered.
func Visible(sel browser.Selector) Condition {
	return Condition{
		Description: "visibility of " + sel.String(),
		Check: func(ctx context.Context, page browser.Page) (browser.Element, error) {
			el, err := page.FindElement(ctx, sel)
			if err != nil {
				return browser.Element{}, err
			}
			st, err := page.State(ctx, el)
			if err != nil {
				return browser.Element{}, err
			}
			if !st.Visible {
				return browser.Element{}, fmt.Errorf("%w: %s is hidden", ErrNotReady, sel)
			}
			return el, nil
		},
	}
}

// Interactable holds once an element matching sel is present, visible, enabled and not covered.
func Interactable(sel browser.Selector) Condition {
	return Condition{
		Description: "interactability of " + sel.String(),
		Check: func(ctx context.Context, page browser.Page) (browser.Element, error) {
			el, err := page.FindElement(ctx, sel)
			if err != nil {
				return browser.Element{}, err
			}
			return el, interactable(ctx, page, el)
		},
	}
}

// InteractableElement holds once an already located element becomes interactable. A stale handle
// never recovers, so staleness ends the wait at once for the caller to re-locate.
func InteractableElement(el browser.Element, label string) Condition {
	return Condition{
		Description: "interactability of " + label,
		Check: func(ctx context.Context, page browser.Page) (browser.Element, error) {
			err := interactable(ctx, page, el)
			if errors.Is(err, browser.ErrStaleElement) {
				return browser.Element{}, Abort(err)
			}
			return el, err
		},
	}
}

// Clickable holds once an element matching sel is present, visible and enabled. Unlike Interactable it
// ignores overlays, which the click itself detects.
func Clickable(sel browser.Selector) Condition {
	return Condition{
		Description: "clickability of " + sel.String(),
		Check: func(ctx context.Context, page browser.Page) (browser.Element, error) {
			el, err := page.FindElement(ctx, sel)
			if err != nil {
				return browser.Element{}, err
			}
			return el, clickable(ctx, page, el)
		},
	}
}

// ClickableElement is Clickable for an already located element. Staleness ends the wait at once.
func ClickableElement(el browser.Element, label string) Condition {
	return Condition{
		Description: "clickability of " + label,
		Check: func(ctx context.Context, page browser.Page) (browser.Element, error) {
			err := clickable(ctx, page, el)
			if errors.Is(err, browser.ErrStaleElement) {
				return browser.Element{}, Abort(err)
			}
			return el, err
		},
	}
}

// RowsPopulated holds once rows matches at least one element. It exists because a table shell is
// rendered before its rows; presence of the table says nothing about its content.
func RowsPopulated(rows browser.Selector) Condition {
	return Condition{
		Description: "at least one row matching " + rows.String(),
		Check: func(ctx context.Context, page browser.Page) (browser.Element, error) {
			els, err := page.FindElements(ctx, rows)
			if err != nil {
				return browser.Element{}, err
			}
			if len(els) == 0 {
				return browser.Element{}, fmt.Errorf("%w: table has no rows yet", ErrNotReady)
			}
			return els[0], nil
		},
	}
}

func interactable(ctx context.Context, page browser.Page, el browser.Element) error {
	st, err := page.State(ctx, el)
	if err != nil {
		return err
	}
	if !st.Interactable() {
		return fmt.Errorf("%w: %s is visible=%t enabled=%t obstructed=%t", ErrNotReady, el, st.Visible, st.Enabled, st.Obstructed)
	}
	return nil
}

func clickable(ctx context.Context, page browser.Page, el browser.Element) error {
	st, err := page.State(ctx, el)
	if err != nil {
		return err
	}
	if !st.Clickable() {
		return fmt.Errorf("%w: %s is visible=%t enabled=%t", ErrNotReady, el, st.Visible, st.Enabled)
	}
	return nil
}
