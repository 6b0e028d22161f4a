// Package browser defines the contract the automation engine uses to drive one browser tab.
//
// Implementations live in subpackages: cdp drives Chrome over the DevTools protocol and simulated
// serves HTML fixtures for tests. Callers only ever see Element handles and the sentinel errors
// below; whether an element exists is always an explicit result, never an assumption.
package browser

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no element matched the selector.
	ErrNotFound = errors.New("element not found")
	// ErrStaleElement means the element belongs to a document that has since navigated or re-rendered.
	ErrStaleElement = errors.New("stale element reference")
	// ErrClickIntercepted means hit-testing at the element's center found a different element on top.
	ErrClickIntercepted = errors.New("click intercepted by another element")
)

// Element is an opaque handle to a DOM node. It is only valid for the document generation it was
// found in; using it after navigation yields ErrStaleElement.
type Element struct {
	ID         string
	Generation uint64
}

// IsZero reports whether e refers to nothing.
func (e Element) IsZero() bool { return e.ID == "" }

func (e Element) String() string { return fmt.Sprintf("element(%s@%d)", e.ID, e.Generation) }

// ElementState is the interactability snapshot of an element.
type ElementState struct {
	Visible    bool
	Enabled    bool
	Obstructed bool
}

// Interactable reports whether a click or text entry would reach the element.
func (s ElementState) Interactable() bool {
	return s.Visible && s.Enabled && !s.Obstructed
}

// Clickable reports whether the element is rendered and enabled, whether or not something covers it.
func (s ElementState) Clickable() bool {
	return s.Visible && s.Enabled
}

// Page is the browser control handle for a single tab. It is exclusively owned by one session at a
// time and is not safe for concurrent use.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// URL returns the address of the current document.
	URL(ctx context.Context) (string, error)

	// FindElement returns the first match in document order or ErrNotFound.
	FindElement(ctx context.Context, sel Selector) (Element, error)
	// FindElements returns all matches in document order; no match is an empty slice, not an error.
	FindElements(ctx context.Context, sel Selector) ([]Element, error)
	// FindElementsIn evaluates sel relative to scope. XPath selectors should start with ".".
	FindElementsIn(ctx context.Context, scope Element, sel Selector) ([]Element, error)

	Text(ctx context.Context, el Element) (string, error)
	Attributes(ctx context.Context, el Element) (map[string]string, error)
	State(ctx context.Context, el Element) (ElementState, error)
	IsSelected(ctx context.Context, el Element) (bool, error)

	ScrollIntoView(ctx context.Context, el Element) error
	// Click performs a natural pointer click at the element's center.
	Click(ctx context.Context, el Element) error
	// DispatchClick invokes the element's click handler directly, bypassing hit-testing.
	DispatchClick(ctx context.Context, el Element) error
	// TypeText clears the element's current value and types text into it.
	TypeText(ctx context.Context, el Element, text string) error

	// ResetSession clears cookies and storage so the next login starts from a clean state.
	ResetSession(ctx context.Context) error
}

// Provider hands out pages. Each page is an independently owned tab.
type Provider interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
}

// IsLookupMiss reports whether err means "the element is not (or no longer) there", the two cases
// a poll treats as "not yet".
func IsLookupMiss(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleElement)
}
