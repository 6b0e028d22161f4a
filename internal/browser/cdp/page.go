package cdp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// objectGroup tags every remote object handed out so they can be released in one call.
const objectGroup = "rollcall"

const (
	defaultActionTimeout     = 10 * time.Second
	defaultNavigationTimeout = 60 * time.Second
)

// Protocol errors that mean the handle outlived its document.
var staleMarkers = []string{
	"Could not find object with given id",
	"Cannot find context with specified id",
	"Execution context was destroyed",
	"No node with given id",
	"Node is detached",
}

// Page is one Chrome tab. Element handles are remote object ids tagged with the navigation generation
// they were obtained in.
type Page struct {
	tabCtx    context.Context
	tabCancel context.CancelFunc
	cfg       config.BrowserConfig
	logger    *zap.Logger

	generation atomic.Uint64
	closeOnce  sync.Once
	closeErr   error
}

var _ browser.Page = (*Page)(nil)

func newPage(tabCtx context.Context, cancel context.CancelFunc, cfg config.BrowserConfig, logger *zap.Logger) *Page {
	p := &Page{
		tabCtx:    tabCtx,
		tabCancel: cancel,
		cfg:       cfg,
		logger:    logger.Named("page"),
	}
	chromedp.ListenTarget(tabCtx, p.onEvent)
	return p
}

func (p *Page) onEvent(ev interface{}) {
	// Only a main frame navigation replaces the document our handles point into.
	if e, ok := ev.(*page.EventFrameNavigated); ok && e.Frame != nil && e.Frame.ParentID == "" {
		p.generation.Add(1)
	}
}

func (p *Page) actionTimeout() time.Duration {
	if p.cfg.ActionTimeout > 0 {
		return p.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

func (p *Page) navigationTimeout() time.Duration {
	if p.cfg.NavigationTimeout > 0 {
		return p.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

// run executes actions on the tab, bounded by ctx and timeout.
func (p *Page) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runCtx, cancelRun := CombineContext(p.tabCtx, opCtx)
	defer cancelRun()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if opCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("browser operation timed out after %v: %w", timeout, context.DeadlineExceeded)
	}
	return classifyError(err)
}

// classifyError maps protocol errors about vanished objects to browser.ErrStaleElement.
func classifyError(err error) error {
	if err == nil || errors.Is(err, browser.ErrStaleElement) {
		return err
	}
	msg := err.Error()
	for _, marker := range staleMarkers {
		if strings.Contains(msg, marker) {
			return fmt.Errorf("%w: %v", browser.ErrStaleElement, err)
		}
	}
	return err
}

func onObject(id runtime.RemoteObjectID) func(*runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
	return func(params *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
		return params.WithObjectID(id).WithObjectGroup(objectGroup)
	}
}

func (p *Page) checkGeneration(el browser.Element) error {
	if el.IsZero() {
		return fmt.Errorf("%w: empty handle", browser.ErrNotFound)
	}
	if el.Generation != p.generation.Load() {
		return browser.ErrStaleElement
	}
	return nil
}

// callElement runs fn with el as `this` and decodes its by-value result into res.
func (p *Page) callElement(ctx context.Context, el browser.Element, fn string, res interface{}, args ...interface{}) error {
	if err := p.checkGeneration(el); err != nil {
		return err
	}
	var raw []byte
	if err := p.run(ctx, p.actionTimeout(), chromedp.CallFunctionOn(fn, &raw, onObject(runtime.RemoteObjectID(el.ID)), args...)); err != nil {
		return err
	}
	return decodeResult(raw, res)
}

// decodeResult treats a null result as a detached element.
func decodeResult(raw []byte, res interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return browser.ErrStaleElement
	}
	if res == nil {
		return nil
	}
	if err := json.Unmarshal(raw, res); err != nil {
		return fmt.Errorf("failed to decode browser result: %w", err)
	}
	return nil
}

// Navigate loads url and waits for the load event. All handles from the previous document become stale.
func (p *Page) Navigate(ctx context.Context, url string) error {
	// Best effort; the old document's objects die with it anyway.
	_ = p.run(ctx, p.actionTimeout(), runtime.ReleaseObjectGroup(objectGroup))
	err := p.run(ctx, p.navigationTimeout(), chromedp.Navigate(url))
	p.generation.Add(1)
	if err != nil {
		return fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	var u string
	if err := p.run(ctx, p.actionTimeout(), chromedp.Location(&u)); err != nil {
		return "", err
	}
	return u, nil
}

func (p *Page) FindElement(ctx context.Context, sel browser.Selector) (browser.Element, error) {
	els, err := p.FindElements(ctx, sel)
	if err != nil {
		return browser.Element{}, err
	}
	if len(els) == 0 {
		return browser.Element{}, fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
	}
	return els[0], nil
}

func (p *Page) FindElements(ctx context.Context, sel browser.Selector) ([]browser.Element, error) {
	gen := p.generation.Load()
	var doc *runtime.RemoteObject
	withGroup := func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithObjectGroup(objectGroup)
	}
	if err := p.run(ctx, p.actionTimeout(), chromedp.Evaluate("document", &doc, withGroup)); err != nil {
		return nil, err
	}
	if doc == nil || doc.ObjectID == "" {
		return nil, fmt.Errorf("document is not available")
	}
	return p.query(ctx, gen, doc.ObjectID, sel)
}

func (p *Page) FindElementsIn(ctx context.Context, scope browser.Element, sel browser.Selector) ([]browser.Element, error) {
	if err := p.checkGeneration(scope); err != nil {
		return nil, err
	}
	return p.query(ctx, scope.Generation, runtime.RemoteObjectID(scope.ID), sel)
}

// query evaluates sel under root and splits the resulting array into one handle per element.
func (p *Page) query(ctx context.Context, gen uint64, root runtime.RemoteObjectID, sel browser.Selector) ([]browser.Element, error) {
	var list *runtime.RemoteObject
	err := p.run(ctx, p.actionTimeout(), chromedp.CallFunctionOn(jsQuery, &list, onObject(root), sel.Kind.String(), sel.Expr))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", sel, err)
	}
	if list == nil || list.ObjectID == "" {
		return nil, browser.ErrStaleElement
	}

	var n int
	if err := p.run(ctx, p.actionTimeout(), chromedp.CallFunctionOn(jsLength, &n, onObject(list.ObjectID))); err != nil {
		return nil, err
	}
	els := make([]browser.Element, 0, n)
	for i := 0; i < n; i++ {
		var item *runtime.RemoteObject
		if err := p.run(ctx, p.actionTimeout(), chromedp.CallFunctionOn(jsItem, &item, onObject(list.ObjectID), i)); err != nil {
			return nil, err
		}
		if item == nil || item.ObjectID == "" {
			continue
		}
		els = append(els, browser.Element{ID: string(item.ObjectID), Generation: gen})
	}
	if p.generation.Load() != gen {
		// The document changed under the query.
		return nil, browser.ErrStaleElement
	}
	return els, nil
}

func (p *Page) Text(ctx context.Context, el browser.Element) (string, error) {
	var s string
	if err := p.callElement(ctx, el, jsText, &s); err != nil {
		return "", err
	}
	return s, nil
}

func (p *Page) Attributes(ctx context.Context, el browser.Element) (map[string]string, error) {
	attrs := map[string]string{}
	if err := p.callElement(ctx, el, jsAttributes, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

type elementState struct {
	Visible    bool `json:"visible"`
	Enabled    bool `json:"enabled"`
	Obstructed bool `json:"obstructed"`
}

func (p *Page) State(ctx context.Context, el browser.Element) (browser.ElementState, error) {
	var st elementState
	if err := p.callElement(ctx, el, jsState, &st); err != nil {
		return browser.ElementState{}, err
	}
	return browser.ElementState{Visible: st.Visible, Enabled: st.Enabled, Obstructed: st.Obstructed}, nil
}

func (p *Page) IsSelected(ctx context.Context, el browser.Element) (bool, error) {
	var selected bool
	if err := p.callElement(ctx, el, jsSelected, &selected); err != nil {
		return false, err
	}
	return selected, nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el browser.Element) error {
	return p.callElement(ctx, el, jsScrollIntoView, nil)
}

type clickPoint struct {
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
	Hit bool    `json:"hit"`
}

// Click presses and releases the left button at the element's center. If hit-testing finds another
// element on top, nothing is dispatched and ErrClickIntercepted is returned.
func (p *Page) Click(ctx context.Context, el browser.Element) error {
	var pt clickPoint
	if err := p.callElement(ctx, el, jsClickPoint, &pt); err != nil {
		return err
	}
	if !pt.Hit {
		return browser.ErrClickIntercepted
	}
	left := input.MouseButton("left")
	err := p.run(ctx, p.actionTimeout(),
		input.DispatchMouseEvent(input.MouseMoved, pt.X, pt.Y),
		input.DispatchMouseEvent(input.MousePressed, pt.X, pt.Y).WithButton(left).WithButtons(1).WithClickCount(1),
		input.DispatchMouseEvent(input.MouseReleased, pt.X, pt.Y).WithButton(left).WithButtons(0).WithClickCount(1),
	)
	if err != nil {
		return fmt.Errorf("failed to dispatch mouse click: %w", err)
	}
	return nil
}

func (p *Page) DispatchClick(ctx context.Context, el browser.Element) error {
	return p.callElement(ctx, el, jsDispatchClick, nil)
}

// TypeText replaces the field's value. Errors never include text, which may be a secret.
func (p *Page) TypeText(ctx context.Context, el browser.Element, text string) error {
	if err := p.callElement(ctx, el, jsClearAndFocus, nil); err != nil {
		return fmt.Errorf("failed to focus field: %w", err)
	}
	if err := p.run(ctx, p.actionTimeout(), input.InsertText(text)); err != nil {
		return fmt.Errorf("failed to insert text: %w", err)
	}
	return p.callElement(ctx, el, jsDispatchChange, nil)
}

// ResetSession clears cookies and web storage for the current origin.
func (p *Page) ResetSession(ctx context.Context) error {
	err := p.run(ctx, p.actionTimeout(),
		network.ClearBrowserCookies(),
		chromedp.Evaluate(jsClearStorage, nil),
	)
	if err != nil {
		return fmt.Errorf("failed to reset browser session: %w", err)
	}
	p.logger.Debug("Cookies and storage cleared.")
	return nil
}

// Close terminates the tab and its browser process.
func (p *Page) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(p.tabCtx) }()
		select {
		case p.closeErr = <-done:
		case <-ctx.Done():
			p.closeErr = ctx.Err()
		}
		p.tabCancel()
	})
	return p.closeErr
}
