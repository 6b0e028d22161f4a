package simulated

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/xkilldash9x/rollcall/internal/browser"
)

const blankDocument = `<html><head></head><body></body></html>`

// Page is one simulated tab. It satisfies browser.Page.
type Page struct {
	site *Site

	mu          sync.Mutex
	url         *url.URL
	doc         *html.Node
	generation  uint64
	ids         map[string]*html.Node
	nodeIDs     map[*html.Node]string
	nextID      int
	user        string
	pendingRows string
	rowsAt      time.Time
	modalCourse string
	navigations []string
	resets      int
}

var _ browser.Page = (*Page)(nil)

func newPage(s *Site) *Page {
	p := &Page{site: s}
	p.url, _ = url.Parse("about:blank")
	p.setDocument(blankDocument)
	return p
}

// -- Inspection helpers for tests --

// Navigations returns the paths passed to Navigate, in order.
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Resets returns how many times the session was cleared.
func (p *Page) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// User returns the identifier the tab is authenticated as, or "".
func (p *Page) User() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// Path returns the path of the current document.
func (p *Page) Path() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.Path
}

// Generation returns the current document generation.
func (p *Page) Generation() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.generation
}

// Checked reports whether the first element matching sel carries the checked attribute.
func (p *Page) Checked(sel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	nodes, err := p.query(p.doc, browser.ParseSelector(sel))
	if err != nil || len(nodes) == 0 {
		return false
	}
	return hasAttr(nodes[0], "checked")
}

// -- browser.Page --

func (p *Page) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	u, err := p.url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	p.navigations = append(p.navigations, u.Path)
	p.open(u)
	return nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url.String(), nil
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
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settle()
	nodes, err := p.query(p.doc, sel)
	if err != nil {
		return nil, err
	}
	return p.handles(nodes), nil
}

func (p *Page) FindElementsIn(ctx context.Context, scope browser.Element, sel browser.Selector) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	n, err := p.lookup(scope)
	if err != nil {
		return nil, err
	}
	nodes, err := p.query(n, sel)
	if err != nil {
		return nil, err
	}
	return p.handles(nodes), nil
}

func (p *Page) Text(ctx context.Context, el browser.Element) (string, error) {
	n, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return "", err
	}
	defer unlock()
	return textOf(n), nil
}

func (p *Page) Attributes(ctx context.Context, el browser.Element) (map[string]string, error) {
	n, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return nil, err
	}
	defer unlock()
	attrs := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		attrs[a.Key] = a.Val
	}
	return attrs, nil
}

func (p *Page) State(ctx context.Context, el browser.Element) (browser.ElementState, error) {
	n, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return browser.ElementState{}, err
	}
	defer unlock()
	return browser.ElementState{
		Visible:    visible(n),
		Enabled:    !hasAttr(n, "disabled"),
		Obstructed: p.site.covered(attr(n, "data-key"), true),
	}, nil
}

func (p *Page) IsSelected(ctx context.Context, el browser.Element) (bool, error) {
	n, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return false, err
	}
	defer unlock()
	return hasAttr(n, "checked") || hasAttr(n, "selected"), nil
}

func (p *Page) ScrollIntoView(ctx context.Context, el browser.Element) error {
	_, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return err
	}
	unlock()
	return nil
}

func (p *Page) Click(ctx context.Context, el browser.Element) error {
	n, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return err
	}
	defer unlock()

	key := attr(n, "data-key")
	if !visible(n) {
		return fmt.Errorf("element %s has no visible box to click", el)
	}
	if p.site.consume(p.site.intercept, key) || p.site.covered(key, false) {
		return fmt.Errorf("%w: overlay covers %s", browser.ErrClickIntercepted, key)
	}
	if p.site.consume(p.site.stale, key) {
		p.rerender()
		return fmt.Errorf("%w: document re-rendered during click", browser.ErrStaleElement)
	}
	if hasAttr(n, "disabled") {
		return nil
	}
	p.site.recordClick(key, false)
	p.activate(key)
	return nil
}

func (p *Page) DispatchClick(ctx context.Context, el browser.Element) error {
	n, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return err
	}
	defer unlock()

	if hasAttr(n, "disabled") {
		return nil
	}
	key := attr(n, "data-key")
	p.site.recordClick(key, true)
	p.activate(key)
	return nil
}

func (p *Page) TypeText(ctx context.Context, el browser.Element, text string) error {
	n, unlock, err := p.acquire(ctx, el)
	if err != nil {
		return err
	}
	defer unlock()

	if n.DataAtom != atom.Input && n.DataAtom != atom.Textarea {
		return fmt.Errorf("element %s (<%s>) does not accept text", el, n.Data)
	}
	if !visible(n) || hasAttr(n, "disabled") {
		return fmt.Errorf("element %s is not editable", el)
	}
	setAttr(n, "value", text)
	return nil
}

func (p *Page) ResetSession(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = ""
	p.resets++
	return nil
}

// -- internals --

// acquire locks the page and resolves el. The returned func releases the lock.
func (p *Page) acquire(ctx context.Context, el browser.Element) (*html.Node, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	p.mu.Lock()
	n, err := p.lookup(el)
	if err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	return n, p.mu.Unlock, nil
}

func (p *Page) lookup(el browser.Element) (*html.Node, error) {
	p.settle()
	if el.Generation != p.generation {
		return nil, fmt.Errorf("%w: %s belongs to generation %d, document is at %d", browser.ErrStaleElement, el.ID, el.Generation, p.generation)
	}
	n, ok := p.ids[el.ID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown handle %s", browser.ErrStaleElement, el.ID)
	}
	return n, nil
}

func (p *Page) handles(nodes []*html.Node) []browser.Element {
	out := make([]browser.Element, 0, len(nodes))
	for _, n := range nodes {
		id, ok := p.nodeIDs[n]
		if !ok {
			p.nextID++
			id = "n" + strconv.Itoa(p.nextID)
			p.nodeIDs[n] = id
			p.ids[id] = n
		}
		out = append(out, browser.Element{ID: id, Generation: p.generation})
	}
	return out
}

func (p *Page) query(scope *html.Node, sel browser.Selector) ([]*html.Node, error) {
	if sel.Kind == browser.XPath {
		nodes, err := htmlquery.QueryAll(scope, sel.Expr)
		if err != nil {
			return nil, fmt.Errorf("invalid xpath %q: %w", sel.Expr, err)
		}
		return nodes, nil
	}
	return goquery.NewDocumentFromNode(scope).Find(sel.Expr).Nodes, nil
}

func (p *Page) setDocument(src string) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		doc, _ = html.Parse(strings.NewReader(blankDocument))
	}
	p.doc = doc
	p.generation++
	p.ids = make(map[string]*html.Node)
	p.nodeIDs = make(map[*html.Node]string)
	p.pendingRows = ""
	p.modalCourse = ""
}

// settle applies deferred DOM updates that are due.
func (p *Page) settle() {
	if p.pendingRows != "" && !time.Now().Before(p.rowsAt) {
		p.insertRows(p.pendingRows)
		p.pendingRows = ""
	}
}

func (p *Page) insertRows(rows string) {
	tbody := htmlquery.FindOne(p.doc, "//table/tbody")
	if tbody == nil {
		return
	}
	ctxNode := &html.Node{Type: html.ElementNode, Data: "tbody", DataAtom: atom.Tbody}
	nodes, err := html.ParseFragment(strings.NewReader(rows), ctxNode)
	if err != nil {
		return
	}
	for _, n := range nodes {
		tbody.AppendChild(n)
	}
}

func (p *Page) open(u *url.URL) {
	v := p.site.snapshot()
	target := *u

	switch u.Path {
	case PathLogin:
		p.setDocument(renderLogin(false, v))
	case PathLogout:
		p.user = ""
		target.Path = PathLogin
		p.setDocument(renderLogin(false, v))
	case PathDashboard, PathLecturerAttendance, PathStudentAttendance:
		if p.user == "" {
			target.Path = PathLogin
			p.setDocument(renderLogin(false, v))
			break
		}
		if u.Path == PathDashboard {
			p.setDocument(renderDashboard(p.user, v))
			break
		}
		shell, rows := renderAttendance(u.Path, p.user, v)
		p.setDocument(shell)
		if v.rowDelay > 0 {
			p.pendingRows = rows
			p.rowsAt = time.Now().Add(v.rowDelay)
		} else {
			p.insertRows(rows)
		}
	default:
		if u.Scheme == "about" {
			p.setDocument(blankDocument)
		} else {
			p.setDocument(renderNotFound())
		}
	}
	p.url = &target
}

// rerender reloads the current document with all deferred content already applied.
func (p *Page) rerender() {
	v := p.site.snapshot()
	switch p.url.Path {
	case PathLecturerAttendance, PathStudentAttendance:
		shell, rows := renderAttendance(p.url.Path, p.user, v)
		p.setDocument(shell)
		p.insertRows(rows)
	default:
		p.open(p.url)
	}
}

func (p *Page) openPath(path string) {
	u := *p.url
	u.Path = path
	p.open(&u)
}

func (p *Page) activate(key string) {
	switch {
	case key == "login-submit":
		identifier := p.valueOf("#exampleInputEmail1")
		secret := p.valueOf("#password-field")
		if p.site.authenticate(identifier, secret, p.user != "") {
			p.user = identifier
			p.openPath(PathDashboard)
			return
		}
		p.user = ""
		v := p.site.snapshot()
		p.setDocument(renderLogin(!v.silentErrors, v))
	case key == "logout":
		p.user = ""
		p.openPath(PathLogin)
	case strings.HasPrefix(key, "buka-"):
		p.modalCourse = p.courseName(strings.TrimPrefix(key, "buka-"))
		p.setDisplay("confirmation", true)
	case key == "confirm-open":
		p.site.record(Event{Kind: EventSessionOpened, User: p.user, Course: p.modalCourse})
		p.setDisplay("confirmation", false)
	case key == "cancel-open":
		p.setDisplay("confirmation", false)
	case strings.HasPrefix(key, "detail-"):
		p.modalCourse = p.courseName(strings.TrimPrefix(key, "detail-"))
		p.setDisplay("modal_daring", true)
	case key == "masuk-semua":
		if box := p.first("input[name='masuk_semua']"); box != nil {
			if hasAttr(box, "checked") {
				removeAttr(box, "checked")
			} else {
				setAttr(box, "checked", "")
			}
		}
	case key == "save-approval":
		box := p.first("input[name='masuk_semua']")
		p.site.record(Event{
			Kind:       EventApprovalSaved,
			User:       p.user,
			Course:     p.modalCourse,
			Topic:      p.valueOf("#topik_pembahasan"),
			AllPresent: box != nil && hasAttr(box, "checked"),
		})
		p.setDisplay("modal_daring", false)
	case strings.HasPrefix(key, "submit-"):
		p.site.record(Event{Kind: EventAttendanceSubmitted, User: p.user, Course: p.courseName(strings.TrimPrefix(key, "submit-"))})
	}
}

func (p *Page) first(css string) *html.Node {
	nodes := goquery.NewDocumentFromNode(p.doc).Find(css).Nodes
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

func (p *Page) valueOf(css string) string {
	if n := p.first(css); n != nil {
		return attr(n, "value")
	}
	return ""
}

func (p *Page) setDisplay(id string, shown bool) {
	n := p.first("#" + id)
	if n == nil {
		return
	}
	if shown {
		setAttr(n, "style", "display:block")
	} else {
		setAttr(n, "style", "display:none")
	}
}

func (p *Page) courseName(idx string) string {
	i, err := strconv.Atoi(idx)
	v := p.site.snapshot()
	if err != nil || i < 0 || i >= len(v.courses) {
		return ""
	}
	return v.courses[i].Name
}

// textOf approximates innerText: text nodes joined by single spaces, whitespace collapsed.
func textOf(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		switch c.Type {
		case html.TextNode:
			parts = append(parts, c.Data)
		case html.ElementNode:
			if c.DataAtom == atom.Script || c.DataAtom == atom.Style {
				return
			}
		}
		for ch := c.FirstChild; ch != nil; ch = ch.NextSibling {
			walk(ch)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func visible(n *html.Node) bool {
	if n.DataAtom == atom.Input && strings.EqualFold(attr(n, "type"), "hidden") {
		return false
	}
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type != html.ElementNode {
			continue
		}
		if hasAttr(cur, "hidden") {
			return false
		}
		style := strings.ToLower(strings.ReplaceAll(attr(cur, "style"), " ", ""))
		if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}
