// Package simulated provides an in-memory rendition of the attendance site for tests. Pages render
// HTML fixtures shaped like the real application, answer CSS and XPath queries against the parsed
// document, and reproduce the behaviors the engine has to cope with: delayed row population, modals,
// failed logins that silently re-render the form, intercepted clicks and re-renders that invalidate
// element handles.
package simulated

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/rollcall/internal/browser"
)

// Event kinds recorded when the site accepts an action.
const (
	EventSessionOpened       = "session_opened"
	EventApprovalSaved       = "approval_saved"
	EventAttendanceSubmitted = "attendance_submitted"
)

// Course is one row of the attendance table.
type Course struct {
	Name string
	Day  string
	// SubmitTitleAttr selects where the student submit button carries its label: "title",
	// "data-original-title", or "" for no submit button at all.
	SubmitTitleAttr string
	// DisabledOpen renders the "Buka" button disabled.
	DisabledOpen bool
}

// Event is an action the site accepted.
type Event struct {
	Kind       string
	User       string
	Course     string
	Topic      string
	AllPresent bool
}

// LoginAttempt records one submission of the login form.
type LoginAttempt struct {
	Identifier string
	Succeeded  bool
	// HadSession is true when the tab was still authenticated as someone when the form was submitted.
	HadSession bool
}

// Site holds the server-side state shared by every page opened against it.
type Site struct {
	mu sync.Mutex

	accounts          map[string]string
	courses           []Course
	rowDelay          time.Duration
	checkboxChecked   bool
	silentLoginErrors bool
	hiddenFeedback    bool
	hideLogoutLink    bool

	intercept map[string]int
	transient map[string]int
	stale     map[string]int

	clicks     map[string]int
	dispatched map[string]int
	events     []Event
	logins     []LoginAttempt
	pages      []*Page
}

// Option configures a Site.
type Option func(*Site)

// WithAccount registers a valid identifier/secret pair.
func WithAccount(identifier, secret string) Option {
	return func(s *Site) { s.accounts[identifier] = secret }
}

// WithCourses sets the rows rendered on the attendance pages.
func WithCourses(courses ...Course) Option {
	return func(s *Site) { s.courses = append([]Course(nil), courses...) }
}

// WithRowDelay makes table rows appear d after the attendance page loads.
func WithRowDelay(d time.Duration) Option {
	return func(s *Site) { s.rowDelay = d }
}

// WithCheckboxChecked sets the initial state of the "all present" checkbox.
func WithCheckboxChecked(checked bool) Option {
	return func(s *Site) { s.checkboxChecked = checked }
}

// WithSilentLoginErrors re-renders the login form without an error alert after a failed login.
func WithSilentLoginErrors() Option {
	return func(s *Site) { s.silentLoginErrors = true }
}

// WithHiddenLoginFeedback adds the hidden .invalid-feedback blocks a validated form ships with to
// every rendering of the login form.
func WithHiddenLoginFeedback() Option {
	return func(s *Site) { s.hiddenFeedback = true }
}

// WithoutLogoutLink removes the logout link from authenticated pages after login, so logging out fails.
func WithoutLogoutLink() Option {
	return func(s *Site) { s.hideLogoutLink = true }
}

// WithInterceptedClicks puts an overlay over the element keyed key that stays until it has intercepted
// n natural clicks. While it is there State reports the element as obstructed.
func WithInterceptedClicks(key string, n int) Option {
	return func(s *Site) { s.intercept[key] = n }
}

// WithTransientOverlay covers key for its next n State reads and then goes away, like a fading
// backdrop. Natural clicks while it is there are intercepted.
func WithTransientOverlay(key string, n int) Option {
	return func(s *Site) { s.transient[key] = n }
}

// WithStaleClicks makes the next n natural clicks on key re-render the page and fail as stale.
func WithStaleClicks(key string, n int) Option {
	return func(s *Site) { s.stale[key] = n }
}

// NewSite builds a site. Without courses it renders a single "Basis Data" row.
func NewSite(opts ...Option) *Site {
	s := &Site{
		accounts:   make(map[string]string),
		intercept:  make(map[string]int),
		transient:  make(map[string]int),
		stale:      make(map[string]int),
		clicks:     make(map[string]int),
		dispatched: make(map[string]int),
		courses:    []Course{{Name: "Basis Data", Day: "Senin", SubmitTitleAttr: "title"}},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewPage opens a fresh tab on about:blank.
func (s *Site) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := newPage(s)
	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p, nil
}

// Close satisfies browser.Provider.
func (s *Site) Close(context.Context) error { return nil }

// Pages returns the tabs opened so far.
func (s *Site) Pages() []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Page(nil), s.pages...)
}

// Clicks returns how many clicks (natural or dispatched) reached the element keyed key.
func (s *Site) Clicks(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clicks[key]
}

// Dispatched returns how many forced clicks reached key.
func (s *Site) Dispatched(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched[key]
}

// Events returns the actions accepted so far.
func (s *Site) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// Logins returns every login attempt in order.
func (s *Site) Logins() []LoginAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]LoginAttempt(nil), s.logins...)
}

// SetCheckboxChecked changes the checkbox state rendered on subsequent page loads.
func (s *Site) SetCheckboxChecked(checked bool) {
	s.mu.Lock()
	s.checkboxChecked = checked
	s.mu.Unlock()
}

func (s *Site) authenticate(identifier, secret string, hadSession bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	want, ok := s.accounts[identifier]
	okLogin := ok && want == secret && identifier != ""
	s.logins = append(s.logins, LoginAttempt{Identifier: identifier, Succeeded: okLogin, HadSession: hadSession})
	return okLogin
}

func (s *Site) recordClick(key string, forced bool) {
	if key == "" {
		return
	}
	s.mu.Lock()
	s.clicks[key]++
	if forced {
		s.dispatched[key]++
	}
	s.mu.Unlock()
}

// consume decrements a pending fault counter and reports whether it fired.
func (s *Site) consume(faults map[string]int, key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if faults[key] > 0 {
		faults[key]--
		return true
	}
	return false
}

// covered reports whether an overlay sits on key. An observed read uses up one read of a transient
// overlay.
func (s *Site) covered(key string, observed bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.intercept[key] > 0 {
		return true
	}
	if s.transient[key] > 0 {
		if observed {
			s.transient[key]--
		}
		return true
	}
	return false
}

func (s *Site) record(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *Site) snapshot() siteView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return siteView{
		courses:         append([]Course(nil), s.courses...),
		rowDelay:        s.rowDelay,
		checkboxChecked: s.checkboxChecked,
		silentErrors:    s.silentLoginErrors,
		hiddenFeedback:  s.hiddenFeedback,
		hideLogout:      s.hideLogoutLink,
	}
}

// siteView is an immutable copy of the rendering inputs.
type siteView struct {
	courses         []Course
	rowDelay        time.Duration
	checkboxChecked bool
	silentErrors    bool
	hiddenFeedback  bool
	hideLogout      bool
}
