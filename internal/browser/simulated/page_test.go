package simulated

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/rollcall/internal/browser"
)

func newTestPage(t *testing.T, site *Site) *Page {
	t.Helper()
	bp, err := site.NewPage(context.Background())
	require.NoError(t, err)
	return bp.(*Page)
}

func login(t *testing.T, p *Page, identifier, secret string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, p.Navigate(ctx, "https://campus.test/login"))
	for sel, text := range map[string]string{"#exampleInputEmail1": identifier, "#password-field": secret} {
		el, err := p.FindElement(ctx, browser.ByCSS(sel))
		require.NoError(t, err)
		require.NoError(t, p.TypeText(ctx, el, text))
	}
	btn, err := p.FindElement(ctx, browser.ByCSS("button.btn.btn-login"))
	require.NoError(t, err)
	require.NoError(t, p.Click(ctx, btn))
}

func TestPage_ProtectedPathRedirectsToLogin(t *testing.T) {
	t.Parallel()
	p := newTestPage(t, NewSite())
	require.NoError(t, p.Navigate(context.Background(), "https://campus.test"+PathLecturerAttendance))
	assert.Equal(t, PathLogin, p.Path())
	assert.Equal(t, []string{PathLecturerAttendance}, p.Navigations())
}

func TestPage_Login(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("success lands on dashboard", func(t *testing.T) {
		site := NewSite(WithAccount("u1", "p1"))
		p := newTestPage(t, site)
		login(t, p, "u1", "p1")
		assert.Equal(t, PathDashboard, p.Path())
		assert.Equal(t, "u1", p.User())
		_, err := p.FindElement(ctx, browser.ByCSS("a[href*='/logout']"))
		assert.NoError(t, err)
	})

	t.Run("failure shows an alert", func(t *testing.T) {
		site := NewSite(WithAccount("u1", "p1"))
		p := newTestPage(t, site)
		login(t, p, "u1", "wrong")
		assert.Equal(t, "", p.User())
		_, err := p.FindElement(ctx, browser.ByCSS(".alert-danger"))
		assert.NoError(t, err)
		require.Len(t, site.Logins(), 1)
		assert.False(t, site.Logins()[0].Succeeded)
	})

	t.Run("silent failure", func(t *testing.T) {
		site := NewSite(WithAccount("u1", "p1"), WithSilentLoginErrors())
		p := newTestPage(t, site)
		login(t, p, "u1", "wrong")
		_, err := p.FindElement(ctx, browser.ByCSS(".alert-danger"))
		assert.ErrorIs(t, err, browser.ErrNotFound)
		_, err = p.FindElement(ctx, browser.ByCSS("#exampleInputEmail1"))
		assert.NoError(t, err)
	})
}

func TestPage_ResetSessionClearsUser(t *testing.T) {
	t.Parallel()
	site := NewSite(WithAccount("u1", "p1"), WithAccount("u2", "p2"))
	p := newTestPage(t, site)
	login(t, p, "u1", "p1")
	login(t, p, "u2", "p2")
	require.NoError(t, p.ResetSession(context.Background()))
	login(t, p, "u1", "p1")

	logins := site.Logins()
	require.Len(t, logins, 3)
	assert.False(t, logins[0].HadSession)
	assert.True(t, logins[1].HadSession)
	assert.False(t, logins[2].HadSession)
	assert.Equal(t, 1, p.Resets())
}

func TestPage_DelayedRows(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := NewSite(WithAccount("u1", "p1"), WithRowDelay(50*time.Millisecond))
	p := newTestPage(t, site)
	login(t, p, "u1", "p1")
	require.NoError(t, p.Navigate(ctx, PathStudentAttendance))

	rows := browser.ByXPath("//table//tbody/tr")
	els, err := p.FindElements(ctx, rows)
	require.NoError(t, err)
	assert.Empty(t, els)

	assert.Eventually(t, func() bool {
		els, err := p.FindElements(ctx, rows)
		return err == nil && len(els) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPage_StaleHandles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := NewSite(WithAccount("u1", "p1"))
	p := newTestPage(t, site)
	login(t, p, "u1", "p1")
	require.NoError(t, p.Navigate(ctx, PathStudentAttendance))

	btn, err := p.FindElement(ctx, browser.ByCSS("button[title='Submit Kehadiran']"))
	require.NoError(t, err)
	gen := p.Generation()

	require.NoError(t, p.Navigate(ctx, PathStudentAttendance))
	assert.Greater(t, p.Generation(), gen)
	assert.ErrorIs(t, p.Click(ctx, btn), browser.ErrStaleElement)
	_, err = p.Text(ctx, btn)
	assert.ErrorIs(t, err, browser.ErrStaleElement)
}

func TestPage_ClickFaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := NewSite(WithAccount("u1", "p1"), WithInterceptedClicks("submit-0", 1), WithStaleClicks("logout", 1))
	p := newTestPage(t, site)
	login(t, p, "u1", "p1")
	require.NoError(t, p.Navigate(ctx, PathStudentAttendance))

	btn, err := p.FindElement(ctx, browser.ByCSS("button[title='Submit Kehadiran']"))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Click(ctx, btn), browser.ErrClickIntercepted)
	assert.Equal(t, 0, site.Clicks("submit-0"))

	require.NoError(t, p.DispatchClick(ctx, btn))
	assert.Equal(t, 1, site.Clicks("submit-0"))
	assert.Equal(t, 1, site.Dispatched("submit-0"))
	require.Len(t, site.Events(), 1)
	assert.Equal(t, Event{Kind: EventAttendanceSubmitted, User: "u1", Course: "Basis Data"}, site.Events()[0])

	out, err := p.FindElement(ctx, browser.ByCSS("a[href*='/logout']"))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Click(ctx, out), browser.ErrStaleElement)
	out, err = p.FindElement(ctx, browser.ByCSS("a[href*='/logout']"))
	require.NoError(t, err)
	require.NoError(t, p.Click(ctx, out))
	assert.Equal(t, PathLogin, p.Path())
	assert.Equal(t, "", p.User())
}

func TestPage_ApprovalModal(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := NewSite(WithAccount("dosen", "pw"))
	p := newTestPage(t, site)
	login(t, p, "dosen", "pw")
	require.NoError(t, p.Navigate(ctx, PathLecturerAttendance))

	detail, err := p.FindElement(ctx, browser.ByCSS("button.btn-detail"))
	require.NoError(t, err)
	require.NoError(t, p.Click(ctx, detail))

	topic, err := p.FindElement(ctx, browser.ByCSS("#topik_pembahasan"))
	require.NoError(t, err)
	require.NoError(t, p.TypeText(ctx, topic, "Normalisasi"))

	box, err := p.FindElement(ctx, browser.ByCSS("input[name='masuk_semua']"))
	require.NoError(t, err)
	sel, err := p.IsSelected(ctx, box)
	require.NoError(t, err)
	assert.False(t, sel)
	require.NoError(t, p.Click(ctx, box))
	assert.True(t, p.Checked("input[name='masuk_semua']"))

	save, err := p.FindElement(ctx, browser.ByXPath("//div[@id='modal_daring']//button[.//i[contains(@class,'fa-save')]]"))
	require.NoError(t, err)
	require.NoError(t, p.Click(ctx, save))

	assert.Equal(t, []Event{{Kind: EventApprovalSaved, User: "dosen", Course: "Basis Data", Topic: "Normalisasi", AllPresent: true}}, site.Events())
	st, err := p.State(ctx, save)
	require.NoError(t, err)
	assert.False(t, st.Visible, "modal closes after saving")
}

func TestPage_ScopedQuery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := NewSite(WithAccount("u1", "p1"), WithCourses(
		Course{Name: "Basis Data", Day: "Senin", SubmitTitleAttr: "data-original-title"},
		Course{Name: "Statistika", Day: "Selasa"},
	))
	p := newTestPage(t, site)
	login(t, p, "u1", "p1")
	require.NoError(t, p.Navigate(ctx, PathStudentAttendance))

	rows, err := p.FindElements(ctx, browser.ByXPath("//table//tbody/tr"))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	icons, err := p.FindElementsIn(ctx, rows[1], browser.ByXPath(".//i"))
	require.NoError(t, err)
	require.Len(t, icons, 1)
	attrs, err := p.Attributes(ctx, icons[0])
	require.NoError(t, err)
	assert.Equal(t, "closed", attrs["data-status"])

	btns, err := p.FindElementsIn(ctx, rows[0], browser.ByCSS("button[data-original-title='Submit Kehadiran']"))
	require.NoError(t, err)
	assert.Len(t, btns, 1)

	text, err := p.Text(ctx, rows[0])
	require.NoError(t, err)
	assert.Equal(t, "1 Basis Data Senin", text)
}

func TestPage_OverlayState(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("persistent", func(t *testing.T) {
		t.Parallel()
		site := NewSite(WithAccount("dosen", "pw"), WithInterceptedClicks("buka-0", 1))
		p := newTestPage(t, site)
		login(t, p, "dosen", "pw")
		require.NoError(t, p.Navigate(ctx, PathLecturerAttendance))

		btn, err := p.FindElement(ctx, browser.ByCSS("button.btn-buka"))
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			st, err := p.State(ctx, btn)
			require.NoError(t, err)
			assert.True(t, st.Obstructed)
			assert.True(t, st.Clickable())
		}
		assert.ErrorIs(t, p.Click(ctx, btn), browser.ErrClickIntercepted)

		st, err := p.State(ctx, btn)
		require.NoError(t, err)
		assert.False(t, st.Obstructed, "overlay is gone once it has intercepted its clicks")
	})

	t.Run("transient", func(t *testing.T) {
		t.Parallel()
		site := NewSite(WithAccount("dosen", "pw"), WithTransientOverlay("buka-0", 2))
		p := newTestPage(t, site)
		login(t, p, "dosen", "pw")
		require.NoError(t, p.Navigate(ctx, PathLecturerAttendance))

		btn, err := p.FindElement(ctx, browser.ByCSS("button.btn-buka"))
		require.NoError(t, err)
		assert.ErrorIs(t, p.Click(ctx, btn), browser.ErrClickIntercepted)
		var seen []bool
		for i := 0; i < 3; i++ {
			st, err := p.State(ctx, btn)
			require.NoError(t, err)
			seen = append(seen, st.Obstructed)
		}
		assert.Equal(t, []bool{true, true, false}, seen)

		require.NoError(t, p.Click(ctx, btn))
		assert.Equal(t, 1, site.Clicks("buka-0"))
		assert.Equal(t, 0, site.Dispatched("buka-0"))
	})
}

func TestPage_HiddenLoginFeedback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	site := NewSite(WithAccount("u1", "p1"), WithHiddenLoginFeedback())
	p := newTestPage(t, site)
	require.NoError(t, p.Navigate(ctx, "https://campus.test/login"))

	els, err := p.FindElements(ctx, browser.ByCSS(".invalid-feedback"))
	require.NoError(t, err)
	require.Len(t, els, 2)
	for _, el := range els {
		st, err := p.State(ctx, el)
		require.NoError(t, err)
		assert.False(t, st.Visible)
	}

	login(t, p, "u1", "p1")
	assert.Equal(t, "u1", p.User())
}
