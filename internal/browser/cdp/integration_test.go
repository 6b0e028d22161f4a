package cdp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/config"
)

const fixturePage = `<!doctype html>
<html><body>
<form id="login"><input id="username" name="username"><button id="go" type="button" onclick="document.getElementById('out').textContent = document.getElementById('username').value">Go</button></form>
<div id="out"></div>
<table><tbody>
<tr><td data-label="Mata Kuliah">Basis Data</td><td><button class="buka" onclick="this.textContent='opened'">Buka</button></td></tr>
<tr><td data-label="Mata Kuliah">Jaringan</td><td><button class="buka" disabled>Buka</button></td></tr>
</tbody></table>
<div id="cover-wrap" style="position:relative"><button id="covered" onclick="this.dataset.clicked='yes'">Hidden</button>
<div style="position:absolute;top:0;left:0;width:300px;height:60px;background:#fff"></div></div>
<input type="checkbox" id="agree">
</body></html>`

// newChromePage starts a real browser. Set ROLLCALL_CHROME_TESTS=1 to run these tests.
func newChromePage(t *testing.T) (*Page, string) {
	t.Helper()
	if os.Getenv("ROLLCALL_CHROME_TESTS") == "" {
		t.Skip("set ROLLCALL_CHROME_TESTS=1 to run tests against a local Chrome")
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, fixturePage)
	}))
	t.Cleanup(srv.Close)

	m := NewManager(context.Background(), config.BrowserConfig{
		Headless:      true,
		WindowWidth:   1024,
		WindowHeight:  768,
		LaunchTimeout: 30 * time.Second,
	}, zaptest.NewLogger(t))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	p, err := m.NewPage(ctx)
	require.NoError(t, err)
	return p.(*Page), srv.URL
}

func TestChromePage(t *testing.T) {
	p, url := newChromePage(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, p.Navigate(ctx, url+"/attendance"))
	got, err := p.URL(ctx)
	require.NoError(t, err)
	assert.Equal(t, url+"/attendance", got)

	t.Run("QueriesInDocumentOrder", func(t *testing.T) {
		rows, err := p.FindElements(ctx, browser.ByXPath("//table/tbody/tr"))
		require.NoError(t, err)
		require.Len(t, rows, 2)
		text, err := p.Text(ctx, rows[0])
		require.NoError(t, err)
		assert.Equal(t, "Basis Data Buka", text)

		none, err := p.FindElements(ctx, browser.ByCSS("#missing"))
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("ScopedQueryAndState", func(t *testing.T) {
		rows, err := p.FindElements(ctx, browser.ByXPath("//table/tbody/tr"))
		require.NoError(t, err)
		btns, err := p.FindElementsIn(ctx, rows[1], browser.ByXPath(".//button"))
		require.NoError(t, err)
		require.Len(t, btns, 1)
		st, err := p.State(ctx, btns[0])
		require.NoError(t, err)
		assert.True(t, st.Visible)
		assert.False(t, st.Enabled)
	})

	t.Run("NaturalClick", func(t *testing.T) {
		btn, err := p.FindElement(ctx, browser.ByCSS("button.buka"))
		require.NoError(t, err)
		require.NoError(t, p.ScrollIntoView(ctx, btn))
		require.NoError(t, p.Click(ctx, btn))
		text, err := p.Text(ctx, btn)
		require.NoError(t, err)
		assert.Equal(t, "opened", text)
	})

	t.Run("InterceptedThenDispatched", func(t *testing.T) {
		btn, err := p.FindElement(ctx, browser.ByCSS("#covered"))
		require.NoError(t, err)
		require.NoError(t, p.ScrollIntoView(ctx, btn))
		st, err := p.State(ctx, btn)
		require.NoError(t, err)
		assert.True(t, st.Obstructed)
		assert.ErrorIs(t, p.Click(ctx, btn), browser.ErrClickIntercepted)

		require.NoError(t, p.DispatchClick(ctx, btn))
		attrs, err := p.Attributes(ctx, btn)
		require.NoError(t, err)
		assert.Equal(t, "yes", attrs["data-clicked"])
	})

	t.Run("TypeAndToggle", func(t *testing.T) {
		field, err := p.FindElement(ctx, browser.ByCSS("#username"))
		require.NoError(t, err)
		require.NoError(t, p.TypeText(ctx, field, "first"))
		require.NoError(t, p.TypeText(ctx, field, "dosen@kampus.ac.id"))
		goBtn, err := p.FindElement(ctx, browser.ByCSS("#go"))
		require.NoError(t, err)
		require.NoError(t, p.Click(ctx, goBtn))
		out, err := p.FindElement(ctx, browser.ByCSS("#out"))
		require.NoError(t, err)
		text, err := p.Text(ctx, out)
		require.NoError(t, err)
		assert.Equal(t, "dosen@kampus.ac.id", text)

		box, err := p.FindElement(ctx, browser.ByCSS("#agree"))
		require.NoError(t, err)
		selected, err := p.IsSelected(ctx, box)
		require.NoError(t, err)
		assert.False(t, selected)
		require.NoError(t, p.Click(ctx, box))
		selected, err = p.IsSelected(ctx, box)
		require.NoError(t, err)
		assert.True(t, selected)
	})

	t.Run("NavigationInvalidatesHandles", func(t *testing.T) {
		btn, err := p.FindElement(ctx, browser.ByCSS("#go"))
		require.NoError(t, err)
		require.NoError(t, p.Navigate(ctx, url+"/again"))
		assert.ErrorIs(t, p.Click(ctx, btn), browser.ErrStaleElement)
		require.NoError(t, p.ResetSession(ctx))
	})
}
