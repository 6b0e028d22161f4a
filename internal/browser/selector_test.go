package browser

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseSelector(t *testing.T) {
	testCases := []struct {
		in   string
		kind SelectorKind
	}{
		{"//table//tbody/tr", XPath},
		{".//button[@title='Submit Kehadiran']", XPath},
		{"(//a)[1]", XPath},
		{"  //table  ", XPath},
		{"#password-field", CSS},
		{"button.btn.btn-login", CSS},
		{"a[href*='/logout']", CSS},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			sel := ParseSelector(tc.in)
			assert.Equal(t, tc.kind, sel.Kind)
			assert.NotContains(t, sel.Expr, "  ")
		})
	}
}

func TestXPathLiteral(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{"Basis Data", "'Basis Data'"},
		{"", "''"},
		{"Jum'at", `"Jum'at"`},
		{`say "hi"`, `'say "hi"'`},
		{`Jum'at "A"`, `concat('Jum', "'", 'at "A"')`},
		{`'"`, `concat("'", '"')`},
		{`a''b"`, `concat('a', "'", "'", 'b"')`},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, XPathLiteral(tc.in))
		})
	}
}

func TestXPathLower(t *testing.T) {
	assert.Equal(t,
		"translate(@data-label, 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz')",
		XPathLower("@data-label"))
}

func TestIsLookupMiss(t *testing.T) {
	assert.True(t, IsLookupMiss(ErrNotFound))
	assert.True(t, IsLookupMiss(fmt.Errorf("wrapped: %w", ErrStaleElement)))
	assert.False(t, IsLookupMiss(ErrClickIntercepted))
	assert.False(t, IsLookupMiss(errors.New("boom")))
	assert.False(t, IsLookupMiss(nil))
}

func TestElementState_Interactable(t *testing.T) {
	assert.True(t, ElementState{Visible: true, Enabled: true}.Interactable())
	assert.False(t, ElementState{Visible: true, Enabled: true, Obstructed: true}.Interactable())
	assert.False(t, ElementState{Visible: false, Enabled: true}.Interactable())
	assert.False(t, ElementState{Visible: true}.Interactable())
}

func TestElementState_Clickable(t *testing.T) {
	assert.True(t, ElementState{Visible: true, Enabled: true}.Clickable())
	assert.True(t, ElementState{Visible: true, Enabled: true, Obstructed: true}.Clickable())
	assert.False(t, ElementState{Visible: false, Enabled: true}.Clickable())
	assert.False(t, ElementState{Visible: true, Obstructed: true}.Clickable())
}
