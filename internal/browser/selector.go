package browser

import (
	"strings"
)

// SelectorKind distinguishes the two query languages a page understands.
type SelectorKind int

const (
	CSS SelectorKind = iota
	XPath
)

func (k SelectorKind) String() string {
	if k == XPath {
		return "xpath"
	}
	return "css"
}

// Selector is a query against the DOM.
type Selector struct {
	Expr string
	Kind SelectorKind
}

// ParseSelector classifies a configured selector string. Expressions beginning with "/", "./", ".//"
// or "(" are XPath; everything else is CSS.
func ParseSelector(s string) Selector {
	expr := strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(expr, "/"), strings.HasPrefix(expr, "./"), strings.HasPrefix(expr, "("):
		return Selector{Expr: expr, Kind: XPath}
	}
	return Selector{Expr: expr, Kind: CSS}
}

// ByCSS builds a CSS selector.
func ByCSS(expr string) Selector { return Selector{Expr: expr, Kind: CSS} }

// ByXPath builds an XPath selector.
func ByXPath(expr string) Selector { return Selector{Expr: expr, Kind: XPath} }

func (s Selector) String() string { return s.Kind.String() + ":" + s.Expr }

// IsZero reports whether no expression is set.
func (s Selector) IsZero() bool { return s.Expr == "" }

// XPathLiteral renders s as an XPath 1.0 string literal. XPath has no escape sequences, so text
// containing both quote kinds is split into pieces and joined with concat().
func XPathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}

	parts := strings.Split(s, "'")
	pieces := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			pieces = append(pieces, `"'"`)
		}
		if p != "" {
			pieces = append(pieces, "'"+p+"'")
		}
	}
	if len(pieces) == 1 {
		return pieces[0]
	}
	return "concat(" + strings.Join(pieces, ", ") + ")"
}

const (
	upperAlpha = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	lowerAlpha = "abcdefghijklmnopqrstuvwxyz"
)

// XPathLower wraps an XPath string expression so it compares case-insensitively (ASCII only, the
// most XPath 1.0 offers).
func XPathLower(expr string) string {
	return "translate(" + expr + ", '" + upperAlpha + "', '" + lowerAlpha + "')"
}
