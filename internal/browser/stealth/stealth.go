// Package stealth makes a CDP-driven tab look like a regular user-operated browser in the campus
// locale. Headless Chrome advertises itself through navigator.webdriver and a "HeadlessChrome" user
// agent, which some login pages refuse.
package stealth

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/internal/config"
)

// evasionsScript runs before any page script on every new document.
const evasionsScript = `(() => {
  Object.defineProperty(Navigator.prototype, 'webdriver', { get: () => undefined, configurable: true });
  if (!window.chrome) { window.chrome = { runtime: {} }; }
})();`

// Persona defines the browser characteristics to emulate.
type Persona struct {
	UserAgent string
	Timezone  string
	Locale    string
}

// PersonaFromConfig builds the persona for the configured browser.
func PersonaFromConfig(cfg config.BrowserConfig) Persona {
	return Persona{
		UserAgent: strings.TrimSpace(cfg.UserAgent),
		Timezone:  strings.TrimSpace(cfg.Timezone),
		Locale:    strings.TrimSpace(cfg.Locale),
	}
}

// AcceptLanguage derives the Accept-Language header for the persona's locale, e.g. "id-ID,id;q=0.9".
func (p Persona) AcceptLanguage() string {
	if p.Locale == "" {
		return ""
	}
	lang, _, found := strings.Cut(p.Locale, "-")
	if !found || lang == "" {
		return p.Locale
	}
	return fmt.Sprintf("%s,%s;q=0.9", p.Locale, lang)
}

// Apply constructs the CDP actions that install the persona on a tab. Only the overrides the persona
// sets are included.
func Apply(p Persona, logger *zap.Logger) chromedp.Tasks {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("Applying browser persona.",
		zap.String("user_agent", p.UserAgent),
		zap.String("timezone", p.Timezone),
		zap.String("locale", p.Locale),
	)

	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(evasionsScript).Do(ctx); err != nil {
				return fmt.Errorf("failed to inject evasions script: %w", err)
			}
			return nil
		}),
	}
	if p.UserAgent != "" {
		ua := emulation.SetUserAgentOverride(p.UserAgent)
		if p.AcceptLanguage() != "" {
			ua = ua.WithAcceptLanguage(p.AcceptLanguage())
		}
		tasks = append(tasks, ua)
	}
	if p.Timezone != "" {
		tasks = append(tasks, emulation.SetTimezoneOverride(p.Timezone))
	}
	if p.Locale != "" {
		tasks = append(tasks,
			emulation.SetLocaleOverride().WithLocale(strings.ReplaceAll(p.Locale, "-", "_")),
			network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": p.AcceptLanguage()}),
		)
	}
	return tasks
}
