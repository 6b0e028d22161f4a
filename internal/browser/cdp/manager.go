// Package cdp drives Chrome over the DevTools protocol and exposes each tab as a browser.Page.
package cdp

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rollcall/internal/browser"
	"github.com/xkilldash9x/rollcall/internal/browser/stealth"
	"github.com/xkilldash9x/rollcall/internal/config"
)

const defaultLaunchTimeout = 30 * time.Second

// Manager owns the browser allocator and hands out pages. It implements browser.Provider.
type Manager struct {
	cfg    config.BrowserConfig
	logger *zap.Logger

	// allocatorCtx is the parent of every browser process started by this manager.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	mu     sync.Mutex
	pages  []*Page
	closed bool
}

var _ browser.Provider = (*Manager)(nil)

// NewManager prepares the allocator. No browser is started until the first NewPage.
func NewManager(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	allocCtx, cancel := chromedp.NewExecAllocator(Detach(ctx), buildAllocatorOptions(cfg, runtime.GOOS)...)
	m := &Manager{
		cfg:             cfg,
		logger:          logger.Named("browser_manager"),
		allocatorCtx:    allocCtx,
		allocatorCancel: cancel,
	}
	m.logger.Debug("Browser allocator prepared.", zap.Bool("headless", cfg.Headless))
	return m
}

// NewPage launches a browser process with a single tab and verifies it responds. Every page gets its own
// process so cookie jars never mix between parallel workers.
func (m *Manager) NewPage(ctx context.Context) (browser.Page, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("browser manager is closed")
	}
	m.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(m.allocatorCtx)

	timeout := m.cfg.LaunchTimeout
	if timeout <= 0 {
		timeout = defaultLaunchTimeout
	}
	opCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	runCtx, cancelRun := CombineContext(tabCtx, opCtx)
	defer cancelRun()

	// The first Run on a fresh context starts the process. The persona has to be in place before the
	// first real document loads.
	persona := stealth.Apply(stealth.PersonaFromConfig(m.cfg), m.logger)
	if err := chromedp.Run(runCtx, persona, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		if opCtx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("browser did not respond within %v: %w", timeout, opCtx.Err())
		}
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	p := newPage(tabCtx, tabCancel, m.cfg, m.logger)
	m.mu.Lock()
	m.pages = append(m.pages, p)
	m.mu.Unlock()

	m.logger.Info("Browser launched successfully and is responsive.", zap.Int("pages", m.pageCount()))
	return p, nil
}

func (m *Manager) pageCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pages)
}

// Close closes every page and then the allocator, respecting ctx as the shutdown deadline.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pages := m.pages
	m.pages = nil
	m.mu.Unlock()

	m.logger.Info("Shutting down browser processes...", zap.Int("pages", len(pages)))
	for _, p := range pages {
		if err := p.Close(ctx); err != nil {
			m.logger.Warn("Failed to close browser page cleanly.", zap.Error(err))
		}
	}

	m.allocatorCancel()
	select {
	case <-m.allocatorCtx.Done():
	case <-ctx.Done():
		m.logger.Warn("Shutdown deadline exceeded while waiting for the allocator.", zap.Error(ctx.Err()))
	}
	return nil
}

// allocatorFlag is a command line switch handed to Chrome. A bool false value omits the switch.
type allocatorFlag struct {
	name  string
	value interface{}
}

// allocatorFlags derives the Chrome switches from the configuration. Custom args come last so they can
// override anything set here.
func allocatorFlags(cfg config.BrowserConfig, goos string) []allocatorFlag {
	flags := []allocatorFlag{
		{"headless", cfg.Headless},
		{"disable-gpu", cfg.Headless},
		{"ignore-certificate-errors", cfg.IgnoreTLSErrors},
		// Keeps navigator.webdriver from flagging the session.
		{"disable-blink-features", "AutomationControlled"},
		{"disable-extensions", true},
	}
	if goos == "linux" {
		flags = append(flags,
			allocatorFlag{"no-sandbox", true},
			allocatorFlag{"disable-dev-shm-usage", true},
		)
	}
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags = append(flags, allocatorFlag{name, parts[1]})
		} else {
			flags = append(flags, allocatorFlag{name, true})
		}
	}
	return flags
}

func buildAllocatorOptions(cfg config.BrowserConfig, goos string) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions {
		opts = append(opts, opt)
	}
	// Later flags win, so this turns the default automation banner off.
	opts = append(opts, chromedp.Flag("enable-automation", false))
	for _, f := range allocatorFlags(cfg, goos) {
		opts = append(opts, chromedp.Flag(f.name, f.value))
	}
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	return opts
}
