package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

var (
	// ErrElementNotFound is returned when a locator does not become visible
	// within its timeout.
	ErrElementNotFound = errors.New("element not found")
	// ErrPageClosed is returned when the page or its context is gone.
	ErrPageClosed = errors.New("page closed")
)

// Page is one isolated browsing context with a single tab.
type Page interface {
	Goto(url string, timeout time.Duration) error
	URL() string
	Content() (string, error)
	WaitVisible(selector string, timeout time.Duration) error
	Click(selector string, timeout time.Duration) error
	Fill(selector, value string, timeout time.Duration) error
	Press(selector, key string, timeout time.Duration) error
	Close() error
}

// Session is a running browser able to hand out isolated pages.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts a browser for one batch run.
type Launcher interface {
	Launch(ctx context.Context) (Session, error)
}

type Options struct {
	Headless       bool
	ExecutablePath string
	Timeout        time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1080,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
			"Accept-Language": "en-US,en;q=0.9",
			"DNT":             "1",
		},
	}
}

// PlaywrightLauncher launches Chromium through playwright.
type PlaywrightLauncher struct {
	opts   *Options
	logger *slog.Logger
}

func NewLauncher(opts *Options, logger *slog.Logger) *PlaywrightLauncher {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &PlaywrightLauncher{
		opts:   opts,
		logger: logger.With("component", "browser"),
	}
}

func (l *PlaywrightLauncher) Launch(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(l.opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
			"--disable-setuid-sandbox",
		},
	}

	if l.opts.ExecutablePath != "" {
		launchOpts.ExecutablePath = playwright.String(l.opts.ExecutablePath)
	}

	if l.opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: l.opts.ProxyServer,
		}
	}

	b, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	l.logger.Info("browser launched", "executable", l.opts.ExecutablePath, "headless", l.opts.Headless)

	return &playwrightSession{
		pw:      pw,
		browser: b,
		opts:    l.opts,
		logger:  l.logger,
	}, nil
}

type playwrightSession struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	opts    *Options
	logger  *slog.Logger
}

// NewPage opens a fresh browser context so cookies and storage never leak
// between items. The context is closed when ctx is cancelled.
func (s *playwrightSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         playwright.String(s.opts.UserAgent),
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            playwright.String(s.opts.Locale),
		TimezoneId:        playwright.String(s.opts.TimezoneID),
		Viewport: &playwright.Size{
			Width:  s.opts.ViewportWidth,
			Height: s.opts.ViewportHeight,
		},
		ExtraHttpHeaders: s.opts.ExtraHeaders,
	}

	bctx, err := s.browser.NewContext(contextOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		bctx.Close()
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(s.opts.Timeout.Milliseconds()))
	page.OnConsole(func(msg playwright.ConsoleMessage) {
		s.logger.Debug("page console", "text", msg.Text())
	})

	p := &playwrightPage{page: page, context: bctx}
	p.stop = context.AfterFunc(ctx, func() {
		bctx.Close()
	})

	return p, nil
}

func (s *playwrightSession) Close() error {
	var errs []error

	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if s.pw != nil {
		if err := s.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}

type playwrightPage struct {
	page    playwright.Page
	context playwright.BrowserContext
	stop    func() bool
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	_, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(ms(timeout)),
	})
	if err != nil && p.page.IsClosed() {
		return fmt.Errorf("%w: %v", ErrPageClosed, err)
	}
	return err
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) Content() (string, error) {
	if p.page.IsClosed() {
		return "", ErrPageClosed
	}
	html, err := p.page.Content()
	if err != nil {
		if p.page.IsClosed() {
			return "", fmt.Errorf("%w: %v", ErrPageClosed, err)
		}
		return "", err
	}
	return html, nil
}

func (p *playwrightPage) WaitVisible(selector string, timeout time.Duration) error {
	err := p.page.Locator(selector).First().WaitFor(playwright.LocatorWaitForOptions{
		State:   playwright.WaitForSelectorStateVisible,
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", selector, p.translate(err))
	}
	return nil
}

func (p *playwrightPage) Click(selector string, timeout time.Duration) error {
	err := p.page.Locator(selector).First().Click(playwright.LocatorClickOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return fmt.Errorf("failed to click %s: %w", selector, p.translate(err))
	}
	return nil
}

func (p *playwrightPage) Fill(selector, value string, timeout time.Duration) error {
	err := p.page.Locator(selector).First().Fill(value, playwright.LocatorFillOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return fmt.Errorf("failed to fill %s: %w", selector, p.translate(err))
	}
	return nil
}

func (p *playwrightPage) Press(selector, key string, timeout time.Duration) error {
	err := p.page.Locator(selector).First().Press(key, playwright.LocatorPressOptions{
		Timeout: playwright.Float(ms(timeout)),
	})
	if err != nil {
		return fmt.Errorf("failed to press %s on %s: %w", key, selector, p.translate(err))
	}
	return nil
}

// Close releases the whole browser context backing the page.
func (p *playwrightPage) Close() error {
	p.stop()
	if err := p.context.Close(); err != nil {
		return fmt.Errorf("failed to close context: %w", err)
	}
	return nil
}

func (p *playwrightPage) translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, playwright.ErrTimeout):
		return fmt.Errorf("%w: %v", ErrElementNotFound, err)
	case p.page.IsClosed():
		return fmt.Errorf("%w: %v", ErrPageClosed, err)
	default:
		return err
	}
}

func ms(d time.Duration) float64 {
	return float64(d.Milliseconds())
}
