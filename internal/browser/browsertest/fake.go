// Package browsertest provides in-memory implementations of the browser
// interfaces backed by static HTML fixtures.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maltedev/marketplace-scraper/internal/browser"
)

// Fixture is what a fake page serves for one URL.
type Fixture struct {
	HTML string
	// FinalURL is reported by Page.URL after navigation; defaults to the
	// requested URL.
	FinalURL string
	// Present lists selectors that become visible on this page.
	Present []string
	// Delay is slept during Goto, honouring the page context.
	Delay      time.Duration
	GotoErr    error
	ContentErr error
	// ActionErrs fails Click, Fill or Press for the given selector.
	ActionErrs map[string]error
}

// Action is one recorded interaction with a fake page.
type Action struct {
	URL      string
	Kind     string
	Selector string
	Value    string
}

// Launcher hands out Session, or fails with Err.
type Launcher struct {
	Session *Session
	Err     error

	mu       sync.Mutex
	launches int
}

func (l *Launcher) Launch(ctx context.Context) (browser.Session, error) {
	l.mu.Lock()
	l.launches++
	l.mu.Unlock()

	if l.Err != nil {
		return nil, l.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.Session, nil
}

func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Session serves fixtures keyed by URL and tracks page lifetimes.
type Session struct {
	Fixtures   map[string]Fixture
	NewPageErr error

	mu      sync.Mutex
	open    int
	maxOpen int
	opened  int
	closed  int
	actions []Action
	shut    bool
}

func NewSession(fixtures map[string]Fixture) *Session {
	return &Session{Fixtures: fixtures}
}

func (s *Session) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.NewPageErr != nil {
		return nil, s.NewPageErr
	}

	s.mu.Lock()
	s.open++
	s.opened++
	if s.open > s.maxOpen {
		s.maxOpen = s.open
	}
	s.mu.Unlock()

	return &Page{ctx: ctx, session: s}, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shut = true
	return nil
}

// Stats reports how many pages were opened and closed and the highest number
// open at the same time.
func (s *Session) Stats() (opened, closed, maxOpen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened, s.closed, s.maxOpen
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shut
}

func (s *Session) Actions() []Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Action(nil), s.actions...)
}

func (s *Session) record(a Action) {
	s.mu.Lock()
	s.actions = append(s.actions, a)
	s.mu.Unlock()
}

// Page is a fake browser.Page.
type Page struct {
	ctx     context.Context
	session *Session

	mu      sync.Mutex
	url     string
	fixture *Fixture
	closed  bool
}

func (p *Page) Goto(url string, timeout time.Duration) error {
	if p.isClosed() {
		return browser.ErrPageClosed
	}

	fx, ok := p.session.Fixtures[url]
	if !ok {
		return fmt.Errorf("net::ERR_NAME_NOT_RESOLVED at %s", url)
	}

	if fx.Delay > 0 {
		timer := time.NewTimer(fx.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-p.ctx.Done():
			return fmt.Errorf("%w: %v", browser.ErrPageClosed, p.ctx.Err())
		}
	}

	if fx.GotoErr != nil {
		return fx.GotoErr
	}

	p.mu.Lock()
	p.url = url
	if fx.FinalURL != "" {
		p.url = fx.FinalURL
	}
	p.fixture = &fx
	p.mu.Unlock()

	return nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Content() (string, error) {
	if p.isClosed() {
		return "", browser.ErrPageClosed
	}
	fx := p.current()
	if fx == nil {
		return "", nil
	}
	if fx.ContentErr != nil {
		return "", fx.ContentErr
	}
	return fx.HTML, nil
}

// WaitVisible fails immediately for selectors that are not present instead of
// waiting out the timeout.
func (p *Page) WaitVisible(selector string, timeout time.Duration) error {
	if p.isClosed() {
		return browser.ErrPageClosed
	}
	fx := p.current()
	if fx != nil {
		for _, present := range fx.Present {
			if present == selector {
				return nil
			}
		}
	}
	return fmt.Errorf("%s: %w", selector, browser.ErrElementNotFound)
}

func (p *Page) Click(selector string, timeout time.Duration) error {
	return p.act("click", selector, "")
}

func (p *Page) Fill(selector, value string, timeout time.Duration) error {
	return p.act("fill", selector, value)
}

func (p *Page) Press(selector, key string, timeout time.Duration) error {
	return p.act("press", selector, key)
}

func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.session.mu.Lock()
	p.session.open--
	p.session.closed++
	p.session.mu.Unlock()
	return nil
}

func (p *Page) act(kind, selector, value string) error {
	if p.isClosed() {
		return browser.ErrPageClosed
	}
	if err := p.WaitVisible(selector, 0); err != nil {
		return err
	}

	fx := p.current()
	p.session.record(Action{URL: p.URL(), Kind: kind, Selector: selector, Value: value})
	if fx != nil {
		if err := fx.ActionErrs[selector]; err != nil {
			return err
		}
	}
	return nil
}

func (p *Page) current() *Fixture {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fixture
}

func (p *Page) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
