// Package browsertest provides a scriptable in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/reviewharvest/browser"
)

// Page is a fake browser.Page. Element presence, attributes and
// fragments are plain maps keyed by selector; the On* hooks let a test
// change that state in response to navigation and clicks.
type Page struct {
	mu sync.Mutex

	Present   map[string]bool
	Attrs     map[string]string // keyed by selector + "@" + attribute
	Fragments map[string][]string

	OnNavigate func(p *Page, url string) error
	OnClick    func(p *Page, sel string) error
	OnExists   func(p *Page, sel string) (bool, error)

	calls  []string
	typed  map[string]string
	closed int
}

var _ browser.Page = (*Page)(nil)

// New returns an empty fake page.
func New() *Page {
	return &Page{
		Present:   make(map[string]bool),
		Attrs:     make(map[string]string),
		Fragments: make(map[string][]string),
		typed:     make(map[string]string),
	}
}

// Set marks sel present or absent. Safe to call from hooks.
func (p *Page) Set(sel string, present bool) {
	p.Present[sel] = present
}

// Value returns the last text sent to sel without locking; use it from hooks.
func (p *Page) Value(sel string) string {
	return p.typed[sel]
}

func (p *Page) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("navigate %s", url)
	if p.OnNavigate != nil {
		return p.OnNavigate(p, url)
	}
	return nil
}

func (p *Page) Exists(ctx context.Context, sel string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("exists %s", sel)
	if p.OnExists != nil {
		return p.OnExists(p, sel)
	}
	return p.Present[sel], nil
}

func (p *Page) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("wait %s", sel)
	present := p.Present[sel]
	if p.OnExists != nil {
		var err error
		if present, err = p.OnExists(p, sel); err != nil {
			return err
		}
	}
	if !present {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
	}
	return nil
}

func (p *Page) SendKeys(ctx context.Context, sel, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("keys %s", sel)
	p.typed[sel] = text
	return nil
}

func (p *Page) Click(ctx context.Context, sel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click %s", sel)
	if p.OnClick != nil {
		return p.OnClick(p, sel)
	}
	return nil
}

func (p *Page) Hover(ctx context.Context, sel string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("hover %s", sel)
	return nil
}

func (p *Page) Attribute(ctx context.Context, sel, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("attr %s@%s", sel, name)
	value, ok := p.Attrs[sel+"@"+name]
	if !ok {
		return "", fmt.Errorf("%w: %s", browser.ErrNotFound, sel)
	}
	return value, nil
}

func (p *Page) OuterHTML(ctx context.Context, sel string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("html %s", sel)
	out := make([]string, len(p.Fragments[sel]))
	copy(out, p.Fragments[sel])
	return out, nil
}

func (p *Page) Reload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("reload")
	return nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

// Calls returns every recorded interaction in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	copy(out, p.calls)
	return out
}

// CountCalls counts recorded interactions starting with prefix.
func (p *Page) CountCalls(prefix string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

// Typed returns the last text sent to sel.
func (p *Page) Typed(sel string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[sel]
}

// Closed reports how many times Close was called.
func (p *Page) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
