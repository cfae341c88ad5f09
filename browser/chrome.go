package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Options describes how Chrome is launched.
type Options struct {
	Headless      bool
	Proxy         string
	UserAgent     string
	ActionTimeout time.Duration
}

// Chrome is a Page backed by one chromedp tab.
type Chrome struct {
	ctx           context.Context
	cancelTab     context.CancelFunc
	cancelAlloc   context.CancelFunc
	actionTimeout time.Duration
	closeOnce     sync.Once
}

// NewChromeLauncher returns a Launcher that starts a new Chrome per call.
func NewChromeLauncher(opts Options) Launcher {
	return func(ctx context.Context) (Page, error) {
		return NewChrome(ctx, opts)
	}
}

// NewChrome starts a browser process and opens one tab.
func NewChrome(ctx context.Context, opts Options) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("lang", "en-US"),
	)
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	c := &Chrome{
		ctx:           tabCtx,
		cancelTab:     tabCancel,
		cancelAlloc:   allocCancel,
		actionTimeout: opts.ActionTimeout,
	}
	if c.actionTimeout <= 0 {
		c.actionTimeout = 30 * time.Second
	}

	// The first Run starts the browser process under the Run's own context,
	// so startup is bounded by closing the browser rather than by a derived
	// deadline. Pages are pinned to English so extracted labels such as
	// "Verified Purchase" match.
	abort := func() { _ = c.Close() }
	timer := time.AfterFunc(c.actionTimeout, abort)
	stop := context.AfterFunc(ctx, abort)
	err := chromedp.Run(c.ctx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": "en-US,en;q=0.9"}),
	)
	timedOut := !timer.Stop()
	cancelled := !stop()

	switch {
	case cancelled:
		_ = c.Close()
		return nil, ctx.Err()
	case timedOut:
		_ = c.Close()
		return nil, fmt.Errorf("start chrome: no response within %s: %w", c.actionTimeout, context.DeadlineExceeded)
	case err != nil:
		_ = c.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return c, nil
}

// run executes actions on the tab, bounded by timeout and by the caller's ctx.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(c.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	if err := c.run(ctx, c.actionTimeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (c *Chrome) Exists(ctx context.Context, sel string, timeout time.Duration) (bool, error) {
	err := c.run(ctx, timeout, chromedp.WaitReady(sel, chromedp.ByQuery))
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return false, nil
	default:
		return false, fmt.Errorf("check %s: %w", sel, err)
	}
}

func (c *Chrome) WaitVisible(ctx context.Context, sel string, timeout time.Duration) error {
	err := c.run(ctx, timeout, chromedp.WaitVisible(sel, chromedp.ByQuery))
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s after %s", ErrNotFound, sel, timeout)
	default:
		return fmt.Errorf("wait %s: %w", sel, err)
	}
}

func (c *Chrome) SendKeys(ctx context.Context, sel, text string) error {
	err := c.run(ctx, c.actionTimeout,
		chromedp.WaitVisible(sel, chromedp.ByQuery),
		chromedp.SetValue(sel, "", chromedp.ByQuery),
		chromedp.SendKeys(sel, text, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("type into %s: %w", sel, err)
	}
	return nil
}

func (c *Chrome) Click(ctx context.Context, sel string) error {
	if err := c.run(ctx, c.actionTimeout, chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return fmt.Errorf("click %s: %w", sel, err)
	}
	return nil
}

// Hover dispatches mouse events so menus that open on hover render their items.
func (c *Chrome) Hover(ctx context.Context, sel string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) { return false; }
		for (const type of ["mouseover", "mouseenter"]) {
			el.dispatchEvent(new MouseEvent(type, {bubbles: true}));
		}
		return true;
	})()`, jsString(sel))

	var found bool
	if err := c.run(ctx, c.actionTimeout, chromedp.WaitReady(sel, chromedp.ByQuery), chromedp.Evaluate(script, &found)); err != nil {
		return fmt.Errorf("hover %s: %w", sel, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, sel)
	}
	return nil
}

func (c *Chrome) Attribute(ctx context.Context, sel, name string) (string, error) {
	var (
		value string
		ok    bool
	)
	if err := c.run(ctx, c.actionTimeout, chromedp.AttributeValue(sel, name, &value, &ok, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("attribute %s of %s: %w", name, sel, err)
	}
	return value, nil
}

func (c *Chrome) OuterHTML(ctx context.Context, sel string) ([]string, error) {
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(el => el.outerHTML)`, jsString(sel))
	var fragments []string
	if err := c.run(ctx, c.actionTimeout, chromedp.Evaluate(script, &fragments)); err != nil {
		return nil, fmt.Errorf("outer html of %s: %w", sel, err)
	}
	return fragments, nil
}

func (c *Chrome) Reload(ctx context.Context) error {
	if err := c.run(ctx, c.actionTimeout, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// Close shuts the tab and the browser process. It is safe to call twice.
func (c *Chrome) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = chromedp.Cancel(c.ctx)
		c.cancelTab()
		c.cancelAlloc()
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
