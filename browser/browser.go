// Package browser wraps the single browsing context used by session-bound
// sources. Everything chromedp specific stays here so that session handling
// and extraction only see the Page interface.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a selector matches nothing within its wait.
var ErrNotFound = errors.New("browser: element not found")

// Page is one mutable browsing context. It must not be used from more than
// one goroutine at a time.
type Page interface {
	Navigate(ctx context.Context, url string) error
	// Exists reports whether sel appears within timeout. A timeout is not an error.
	Exists(ctx context.Context, sel string, timeout time.Duration) (bool, error)
	// WaitVisible fails with ErrNotFound when sel is not visible within timeout.
	WaitVisible(ctx context.Context, sel string, timeout time.Duration) error
	SendKeys(ctx context.Context, sel, text string) error
	Click(ctx context.Context, sel string) error
	Hover(ctx context.Context, sel string) error
	Attribute(ctx context.Context, sel, name string) (string, error)
	// OuterHTML returns the outer HTML of every node matching sel.
	OuterHTML(ctx context.Context, sel string) ([]string, error)
	Reload(ctx context.Context) error
	Close() error
}

// Launcher acquires a fresh browsing context.
type Launcher func(ctx context.Context) (Page, error)
