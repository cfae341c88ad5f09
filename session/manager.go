// Package session owns the lifecycle of the single authenticated browsing
// context used by session-bound sources: sign-in (with challenge
// resolution), delivery region pinning and best-effort sign-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/reviewharvest/browser"
	"github.com/aluiziolira/reviewharvest/challenge"
	"github.com/aluiziolira/reviewharvest/config"
)

// Kind classifies why a session could not be established or used.
type Kind int

const (
	KindContext Kind = iota + 1
	KindChallenge
	KindAuthentication
	KindRegion
)

func (k Kind) String() string {
	switch k {
	case KindContext:
		return "context"
	case KindChallenge:
		return "challenge"
	case KindAuthentication:
		return "authentication"
	case KindRegion:
		return "region"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// SessionError is returned by Open and PinRegion.
type SessionError struct {
	Kind Kind
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// ErrChallengeUnresolved is returned by Handle.Challenge when the resolver
// gives up mid-session.
var ErrChallengeUnresolved = errors.New("session: challenge unresolved")

var errNoHandle = errors.New("no live session")

// Flow holds the selectors of one site's sign-in, region and sign-out screens.
type Flow struct {
	LoginURL         string
	EmailSelector    string
	ContinueSelector string
	PasswordSelector string
	SubmitSelector   string
	LandmarkSelector string

	HomeURL         string
	AccountSelector string
	SignOutSelector string

	RegionPopoverSelector string
	RegionInputSelector   string
	RegionApplySelector   string
	RegionConfirmSelector string
}

// Options configures a Manager.
type Options struct {
	Flow        Flow
	Credentials config.Credentials
	Launcher    browser.Launcher
	Resolver    *challenge.Resolver

	LandmarkTimeout time.Duration
	LogoutTimeout   time.Duration
	Logger          *slog.Logger
}

// Manager creates and tears down session handles.
type Manager struct {
	flow            Flow
	creds           config.Credentials
	launch          browser.Launcher
	resolver        *challenge.Resolver
	landmarkTimeout time.Duration
	logoutTimeout   time.Duration
	logger          *slog.Logger
}

// NewManager builds a Manager. Timeouts default to 60s (landmark) and 30s
// (logout).
func NewManager(opts Options) *Manager {
	m := &Manager{
		flow:            opts.Flow,
		creds:           opts.Credentials,
		launch:          opts.Launcher,
		resolver:        opts.Resolver,
		landmarkTimeout: opts.LandmarkTimeout,
		logoutTimeout:   opts.LogoutTimeout,
		logger:          opts.Logger,
	}
	if m.landmarkTimeout <= 0 {
		m.landmarkTimeout = 60 * time.Second
	}
	if m.logoutTimeout <= 0 {
		m.logoutTimeout = 30 * time.Second
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Handle is one live authenticated browsing context. Adapters borrow it;
// only the Manager closes it.
type Handle struct {
	page     browser.Page
	resolver *challenge.Resolver
	region   string

	closeOnce sync.Once
}

// Page lends the underlying browsing context.
func (h *Handle) Page() browser.Page {
	return h.page
}

// Region returns the pinned postal code, or "" when none was pinned.
func (h *Handle) Region() string {
	return h.region
}

// Challenge runs the resolver against the current page. landmark is the
// element expected once the page is usable.
func (h *Handle) Challenge(ctx context.Context, landmark string) error {
	if h.resolver == nil {
		return nil
	}
	_, err := h.resolver.Resolve(ctx, h.page, landmark)
	if errors.Is(err, challenge.ErrExhausted) {
		return ErrChallengeUnresolved
	}
	return err
}

// Open launches a browsing context and signs in. On any failure the context
// is closed before returning.
func (m *Manager) Open(ctx context.Context) (*Handle, error) {
	if m.launch == nil {
		return nil, &SessionError{Kind: KindContext, Err: errors.New("no browser launcher configured")}
	}
	page, err := m.launch(ctx)
	if err != nil {
		return nil, &SessionError{Kind: KindContext, Err: err}
	}

	h := &Handle{page: page, resolver: m.resolver}
	if err := m.signIn(ctx, h); err != nil {
		if closeErr := page.Close(); closeErr != nil {
			m.logger.Warn("failed to close browser after sign-in failure", slog.Any("error", closeErr))
		}
		return nil, err
	}

	m.logger.Info("session established")
	return h, nil
}

func (m *Manager) signIn(ctx context.Context, h *Handle) error {
	page := h.page

	if err := page.Navigate(ctx, m.flow.LoginURL); err != nil {
		return &SessionError{Kind: KindContext, Err: err}
	}
	if err := m.challenge(ctx, h, m.flow.EmailSelector); err != nil {
		return err
	}

	steps := []struct {
		name string
		do   func() error
	}{
		{"email", func() error { return page.SendKeys(ctx, m.flow.EmailSelector, m.creds.Email) }},
		{"continue", func() error { return page.Click(ctx, m.flow.ContinueSelector) }},
		{"password", func() error { return page.SendKeys(ctx, m.flow.PasswordSelector, m.creds.Password) }},
		{"submit", func() error { return page.Click(ctx, m.flow.SubmitSelector) }},
	}
	for _, step := range steps {
		if err := step.do(); err != nil {
			if ctx.Err() != nil {
				return &SessionError{Kind: KindContext, Err: ctx.Err()}
			}
			return &SessionError{Kind: KindAuthentication, Err: fmt.Errorf("%s: %w", step.name, err)}
		}
	}

	if err := m.challenge(ctx, h, m.flow.LandmarkSelector); err != nil {
		return err
	}
	if err := page.WaitVisible(ctx, m.flow.LandmarkSelector, m.landmarkTimeout); err != nil {
		if ctx.Err() != nil {
			return &SessionError{Kind: KindContext, Err: ctx.Err()}
		}
		return &SessionError{Kind: KindAuthentication, Err: fmt.Errorf("signed-in landmark not found: %w", err)}
	}
	return nil
}

func (m *Manager) challenge(ctx context.Context, h *Handle, landmark string) error {
	err := h.Challenge(ctx, landmark)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrChallengeUnresolved):
		return &SessionError{Kind: KindChallenge, Err: err}
	default:
		return &SessionError{Kind: KindContext, Err: err}
	}
}

// PinRegion sets the delivery postal code so prices and availability are
// region-consistent. An empty region is a no-op.
func (m *Manager) PinRegion(ctx context.Context, h *Handle, region string) error {
	if h == nil {
		return &SessionError{Kind: KindRegion, Err: errNoHandle}
	}
	if region == "" {
		return nil
	}
	page := h.page

	if err := page.Click(ctx, m.flow.RegionPopoverSelector); err != nil {
		return &SessionError{Kind: KindRegion, Err: fmt.Errorf("open location popover: %w", err)}
	}
	if err := page.WaitVisible(ctx, m.flow.RegionInputSelector, m.landmarkTimeout); err != nil {
		return &SessionError{Kind: KindRegion, Err: err}
	}
	if err := page.SendKeys(ctx, m.flow.RegionInputSelector, region); err != nil {
		return &SessionError{Kind: KindRegion, Err: err}
	}
	if err := page.Click(ctx, m.flow.RegionApplySelector); err != nil {
		return &SessionError{Kind: KindRegion, Err: fmt.Errorf("apply postal code: %w", err)}
	}
	if m.flow.RegionConfirmSelector != "" {
		if err := page.WaitVisible(ctx, m.flow.RegionConfirmSelector, m.landmarkTimeout); err != nil {
			return &SessionError{Kind: KindRegion, Err: err}
		}
		if err := page.Click(ctx, m.flow.RegionConfirmSelector); err != nil {
			return &SessionError{Kind: KindRegion, Err: fmt.Errorf("confirm postal code: %w", err)}
		}
	}
	if err := page.Reload(ctx); err != nil {
		return &SessionError{Kind: KindRegion, Err: err}
	}

	h.region = region
	m.logger.Info("delivery region pinned", slog.String("region", region))
	return nil
}

// Close signs out and closes the page. It never fails: sign-out problems are
// logged. Calling it more than once, or with nil, is safe.
func (m *Manager) Close(h *Handle) {
	if h == nil {
		return
	}
	h.closeOnce.Do(func() {
		// The caller's context may already be cancelled; sign-out gets its own budget.
		ctx, cancel := context.WithTimeout(context.Background(), m.logoutTimeout)
		defer cancel()

		if err := m.signOut(ctx, h.page); err != nil {
			m.logger.Warn("sign-out failed", slog.Any("error", err))
		}
		if err := h.page.Close(); err != nil {
			m.logger.Warn("failed to close browser", slog.Any("error", err))
			return
		}
		m.logger.Info("session closed")
	})
}

func (m *Manager) signOut(ctx context.Context, page browser.Page) error {
	if m.flow.SignOutSelector == "" {
		return nil
	}
	if m.flow.HomeURL != "" {
		if err := page.Navigate(ctx, m.flow.HomeURL); err != nil {
			return err
		}
	}
	if m.flow.AccountSelector != "" {
		if err := page.Hover(ctx, m.flow.AccountSelector); err != nil {
			return err
		}
	}
	return page.Click(ctx, m.flow.SignOutSelector)
}
