package session

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/aluiziolira/reviewharvest/browser"
	"github.com/aluiziolira/reviewharvest/browser/browsertest"
	"github.com/aluiziolira/reviewharvest/challenge"
	"github.com/aluiziolira/reviewharvest/config"
)

var testFlow = Flow{
	LoginURL:              "https://shop.example.test/signin",
	EmailSelector:         "#email",
	ContinueSelector:      "#continue",
	PasswordSelector:      "#password",
	SubmitSelector:        "#submit",
	LandmarkSelector:      "#account",
	HomeURL:               "https://shop.example.test/",
	AccountSelector:       "#account",
	SignOutSelector:       "#signout",
	RegionPopoverSelector: "#location",
	RegionInputSelector:   "#zip",
	RegionApplySelector:   "#zip-apply",
	RegionConfirmSelector: "#zip-done",
}

var testForm = challenge.Form{
	FormSelector:   "form.captcha",
	ImageSelector:  "form.captcha img",
	InputSelector:  "#captcha",
	SubmitSelector: "form.captcha button",
}

func newTestManager(page *browsertest.Page, launchErr error) *Manager {
	resolver := challenge.NewResolver(
		challenge.Config{Form: testForm, MaxAttempts: 2},
		challenge.DecoderFunc(func(ctx context.Context, image []byte) (string, error) { return "WRONG", nil }),
		challenge.ImageFetcherFunc(func(ctx context.Context, src string) ([]byte, error) { return []byte("img"), nil }),
	)
	return NewManager(Options{
		Flow:        testFlow,
		Credentials: config.Credentials{Email: "buyer@example.test", Password: "hunter2"},
		Launcher: func(ctx context.Context) (browser.Page, error) {
			if launchErr != nil {
				return nil, launchErr
			}
			return page, nil
		},
		Resolver: resolver,
	})
}

func signInPage() *browsertest.Page {
	page := browsertest.New()
	page.Set(testFlow.EmailSelector, true)
	page.Set(testFlow.LandmarkSelector, true)
	page.Set(testFlow.RegionInputSelector, true)
	page.Set(testFlow.RegionConfirmSelector, true)
	return page
}

func TestOpenSignsIn(t *testing.T) {
	page := signInPage()
	m := newTestManager(page, nil)

	h, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if h.Page() != page {
		t.Fatalf("handle does not lend the launched page")
	}
	if got := page.Typed(testFlow.EmailSelector); got != "buyer@example.test" {
		t.Fatalf("email typed = %q", got)
	}
	if got := page.Typed(testFlow.PasswordSelector); got != "hunter2" {
		t.Fatalf("password typed = %q", got)
	}

	calls := page.Calls()
	if calls[0] != "navigate "+testFlow.LoginURL {
		t.Fatalf("first call = %q, want navigation to login", calls[0])
	}
	continueAt := slices.Index(calls, "click "+testFlow.ContinueSelector)
	submitAt := slices.Index(calls, "click "+testFlow.SubmitSelector)
	if continueAt < 0 || submitAt < continueAt {
		t.Fatalf("unexpected sign-in order: %v", calls)
	}
	if page.Closed() != 0 {
		t.Fatalf("page closed on successful open")
	}
}

func TestOpenFailures(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(p *browsertest.Page)
		launchErr error
		kind      Kind
		closed    int
	}{
		{
			name:      "launch fails",
			launchErr: errors.New("chrome not found"),
			kind:      KindContext,
		},
		{
			name: "challenge never solved",
			setup: func(p *browsertest.Page) {
				p.Set(testForm.FormSelector, true)
				p.Set(testFlow.EmailSelector, false)
				p.Attrs[testForm.ImageSelector+"@src"] = "data:,x"
			},
			kind:   KindChallenge,
			closed: 1,
		},
		{
			name:   "landmark missing after submit",
			setup:  func(p *browsertest.Page) { p.Set(testFlow.LandmarkSelector, false) },
			kind:   KindAuthentication,
			closed: 1,
		},
		{
			name: "login page unreachable",
			setup: func(p *browsertest.Page) {
				p.OnNavigate = func(p *browsertest.Page, url string) error { return errors.New("net::ERR_NAME_NOT_RESOLVED") }
			},
			kind:   KindContext,
			closed: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := signInPage()
			if tt.setup != nil {
				tt.setup(page)
			}
			m := newTestManager(page, tt.launchErr)

			h, err := m.Open(context.Background())
			if h != nil {
				t.Fatalf("expected nil handle on failure")
			}
			var sessErr *SessionError
			if !errors.As(err, &sessErr) {
				t.Fatalf("expected *SessionError, got %v", err)
			}
			if sessErr.Kind != tt.kind {
				t.Fatalf("kind = %s, want %s", sessErr.Kind, tt.kind)
			}
			if page.Closed() != tt.closed {
				t.Fatalf("page closed %d times, want %d", page.Closed(), tt.closed)
			}
		})
	}
}

func TestCloseIsIdempotentAndNilSafe(t *testing.T) {
	page := signInPage()
	m := newTestManager(page, nil)
	h, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	m.Close(h)
	m.Close(h)
	m.Close(nil)

	if page.Closed() != 1 {
		t.Fatalf("page closed %d times, want 1", page.Closed())
	}
	if got := page.CountCalls("click " + testFlow.SignOutSelector); got != 1 {
		t.Fatalf("sign-out clicks = %d, want 1", got)
	}
	if got := page.CountCalls("hover " + testFlow.AccountSelector); got != 1 {
		t.Fatalf("account hovers = %d, want 1", got)
	}
}

func TestCloseClosesPageWhenSignOutFails(t *testing.T) {
	page := signInPage()
	m := newTestManager(page, nil)
	h, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	page.OnClick = func(p *browsertest.Page, sel string) error {
		if sel == testFlow.SignOutSelector {
			return browser.ErrNotFound
		}
		return nil
	}

	m.Close(h)
	if page.Closed() != 1 {
		t.Fatalf("page closed %d times, want 1", page.Closed())
	}
}

func TestPinRegion(t *testing.T) {
	page := signInPage()
	m := newTestManager(page, nil)
	h, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := m.PinRegion(context.Background(), h, "10001"); err != nil {
		t.Fatalf("pin region: %v", err)
	}
	if got := page.Typed(testFlow.RegionInputSelector); got != "10001" {
		t.Fatalf("postal code typed = %q", got)
	}
	if page.CountCalls("reload") != 1 {
		t.Fatalf("expected one reload after pinning")
	}
	if h.Region() != "10001" {
		t.Fatalf("region = %q", h.Region())
	}
}

func TestPinRegionFailure(t *testing.T) {
	page := signInPage()
	m := newTestManager(page, nil)
	h, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	page.Set(testFlow.RegionInputSelector, false)

	err = m.PinRegion(context.Background(), h, "10001")
	var sessErr *SessionError
	if !errors.As(err, &sessErr) || sessErr.Kind != KindRegion {
		t.Fatalf("expected region SessionError, got %v", err)
	}
	if h.Region() != "" {
		t.Fatalf("region recorded despite failure")
	}

	if err := m.PinRegion(context.Background(), nil, "10001"); err == nil {
		t.Fatalf("expected error for nil handle")
	}
}

func TestHandleChallengeUnresolved(t *testing.T) {
	page := signInPage()
	m := newTestManager(page, nil)
	h, err := m.Open(context.Background())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	page.Set(testForm.FormSelector, true)
	page.Attrs[testForm.ImageSelector+"@src"] = "data:,x"
	if err := h.Challenge(context.Background(), "#productTitle"); !errors.Is(err, ErrChallengeUnresolved) {
		t.Fatalf("expected ErrChallengeUnresolved, got %v", err)
	}
}
