// Package challenge detects and answers image-text challenges (CAPTCHAs)
// shown by anti-bot screens. Resolution is a bounded state machine: it
// never blocks past MaxAttempts and reports exhaustion as a soft failure so
// the caller can decide whether to abort.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/reviewharvest/browser"
	"github.com/aluiziolira/reviewharvest/metrics"
)

// State is a position in the resolution state machine.
type State int

const (
	NoChallenge State = iota
	ChallengeDetected
	Solving
	Resolved
	Exhausted
)

func (s State) String() string {
	switch s {
	case NoChallenge:
		return "no_challenge"
	case ChallengeDetected:
		return "challenge_detected"
	case Solving:
		return "solving"
	case Resolved:
		return "resolved"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrExhausted is returned with the Exhausted state.
var ErrExhausted = errors.New("challenge: attempts exhausted")

// Form locates the parts of a challenge screen.
type Form struct {
	FormSelector   string
	ImageSelector  string
	InputSelector  string
	SubmitSelector string
}

// Config bounds the resolver.
type Config struct {
	Form         Form
	MaxAttempts  int
	ProbeTimeout time.Duration
	SettleDelay  time.Duration
}

// Resolver drives one page through a challenge screen.
type Resolver struct {
	cfg     Config
	decoder Decoder
	images  ImageFetcher
	metrics *metrics.Metrics
	logger  *slog.Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

// Option customises a Resolver.
type Option func(*Resolver)

// WithMetrics counts attempts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// WithLogger replaces the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver builds a resolver. MaxAttempts defaults to 3 and ProbeTimeout
// to 3s when unset.
func NewResolver(cfg Config, decoder Decoder, images ImageFetcher, opts ...Option) *Resolver {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	r := &Resolver{
		cfg:     cfg,
		decoder: decoder,
		images:  images,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the state machine until Resolved or Exhausted. landmark is
// the element whose presence proves the challenge was passed; when empty,
// the disappearance of the challenge form is used instead.
func (r *Resolver) Resolve(ctx context.Context, page browser.Page, landmark string) (State, error) {
	state := NoChallenge
	attempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return state, err
		}

		switch state {
		case NoChallenge:
			present, err := page.Exists(ctx, r.cfg.Form.FormSelector, r.cfg.ProbeTimeout)
			if err != nil {
				if ctx.Err() != nil {
					return state, ctx.Err()
				}
				r.logger.Debug("challenge probe failed, assuming none", slog.Any("error", err))
				present = false
			}
			if !present {
				r.move(&state, Resolved)
				return state, nil
			}
			r.move(&state, ChallengeDetected)

		case ChallengeDetected:
			if attempts >= r.cfg.MaxAttempts {
				r.move(&state, Exhausted)
				r.logger.Warn("challenge attempts exhausted", slog.Int("attempts", attempts))
				return state, ErrExhausted
			}
			attempts++
			r.move(&state, Solving)
			r.logger.Info("solving challenge", slog.Int("attempt", attempts), slog.Int("max_attempts", r.cfg.MaxAttempts))
			if err := r.solve(ctx, page); err != nil {
				if ctx.Err() != nil {
					return state, ctx.Err()
				}
				r.metrics.IncChallenge("error")
				r.logger.Warn("challenge attempt failed", slog.Int("attempt", attempts), slog.Any("error", err))
			}

		case Solving:
			passed, err := r.passed(ctx, page, landmark)
			if err != nil && ctx.Err() != nil {
				return state, ctx.Err()
			}
			if passed {
				r.metrics.IncChallenge("solved")
				r.move(&state, Resolved)
				return state, nil
			}
			r.metrics.IncChallenge("rejected")
			r.move(&state, ChallengeDetected)

		default:
			return state, fmt.Errorf("challenge: unexpected state %s", state)
		}
	}
}

func (r *Resolver) solve(ctx context.Context, page browser.Page) error {
	src, err := page.Attribute(ctx, r.cfg.Form.ImageSelector, "src")
	if err != nil {
		return fmt.Errorf("locate challenge image: %w", err)
	}
	if src == "" {
		return fmt.Errorf("challenge image has no source")
	}
	image, err := r.images.Fetch(ctx, src)
	if err != nil {
		return fmt.Errorf("download challenge image: %w", err)
	}
	text, err := r.decoder.Solve(ctx, image)
	if err != nil {
		return fmt.Errorf("decode challenge image: %w", err)
	}
	text = strings.TrimSpace(text)
	r.logger.Debug("challenge decoded", slog.String("text", text))

	if err := page.SendKeys(ctx, r.cfg.Form.InputSelector, text); err != nil {
		return err
	}
	if err := page.Click(ctx, r.cfg.Form.SubmitSelector); err != nil {
		return err
	}
	return sleep(ctx, r.cfg.SettleDelay)
}

func (r *Resolver) passed(ctx context.Context, page browser.Page, landmark string) (bool, error) {
	if landmark != "" {
		return page.Exists(ctx, landmark, r.cfg.ProbeTimeout)
	}
	present, err := page.Exists(ctx, r.cfg.Form.FormSelector, r.cfg.ProbeTimeout)
	if err != nil {
		return false, err
	}
	return !present, nil
}

func (r *Resolver) move(state *State, to State) {
	from := *state
	*state = to
	if r.OnTransition != nil {
		r.OnTransition(from, to)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
