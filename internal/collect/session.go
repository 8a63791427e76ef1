package collect

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/browser"
	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/secrets"
)

// Observer receives session events; metrics hang off it
type Observer interface {
	StateChanged(hashtag string, from, to State)
	PostCollected(hashtag string)
	RecordDropped(hashtag, reason string)
	RateLimited(hashtag string, cooldown time.Duration)
	SessionFinished(hashtag string, outcome Outcome, elapsed time.Duration)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) StateChanged(string, State, State)              {}
func (NopObserver) PostCollected(string)                           {}
func (NopObserver) RecordDropped(string, string)                   {}
func (NopObserver) RateLimited(string, time.Duration)              {}
func (NopObserver) SessionFinished(string, Outcome, time.Duration) {}

// Stats summarizes how a session went
type Stats struct {
	Scrolls        int             `json:"scrolls"`
	Dropped        int             `json:"dropped_records"`
	RateLimitHits  int             `json:"rate_limit_hits"`
	NetworkRetries int             `json:"network_retries"` // retries scheduled after transient errors
	Backoffs       []time.Duration `json:"backoffs"`
	Cooldowns      []time.Duration `json:"cooldowns"`
	Elapsed        time.Duration   `json:"elapsed"`
}

// Result is the terminal output of one session. Posts are in scroll
// discovery order; a Failed result's posts must not feed a signal.
type Result struct {
	Hashtag string
	Outcome Outcome
	Reason  string
	Posts   []domain.RawPost
	Err     error
	Stats   Stats
}

// SessionOption customizes a Session
type SessionOption func(*Session)

// WithClock sets the clock used for deadlines and harvest timestamps
func WithClock(c clockwork.Clock) SessionOption { return func(s *Session) { s.clock = c } }

// WithSleeper replaces how the session waits
func WithSleeper(sl Sleeper) SessionOption { return func(s *Session) { s.sleeper = sl } }

// WithRand seeds pacing draws
func WithRand(rng *rand.Rand) SessionOption { return func(s *Session) { s.rng = rng } }

// WithRunID tags log lines with the run identifier
func WithRunID(id string) SessionOption { return func(s *Session) { s.runID = id } }

// WithObserver registers an event observer
func WithObserver(o Observer) SessionOption { return func(s *Session) { s.observer = o } }

// Session collects one hashtag. It owns its SessionState, Pacer and backoff
// clock; nothing is shared with other sessions.
type Session struct {
	cfg      Config
	hashtag  string
	runID    string
	creds    secrets.Credentials
	browser  browser.Browser
	clock    clockwork.Clock
	sleeper  Sleeper
	rng      *rand.Rand
	observer Observer

	state    *SessionState
	retry    failsafe.Executor[any]
	lastErr  error
	pacer    *Pacer
	patience Patience
	redactor *secrets.Redactor
	logger   zerolog.Logger

	posts         []domain.RawPost
	seen          map[string]struct{}
	stats         Stats
	scrollPending bool
	err           error
}

// NewSession prepares a session; Run drives it to a terminal state
func NewSession(cfg Config, hashtag string, creds secrets.Credentials, b browser.Browser, opts ...SessionOption) *Session {
	s := &Session{
		cfg:     cfg,
		hashtag: domain.NormalizeHashtag(hashtag),
		creds:   creds,
		browser: b,
		seen:    make(map[string]struct{}),
		state:   newSessionState(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.sleeper == nil {
		s.sleeper = ClockSleeper{Clock: s.clock}
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(s.clock.Now().UnixNano()))
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	s.pacer = NewPacer(cfg.Pacing, s.sleeper, s.rng)
	s.patience = NewPatience(cfg.Patience)
	s.redactor = creds.Redactor()
	s.logger = log.With().Str("hashtag", s.hashtag).Str("run_id", s.runID).Logger()
	s.retry = failsafe.With[any](s.networkPolicy())
	return s
}

// networkPolicy re-runs a step that failed with a transient network error,
// backing off between attempts. Any other error passes straight through.
func (s *Session) networkPolicy() retrypolicy.RetryPolicy[any] {
	b := s.cfg.NetworkBackoff
	return retrypolicy.NewBuilder[any]().
		HandleIf(func(_ any, err error) bool { return faults.IsTransient(err) }).
		WithBackoffFactor(b.Base, b.Max, b.Multiplier).
		WithMaxRetries(s.cfg.NetworkRetries).
		ReturnLastFailure().
		OnRetryScheduled(func(e failsafe.ExecutionScheduledEvent[any]) {
			s.state.NetworkRetries = e.Attempts()
			s.stats.NetworkRetries++
			s.stats.Backoffs = append(s.stats.Backoffs, e.Delay)
			s.logger.Debug().Str("error", s.redactor.RedactError(s.lastErr)).
				Int("attempt", e.Attempts()).Dur("backoff", e.Delay).
				Msg("Transient network error, backing off")
		}).
		Build()
}

// State exposes the session state, mainly for tests
func (s *Session) State() *SessionState { return s.state }

// unexpectedError is an observation that does not match the current step
type unexpectedError struct {
	observed string
}

func (e *unexpectedError) Error() string { return "unexpected page: " + e.observed }

func unexpected(format string, args ...interface{}) error {
	return &unexpectedError{observed: fmt.Sprintf(format, args...)}
}

// Run drives the state machine until Terminated. It never panics on host
// behavior and always returns a Result.
func (s *Session) Run(ctx context.Context) Result {
	start := s.clock.Now()
	deadline := start.Add(s.cfg.Timeout)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	s.logger.Info().Int("target", s.cfg.Target).Object("credentials", s.creds).Msg("Starting collection session")

	for s.state.Current != Terminated {
		if !s.clock.Now().Before(deadline) {
			s.finish(Exhausted, "timeout", nil)
			break
		}
		err := s.retry.WithContext(ctx).Run(func() error {
			s.lastErr = s.step(ctx)
			return s.lastErr
		})
		s.state.NetworkRetries = 0
		if err != nil {
			s.handle(ctx, err)
		}
	}

	s.stats.Elapsed = s.clock.Since(start)
	s.stats.RateLimitHits = s.state.TotalRateLimits
	s.observer.SessionFinished(s.hashtag, s.state.Outcome, s.stats.Elapsed)

	var ev *zerolog.Event
	if s.state.Outcome == Failed {
		ev = s.logger.Warn().Str("error", s.redactor.RedactError(s.err))
	} else {
		ev = s.logger.Info()
	}
	ev.Str("outcome", string(s.state.Outcome)).
		Str("reason", s.state.Reason).
		Int("posts", len(s.posts)).
		Int("dropped", s.stats.Dropped).
		Int("rate_limits", s.stats.RateLimitHits).
		Dur("elapsed", s.stats.Elapsed).
		Msg("Collection session finished")

	return Result{
		Hashtag: s.hashtag,
		Outcome: s.state.Outcome,
		Reason:  s.state.Reason,
		Posts:   s.posts,
		Err:     s.err,
		Stats:   s.stats,
	}
}

func (s *Session) step(ctx context.Context) error {
	var err error
	switch s.state.Current {
	case LoggedOut:
		err = s.openLogin(ctx)
	case AwaitingEmailStep:
		err = s.emailStep(ctx)
	case AwaitingUsernameStep:
		err = s.usernameStep(ctx)
	case AwaitingPasswordStep:
		err = s.passwordStep(ctx)
	case Authenticated:
		err = s.openSearch(ctx)
	case Collecting:
		err = s.collectStep(ctx)
	case RateLimited:
		err = s.cooldown(ctx)
	}
	return err
}

func (s *Session) transition(to State) {
	from := s.state.Current
	if from == to {
		return
	}
	s.state.Current = to
	s.observer.StateChanged(s.hashtag, from, to)
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("Session state transition")
}

func (s *Session) finish(outcome Outcome, reason string, err error) {
	s.state.Outcome = outcome
	s.state.Reason = reason
	s.err = err
	s.transition(Terminated)
}

func (s *Session) handle(ctx context.Context, err error) {
	var unexp *unexpectedError
	switch {
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		reason := "canceled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		s.finish(Exhausted, reason, nil)

	case faults.IsAntiBot(err):
		s.rateLimited(err)

	case faults.IsTransient(err):
		s.finish(Failed, "network retries exhausted", err)

	case errors.As(err, &unexp) || (isLoginState(s.state.Current) && !faults.IsAuthFlow(err)):
		observed := err.Error()
		if unexp != nil {
			observed = unexp.observed
		}
		s.unexpectedObservation(ctx, observed)

	default:
		s.finish(Failed, "unrecoverable error", err)
	}
}

func isLoginState(st State) bool {
	return st == AwaitingEmailStep || st == AwaitingUsernameStep || st == AwaitingPasswordStep
}

// unexpectedObservation spends one retry of the current step. A page that is
// really a rate-limit screen is treated as such instead.
func (s *Session) unexpectedObservation(ctx context.Context, observed string) {
	if marker := s.rateLimitMarker(ctx); marker != "" {
		s.rateLimited(&faults.AntiBotChallengeError{Indicator: marker})
		return
	}
	st := s.state.Current
	s.state.StepRetries[st]++
	attempts := s.state.StepRetries[st]
	if attempts > s.cfg.StepRetries {
		s.finish(Failed, "authentication flow", &faults.AuthenticationFlowError{
			Stage:    st.String(),
			Attempts: attempts,
			Observed: s.redactor.RedactString(observed),
		})
		return
	}
	s.logger.Debug().Str("state", st.String()).Int("attempt", attempts).
		Str("observed", s.redactor.RedactString(observed)).Msg("Unexpected page, retrying step")
	if err := s.pacer.Wait(ctx, ActionNavigate); err != nil {
		s.handle(ctx, err)
	}
}

func (s *Session) rateLimited(err error) {
	s.state.RateLimitHits++
	s.state.TotalRateLimits++
	if s.state.RateLimitHits > s.cfg.MaxCooldowns {
		outcome := Failed
		if len(s.posts) > 0 {
			outcome = Exhausted
		}
		s.finish(outcome, "rate limit cooldowns exhausted", err)
		return
	}

	var prev time.Duration
	if s.state.RateLimitHits > 1 {
		prev = s.state.Cooldown
	}
	cooldown := s.cfg.Cooldown.Next(prev, s.state.RateLimitHits-1, faults.RetryAfter(err))
	s.state.Cooldown = cooldown
	s.stats.Cooldowns = append(s.stats.Cooldowns, cooldown)
	widen := s.pacer.Widen()

	// login pages do not survive a challenge, start the flow over
	resume := s.state.Current
	switch {
	case resume == RateLimited:
		resume = s.state.Resume
	case resume != Collecting && resume != Authenticated:
		resume = LoggedOut
	}
	s.state.Resume = resume
	s.observer.RateLimited(s.hashtag, cooldown)
	s.logger.Warn().Str("indicator", s.redactor.RedactError(err)).
		Int("consecutive", s.state.RateLimitHits).Dur("cooldown", cooldown).
		Float64("pacing_factor", widen).Msg("Rate limited, cooling down")
	s.transition(RateLimited)
}

func (s *Session) cooldown(ctx context.Context) error {
	if err := s.sleeper.Sleep(ctx, s.state.Cooldown); err != nil {
		return err
	}
	s.transition(s.state.Resume)
	return nil
}

// rateLimitMarker returns the first configured marker found in the page text
func (s *Session) rateLimitMarker(ctx context.Context) string {
	body, err := s.browser.PageText(ctx)
	if err != nil {
		return ""
	}
	body = strings.ToLower(body)
	for _, m := range s.cfg.RateLimitMarkers {
		if m != "" && strings.Contains(body, strings.ToLower(m)) {
			return m
		}
	}
	return ""
}

func (s *Session) openLogin(ctx context.Context) error {
	if err := s.pacer.Wait(ctx, ActionNavigate); err != nil {
		return err
	}
	if err := s.browser.OpenPage(ctx, s.cfg.LoginURL); err != nil {
		return err
	}
	s.transition(AwaitingEmailStep)
	return nil
}

func (s *Session) present(ctx context.Context, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	return s.browser.Present(ctx, selector)
}

// fill types value into target then clicks button
func (s *Session) fill(ctx context.Context, target string, value secrets.Value, button string) error {
	if err := s.pacer.Wait(ctx, ActionType); err != nil {
		return err
	}
	if err := s.browser.TypeText(ctx, target, value.Reveal(), s.pacer); err != nil {
		return err
	}
	if err := s.pacer.Wait(ctx, ActionClick); err != nil {
		return err
	}
	return s.browser.Click(ctx, button)
}

func (s *Session) emailStep(ctx context.Context) error {
	sel := s.cfg.Selectors
	ok, err := s.present(ctx, sel.EmailInput)
	if err != nil {
		return err
	}
	if !ok {
		return unexpected("email input %s missing", sel.EmailInput)
	}
	if err := s.fill(ctx, sel.EmailInput, s.creds.Email, sel.NextButton); err != nil {
		return err
	}

	if ok, err := s.present(ctx, sel.UsernameInput); err != nil {
		return err
	} else if ok {
		s.transition(AwaitingUsernameStep)
		return nil
	}
	if ok, err := s.present(ctx, sel.PasswordInput); err != nil {
		return err
	} else if ok {
		s.transition(AwaitingPasswordStep)
		return nil
	}
	return unexpected("neither username nor password input after email")
}

func (s *Session) usernameStep(ctx context.Context) error {
	sel := s.cfg.Selectors
	if !s.creds.Username.IsSet() {
		return &faults.AuthenticationFlowError{
			Stage:    AwaitingUsernameStep.String(),
			Observed: "username challenge without a configured username",
		}
	}
	ok, err := s.present(ctx, sel.UsernameInput)
	if err != nil {
		return err
	}
	if !ok {
		return unexpected("username input %s missing", sel.UsernameInput)
	}
	if err := s.fill(ctx, sel.UsernameInput, s.creds.Username, sel.NextButton); err != nil {
		return err
	}
	if ok, err := s.present(ctx, sel.PasswordInput); err != nil {
		return err
	} else if !ok {
		return unexpected("password input missing after username")
	}
	s.transition(AwaitingPasswordStep)
	return nil
}

func (s *Session) passwordStep(ctx context.Context) error {
	sel := s.cfg.Selectors
	ok, err := s.present(ctx, sel.PasswordInput)
	if err != nil {
		return err
	}
	if !ok {
		return unexpected("password input %s missing", sel.PasswordInput)
	}
	if err := s.fill(ctx, sel.PasswordInput, s.creds.Password, sel.LoginButton); err != nil {
		return err
	}
	if ok, err := s.present(ctx, sel.Authenticated); err != nil {
		return err
	} else if !ok {
		return unexpected("not authenticated after password")
	}
	s.state.RateLimitHits = 0
	s.transition(Authenticated)
	return nil
}

func (s *Session) openSearch(ctx context.Context) error {
	if err := s.pacer.Wait(ctx, ActionNavigate); err != nil {
		return err
	}
	if err := s.browser.OpenPage(ctx, s.cfg.SearchURLFor(s.hashtag)); err != nil {
		return err
	}
	s.scrollPending = false
	s.transition(Collecting)
	return nil
}

// collectStep harvests what is visible then scrolls once. A scroll that
// failed is retried without re-reading the same screen.
func (s *Session) collectStep(ctx context.Context) error {
	if !s.scrollPending {
		if s.state.Scrolls >= s.cfg.MaxScrolls {
			s.finish(Exhausted, "max scrolls", nil)
			return nil
		}
		records, err := s.browser.ReadVisible(ctx, s.cfg.Selectors.Posts)
		if err != nil {
			return err
		}
		added := s.harvest(records)
		if len(s.posts) >= s.cfg.Target {
			s.finish(Success, "target reached", nil)
			return nil
		}
		if added == 0 {
			if marker := s.rateLimitMarker(ctx); marker != "" {
				return &faults.AntiBotChallengeError{Indicator: marker}
			}
			s.state.EmptyScrolls++
			if s.patience.Exhausted(s.state.EmptyScrolls, len(s.posts)) {
				s.finish(Exhausted, "no new posts", nil)
				return nil
			}
		} else {
			s.state.EmptyScrolls = 0
			s.state.RateLimitHits = 0
			s.pacer.Succeeded()
		}
		s.scrollPending = true
	}

	if err := s.pacer.Wait(ctx, ActionScroll); err != nil {
		return err
	}
	if err := s.browser.Scroll(ctx, browser.Down, 1); err != nil {
		return err
	}
	s.scrollPending = false
	s.state.Scrolls++
	s.stats.Scrolls = s.state.Scrolls
	return nil
}

// harvest keeps valid records not seen before, up to the target
func (s *Session) harvest(records []browser.Record) int {
	added := 0
	now := s.clock.Now()
	for _, rec := range records {
		if len(s.posts) >= s.cfg.Target {
			break
		}
		post, err := ParseRecord(rec, s.hashtag, now)
		if err != nil {
			s.stats.Dropped++
			s.observer.RecordDropped(s.hashtag, "invalid")
			s.logger.Debug().Str("reason", s.redactor.RedactError(err)).Msg("Dropping malformed record")
			continue
		}
		if _, dup := s.seen[post.ID]; dup {
			continue
		}
		s.seen[post.ID] = struct{}{}
		s.posts = append(s.posts, post)
		s.observer.PostCollected(s.hashtag)
		added++
	}
	return added
}
