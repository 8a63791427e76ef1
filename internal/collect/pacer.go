package collect

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Sleeper blocks for d or until ctx is done
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// ClockSleeper sleeps on a clockwork clock
type ClockSleeper struct {
	Clock clockwork.Clock
}

func (s ClockSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.Clock.After(d):
		return nil
	}
}

// Action is an interactive step the pacer separates
type Action string

const (
	ActionNavigate Action = "navigate"
	ActionClick    Action = "click"
	ActionScroll   Action = "scroll"
	ActionType     Action = "type"
)

// Range is a closed delay interval
type Range struct {
	Min time.Duration `yaml:"min"`
	Max time.Duration `yaml:"max"`
}

func (r Range) draw(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)+1))
}

// Pacing configures human emulation delays
type Pacing struct {
	Actions      map[Action]Range `yaml:"actions"`
	Jitter       float64          `yaml:"jitter"`        // 0.1 - +/- fraction applied to every draw
	WidenFactor  float64          `yaml:"widen_factor"`  // 2.0 - multiplier per rate-limit signal
	MaxWiden     float64          `yaml:"max_widen"`     // 8.0
	NarrowAfter  int              `yaml:"narrow_after"`  // 20 - successes before one narrowing step
	NarrowFactor float64          `yaml:"narrow_factor"` // 1.5

	Keystroke     Range  `yaml:"keystroke"`       // 100-300ms per rune
	SlowRunes     string `yaml:"slow_runes"`      // "@._-" typed 1.5x slower
	ThinkEveryMin int    `yaml:"think_every_min"` // 3 - runes between thinking pauses
	ThinkEveryMax int    `yaml:"think_every_max"` // 5
	Think         Range  `yaml:"think"`           // 0.5-1s
}

// DefaultPacing returns the production pacing policy
func DefaultPacing() Pacing {
	return Pacing{
		Actions: map[Action]Range{
			ActionNavigate: {Min: 2 * time.Second, Max: 3 * time.Second},
			ActionClick:    {Min: 1 * time.Second, Max: 2 * time.Second},
			ActionScroll:   {Min: 2500 * time.Millisecond, Max: 3500 * time.Millisecond},
			ActionType:     {Min: 300 * time.Millisecond, Max: 700 * time.Millisecond},
		},
		Jitter:        0.1,
		WidenFactor:   2.0,
		MaxWiden:      8.0,
		NarrowAfter:   20,
		NarrowFactor:  1.5,
		Keystroke:     Range{Min: 100 * time.Millisecond, Max: 300 * time.Millisecond},
		SlowRunes:     "@._-",
		ThinkEveryMin: 3,
		ThinkEveryMax: 5,
		Think:         Range{Min: 500 * time.Millisecond, Max: time.Second},
	}
}

// Validate checks the ranges and factors
func (p Pacing) Validate() error {
	for a, r := range p.Actions {
		if r.Min < 0 || r.Max < r.Min {
			return fmt.Errorf("action %s: invalid range %s-%s", a, r.Min, r.Max)
		}
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("jitter must be within [0,1), got %f", p.Jitter)
	}
	if p.WidenFactor < 1 || p.MaxWiden < 1 || p.NarrowFactor < 1 {
		return fmt.Errorf("widen_factor, max_widen and narrow_factor must be at least 1")
	}
	if p.NarrowAfter <= 0 {
		return fmt.Errorf("narrow_after must be positive, got %d", p.NarrowAfter)
	}
	if p.Keystroke.Max < p.Keystroke.Min || p.Think.Max < p.Think.Min {
		return fmt.Errorf("keystroke and think ranges must have max >= min")
	}
	return nil
}

// Pacer spaces interactive actions. Owned by one session; the widen state
// never leaks to other sessions.
type Pacer struct {
	cfg   Pacing
	sleep Sleeper

	mu        sync.Mutex
	rng       *rand.Rand
	widen     float64
	successes int
	nextThink int
}

// NewPacer creates a pacer drawing from rng
func NewPacer(cfg Pacing, sleep Sleeper, rng *rand.Rand) *Pacer {
	return &Pacer{cfg: cfg, sleep: sleep, rng: rng, widen: 1}
}

// Delay draws the wait before action without sleeping
func (p *Pacer) Delay(a Action) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jittered(p.cfg.Actions[a].draw(p.rng), p.widen)
}

func (p *Pacer) jittered(base time.Duration, factor float64) time.Duration {
	d := float64(base) * factor
	if p.cfg.Jitter > 0 {
		d *= 1 + p.cfg.Jitter*(2*p.rng.Float64()-1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// Wait sleeps before action
func (p *Pacer) Wait(ctx context.Context, a Action) error {
	return p.sleep.Sleep(ctx, p.Delay(a))
}

// Widen stretches all delays after a rate-limit signal
func (p *Pacer) Widen() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.widen *= p.cfg.WidenFactor
	if p.widen > p.cfg.MaxWiden {
		p.widen = p.cfg.MaxWiden
	}
	p.successes = 0
	return p.widen
}

// Succeeded records a productive action; a streak narrows delays one step
func (p *Pacer) Succeeded() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes++
	if p.successes >= p.cfg.NarrowAfter && p.widen > 1 {
		p.successes = 0
		p.widen /= p.cfg.NarrowFactor
		if p.widen < 1 {
			p.widen = 1
		}
	}
	return p.widen
}

// Factor is the current widening multiplier
func (p *Pacer) Factor() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.widen
}

// Keystroke implements browser.KeystrokePacer: a per-rune delay, slower
// for punctuation common in emails and handles, with periodic thinking pauses
func (p *Pacer) Keystroke(ctx context.Context, r rune, index int) error {
	p.mu.Lock()
	d := p.cfg.Keystroke.draw(p.rng)
	if strings.ContainsRune(p.cfg.SlowRunes, r) {
		d = d * 3 / 2
	}
	if index == 0 {
		p.nextThink = p.thinkGap()
	} else if p.nextThink > 0 && index >= p.nextThink {
		d += p.cfg.Think.draw(p.rng)
		p.nextThink = index + p.thinkGap()
	}
	d = p.jittered(d, p.widen)
	p.mu.Unlock()
	return p.sleep.Sleep(ctx, d)
}

// thinkGap is 0 when thinking pauses are disabled
func (p *Pacer) thinkGap() int {
	lo, hi := p.cfg.ThinkEveryMin, p.cfg.ThinkEveryMax
	if lo <= 0 {
		return 0
	}
	if hi <= lo {
		return lo
	}
	return lo + p.rng.Intn(hi-lo+1)
}
