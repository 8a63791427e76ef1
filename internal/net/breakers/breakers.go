package breakers

import (
	"time"

	cb "github.com/sony/gobreaker"
)

// Config sets when the breaker trips and how long it stays open
type Config struct {
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // 3
	MinRequests         uint32        `yaml:"min_requests"`         // 20
	FailureRatio        float64       `yaml:"failure_ratio"`        // 0.05
	Interval            time.Duration `yaml:"interval"`             // 60s - closed-state count reset
	Timeout             time.Duration `yaml:"timeout"`              // 60s - open before half-open
}

// DefaultConfig returns the production breaker settings
func DefaultConfig() Config {
	return Config{
		ConsecutiveFailures: 3,
		MinRequests:         20,
		FailureRatio:        0.05,
		Interval:            60 * time.Second,
		Timeout:             60 * time.Second,
	}
}

type Breaker struct{ cb *cb.CircuitBreaker }

// New builds a breaker. isSuccessful decides which errors count against the
// breaker; nil counts every error.
func New(name string, cfg Config, isSuccessful func(error) bool) *Breaker {
	st := cb.Settings{Name: name}
	st.Interval = cfg.Interval
	st.Timeout = cfg.Timeout
	st.IsSuccessful = isSuccessful
	st.ReadyToTrip = func(counts cb.Counts) bool {
		if counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
			return true
		}
		total := counts.Requests
		if total < cfg.MinRequests {
			return false
		}
		return float64(counts.TotalFailures)/float64(total) > cfg.FailureRatio
	}
	return &Breaker{cb: cb.NewCircuitBreaker(st)}
}

func (b *Breaker) Execute(fn func() (any, error)) (any, error) { return b.cb.Execute(fn) }

// Open reports whether calls are currently rejected
func (b *Breaker) Open() bool { return b.cb.State() == cb.StateOpen }

// IsRejection reports whether err came from the breaker itself
func IsRejection(err error) bool {
	return err == cb.ErrOpenState || err == cb.ErrTooManyRequests
}
