package budget

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrBudgetExhausted is matched by every ExhaustedError
var ErrBudgetExhausted = errors.New("request budget exhausted")

// ExhaustedError reports when the current window frees up
type ExhaustedError struct {
	Host    string
	Used    int64
	Limit   int64
	ResetAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("request budget exhausted for %s: %d/%d requests used, window resets at %s",
		e.Host, e.Used, e.Limit, e.ResetAt.Format("15:04:05 UTC"))
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrBudgetExhausted }

// Window is a fixed request allowance per rolling window, e.g. 150 requests
// per 15 minutes. The window starts at the first consumed request.
type Window struct {
	host   string
	limit  int64
	length time.Duration
	clock  clockwork.Clock

	mu      sync.Mutex
	used    int64
	started time.Time
}

// NewWindow creates a budget window. A nil clock uses the wall clock.
func NewWindow(host string, limit int64, length time.Duration, clock clockwork.Clock) *Window {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Window{host: host, limit: limit, length: length, clock: clock}
}

// Consume takes one request from the window or returns *ExhaustedError
func (w *Window) Consume() error {
	if w.limit <= 0 {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if w.started.IsZero() || !now.Before(w.started.Add(w.length)) {
		w.started = now
		w.used = 0
	}
	if w.used >= w.limit {
		return &ExhaustedError{
			Host:    w.host,
			Used:    w.used,
			Limit:   w.limit,
			ResetAt: w.started.Add(w.length).UTC(),
		}
	}
	w.used++
	return nil
}

// Stats is a snapshot of the current window
type Stats struct {
	Host      string    `json:"host"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Stats returns current utilization
func (w *Window) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	st := Stats{Host: w.host, Used: w.used, Limit: w.limit, Remaining: w.limit - w.used}
	if !w.started.IsZero() {
		st.ResetAt = w.started.Add(w.length).UTC()
		if !w.clock.Now().Before(st.ResetAt) {
			st.Used, st.Remaining = 0, w.limit
		}
	}
	return st
}
