// Package ratelimit paces outbound page requests per host. A host that
// answers with a rate-limit signal is slowed down and earns its base rate
// back one step at a time.
package ratelimit

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per host
type Limiter struct {
	mu    sync.RWMutex
	hosts map[string]*hostLimiter
	rps   float64
	burst int
	floor float64 // lowest rate Throttle may reach
}

type hostLimiter struct {
	*rate.Limiter
	factor float64 // current fraction of the base rate
}

// NewLimiter creates a limiter allowing rps requests per second per host
// with the given burst
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		hosts: make(map[string]*hostLimiter),
		rps:   rps,
		burst: burst,
		floor: rps / 16,
	}
}

func (l *Limiter) host(name string) *hostLimiter {
	l.mu.RLock()
	h, ok := l.hosts[name]
	l.mu.RUnlock()
	if ok {
		return h
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.hosts[name]; ok {
		return h
	}
	h = &hostLimiter{Limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst), factor: 1}
	l.hosts[name] = h
	return h
}

// Wait blocks until a request to host may go out or ctx is done
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.host(host).Wait(ctx)
}

// Throttle halves the host's rate, never below a sixteenth of the base,
// and returns the new rate
func (l *Limiter) Throttle(host string) float64 {
	return l.scale(host, 0.5)
}

// Recover doubles a throttled host's rate back toward the base and returns
// the new rate
func (l *Limiter) Recover(host string) float64 {
	return l.scale(host, 2)
}

func (l *Limiter) scale(host string, by float64) float64 {
	h := l.host(host)
	l.mu.Lock()
	defer l.mu.Unlock()

	h.factor *= by
	switch {
	case h.factor > 1:
		h.factor = 1
	case l.rps*h.factor < l.floor:
		h.factor = l.floor / l.rps
	}
	h.SetLimit(rate.Limit(l.rps * h.factor))
	return l.rps * h.factor
}

// Rate is the current requests per second allowed for host
func (l *Limiter) Rate(host string) float64 {
	return float64(l.host(host).Limit())
}

// Throttled lists hosts running below the base rate, sorted
func (l *Limiter) Throttled() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []string
	for name, h := range l.hosts {
		if h.factor < 1 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
