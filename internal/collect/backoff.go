package collect

import (
	"fmt"
	"math"
	"time"
)

// Backoff is exponential without jitter so consecutive cooldowns strictly
// grow until they hit Max. Network retries hand the same settings to the
// retry policy.
type Backoff struct {
	Base       time.Duration `yaml:"base"`       // 2s
	Multiplier float64       `yaml:"multiplier"` // 2.0
	Max        time.Duration `yaml:"max"`        // 5m
}

// DefaultBackoff returns production cooldown settings
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Multiplier: 2.0, Max: 5 * time.Minute}
}

// Validate ensures the schedule is strictly increasing before the cap
func (b Backoff) Validate() error {
	if b.Base <= 0 {
		return fmt.Errorf("base must be positive, got %s", b.Base)
	}
	if b.Multiplier <= 1 {
		return fmt.Errorf("multiplier must exceed 1, got %f", b.Multiplier)
	}
	if b.Max < b.Base {
		return fmt.Errorf("max %s below base %s", b.Max, b.Base)
	}
	return nil
}

// Delay returns the wait before attempt n (0-based): Base*Multiplier^n, capped.
// A host hint longer than the schedule wins, still capped at Max.
func (b Backoff) Delay(n int, hint time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	d := float64(b.Base) * math.Pow(b.Multiplier, float64(n))
	if d > float64(b.Max) || math.IsInf(d, 0) {
		d = float64(b.Max)
	}
	delay := time.Duration(d)
	if hint > delay {
		delay = hint
	}
	if delay > b.Max {
		delay = b.Max
	}
	return delay
}

// Next is the cooldown that follows prev. It is Delay(n, hint) unless that
// would not exceed prev, in which case prev grows by Multiplier. Only Max
// repeats.
func (b Backoff) Next(prev time.Duration, n int, hint time.Duration) time.Duration {
	d := b.Delay(n, hint)
	if d > prev {
		return d
	}
	if prev >= b.Max {
		return b.Max
	}
	grown := time.Duration(float64(prev) * b.Multiplier)
	if grown > b.Max {
		grown = b.Max
	}
	return grown
}
