package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitBriefly reports whether a request to host may go out within a few
// milliseconds. Wait fails fast when the deadline is shorter than the delay.
func waitBriefly(l *Limiter, host string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	return l.Wait(ctx, host) == nil
}

func TestLimiter_Burst(t *testing.T) {
	limiter := NewLimiter(2.0, 2)

	assert.True(t, waitBriefly(limiter, "x.com"))
	assert.True(t, waitBriefly(limiter, "x.com"))
	assert.False(t, waitBriefly(limiter, "x.com"), "burst exhausted")
}

func TestLimiter_MultipleHosts(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	assert.True(t, waitBriefly(limiter, "host1.com"))
	assert.True(t, waitBriefly(limiter, "host2.com"))
	assert.False(t, waitBriefly(limiter, "host1.com"))
	assert.False(t, waitBriefly(limiter, "host2.com"))
}

func TestLimiter_WaitCancelled(t *testing.T) {
	limiter := NewLimiter(0.1, 1)
	require.NoError(t, limiter.Wait(context.Background(), "x.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, limiter.Wait(ctx, "x.com"))
}

func TestLimiter_ThrottleAndRecover(t *testing.T) {
	limiter := NewLimiter(8, 1)

	assert.InDelta(t, 4.0, limiter.Throttle("x.com"), 1e-9)
	assert.InDelta(t, 2.0, limiter.Throttle("x.com"), 1e-9)
	for i := 0; i < 10; i++ {
		limiter.Throttle("x.com")
	}
	assert.InDelta(t, 0.5, limiter.Rate("x.com"), 1e-9, "floored at a sixteenth")

	assert.Equal(t, []string{"x.com"}, limiter.Throttled())

	assert.InDelta(t, 1.0, limiter.Recover("x.com"), 1e-9)
	for i := 0; i < 10; i++ {
		limiter.Recover("x.com")
	}
	assert.InDelta(t, 8.0, limiter.Rate("x.com"), 1e-9)
	assert.Empty(t, limiter.Throttled())

	// other hosts are untouched
	assert.True(t, waitBriefly(limiter, "y.com"))
	assert.InDelta(t, 8.0, limiter.Rate("y.com"), 1e-9)
}
