package budget

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindow_ExhaustsAndResets(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	w := NewWindow("x.com", 3, 15*time.Minute, clock)

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Consume())
	}
	err := w.Consume()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBudgetExhausted))

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, time.Date(2025, 6, 2, 10, 15, 0, 0, time.UTC), exhausted.ResetAt)
	assert.Equal(t, int64(0), w.Stats().Remaining)

	clock.Advance(15 * time.Minute)
	assert.Equal(t, int64(3), w.Stats().Remaining)
	assert.NoError(t, w.Consume())
	assert.Equal(t, int64(1), w.Stats().Used)
}

func TestWindow_Unlimited(t *testing.T) {
	w := NewWindow("x.com", 0, time.Minute, nil)
	for i := 0; i < 1000; i++ {
		require.NoError(t, w.Consume())
	}
}
