package breakers

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	b := New("test", DefaultConfig(), nil)
	for i := 0; i < 3; i++ {
		_, err := b.Execute(func() (any, error) { return nil, errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.True(t, b.Open())

	_, err := b.Execute(func() (any, error) { return "unreached", nil })
	assert.True(t, IsRejection(err))
}

func TestBreaker_IgnoresSuccessfulErrors(t *testing.T) {
	b := New("test", DefaultConfig(), func(err error) bool { return err == nil || errors.Is(err, errBoom) })
	for i := 0; i < 10; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errBoom })
	}
	assert.False(t, b.Open())
}
