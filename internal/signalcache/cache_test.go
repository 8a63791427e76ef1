package signalcache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hashsignal/internal/domain"
)

var generated = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func testSignal(tag string, value float64) domain.Signal {
	return domain.Signal{
		RunID: "run-1", Hashtag: tag, Value: value, Confidence: 0.6,
		Direction: domain.Bullish, Strength: domain.Weak, PostCount: 40,
		Breakdown:   domain.Breakdown{Sentiment: domain.Component{Score: 0.5, Weight: 0.3, Contribution: 0.15}},
		GeneratedAt: generated,
	}
}

func TestMemory_PutLatestExpire(t *testing.T) {
	clock := clockwork.NewFakeClockAt(generated)
	c := NewMemory(time.Hour, clock)
	ctx := context.Background()

	miss, err := c.Latest(ctx, "nifty50")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, c.Put(ctx, testSignal("nifty50", 0.2)))
	require.NoError(t, c.Put(ctx, testSignal("nifty50", 0.4)))
	got, err := c.Latest(ctx, "#NIFTY50")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.4, got.Value, "latest put wins")

	clock.Advance(2 * time.Hour)
	got, err = c.Latest(ctx, "nifty50")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedis_RoundTripAndTTL(t *testing.T) {
	srv := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Backend = "redis"
	cfg.Addr = srv.Addr()
	c := NewRedis(redis.NewClient(&redis.Options{Addr: srv.Addr()}), cfg)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, testSignal("sensex", -0.3)))
	assert.True(t, srv.Exists("signal:sensex"))
	assert.Equal(t, 24*time.Hour, srv.TTL("signal:sensex"))

	got, err := c.Latest(ctx, "#Sensex")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, -0.3, got.Value)
	assert.Equal(t, generated, got.GeneratedAt)
	assert.InDelta(t, 0.15, got.Breakdown.Sentiment.Contribution, 1e-12)

	srv.FastForward(25 * time.Hour)
	got, err = c.Latest(ctx, "sensex")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedis_CorruptValue(t *testing.T) {
	srv := miniredis.RunT(t)
	require.NoError(t, srv.Set("signal:nifty50", "not json"))
	c := NewRedis(redis.NewClient(&redis.Options{Addr: srv.Addr()}), DefaultConfig())
	defer c.Close()

	_, err := c.Latest(context.Background(), "nifty50")
	assert.Error(t, err)
}

func TestNew_SelectsBackend(t *testing.T) {
	_, isMemory := New(DefaultConfig(), "").(*memory)
	assert.True(t, isMemory)

	srv := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Backend = "redis"
	cfg.Addr = srv.Addr()
	c := New(cfg, "")
	defer c.Close()
	_, isRedis := c.(*redisCache)
	assert.True(t, isRedis)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	cfg := DefaultConfig()
	cfg.Backend = "memcached"
	assert.Error(t, cfg.Validate())
	cfg.Backend = "redis"
	cfg.Addr = ""
	assert.Error(t, cfg.Validate())
}
