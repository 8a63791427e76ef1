package signal

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hashsignal/internal/domain"
)

var now = time.Date(2025, 6, 2, 15, 30, 0, 0, time.UTC)

func scored(id string, polarity float64, likes int64, age time.Duration, vec ...float64) domain.ScoredPost {
	return domain.ScoredPost{
		Post: domain.CleanedPost{
			ID:         id,
			Hashtag:    "nifty50",
			Timestamp:  now.Add(-age),
			Engagement: domain.Engagement{Likes: likes},
		},
		Sentiment: domain.SentimentScore{Polarity: polarity, Subjectivity: 0.5},
		Vector:    vec,
	}
}

func newComposer() *Composer {
	return NewComposer(DefaultConfig(), clockwork.NewFakeClockAt(now))
}

func TestCompose_HandComputedScenario(t *testing.T) {
	c := newComposer()
	posts := []domain.ScoredPost{
		scored("1", 0.8, 100, 2*time.Hour, 0.4, 0.1),
		scored("2", 0.6, 50, 3*time.Hour, 0.2, -0.1),
		scored("3", -0.2, 10, 5*time.Hour, -0.3, 0.0),
	}
	stats := NewRunStats(posts, now)
	sig, err := c.Compose("run-1", "nifty50", posts, stats)
	require.NoError(t, err)

	wantSentiment := (0.8*100 + 0.6*50 - 0.2*10) / 160
	assert.InDelta(t, 0.675, wantSentiment, 1e-12)
	assert.InDelta(t, wantSentiment, sig.Breakdown.Sentiment.Score, 1e-9)

	b := sig.Breakdown
	assert.InDelta(t, 0.60*b.Textual.Score+0.30*b.Sentiment.Score+0.10*b.Engagement.Score, sig.Value, 1e-9)
	assert.Equal(t, 0.60, b.Textual.Weight)
	assert.Equal(t, 0.30, b.Sentiment.Weight)
	assert.Equal(t, 0.10, b.Engagement.Weight)
	assert.Equal(t, 3, sig.PostCount)
	assert.Equal(t, now, sig.GeneratedAt)
	assert.Equal(t, "run-1", sig.RunID)
}

func TestCompose_ZeroEngagementFallsBackToMean(t *testing.T) {
	c := newComposer()
	posts := []domain.ScoredPost{
		scored("1", 0.5, 0, time.Hour, 1),
		scored("2", -0.1, 0, time.Hour, 1),
	}
	sig, err := c.Compose("r", "x", posts, NewRunStats(posts, now))
	require.NoError(t, err)
	assert.InDelta(t, 0.2, sig.Breakdown.Sentiment.Score, 1e-12)
}

func TestPostScores_TextualIsRelativeToPeers(t *testing.T) {
	c := newComposer()
	alone := []domain.ScoredPost{
		scored("1", 0.4, 10, time.Hour, 0.9, 0.3),
		scored("2", 0.1, 10, time.Hour, 0.1, -0.3),
	}
	var sum float64
	for _, ps := range c.PostScores(alone, NewRunStats(alone, now)) {
		sum += ps.Textual
	}
	assert.InDelta(t, 0, sum, 1e-9, "a lone hashtag is its own baseline")

	peer := scored("3", 0, 10, time.Hour, -0.9, -0.9)
	peer.Post.Hashtag = "banknifty"
	stats := NewRunStats(append(alone[:2:2], peer), now)
	sum = 0
	for _, ps := range c.PostScores(alone, stats) {
		sum += ps.Textual
	}
	assert.Greater(t, sum, 0.0, "scores rise against a lower peer")
}

func TestCompose_NoPostsNoSignal(t *testing.T) {
	c := newComposer()
	_, err := c.Compose("r", "empty", nil, NewRunStats(nil, now))
	assert.ErrorIs(t, err, ErrNoPosts)

	signals := c.ComposeRun("r", map[string][]domain.ScoredPost{
		"empty":   nil,
		"sensex":  {scored("s1", 0.3, 4, time.Hour, 0.1)},
		"nifty50": {scored("n1", -0.3, 9, time.Hour, -0.1)},
	})
	require.Len(t, signals, 2)
	assert.Equal(t, "nifty50", signals[0].Hashtag)
	assert.Equal(t, "sensex", signals[1].Hashtag)
}

func TestCompose_BoundsUnderRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := newComposer()
	for trial := 0; trial < 300; trial++ {
		n := 1 + rng.Intn(40)
		dim := 1 + rng.Intn(8)
		posts := make([]domain.ScoredPost, n)
		for i := range posts {
			vec := make([]float64, dim)
			for j := range vec {
				vec[j] = rng.NormFloat64() * math.Pow(10, float64(rng.Intn(6)-3))
			}
			polarity := rng.Float64()*2 - 1
			if trial%50 == 0 {
				polarity = 1
			}
			posts[i] = scored("p", polarity, rng.Int63n(1_000_000), time.Duration(rng.Intn(96))*time.Hour, vec...)
		}
		sig, err := c.Compose("r", "t", posts, NewRunStats(posts, now))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, sig.Value, -1.0)
		assert.LessOrEqual(t, sig.Value, 1.0)
		assert.GreaterOrEqual(t, sig.Confidence, 0.0)
		assert.LessOrEqual(t, sig.Confidence, 1.0)
	}
}

func TestConfidence_AgreementAndSupport(t *testing.T) {
	c := newComposer()
	// identical contributions: only the sample-size prior discounts
	assert.InDelta(t, 0.5, c.confidence([]float64{0.4, 0.4}), 1e-12)
	assert.InDelta(t, 8.0/10.0, c.confidence([]float64{0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1, 0.1}), 1e-12)
	// spread at or above max dispersion gives zero
	assert.Zero(t, c.confidence([]float64{-1, 1}))

	tight := c.confidence([]float64{0.2, 0.25, 0.3, 0.2})
	loose := c.confidence([]float64{-0.4, 0.6, 0.1, 0.5})
	assert.Greater(t, tight, loose)
}

func TestClassifier_Labels(t *testing.T) {
	cl := NewClassifier(DefaultConfig().Classifier)
	cases := []struct {
		value     float64
		direction domain.Direction
		strength  domain.Strength
	}{
		{0, domain.Neutral, domain.Weak},
		{0.05, domain.Neutral, domain.Weak},
		{0.051, domain.Bullish, domain.Weak},
		{-0.2, domain.Bearish, domain.Weak},
		{0.5, domain.Bullish, domain.Strong},
		{-0.5, domain.Bearish, domain.Strong},
		{1, domain.Bullish, domain.Strong},
		{math.NaN(), domain.Neutral, domain.Weak},
	}
	for _, tc := range cases {
		d, s := cl.Classify(tc.value)
		assert.Equal(t, tc.direction, d, "value %v", tc.value)
		assert.Equal(t, tc.strength, s, "value %v", tc.value)
	}
}

func TestClassifier_Monotonic(t *testing.T) {
	cl := NewClassifier(DefaultConfig().Classifier)
	rank := map[domain.Direction]int{domain.Bearish: -1, domain.Neutral: 0, domain.Bullish: 1}
	strong := map[domain.Strength]int{domain.Weak: 0, domain.Strong: 1}

	prevDir, prevStrength := -2, -1
	for v := -1.0; v <= 1.0; v += 0.001 {
		d, s := cl.Classify(v)
		assert.GreaterOrEqual(t, rank[d], prevDir, "direction regressed at %v", v)
		prevDir = rank[d]

		if v >= 0 {
			assert.GreaterOrEqual(t, strong[s], prevStrength, "strength regressed at %v", v)
			prevStrength = strong[s]
		}
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Weights = Weights{Textual: 0.5, Sentiment: 0.5, Engagement: 0.5}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Weights = Weights{Textual: 1.2, Sentiment: -0.2}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Classifier.StrongThreshold = 0.01
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Weights = Weights{Textual: 0.2, Sentiment: 0.7, Engagement: 0.1}
	assert.NoError(t, cfg.Validate())
}
