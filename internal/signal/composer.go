// Package signal fuses per-post textual, sentiment and engagement evidence
// into one bounded composite value per hashtag, attaches a dispersion-based
// confidence and labels the result.
//
// Textual and engagement sub-scores are z-scored against the whole run so a
// hashtag is judged relative to its peers, then squashed with tanh into
// [-1,1]. Sentiment is the engagement-weighted mean polarity.
package signal

import (
	"errors"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/domain"
)

// ErrNoPosts is returned for a hashtag with no surviving posts; no Signal is built
var ErrNoPosts = errors.New("signal: no posts")

// RunStats is the run-wide distribution that sub-scores are normalized against
type RunStats struct {
	Now           time.Time
	ComponentMean []float64
	ComponentStd  []float64
	VelocityMean  float64
	VelocityStd   float64
	Posts         int
}

// NewRunStats summarizes every scored post of the run
func NewRunStats(posts []domain.ScoredPost, now time.Time) RunStats {
	st := RunStats{Now: now, Posts: len(posts)}
	if len(posts) == 0 {
		return st
	}

	dim := 0
	for _, p := range posts {
		if len(p.Vector) > dim {
			dim = len(p.Vector)
		}
	}
	columns := make([][]float64, dim)
	velocities := make([]float64, 0, len(posts))
	for _, p := range posts {
		for j, x := range p.Vector {
			columns[j] = append(columns[j], x)
		}
		velocities = append(velocities, velocity(p.Post, now))
	}
	st.ComponentMean = make([]float64, dim)
	st.ComponentStd = make([]float64, dim)
	for j, col := range columns {
		st.ComponentMean[j], st.ComponentStd[j] = meanStd(col)
	}
	st.VelocityMean, st.VelocityStd = meanStd(velocities)
	return st
}

// velocity is log1p(engagement score / age in hours), age floored at one hour
func velocity(p domain.CleanedPost, now time.Time) float64 {
	age := now.Sub(p.Timestamp).Hours()
	if age < 1 {
		age = 1
	}
	return math.Log1p(p.Engagement.Score() / age)
}

// PostScore is one post's normalized evidence and weighted contribution
type PostScore struct {
	PostID       string  `json:"post_id"`
	Textual      float64 `json:"textual"`
	Sentiment    float64 `json:"sentiment"`
	Engagement   float64 `json:"engagement"`
	Contribution float64 `json:"contribution"`
}

// Composer builds Signals; safe for concurrent use
type Composer struct {
	cfg        Config
	classifier Classifier
	clock      clockwork.Clock
}

// NewComposer creates a composer. A nil clock uses the wall clock.
func NewComposer(cfg Config, clock clockwork.Clock) *Composer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Composer{cfg: cfg, classifier: NewClassifier(cfg.Classifier), clock: clock}
}

// Now is the composer's reference time for engagement velocity
func (c *Composer) Now() time.Time { return c.clock.Now().UTC() }

// PostScores computes per-post sub-scores against the run distribution.
// The textual term z-scores each vector component over every post the stats
// were fitted on, so it measures a hashtag relative to its peers in the same
// run. With a single hashtag the textual terms average out near zero and the
// signal rests on sentiment and engagement.
func (c *Composer) PostScores(posts []domain.ScoredPost, stats RunStats) []PostScore {
	w := c.cfg.Weights
	out := make([]PostScore, len(posts))
	for i, p := range posts {
		z := 0.0
		for j, x := range p.Vector {
			if j < len(stats.ComponentStd) {
				z += zscore(x, stats.ComponentMean[j], stats.ComponentStd[j])
			}
		}
		textual := 0.0
		if len(p.Vector) > 0 {
			textual = math.Tanh(z / float64(len(p.Vector)))
		}
		engagement := math.Tanh(zscore(velocity(p.Post, stats.Now), stats.VelocityMean, stats.VelocityStd))
		polarity := clamp(p.Sentiment.Polarity)
		out[i] = PostScore{
			PostID:       p.Post.ID,
			Textual:      textual,
			Sentiment:    polarity,
			Engagement:   engagement,
			Contribution: w.Textual*textual + w.Sentiment*polarity + w.Engagement*engagement,
		}
	}
	return out
}

// Compose builds the Signal for one hashtag. An empty post set returns ErrNoPosts.
func (c *Composer) Compose(runID, hashtag string, posts []domain.ScoredPost, stats RunStats) (domain.Signal, error) {
	if len(posts) == 0 {
		return domain.Signal{}, ErrNoPosts
	}
	scores := c.PostScores(posts, stats)

	var textual, engagement float64
	contributions := make([]float64, len(scores))
	for i, s := range scores {
		textual += s.Textual
		engagement += s.Engagement
		contributions[i] = s.Contribution
	}
	textual = clamp(textual / float64(len(scores)))
	engagement = clamp(engagement / float64(len(scores)))
	sentiment := clamp(weightedPolarity(posts))

	w := c.cfg.Weights
	breakdown := domain.Breakdown{
		Textual:    component(textual, w.Textual),
		Sentiment:  component(sentiment, w.Sentiment),
		Engagement: component(engagement, w.Engagement),
	}
	value := clamp(breakdown.Textual.Contribution + breakdown.Sentiment.Contribution + breakdown.Engagement.Contribution)
	confidence := c.confidence(contributions)
	direction, strength := c.classifier.Classify(value)

	sig := domain.Signal{
		RunID:       runID,
		Hashtag:     hashtag,
		Value:       value,
		Confidence:  confidence,
		Direction:   direction,
		Strength:    strength,
		PostCount:   len(posts),
		Breakdown:   breakdown,
		GeneratedAt: c.Now(),
	}
	log.Debug().
		Str("hashtag", hashtag).
		Float64("value", value).
		Float64("confidence", confidence).
		Str("breakdown", breakdown.String()).
		Msg("signal composed")
	return sig, nil
}

// ComposeRun normalizes across every group and emits one Signal per
// non-empty hashtag, ordered by hashtag
func (c *Composer) ComposeRun(runID string, groups map[string][]domain.ScoredPost) []domain.Signal {
	var all []domain.ScoredPost
	tags := make([]string, 0, len(groups))
	for tag, posts := range groups {
		tags = append(tags, tag)
		all = append(all, posts...)
	}
	sort.Strings(tags)
	stats := NewRunStats(all, c.Now())

	var out []domain.Signal
	for _, tag := range tags {
		sig, err := c.Compose(runID, tag, groups[tag], stats)
		if errors.Is(err, ErrNoPosts) {
			log.Info().Str("hashtag", tag).Msg("no posts survived, skipping signal")
			continue
		}
		out = append(out, sig)
	}
	return out
}

// confidence = (1 - min(1, std/maxStd)) * n/(n+prior)
func (c *Composer) confidence(contributions []float64) float64 {
	n := float64(len(contributions))
	_, std := meanStd(contributions)
	agreement := 1 - math.Min(1, std/c.cfg.Confidence.MaxDispersion)
	support := n / (n + c.cfg.Confidence.Prior)
	conf := agreement * support
	if math.IsNaN(conf) {
		return 0
	}
	return math.Max(0, math.Min(1, conf))
}

// weightedPolarity weights each post by its engagement score; all-zero
// engagement falls back to a plain mean
func weightedPolarity(posts []domain.ScoredPost) float64 {
	var num, den, plain float64
	for _, p := range posts {
		w := p.Post.Engagement.Score()
		num += w * p.Sentiment.Polarity
		den += w
		plain += p.Sentiment.Polarity
	}
	if den <= 0 {
		return plain / float64(len(posts))
	}
	return num / den
}

func component(score, weight float64) domain.Component {
	return domain.Component{Score: score, Weight: weight, Contribution: score * weight}
}

func zscore(x, mean, std float64) float64 {
	if std < 1e-12 {
		return 0
	}
	return (x - mean) / std
}

// meanStd returns the mean and population standard deviation
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
