// Package report summarizes a run for humans: processing statistics, the
// per-hashtag outcome table and the emitted signals.
package report

import (
	"math"
	"sort"

	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/features"
)

// SentimentBand is the half-width of the neutral band around zero polarity
const SentimentBand = 0.1

// Distribution counts posts per sentiment band
type Distribution struct {
	Positive int `json:"positive"`
	Neutral  int `json:"neutral"`
	Negative int `json:"negative"`
}

// Stats are corpus-level figures over every post that fed a signal
type Stats struct {
	TotalPosts     int                   `json:"total_posts"`
	UniqueAuthors  int                   `json:"unique_authors"`
	MeanEngagement float64               `json:"mean_engagement"`
	MeanPolarity   float64               `json:"mean_polarity"`
	PerHashtag     map[string]int        `json:"per_hashtag"`
	Sentiment      Distribution          `json:"sentiment_distribution"`
	TopTerms       []features.TermWeight `json:"top_terms,omitempty"`

	// nil when undefined (fewer than two posts or a constant series)
	EngagementPolarityCorr     *float64 `json:"engagement_polarity_corr"`
	EngagementContributionCorr *float64 `json:"engagement_contribution_corr"`
}

// Summarize computes Stats. contributions, when non-nil, must be aligned
// with posts.
func Summarize(posts []domain.ScoredPost, contributions []float64, top []features.TermWeight) Stats {
	st := Stats{PerHashtag: make(map[string]int), TopTerms: top}
	if len(posts) == 0 {
		return st
	}

	authors := make(map[string]struct{})
	engagement := make([]float64, len(posts))
	polarity := make([]float64, len(posts))
	for i, p := range posts {
		authors[p.Post.Author] = struct{}{}
		st.PerHashtag[p.Post.Hashtag]++
		engagement[i] = p.Post.Engagement.Score()
		polarity[i] = p.Sentiment.Polarity
		switch {
		case p.Sentiment.Polarity > SentimentBand:
			st.Sentiment.Positive++
		case p.Sentiment.Polarity < -SentimentBand:
			st.Sentiment.Negative++
		default:
			st.Sentiment.Neutral++
		}
	}

	st.TotalPosts = len(posts)
	st.UniqueAuthors = len(authors)
	st.MeanEngagement = mean(engagement)
	st.MeanPolarity = mean(polarity)
	st.EngagementPolarityCorr = Pearson(engagement, polarity)
	if len(contributions) == len(posts) {
		st.EngagementContributionCorr = Pearson(engagement, contributions)
	}
	return st
}

// Pearson returns the correlation of two equal-length series, or nil when
// it is undefined
func Pearson(xs, ys []float64) *float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return nil
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return nil
	}
	r := math.Max(-1, math.Min(1, sxy/math.Sqrt(sxx*syy)))
	return &r
}

// Hashtags returns the keys of PerHashtag in order
func (s Stats) Hashtags() []string {
	tags := make([]string, 0, len(s.PerHashtag))
	for tag := range s.PerHashtag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
