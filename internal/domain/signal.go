package domain

import (
	"fmt"
	"time"
)

// Direction is the discrete side of a signal
type Direction string

const (
	Bullish Direction = "bullish"
	Bearish Direction = "bearish"
	Neutral Direction = "neutral"
)

// Strength reports whether |value| cleared the magnitude threshold
type Strength string

const (
	Strong Strength = "strong"
	Weak   Strength = "weak"
)

// Component is one weighted term of the composite value
type Component struct {
	Score        float64 `json:"score"`        // [-1, 1]
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"` // Score * Weight
}

// Breakdown carries the three sub-scores behind a Signal
type Breakdown struct {
	Textual    Component `json:"textual"`
	Sentiment  Component `json:"sentiment"`
	Engagement Component `json:"engagement"`
}

// String renders the breakdown as a compact single-line summary
func (b Breakdown) String() string {
	return fmt.Sprintf("textual=%.4f*%.2f sentiment=%.4f*%.2f engagement=%.4f*%.2f",
		b.Textual.Score, b.Textual.Weight,
		b.Sentiment.Score, b.Sentiment.Weight,
		b.Engagement.Score, b.Engagement.Weight)
}

// Signal is the terminal per-hashtag output of one run
type Signal struct {
	RunID       string    `json:"run_id"`
	Hashtag     string    `json:"hashtag"`
	Value       float64   `json:"value"`      // [-1, 1]
	Confidence  float64   `json:"confidence"` // [0, 1]
	Direction   Direction `json:"direction"`
	Strength    Strength  `json:"strength"`
	PostCount   int       `json:"post_count"`
	Breakdown   Breakdown `json:"component_breakdown"`
	GeneratedAt time.Time `json:"generated_at"`
}
