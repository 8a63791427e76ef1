package domain

import (
	"strings"
	"time"

	"github.com/sawpanic/hashsignal/internal/faults"
)

// Engagement holds the interaction counters scraped next to a post
type Engagement struct {
	Likes   int64 `json:"like_count"`
	Reposts int64 `json:"retweet_count"`
	Replies int64 `json:"reply_count"`
}

// Score weights reposts double: replies + 2*reposts + likes
func (e Engagement) Score() float64 {
	return float64(e.Replies + 2*e.Reposts + e.Likes)
}

// Validate rejects negative counters
func (e Engagement) Validate() error {
	switch {
	case e.Likes < 0:
		return faults.Invalid("like_count", "", "must be non-negative")
	case e.Reposts < 0:
		return faults.Invalid("retweet_count", "", "must be non-negative")
	case e.Replies < 0:
		return faults.Invalid("reply_count", "", "must be non-negative")
	}
	return nil
}

// RawPost is a post exactly as harvested by a collection session. Immutable
// once emitted.
type RawPost struct {
	ID         string     `json:"id"`
	Author     string     `json:"author"`
	Timestamp  time.Time  `json:"timestamp"`
	RawText    string     `json:"raw_text"`
	Engagement Engagement `json:"engagement"`
	Hashtag    string     `json:"hashtag"`
}

// NewRawPost validates field constraints and returns the record. Failures are
// DataValidationError so the caller can drop the record and continue.
func NewRawPost(id, author string, ts time.Time, text string, eng Engagement, hashtag string) (RawPost, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return RawPost{}, faults.Invalid("id", "", "missing")
	}
	if strings.TrimSpace(text) == "" {
		return RawPost{}, faults.Invalid("content", "", "empty text")
	}
	hashtag = NormalizeHashtag(hashtag)
	if hashtag == "" {
		return RawPost{}, faults.Invalid("hashtag", "", "missing")
	}
	if ts.IsZero() {
		return RawPost{}, faults.Invalid("timestamp", "", "missing")
	}
	if err := eng.Validate(); err != nil {
		return RawPost{}, err
	}
	author = strings.TrimSpace(author)
	if author == "" {
		author = "unknown"
	}
	return RawPost{
		ID:         id,
		Author:     author,
		Timestamp:  ts.UTC(),
		RawText:    text,
		Engagement: eng,
		Hashtag:    hashtag,
	}, nil
}

// Validate re-checks a record that arrived from outside a constructor
// (e.g. decoded from a JSON lines file).
func (p RawPost) Validate() error {
	_, err := NewRawPost(p.ID, p.Author, p.Timestamp, p.RawText, p.Engagement, p.Hashtag)
	return err
}

// NormalizeHashtag lowercases and strips a leading '#'
func NormalizeHashtag(tag string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(tag), "#"))
}

// CleanedPost is the surviving representative of one duplicate cluster
type CleanedPost struct {
	ID             string     `json:"id"`
	Author         string     `json:"author"`
	Timestamp      time.Time  `json:"timestamp"`
	Hashtag        string     `json:"hashtag"`
	NormalizedText string     `json:"content"`
	Fingerprint    uint64     `json:"fingerprint"`
	Engagement     Engagement `json:"engagement"`

	Shingles []uint64 `json:"-"` // sorted, unique shingle hashes
}

// SentimentScore is attached 1:1 to a CleanedPost
type SentimentScore struct {
	Polarity     float64 `json:"polarity"`     // [-1, 1]
	Subjectivity float64 `json:"subjectivity"` // [0, 1]
}

// FeatureVector is only comparable with vectors from the same fitted model
type FeatureVector []float64

// ScoredPost joins a cleaned post with its per-post features
type ScoredPost struct {
	Post      CleanedPost
	Sentiment SentimentScore
	Vector    FeatureVector
}
