// Package store defines the append-only output sinks of a run. A Batch is
// written all-or-nothing by every Writer: a failed Append leaves no rows of
// that batch behind and surfaces as a faults.StorageWriteError.
package store

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/faults"
)

// PostColumns is the post schema, in column order
var PostColumns = []string{
	"id", "content", "timestamp", "author",
	"like_count", "retweet_count", "reply_count",
	"sentiment_polarity", "sentiment_subjectivity",
}

// SignalColumns is the signal schema, in column order
var SignalColumns = []string{
	"run_id", "hashtag", "value", "confidence", "direction", "strength", "post_count",
	"textual_score", "textual_weight", "sentiment_score", "sentiment_weight",
	"engagement_score", "engagement_weight", "generated_at",
}

// Batch is one hashtag's output for a run. Signals is empty when the
// hashtag produced no signal.
type Batch struct {
	RunID   string
	Hashtag string
	Posts   []domain.ScoredPost
	Signals []domain.Signal
}

// Empty reports whether there is nothing to write
func (b Batch) Empty() bool { return len(b.Posts) == 0 && len(b.Signals) == 0 }

// Writer appends batches to one sink
type Writer interface {
	Name() string
	Append(ctx context.Context, b Batch) error
	Close() error
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// PostRecord renders a scored post in PostColumns order
func PostRecord(p domain.ScoredPost) []string {
	return []string{
		p.Post.ID,
		p.Post.NormalizedText,
		p.Post.Timestamp.UTC().Format(time.RFC3339),
		p.Post.Author,
		strconv.FormatInt(p.Post.Engagement.Likes, 10),
		strconv.FormatInt(p.Post.Engagement.Reposts, 10),
		strconv.FormatInt(p.Post.Engagement.Replies, 10),
		formatFloat(p.Sentiment.Polarity),
		formatFloat(p.Sentiment.Subjectivity),
	}
}

// SignalRecord renders a signal in SignalColumns order
func SignalRecord(s domain.Signal) []string {
	b := s.Breakdown
	return []string{
		s.RunID,
		s.Hashtag,
		formatFloat(s.Value),
		formatFloat(s.Confidence),
		string(s.Direction),
		string(s.Strength),
		strconv.Itoa(s.PostCount),
		formatFloat(b.Textual.Score), formatFloat(b.Textual.Weight),
		formatFloat(b.Sentiment.Score), formatFloat(b.Sentiment.Weight),
		formatFloat(b.Engagement.Score), formatFloat(b.Engagement.Weight),
		s.GeneratedAt.UTC().Format(time.RFC3339),
	}
}

// Fanout writes every batch to each writer in order. The first failing sink
// stops the fan-out; earlier sinks keep their complete copy of the batch.
type Fanout []Writer

func (f Fanout) Name() string { return "fanout" }

func (f Fanout) Append(ctx context.Context, b Batch) error {
	for _, w := range f {
		if err := w.Append(ctx, b); err != nil {
			if faults.IsStorage(err) {
				return err
			}
			return &faults.StorageWriteError{Sink: w.Name(), Op: "append", Err: err}
		}
	}
	return nil
}

func (f Fanout) Close() error {
	var first error
	for _, w := range f {
		if err := w.Close(); err != nil && first == nil {
			first = fmt.Errorf("close %s: %w", w.Name(), err)
		}
	}
	return first
}
