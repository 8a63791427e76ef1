// Package dedup removes spam and bot repeats from a hashtag's post stream.
//
// Posts are normalized, split into character shingles and compared with
// Jaccard similarity against every representative kept so far. A post whose
// similarity to any representative reaches the threshold joins that cluster
// and is dropped; the first-seen post of a cluster survives. Representatives
// are pairwise below the threshold, which makes a second pass a no-op.
package dedup

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/text"
)

// Config tunes near-duplicate detection
type Config struct {
	ShingleSize int     `yaml:"shingle_size"` // 5 - rune window per shingle
	Threshold   float64 `yaml:"threshold"`    // 0.8 - Jaccard at or above clusters
	MinLength   int     `yaml:"min_length"`   // 10 - shorter normalized texts are dropped
}

// DefaultConfig returns production dedup settings
func DefaultConfig() Config {
	return Config{
		ShingleSize: 5,
		Threshold:   0.8,
		MinLength:   10,
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if c.ShingleSize <= 0 {
		return fmt.Errorf("shingle_size must be positive, got %d", c.ShingleSize)
	}
	if c.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %f", c.Threshold)
	}
	if c.MinLength < 0 {
		return fmt.Errorf("min_length must be non-negative, got %d", c.MinLength)
	}
	return nil
}

// DropReason explains why an input record did not survive
type DropReason string

const (
	ReasonInvalid     DropReason = "invalid"
	ReasonTooShort    DropReason = "too_short"
	ReasonDuplicateID DropReason = "duplicate_id"
	ReasonExact       DropReason = "exact_duplicate"
	ReasonNear        DropReason = "near_duplicate"
)

// Drop records one discarded input
type Drop struct {
	PostID     string     `json:"post_id"`
	Reason     DropReason `json:"reason"`
	KeptID     string     `json:"kept_id,omitempty"`
	Similarity float64    `json:"similarity,omitempty"`
}

// Result is the order-preserving output of one pass
type Result struct {
	Posts        []domain.CleanedPost
	Dropped      []Drop
	ClusterSizes map[string]int // kept post ID -> inputs folded into it, itself included
}

// DropCounts tallies drops by reason
func (r Result) DropCounts() map[DropReason]int {
	counts := make(map[DropReason]int)
	for _, d := range r.Dropped {
		counts[d.Reason]++
	}
	return counts
}

// Deduplicator is stateless between calls
type Deduplicator struct {
	cfg Config
}

// New creates a deduplicator, falling back to defaults for zero fields
func New(cfg Config) *Deduplicator {
	def := DefaultConfig()
	if cfg.ShingleSize <= 0 {
		cfg.ShingleSize = def.ShingleSize
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &Deduplicator{cfg: cfg}
}

type candidate struct {
	id        string
	author    string
	timestamp time.Time
	hashtag   string
	text      string
	eng       domain.Engagement
}

// Run cleans and deduplicates raw posts in input order
func (d *Deduplicator) Run(posts []domain.RawPost) Result {
	cands := make([]candidate, 0, len(posts))
	var invalid []Drop
	for _, p := range posts {
		if err := p.Validate(); err != nil {
			log.Debug().Str("post_id", p.ID).Str("reason", err.Error()).Msg("dropping invalid raw post")
			invalid = append(invalid, Drop{PostID: p.ID, Reason: ReasonInvalid})
			continue
		}
		cands = append(cands, candidate{
			id: p.ID, author: p.Author, timestamp: p.Timestamp,
			hashtag: p.Hashtag, text: p.RawText, eng: p.Engagement,
		})
	}
	res := d.run(cands)
	res.Dropped = append(invalid, res.Dropped...)
	return res
}

// Clean re-runs deduplication over already cleaned posts. Feeding a Result's
// Posts back in returns them unchanged.
func (d *Deduplicator) Clean(posts []domain.CleanedPost) Result {
	cands := make([]candidate, 0, len(posts))
	for _, p := range posts {
		cands = append(cands, candidate{
			id: p.ID, author: p.Author, timestamp: p.Timestamp,
			hashtag: p.Hashtag, text: p.NormalizedText, eng: p.Engagement,
		})
	}
	return d.run(cands)
}

func (d *Deduplicator) run(cands []candidate) Result {
	res := Result{ClusterSizes: make(map[string]int)}
	seenIDs := make(map[string]struct{}, len(cands))
	byFingerprint := make(map[uint64]int)

	for _, c := range cands {
		if _, dup := seenIDs[c.id]; dup {
			res.Dropped = append(res.Dropped, Drop{PostID: c.id, Reason: ReasonDuplicateID, KeptID: c.id})
			continue
		}
		seenIDs[c.id] = struct{}{}

		normalized := text.Normalize(c.text)
		if normalized == "" || text.RuneLen(normalized) < d.cfg.MinLength {
			res.Dropped = append(res.Dropped, Drop{PostID: c.id, Reason: ReasonTooShort})
			continue
		}
		shingles := text.Shingles(normalized, d.cfg.ShingleSize)
		fp := text.Fingerprint(shingles)

		if idx, ok := byFingerprint[fp]; ok {
			kept := res.Posts[idx].ID
			res.ClusterSizes[kept]++
			res.Dropped = append(res.Dropped, Drop{PostID: c.id, Reason: ReasonExact, KeptID: kept, Similarity: 1})
			continue
		}

		if idx, sim := d.nearest(res.Posts, shingles); idx >= 0 {
			kept := res.Posts[idx].ID
			res.ClusterSizes[kept]++
			res.Dropped = append(res.Dropped, Drop{PostID: c.id, Reason: ReasonNear, KeptID: kept, Similarity: sim})
			continue
		}

		byFingerprint[fp] = len(res.Posts)
		res.ClusterSizes[c.id] = 1
		res.Posts = append(res.Posts, domain.CleanedPost{
			ID:             c.id,
			Author:         c.author,
			Timestamp:      c.timestamp,
			Hashtag:        c.hashtag,
			NormalizedText: normalized,
			Fingerprint:    fp,
			Engagement:     c.eng,
			Shingles:       shingles,
		})
	}
	return res
}

// nearest returns the first kept post whose similarity reaches the threshold
func (d *Deduplicator) nearest(kept []domain.CleanedPost, shingles []uint64) (int, float64) {
	for i := range kept {
		if sim := text.Jaccard(kept[i].Shingles, shingles); sim >= d.cfg.Threshold {
			return i, sim
		}
	}
	return -1, 0
}
