package collect

import (
	"fmt"
	"sort"
)

// PatienceTier applies from MinPosts collected onward
type PatienceTier struct {
	MinPosts     int `yaml:"min_posts"`
	EmptyScrolls int `yaml:"empty_scrolls"`
}

// Patience maps posts collected so far to the number of consecutive empty
// scrolls tolerated. Tiers are sorted and forced non-decreasing, so more
// collected posts never lowers the tolerance.
type Patience struct {
	tiers []PatienceTier
}

// DefaultPatienceTiers are 20 below 100 posts, 40 below 300, 60 below 500, then 100
func DefaultPatienceTiers() []PatienceTier {
	return []PatienceTier{
		{MinPosts: 0, EmptyScrolls: 20},
		{MinPosts: 100, EmptyScrolls: 40},
		{MinPosts: 300, EmptyScrolls: 60},
		{MinPosts: 500, EmptyScrolls: 100},
	}
}

// ValidatePatienceTiers rejects an empty or negative schedule
func ValidatePatienceTiers(tiers []PatienceTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("at least one patience tier is required")
	}
	for _, t := range tiers {
		if t.MinPosts < 0 || t.EmptyScrolls < 0 {
			return fmt.Errorf("patience tier %+v has negative fields", t)
		}
	}
	return nil
}

// NewPatience normalizes tiers. A missing zero tier inherits the lowest one.
func NewPatience(tiers []PatienceTier) Patience {
	if len(tiers) == 0 {
		tiers = DefaultPatienceTiers()
	}
	sorted := append([]PatienceTier(nil), tiers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].MinPosts < sorted[j].MinPosts })
	if sorted[0].MinPosts > 0 {
		sorted = append([]PatienceTier{{MinPosts: 0, EmptyScrolls: sorted[0].EmptyScrolls}}, sorted...)
	}
	for i := 1; i < len(sorted); i++ {
		if sorted[i].EmptyScrolls < sorted[i-1].EmptyScrolls {
			sorted[i].EmptyScrolls = sorted[i-1].EmptyScrolls
		}
	}
	return Patience{tiers: sorted}
}

// Threshold is the empty-scroll tolerance after collected posts
func (p Patience) Threshold(collected int) int {
	threshold := p.tiers[0].EmptyScrolls
	for _, t := range p.tiers {
		if collected < t.MinPosts {
			break
		}
		threshold = t.EmptyScrolls
	}
	return threshold
}

// Exhausted reports whether collection should stop: the empty-scroll count
// exceeds the threshold for what has been collected
func (p Patience) Exhausted(emptyScrolls, collected int) bool {
	return emptyScrolls > p.Threshold(collected)
}
