package collect

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/hashsignal/internal/browser"
	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/secrets"
)

// Collector runs one session per hashtag over a bounded worker pool. Each
// session opens its own browser; a failing hashtag never aborts the others.
type Collector struct {
	cfg     Config
	factory browser.Factory
	creds   secrets.Credentials
	workers int
	options []SessionOption
}

// NewCollector creates a collector. workers below 1 means sequential.
func NewCollector(cfg Config, factory browser.Factory, creds secrets.Credentials, workers int, opts ...SessionOption) *Collector {
	if workers < 1 {
		workers = 1
	}
	return &Collector{
		cfg:     cfg,
		factory: factory,
		creds:   creds,
		workers: workers,
		options: opts,
	}
}

// Collect returns one Result per hashtag in input order
func (c *Collector) Collect(ctx context.Context, runID string, hashtags []string) []Result {
	results := make([]Result, len(hashtags))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for i, tag := range hashtags {
		i, tag := i, tag
		g.Go(func() error {
			results[i] = c.collectOne(gctx, runID, tag)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Collector) collectOne(ctx context.Context, runID, hashtag string) Result {
	b, err := c.factory(ctx)
	if err != nil {
		log.Error().Err(err).Str("hashtag", hashtag).Msg("Failed to open browser")
		return Result{
			Hashtag: hashtag,
			Outcome: Failed,
			Reason:  "browser unavailable",
			Err:     &faults.TransientNetworkError{Op: "open browser", Err: err},
		}
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			log.Debug().Err(cerr).Str("hashtag", hashtag).Msg("Failed to close browser")
		}
	}()

	opts := append([]SessionOption{WithRunID(runID)}, c.options...)
	return NewSession(c.cfg, hashtag, c.creds, b, opts...).Run(ctx)
}

// AnySucceeded reports whether at least one hashtag did not fail
func AnySucceeded(results []Result) bool {
	for _, r := range results {
		if r.Outcome != Failed {
			return true
		}
	}
	return false
}

// Summary is a one-line tally for logs
func Summary(results []Result) string {
	counts := map[Outcome]int{}
	for _, r := range results {
		counts[r.Outcome]++
	}
	return fmt.Sprintf("%d success, %d exhausted, %d failed", counts[Success], counts[Exhausted], counts[Failed])
}
