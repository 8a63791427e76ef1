// Package pipeline runs hashtag collection and the post-collection stages
// (dedup, sentiment, features, signal composition) and hands the results to
// storage, the signal cache, metrics and reporters.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/collect"
	"github.com/sawpanic/hashsignal/internal/config"
	"github.com/sawpanic/hashsignal/internal/dedup"
	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/faults"
	"github.com/sawpanic/hashsignal/internal/features"
	"github.com/sawpanic/hashsignal/internal/metrics"
	"github.com/sawpanic/hashsignal/internal/report"
	"github.com/sawpanic/hashsignal/internal/secrets"
	"github.com/sawpanic/hashsignal/internal/sentiment"
	"github.com/sawpanic/hashsignal/internal/signal"
	"github.com/sawpanic/hashsignal/internal/signalcache"
	"github.com/sawpanic/hashsignal/internal/store"
)

// Exit codes
const (
	ExitOK          = 0 // at least one hashtag did not fail
	ExitAllFailed   = 1
	ExitStorageFail = 2
)

// Collector acquires raw posts for a set of hashtags
type Collector interface {
	Collect(ctx context.Context, runID string, hashtags []string) []collect.Result
}

// Input is one hashtag's raw material for the post-collection stages
type Input struct {
	Hashtag        string
	Outcome        collect.Outcome
	Reason         string
	Err            error
	Posts          []domain.RawPost
	CollectDropped int
	RateLimitHits  int
}

// FromResults adapts collection results
func FromResults(results []collect.Result) []Input {
	out := make([]Input, len(results))
	for i, r := range results {
		out[i] = Input{
			Hashtag:        domain.NormalizeHashtag(r.Hashtag),
			Outcome:        r.Outcome,
			Reason:         r.Reason,
			Err:            r.Err,
			Posts:          r.Posts,
			CollectDropped: r.Stats.Dropped,
			RateLimitHits:  r.Stats.RateLimitHits,
		}
	}
	return out
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithSink sets where batches are appended
func WithSink(w store.Writer) Option { return func(p *Pipeline) { p.sink = w } }

// WithCache publishes each committed signal
func WithCache(c signalcache.Cache) Option { return func(p *Pipeline) { p.cache = c } }

// WithReporter receives the final report
func WithReporter(r report.Reporter) Option { return func(p *Pipeline) { p.reporter = r } }

// WithMetrics records into an existing registry
func WithMetrics(m *metrics.Registry) Option { return func(p *Pipeline) { p.metrics = m } }

// WithClock fixes the reference time of engagement velocity and the report
func WithClock(c clockwork.Clock) Option { return func(p *Pipeline) { p.clock = c } }

// WithRedactor scrubs session errors before they reach the report
func WithRedactor(r *secrets.Redactor) Option { return func(p *Pipeline) { p.redactor = r } }

// Pipeline is safe to reuse across runs but not for concurrent runs
type Pipeline struct {
	cfg        config.Config
	dedup      *dedup.Deduplicator
	scorer     *sentiment.Scorer
	vectorizer *features.Vectorizer
	composer   *signal.Composer

	sink     store.Writer
	cache    signalcache.Cache
	reporter report.Reporter
	metrics  *metrics.Registry
	clock    clockwork.Clock
	redactor *secrets.Redactor
}

// New builds the stages from cfg. The sentiment lexicon is loaded here.
func New(cfg config.Config, opts ...Option) (*Pipeline, error) {
	scorer := sentiment.Default()
	if cfg.Sentiment.Lexicon != "" {
		lex, err := sentiment.LoadLexicon(cfg.Sentiment.Lexicon)
		if err != nil {
			return nil, fmt.Errorf("failed to load lexicon: %w", err)
		}
		scorer = sentiment.New(lex)
	}

	p := &Pipeline{
		cfg:        cfg,
		dedup:      dedup.New(cfg.Dedup),
		scorer:     scorer,
		vectorizer: features.New(cfg.Features),
		sink:       store.Fanout{},
		clock:      clockwork.NewRealClock(),
		redactor:   secrets.NewRedactor(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.NewRegistry()
	}
	p.composer = signal.NewComposer(cfg.Signal, p.clock)
	return p, nil
}

// Metrics returns the registry the pipeline records into
func (p *Pipeline) Metrics() *metrics.Registry { return p.metrics }

// Run collects every hashtag and processes the results
func (p *Pipeline) Run(ctx context.Context, runID string, c Collector, hashtags []string) (report.Report, error) {
	started := p.clock.Now().UTC()
	timer := p.metrics.StartStepTimer("collect")
	results := c.Collect(ctx, runID, hashtags)
	timer.Stop("ok")
	log.Info().Str("run_id", runID).Str("sessions", collect.Summary(results)).Msg("Collection finished")

	rep, err := p.process(ctx, runID, FromResults(results))
	rep.StartedAt = started
	return rep, err
}

// Process runs the post-collection stages over already acquired inputs
func (p *Pipeline) Process(ctx context.Context, runID string, inputs []Input) (report.Report, error) {
	started := p.clock.Now().UTC()
	rep, err := p.process(ctx, runID, inputs)
	rep.StartedAt = started
	return rep, err
}

// hashtagWork carries one hashtag through the stages
type hashtagWork struct {
	summary report.HashtagSummary
	posts   []domain.ScoredPost
	scores  []signal.PostScore
	signal  *domain.Signal
}

func (p *Pipeline) process(ctx context.Context, runID string, inputs []Input) (report.Report, error) {
	logger := log.With().Str("run_id", runID).Logger()
	work := make([]*hashtagWork, len(inputs))

	timer := p.metrics.StartStepTimer("dedup")
	for i, in := range inputs {
		work[i] = p.clean(logger, in)
	}
	timer.Stop("ok")

	top := p.vectorize(logger, work)
	p.compose(logger, runID, work)

	rep := report.Report{RunID: runID}
	var all []domain.ScoredPost
	var contributions []float64
	for _, w := range work {
		if w.signal != nil {
			all = append(all, w.posts...)
			for _, s := range w.scores {
				contributions = append(contributions, s.Contribution)
			}
		}
	}
	rep.Stats = report.Summarize(all, contributions, top)

	storeErr := p.persist(ctx, logger, runID, work)

	for _, w := range work {
		rep.Hashtags = append(rep.Hashtags, w.summary)
	}
	rep.FinishedAt = p.clock.Now().UTC()

	if p.reporter != nil {
		if err := p.reporter.Report(ctx, rep); err != nil {
			p.metrics.RecordPipelineError("report", "reporter")
		}
	}
	return rep, storeErr
}

// clean deduplicates and scores sentiment. Failed sessions never feed a signal.
func (p *Pipeline) clean(logger zerolog.Logger, in Input) *hashtagWork {
	w := &hashtagWork{summary: report.HashtagSummary{
		Hashtag:       in.Hashtag,
		Outcome:       string(in.Outcome),
		Reason:        in.Reason,
		Error:         p.redactor.RedactError(in.Err),
		Raw:           len(in.Posts),
		RateLimitHits: in.RateLimitHits,
		Dropped:       map[string]int{},
	}}
	if in.CollectDropped > 0 {
		w.summary.Dropped["malformed_record"] = in.CollectDropped
	}
	if in.Outcome == collect.Failed {
		w.summary.Skipped = "collection failed"
		return w
	}

	res := p.dedup.Run(in.Posts)
	for reason, n := range res.DropCounts() {
		w.summary.Dropped[string(reason)] += n
		p.metrics.Dropped("dedup", string(reason), n)
	}
	w.summary.Kept = len(res.Posts)

	w.posts = make([]domain.ScoredPost, len(res.Posts))
	for i, cp := range res.Posts {
		w.posts[i] = domain.ScoredPost{Post: cp, Sentiment: p.scorer.Score(cp.NormalizedText)}
	}
	logger.Debug().Str("hashtag", in.Hashtag).Int("raw", len(in.Posts)).
		Int("kept", len(res.Posts)).Msg("Posts cleaned")
	return w
}

// vectorize fits the feature model per the configured scope and returns the
// report's top terms. A corpus that cannot be fitted skips its hashtags.
func (p *Pipeline) vectorize(logger zerolog.Logger, work []*hashtagWork) []features.TermWeight {
	timer := p.metrics.StartStepTimer("features")
	defer timer.Stop("ok")

	if p.cfg.Run.FitScope == config.FitHashtag {
		var top []features.TermWeight
		for _, w := range work {
			if len(w.posts) == 0 {
				continue
			}
			m, err := p.fit([]*hashtagWork{w})
			if err != nil {
				p.skipFit(logger, err, w)
				continue
			}
			top = append(top, m.TopTerms(p.cfg.Run.TopTerms)...)
		}
		return mergeTerms(top, p.cfg.Run.TopTerms)
	}

	var live []*hashtagWork
	for _, w := range work {
		if len(w.posts) > 0 {
			live = append(live, w)
		}
	}
	if len(live) == 0 {
		return nil
	}
	m, err := p.fit(live)
	if err != nil {
		p.skipFit(logger, err, live...)
		return nil
	}
	logger.Info().Int("vocabulary", m.VocabularySize()).Int("dimensions", m.Dim()).
		Bool("relaxed", m.Relaxed()).Msg("Feature model fitted")
	return m.TopTerms(p.cfg.Run.TopTerms)
}

// fit trains one model over the posts of group and attaches the vectors
func (p *Pipeline) fit(group []*hashtagWork) (*features.Model, error) {
	var docs []string
	for _, w := range group {
		for _, sp := range w.posts {
			docs = append(docs, sp.Post.NormalizedText)
		}
	}
	m, vecs, err := p.vectorizer.FitTransform(docs)
	if err != nil {
		return nil, err
	}
	k := 0
	for _, w := range group {
		for i := range w.posts {
			w.posts[i].Vector = vecs[k]
			k++
		}
	}
	return m, nil
}

func (p *Pipeline) skipFit(logger zerolog.Logger, err error, group ...*hashtagWork) {
	reason := "feature fit failed"
	switch {
	case errors.Is(err, features.ErrEmptyCorpus):
		reason = "empty corpus"
	case errors.Is(err, features.ErrEmptyVocabulary):
		reason = "empty vocabulary"
	}
	p.metrics.RecordPipelineError("features", reason)
	for _, w := range group {
		logger.Warn().Err(err).Str("hashtag", w.summary.Hashtag).Msg("Skipping signal")
		w.summary.Skipped = reason
	}
}

// compose builds one Signal per hashtag that still has vectorized posts.
// Run scope normalizes against every hashtag; hashtag scope against itself,
// since separately fitted vectors do not share a basis.
func (p *Pipeline) compose(logger zerolog.Logger, runID string, work []*hashtagWork) {
	timer := p.metrics.StartStepTimer("compose")
	defer timer.Stop("ok")

	now := p.composer.Now()
	var runStats signal.RunStats
	if p.cfg.Run.FitScope != config.FitHashtag {
		var all []domain.ScoredPost
		for _, w := range work {
			all = append(all, w.posts...)
		}
		runStats = signal.NewRunStats(all, now)
	}

	for _, w := range work {
		if w.summary.Skipped != "" {
			continue
		}
		stats := runStats
		if p.cfg.Run.FitScope == config.FitHashtag {
			stats = signal.NewRunStats(w.posts, now)
		}
		sig, err := p.composer.Compose(runID, w.summary.Hashtag, w.posts, stats)
		if errors.Is(err, signal.ErrNoPosts) {
			logger.Info().Str("hashtag", w.summary.Hashtag).Msg("No posts survived, skipping signal")
			w.summary.Skipped = "no posts"
			continue
		}
		if err != nil {
			logger.Warn().Err(err).Str("hashtag", w.summary.Hashtag).Msg("Failed to compose signal")
			w.summary.Skipped = "compose failed"
			continue
		}
		w.scores = p.composer.PostScores(w.posts, stats)
		w.signal = &sig
	}
}

// persist appends one batch per hashtag. The first storage failure aborts
// the remaining writes; signals are only published once their batch landed.
func (p *Pipeline) persist(ctx context.Context, logger zerolog.Logger, runID string, work []*hashtagWork) error {
	timer := p.metrics.StartStepTimer("store")
	for _, w := range work {
		b := store.Batch{RunID: runID, Hashtag: w.summary.Hashtag, Posts: w.posts}
		if w.signal != nil {
			b.Signals = []domain.Signal{*w.signal}
		}
		if err := p.sink.Append(ctx, b); err != nil {
			timer.Stop("error")
			p.metrics.RecordPipelineError("store", "storage")
			logger.Error().Str("hashtag", w.summary.Hashtag).
				Str("error", p.redactor.RedactError(err)).Msg("Storage write failed, aborting run")
			if !faults.IsStorage(err) {
				err = &faults.StorageWriteError{Sink: p.sink.Name(), Op: "append", Err: err}
			}
			return err
		}
		if w.signal == nil {
			continue
		}
		w.summary.Signal = w.signal
		p.metrics.RecordSignal(*w.signal)
		if p.cache != nil {
			if err := p.cache.Put(ctx, *w.signal); err != nil {
				p.metrics.RecordPipelineError("cache", "publish")
				logger.Warn().Err(err).Str("hashtag", w.summary.Hashtag).Msg("Failed to cache signal")
			}
		}
	}
	timer.Stop("ok")
	return nil
}

// ExitCode maps a finished run to the process exit status
func ExitCode(rep report.Report, err error) int {
	if err != nil {
		return ExitStorageFail
	}
	for _, h := range rep.Hashtags {
		if h.Outcome != string(collect.Failed) {
			return ExitOK
		}
	}
	return ExitAllFailed
}

// mergeTerms keeps the heaviest weight per term across per-hashtag models
func mergeTerms(terms []features.TermWeight, n int) []features.TermWeight {
	best := make(map[string]float64, len(terms))
	for _, t := range terms {
		if w, ok := best[t.Term]; !ok || t.Weight > w {
			best[t.Term] = t.Weight
		}
	}
	out := make([]features.TermWeight, 0, len(best))
	for term, w := range best {
		out = append(out, features.TermWeight{Term: term, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].Term < out[j].Term
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
