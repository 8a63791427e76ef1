// Package features fits a TF-IDF term model over a run's cleaned corpus and
// reduces it with a truncated SVD so every post maps to a fixed-length
// vector. Vectors are only comparable within the model that produced them.
package features

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/domain"
)

var (
	// ErrEmptyCorpus is returned when there is nothing to fit
	ErrEmptyCorpus = errors.New("features: empty corpus")
	// ErrEmptyVocabulary is returned when no term survives even relaxed pruning
	ErrEmptyVocabulary = errors.New("features: empty vocabulary")
)

// Config bounds the term model and the factorization
type Config struct {
	MaxFeatures     int     `yaml:"max_features"`     // 1000
	NGramMax        int     `yaml:"ngram_max"`        // 2 - unigrams and bigrams
	MinDF           int     `yaml:"min_df"`           // 2 - minimum documents containing a term
	MaxDF           float64 `yaml:"max_df"`           // 0.8 - maximum document fraction
	StopWords       bool    `yaml:"stop_words"`       // drop English stop words
	Components      int     `yaml:"components"`       // 50 - target dimensions
	Oversample      int     `yaml:"oversample"`       // 10
	PowerIterations int     `yaml:"power_iterations"` // 5
	Seed            int64   `yaml:"seed"`             // 42
}

// DefaultConfig returns the production vectorizer settings
func DefaultConfig() Config {
	return Config{
		MaxFeatures:     1000,
		NGramMax:        2,
		MinDF:           2,
		MaxDF:           0.8,
		StopWords:       true,
		Components:      50,
		Oversample:      10,
		PowerIterations: 5,
		Seed:            42,
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if c.MaxFeatures <= 0 {
		return fmt.Errorf("max_features must be positive, got %d", c.MaxFeatures)
	}
	if c.NGramMax < 1 || c.NGramMax > 3 {
		return fmt.Errorf("ngram_max must be within [1,3], got %d", c.NGramMax)
	}
	if c.MinDF < 1 {
		return fmt.Errorf("min_df must be at least 1, got %d", c.MinDF)
	}
	if c.MaxDF <= 0 || c.MaxDF > 1 {
		return fmt.Errorf("max_df must be within (0,1], got %f", c.MaxDF)
	}
	if c.Components <= 0 {
		return fmt.Errorf("components must be positive, got %d", c.Components)
	}
	if c.Oversample < 0 || c.PowerIterations < 0 {
		return fmt.Errorf("oversample and power_iterations must be non-negative")
	}
	return nil
}

// Model is a fitted term basis plus its reduction
type Model struct {
	cfg        Config
	vocab      map[string]int
	terms      []string
	idf        []float64
	meanWeight []float64
	components [][]float64
	singular   []float64
	relaxed    bool
}

// Dim is the length of every vector this model produces
func (m *Model) Dim() int { return len(m.components) }

// VocabularySize reports the number of retained terms
func (m *Model) VocabularySize() int { return len(m.terms) }

// Relaxed reports whether document frequency pruning had to be loosened
func (m *Model) Relaxed() bool { return m.relaxed }

// SingularValues returns the strength of each retained component
func (m *Model) SingularValues() []float64 {
	return append([]float64(nil), m.singular...)
}

// Transform projects one normalized text into the reduced space. Text with
// no known terms maps to the zero vector.
func (m *Model) Transform(doc string) domain.FeatureVector {
	row := weigh(analyze(doc, m.cfg.NGramMax, m.cfg.StopWords), m.vocab, m.idf)
	return m.project(row)
}

func (m *Model) project(row sparse) domain.FeatureVector {
	out := make(domain.FeatureVector, len(m.components))
	for i, comp := range m.components {
		out[i] = row.dot(comp)
	}
	return out
}

// TermWeight pairs a vocabulary term with its mean tf-idf weight
type TermWeight struct {
	Term   string  `json:"term"`
	Weight float64 `json:"weight"`
}

// TopTerms returns the n terms with the highest mean weight over the fitted corpus
func (m *Model) TopTerms(n int) []TermWeight {
	out := make([]TermWeight, len(m.terms))
	for i, t := range m.terms {
		out[i] = TermWeight{Term: t, Weight: m.meanWeight[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Vectorizer fits models; it holds no corpus state itself
type Vectorizer struct {
	cfg Config
}

// New creates a vectorizer
func New(cfg Config) *Vectorizer {
	return &Vectorizer{cfg: cfg}
}

// Fit builds a model over docs
func (v *Vectorizer) Fit(docs []string) (*Model, error) {
	m, _, err := v.FitTransform(docs)
	return m, err
}

// FitTransform fits over docs and returns one vector per doc, in order.
// Corpora smaller than the configured dimensionality get fewer dimensions.
func (v *Vectorizer) FitTransform(docs []string) (*Model, []domain.FeatureVector, error) {
	if len(docs) == 0 {
		return nil, nil, ErrEmptyCorpus
	}

	analyzed := make([][]string, len(docs))
	for i, d := range docs {
		analyzed[i] = analyze(d, v.cfg.NGramMax, v.cfg.StopWords)
	}
	st := collect(analyzed)

	terms := selectVocabulary(st, len(docs), v.cfg.MinDF, v.cfg.MaxDF, v.cfg.MaxFeatures)
	relaxed := false
	if len(terms) == 0 {
		terms = selectVocabulary(st, len(docs), 1, 1.0, v.cfg.MaxFeatures)
		relaxed = true
	}
	if len(terms) == 0 {
		return nil, nil, ErrEmptyVocabulary
	}

	m := &Model{
		cfg:        v.cfg,
		vocab:      make(map[string]int, len(terms)),
		terms:      terms,
		idf:        make([]float64, len(terms)),
		meanWeight: make([]float64, len(terms)),
		relaxed:    relaxed,
	}
	for j, t := range terms {
		m.vocab[t] = j
		m.idf[j] = smoothIDF(len(docs), st.df[t])
	}

	rows := make([]sparse, len(docs))
	for i, grams := range analyzed {
		rows[i] = weigh(grams, m.vocab, m.idf)
		for k, j := range rows[i].idx {
			m.meanWeight[j] += rows[i].val[k] / float64(len(docs))
		}
	}

	k := v.cfg.Components
	if k > len(docs) {
		k = len(docs)
	}
	if k > len(terms) {
		k = len(terms)
	}
	m.components, m.singular = truncatedSVD(rows, len(terms), k, v.cfg.Oversample, v.cfg.PowerIterations, v.cfg.Seed)
	if len(m.components) == 0 {
		// every row was empty under the selected vocabulary
		return nil, nil, ErrEmptyVocabulary
	}

	vectors := make([]domain.FeatureVector, len(rows))
	for i, row := range rows {
		vectors[i] = m.project(row)
	}

	log.Debug().
		Int("documents", len(docs)).
		Int("vocabulary", len(terms)).
		Int("dimensions", m.Dim()).
		Bool("relaxed", relaxed).
		Msg("feature model fitted")
	return m, vectors, nil
}
