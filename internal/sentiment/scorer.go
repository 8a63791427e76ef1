// Package sentiment maps normalized post text to polarity and subjectivity
// using a fixed word lexicon with negation and intensifier handling.
package sentiment

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/text"
)

//go:embed lexicon.yaml
var defaultLexicon []byte

// Entry is one scored lexicon word
type Entry struct {
	Polarity     float64 `yaml:"polarity"`
	Subjectivity float64 `yaml:"subjectivity"`
}

// Lexicon is the lexical resource a Scorer is deterministic against
type Lexicon struct {
	NegationWindow int                `yaml:"negation_window"` // tokens a negation reaches forward
	Negations      []string           `yaml:"negations"`
	Intensifiers   map[string]float64 `yaml:"intensifiers"`
	Words          map[string]Entry   `yaml:"words"`

	negations map[string]struct{}
}

// ParseLexicon decodes and validates a YAML lexicon
func ParseLexicon(data []byte) (*Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return nil, fmt.Errorf("failed to parse lexicon: %w", err)
	}
	if err := lex.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lexicon: %w", err)
	}
	lex.negations = make(map[string]struct{}, len(lex.Negations))
	for _, n := range lex.Negations {
		lex.negations[strings.ToLower(n)] = struct{}{}
	}
	return &lex, nil
}

// LoadLexicon reads a lexicon file from disk
func LoadLexicon(path string) (*Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lexicon: %w", err)
	}
	return ParseLexicon(data)
}

// Validate checks every entry is inside the documented ranges
func (l *Lexicon) Validate() error {
	if len(l.Words) == 0 {
		return fmt.Errorf("no words defined")
	}
	if l.NegationWindow < 0 {
		return fmt.Errorf("negation_window must be non-negative, got %d", l.NegationWindow)
	}
	for w, e := range l.Words {
		if e.Polarity < -1 || e.Polarity > 1 {
			return fmt.Errorf("word %q: polarity %f outside [-1,1]", w, e.Polarity)
		}
		if e.Subjectivity < 0 || e.Subjectivity > 1 {
			return fmt.Errorf("word %q: subjectivity %f outside [0,1]", w, e.Subjectivity)
		}
	}
	for w, m := range l.Intensifiers {
		if m <= 0 {
			return fmt.Errorf("intensifier %q: multiplier must be positive, got %f", w, m)
		}
	}
	return nil
}

func (l *Lexicon) isNegation(tok string) bool {
	if _, ok := l.negations[tok]; ok {
		return true
	}
	return strings.HasSuffix(tok, "n't")
}

var (
	defaultOnce   sync.Once
	defaultScorer *Scorer
)

// Default returns a scorer over the embedded lexicon
func Default() *Scorer {
	defaultOnce.Do(func() {
		lex, err := ParseLexicon(defaultLexicon)
		if err != nil {
			panic(fmt.Sprintf("embedded lexicon: %v", err))
		}
		defaultScorer = New(lex)
	})
	return defaultScorer
}

// Scorer is a pure function of its lexicon; safe for concurrent use
type Scorer struct {
	lex *Lexicon
}

// New creates a scorer bound to a lexicon
func New(lex *Lexicon) *Scorer {
	return &Scorer{lex: lex}
}

// Score returns (polarity, subjectivity). Text without lexicon hits, including
// empty text, scores (0, 0).
func (s *Scorer) Score(normalized string) domain.SentimentScore {
	tokens := text.Tokenize(strings.ToLower(normalized))
	if len(tokens) == 0 {
		return domain.SentimentScore{}
	}

	var (
		polarities   []float64
		subjectivity []float64
		intensity    = 1.0
		negatedUntil = -1
	)
	for i, tok := range tokens {
		if s.lex.isNegation(tok) {
			negatedUntil = i + s.lex.NegationWindow
			continue
		}
		if m, ok := s.lex.Intensifiers[tok]; ok {
			intensity *= m
			continue
		}
		entry, ok := s.lex.Words[tok]
		if !ok {
			intensity = 1.0
			continue
		}

		p := entry.Polarity * intensity
		subj := entry.Subjectivity * intensity
		if i <= negatedUntil {
			// negation flips and dampens, "not great" is mildly negative
			p *= -0.5
			negatedUntil = -1
		}
		polarities = append(polarities, clamp(p, -1, 1))
		subjectivity = append(subjectivity, clamp(subj, 0, 1))
		intensity = 1.0
	}

	if len(polarities) == 0 {
		return domain.SentimentScore{}
	}
	return domain.SentimentScore{
		Polarity:     clamp(mean(polarities), -1, 1),
		Subjectivity: clamp(mean(subjectivity), 0, 1),
	}
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
