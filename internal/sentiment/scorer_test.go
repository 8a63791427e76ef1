package sentiment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLexicon = `
negation_window: 2
negations: [not, never]
intensifiers:
  very: 1.5
words:
  good: {polarity: 0.6, subjectivity: 0.6}
  bad: {polarity: -0.6, subjectivity: 0.4}
  rally: {polarity: 0.8, subjectivity: 0.2}
`

func testScorer(t *testing.T) *Scorer {
	t.Helper()
	lex, err := ParseLexicon([]byte(testLexicon))
	require.NoError(t, err)
	return New(lex)
}

func TestScore_NeutralDefaults(t *testing.T) {
	s := testScorer(t)
	assert.Equal(t, 0.0, s.Score("").Polarity)
	assert.Equal(t, 0.0, s.Score("").Subjectivity)
	assert.Zero(t, s.Score("completely unknown vocabulary here").Polarity)
	assert.Zero(t, s.Score("!!! ???").Subjectivity)
}

func TestScore_AveragesHits(t *testing.T) {
	s := testScorer(t)
	got := s.Score("good rally")
	assert.InDelta(t, 0.7, got.Polarity, 1e-9)
	assert.InDelta(t, 0.4, got.Subjectivity, 1e-9)
}

func TestScore_IntensifierAndNegation(t *testing.T) {
	s := testScorer(t)

	assert.InDelta(t, 0.9, s.Score("very good").Polarity, 1e-9)
	assert.InDelta(t, 0.9, s.Score("very good").Subjectivity, 1e-9)
	// intensifier only reaches the next token
	assert.InDelta(t, 0.6, s.Score("very much good").Polarity, 1e-9)

	assert.InDelta(t, -0.3, s.Score("not good").Polarity, 1e-9)
	assert.InDelta(t, -0.3, s.Score("not that good").Polarity, 1e-9)
	assert.InDelta(t, 0.6, s.Score("not one two good").Polarity, 1e-9, "outside the negation window")
	assert.InDelta(t, 0.3, s.Score("isn't bad").Polarity, 1e-9)
}

func TestScore_Bounded(t *testing.T) {
	s := testScorer(t)
	got := s.Score("very very very very good")
	assert.LessOrEqual(t, got.Polarity, 1.0)
	assert.LessOrEqual(t, got.Subjectivity, 1.0)
}

func TestScore_Deterministic(t *testing.T) {
	s := Default()
	in := "nifty looks very bullish after the breakout, not a bad setup"
	first := s.Score(in)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(in))
	}
	assert.Greater(t, first.Polarity, 0.0)
}

func TestDefaultLexicon_MarketTerms(t *testing.T) {
	s := Default()
	assert.Greater(t, s.Score("banknifty bullish rally").Polarity, 0.5)
	assert.Less(t, s.Score("sensex crash bloodbath").Polarity, -0.5)
}

func TestParseLexicon_Rejects(t *testing.T) {
	_, err := ParseLexicon([]byte("words: {x: {polarity: 2, subjectivity: 0}}"))
	assert.Error(t, err)
	_, err = ParseLexicon([]byte("words: {x: {polarity: 0, subjectivity: -1}}"))
	assert.Error(t, err)
	_, err = ParseLexicon([]byte("words: {}"))
	assert.Error(t, err)
	_, err = ParseLexicon([]byte("intensifiers: {very: 0}\nwords: {x: {polarity: 0.1, subjectivity: 0.1}}"))
	assert.Error(t, err)
	_, err = ParseLexicon([]byte(":::"))
	assert.Error(t, err)
}

func TestLoadLexicon(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexicon.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testLexicon), 0o644))

	lex, err := LoadLexicon(path)
	require.NoError(t, err)
	assert.Len(t, lex.Words, 3)

	_, err = LoadLexicon(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
