package features

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var corpus = []string{
	"nifty breakout above resistance bulls in control",
	"banknifty breakout confirmed bulls buying dips",
	"sensex crash as bears dump banking stocks",
	"bears in control sensex weak banking stocks slump",
	"nifty breakout bulls target new high",
	"banking stocks slump bears press sensex lower",
	"bulls buying dips nifty strong close",
}

func TestAnalyze(t *testing.T) {
	got := analyze("Nifty breakout, the rally!", 2, true)
	assert.Equal(t, []string{"nifty", "breakout", "rally", "nifty breakout", "breakout rally"}, got)
	assert.Equal(t, []string{"the", "rally"}, analyze("the rally", 1, false))
	assert.Empty(t, analyze("a I the", 2, true))
}

func TestFitTransform_EmptyInputs(t *testing.T) {
	v := New(DefaultConfig())
	_, _, err := v.FitTransform(nil)
	assert.ErrorIs(t, err, ErrEmptyCorpus)

	_, _, err = v.FitTransform([]string{"the and of", "a an it"})
	assert.ErrorIs(t, err, ErrEmptyVocabulary)
}

func TestFitTransform_SharedBasis(t *testing.T) {
	m, vectors, err := New(DefaultConfig()).FitTransform(corpus)
	require.NoError(t, err)
	require.Len(t, vectors, len(corpus))

	assert.LessOrEqual(t, m.Dim(), len(corpus), "dimensions shrink to the corpus size")
	assert.Greater(t, m.Dim(), 0)
	for _, v := range vectors {
		assert.Len(t, v, m.Dim())
	}

	for i, doc := range corpus {
		again := m.Transform(doc)
		for j := range again {
			assert.InDelta(t, vectors[i][j], again[j], 1e-9)
		}
	}

	sv := m.SingularValues()
	assert.True(t, sort.SliceIsSorted(sv, func(i, j int) bool { return sv[i] > sv[j] }))
}

func TestFitTransform_Deterministic(t *testing.T) {
	_, a, err := New(DefaultConfig()).FitTransform(corpus)
	require.NoError(t, err)
	_, b, err := New(DefaultConfig()).FitTransform(corpus)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFitTransform_RelaxesPruning(t *testing.T) {
	m, vectors, err := New(DefaultConfig()).FitTransform([]string{
		"reliance results beat estimates",
		"infosys guidance cut again",
	})
	require.NoError(t, err)
	assert.True(t, m.Relaxed())
	assert.Len(t, vectors, 2)
	assert.LessOrEqual(t, m.Dim(), 2)
}

func TestTransform_UnknownTextIsZero(t *testing.T) {
	m, err := New(DefaultConfig()).Fit(corpus)
	require.NoError(t, err)
	for _, x := range m.Transform("completely unrelated words") {
		assert.Zero(t, x)
	}
}

func TestFitTransform_VocabularyCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFeatures = 5
	m, err := New(cfg).Fit(corpus)
	require.NoError(t, err)
	assert.Equal(t, 5, m.VocabularySize())
}

func TestTopTerms(t *testing.T) {
	m, err := New(DefaultConfig()).Fit(corpus)
	require.NoError(t, err)
	top := m.TopTerms(3)
	require.Len(t, top, 3)
	assert.GreaterOrEqual(t, top[0].Weight, top[1].Weight)
	assert.GreaterOrEqual(t, top[1].Weight, top[2].Weight)
	assert.Len(t, m.TopTerms(-1), m.VocabularySize())
}

func TestTruncatedSVD_KnownSpectrum(t *testing.T) {
	rows := []sparse{
		{idx: []int{0}, val: []float64{3}},
		{idx: []int{1}, val: []float64{2}},
		{idx: []int{2}, val: []float64{1}},
	}
	comps, sv := truncatedSVD(rows, 3, 2, 10, 3, 42)
	require.Len(t, sv, 2)
	assert.InDelta(t, 3.0, sv[0], 1e-9)
	assert.InDelta(t, 2.0, sv[1], 1e-9)
	assert.InDelta(t, 1.0, comps[0][0], 1e-9)
	assert.InDelta(t, 1.0, comps[1][1], 1e-9)
}

func TestTruncatedSVD_DropsNullDirections(t *testing.T) {
	// rank one: both rows are the same direction
	rows := []sparse{
		{idx: []int{0, 1}, val: []float64{1, 1}},
		{idx: []int{0, 1}, val: []float64{2, 2}},
	}
	comps, sv := truncatedSVD(rows, 2, 2, 0, 2, 42)
	require.Len(t, sv, 1)
	assert.InDelta(t, math.Sqrt(10), sv[0], 1e-9)
	assert.InDelta(t, 1/math.Sqrt2, comps[0][0], 1e-9)
}

func TestTruncatedSVD_Orthonormal(t *testing.T) {
	cfg := DefaultConfig()
	m, err := New(cfg).Fit(corpus)
	require.NoError(t, err)
	for i := range m.components {
		for j := range m.components {
			want := 0.0
			if i == j {
				want = 1
			}
			assert.InDelta(t, want, dotDense(m.components[i], m.components[j]), 1e-8)
		}
	}
}

func TestJacobiEigen(t *testing.T) {
	values, vectors := jacobiEigen([][]float64{{2, 1}, {1, 2}})
	sort.Float64s(values)
	assert.InDelta(t, 1.0, values[0], 1e-12)
	assert.InDelta(t, 3.0, values[1], 1e-12)
	for c := 0; c < 2; c++ {
		assert.InDelta(t, 1.0, vectors[0][c]*vectors[0][c]+vectors[1][c]*vectors[1][c], 1e-12)
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	bad := DefaultConfig()
	bad.MaxDF = 1.5
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.Components = 0
	assert.Error(t, bad.Validate())
	bad = DefaultConfig()
	bad.NGramMax = 0
	assert.Error(t, bad.Validate())
}
