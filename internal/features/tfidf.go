package features

import (
	"math"
	"sort"
	"strings"

	"github.com/sawpanic/hashsignal/internal/text"
)

// sparse is one document row in the weighted term space, indices ascending
type sparse struct {
	idx []int
	val []float64
}

func (s sparse) dot(dense []float64) float64 {
	sum := 0.0
	for i, j := range s.idx {
		sum += s.val[i] * dense[j]
	}
	return sum
}

// analyze tokenizes, drops stop words and single-rune tokens, then emits
// n-grams of length 1..maxN over the remaining tokens
func analyze(doc string, maxN int, dropStop bool) []string {
	var toks []string
	for _, t := range text.Tokenize(strings.ToLower(doc)) {
		if text.RuneLen(t) < 2 {
			continue
		}
		if dropStop && isStopWord(t) {
			continue
		}
		toks = append(toks, t)
	}
	if maxN < 1 {
		maxN = 1
	}
	grams := make([]string, 0, len(toks)*maxN)
	grams = append(grams, toks...)
	for n := 2; n <= maxN; n++ {
		for i := 0; i+n <= len(toks); i++ {
			grams = append(grams, strings.Join(toks[i:i+n], " "))
		}
	}
	return grams
}

// termStats collects document frequency and total count per term
type termStats struct {
	df    map[string]int
	total map[string]int
}

func collect(analyzed [][]string) termStats {
	st := termStats{df: make(map[string]int), total: make(map[string]int)}
	for _, grams := range analyzed {
		seen := make(map[string]struct{}, len(grams))
		for _, g := range grams {
			st.total[g]++
			if _, ok := seen[g]; !ok {
				seen[g] = struct{}{}
				st.df[g]++
			}
		}
	}
	return st
}

// selectVocabulary applies document frequency pruning and the feature cap.
// The result is sorted alphabetically so column order is reproducible.
func selectVocabulary(st termStats, nDocs, minDF int, maxDF float64, maxFeatures int) []string {
	maxCount := int(math.Floor(maxDF * float64(nDocs)))
	if maxDF >= 1 {
		maxCount = nDocs
	}
	var terms []string
	for term, df := range st.df {
		if df < minDF || df > maxCount {
			continue
		}
		terms = append(terms, term)
	}
	if maxFeatures > 0 && len(terms) > maxFeatures {
		sort.Slice(terms, func(i, j int) bool {
			ti, tj := st.total[terms[i]], st.total[terms[j]]
			if ti != tj {
				return ti > tj
			}
			return terms[i] < terms[j]
		})
		terms = terms[:maxFeatures]
	}
	sort.Strings(terms)
	return terms
}

// smoothIDF is ln((1+n)/(1+df)) + 1
func smoothIDF(nDocs, df int) float64 {
	return math.Log(float64(1+nDocs)/float64(1+df)) + 1
}

// weigh turns analyzed n-grams into an L2-normalized tf-idf row
func weigh(grams []string, vocab map[string]int, idf []float64) sparse {
	counts := make(map[int]float64)
	for _, g := range grams {
		if j, ok := vocab[g]; ok {
			counts[j]++
		}
	}
	row := sparse{idx: make([]int, 0, len(counts)), val: make([]float64, 0, len(counts))}
	for j := range counts {
		row.idx = append(row.idx, j)
	}
	sort.Ints(row.idx)
	norm := 0.0
	for _, j := range row.idx {
		w := counts[j] * idf[j]
		row.val = append(row.val, w)
		norm += w * w
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range row.val {
			row.val[i] /= norm
		}
	}
	return row
}
