package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"  BANKNIFTY   to the MOON ":                        "banknifty to the moon",
		"@trader99 check https://t.co/abc123 now":            "check now",
		"Buy www.example.com/x #Nifty50 @x":                  "buy #nifty50",
		"ＳＥＮＳＥＸ ｒａｌｌｙ":                                  "sensex rally",
		"line\none\ttwo":                                     "line one two",
		"email me a@b.com":                                   "email me a@b.com",
		"":                                                   "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), "input %q", in)
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"Ｎｉｆｔｙ ＠someone http://x.y/z RALLY!!",
		"ﬁnancial ﬂow",
		"@a @b @c",
		"@a@b keep this",
		"x \u0001@y",
		"Ⅻ strong ㍿",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"nifty50", "breakout", "don't", "miss"}, Tokenize("#nifty50 breakout! don't 'miss'"))
	assert.Empty(t, Tokenize("!!! ..."))
}

func TestShingles(t *testing.T) {
	assert.Nil(t, Shingles("", 5))
	assert.Len(t, Shingles("abc", 5), 1)

	s := Shingles("aaaaaaa", 3)
	assert.Len(t, s, 1, "repeated windows collapse to one shingle")

	s = Shingles("abcdef", 3)
	assert.Len(t, s, 4)
	for i := 1; i < len(s); i++ {
		assert.Less(t, s[i-1], s[i])
	}
}

func TestJaccard(t *testing.T) {
	a := Shingles("nifty rallies to record high", 5)
	b := Shingles("nifty rallies to record high!", 5)
	c := Shingles("bank stocks slump after policy", 5)

	assert.InDelta(t, 1.0, Jaccard(a, a), 1e-12)
	assert.Greater(t, Jaccard(a, b), 0.8)
	assert.Less(t, Jaccard(a, c), 0.2)
	assert.Zero(t, Jaccard(nil, a))
	assert.Equal(t, Jaccard(a, b), Jaccard(b, a))
}

func TestFingerprint(t *testing.T) {
	a := Shingles("same text here", 5)
	b := Shingles("same text here", 5)
	c := Shingles("other text here", 5)
	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
}
