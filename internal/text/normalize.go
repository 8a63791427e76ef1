// Package text holds the canonicalization shared by deduplication, sentiment
// scoring and vectorization so all three see the same token stream.
package text

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	urlPattern     = regexp.MustCompile(`(?i)\b(?:https?://|www\.)\S+`)
	mentionPattern = regexp.MustCompile(`(?:^|\s)@[\p{L}\p{N}_]+`)
	spacePattern   = regexp.MustCompile(`\s+`)
)

// Normalize returns the canonical form of a post body: NFKC, case-folded,
// URLs and @mentions removed, control characters dropped, typographic
// apostrophes straightened, whitespace
// collapsed. Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(cases.Fold().String(norm.NFKC.String(s)))
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		if r == '\u2019' {
			return '\''
		}
		return r
	}, s)
	s = urlPattern.ReplaceAllString(s, " ")
	// adjacent mentions ("@a@b") only surface one at a time
	for {
		next := mentionPattern.ReplaceAllString(s, " ")
		if next == s {
			break
		}
		s = next
	}
	s = spacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Tokenize splits normalized text into word tokens. Hashtag and cashtag
// prefixes are dropped so "#nifty50" and "nifty50" share a token.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
	tokens := fields[:0]
	for _, f := range fields {
		f = strings.Trim(f, "'")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// RuneLen is the length of s in code points
func RuneLen(s string) int {
	return len([]rune(s))
}
