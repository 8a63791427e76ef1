package collect

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sawpanic/hashsignal/internal/browser"
	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/faults"
)

// Record field names a SelectorSet must populate
const (
	FieldID        = "id"
	FieldAuthor    = "author"
	FieldTimestamp = "timestamp"
	FieldText      = "text"
	FieldLikes     = "likes"
	FieldReposts   = "reposts"
	FieldReplies   = "replies"
)

// ParseCount reads engagement counters as rendered: "", "7", "1,024",
// "1.2K", "3M". Empty means zero.
func ParseCount(field, s string) (int64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, nil
	}
	mult := 1.0
	switch strings.ToUpper(s[len(s)-1:]) {
	case "K":
		mult, s = 1e3, s[:len(s)-1]
	case "M":
		mult, s = 1e6, s[:len(s)-1]
	case "B":
		mult, s = 1e9, s[:len(s)-1]
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, faults.Invalid(field, s, "not a count")
	}
	return int64(math.Round(v * mult)), nil
}

// lastSegment turns "/user/status/123" or "https://x.com/user" into its final path part
func lastSegment(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ParseRecord validates one DOM record into a RawPost. A missing timestamp
// falls back to the harvest time; a malformed one drops the record.
func ParseRecord(rec browser.Record, hashtag string, harvestedAt time.Time) (domain.RawPost, error) {
	var (
		eng domain.Engagement
		err error
	)
	if eng.Likes, err = ParseCount("like_count", rec[FieldLikes]); err != nil {
		return domain.RawPost{}, err
	}
	if eng.Reposts, err = ParseCount("retweet_count", rec[FieldReposts]); err != nil {
		return domain.RawPost{}, err
	}
	if eng.Replies, err = ParseCount("reply_count", rec[FieldReplies]); err != nil {
		return domain.RawPost{}, err
	}

	ts := harvestedAt
	if raw := strings.TrimSpace(rec[FieldTimestamp]); raw != "" {
		parsed, perr := time.Parse(time.RFC3339, raw)
		if perr != nil {
			return domain.RawPost{}, faults.Invalid("timestamp", raw, "not RFC3339")
		}
		ts = parsed
	}

	return domain.NewRawPost(
		lastSegment(rec[FieldID]),
		strings.TrimPrefix(lastSegment(rec[FieldAuthor]), "@"),
		ts,
		rec[FieldText],
		eng,
		hashtag,
	)
}
