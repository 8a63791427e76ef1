package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/hashsignal/internal/faults"
)

func TestNewRawPost(t *testing.T) {
	ts := time.Date(2025, 3, 4, 10, 0, 0, 0, time.FixedZone("IST", 19800))

	post, err := NewRawPost(" 123 ", "", ts, "Nifty breaking out", Engagement{Likes: 4}, "#Nifty50")
	require.NoError(t, err)
	assert.Equal(t, "123", post.ID)
	assert.Equal(t, "unknown", post.Author)
	assert.Equal(t, "nifty50", post.Hashtag)
	assert.Equal(t, time.UTC, post.Timestamp.Location())
	assert.NoError(t, post.Validate())
}

func TestNewRawPost_Rejects(t *testing.T) {
	ts := time.Now()
	cases := []struct {
		name  string
		id    string
		text  string
		tag   string
		ts    time.Time
		eng   Engagement
		field string
	}{
		{"missing id", "", "text", "sensex", ts, Engagement{}, "id"},
		{"blank text", "1", "   ", "sensex", ts, Engagement{}, "content"},
		{"missing hashtag", "1", "text", "#", ts, Engagement{}, "hashtag"},
		{"zero timestamp", "1", "text", "sensex", time.Time{}, Engagement{}, "timestamp"},
		{"negative likes", "1", "text", "sensex", ts, Engagement{Likes: -1}, "like_count"},
		{"negative reposts", "1", "text", "sensex", ts, Engagement{Reposts: -1}, "retweet_count"},
		{"negative replies", "1", "text", "sensex", ts, Engagement{Replies: -2}, "reply_count"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewRawPost(tc.id, "a", tc.ts, tc.text, tc.eng, tc.tag)
			require.Error(t, err)
			var verr *faults.DataValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestEngagementScore(t *testing.T) {
	assert.Equal(t, 10.0+2*3+1, Engagement{Likes: 10, Reposts: 3, Replies: 1}.Score())
	assert.Zero(t, Engagement{}.Score())
}
