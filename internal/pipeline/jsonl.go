package pipeline

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/collect"
	"github.com/sawpanic/hashsignal/internal/domain"
)

const maxLineBytes = 1 << 20

// ReadRawPosts decodes one RawPost per line and groups them by hashtag in
// first-seen order. Lines that do not decode or validate are dropped and
// counted against their hashtag when it is known. Blank lines are skipped.
func ReadRawPosts(r io.Reader) ([]Input, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	index := make(map[string]int)
	var inputs []Input
	group := func(tag string) *Input {
		i, ok := index[tag]
		if !ok {
			i = len(inputs)
			index[tag] = i
			inputs = append(inputs, Input{Hashtag: tag, Outcome: collect.Success})
		}
		return &inputs[i]
	}

	dropped := 0
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" {
			continue
		}
		var p domain.RawPost
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			log.Debug().Int("line", line).Str("reason", err.Error()).Msg("Dropping undecodable line")
			dropped++
			continue
		}
		tag := domain.NormalizeHashtag(p.Hashtag)
		post, err := domain.NewRawPost(p.ID, p.Author, p.Timestamp, p.RawText, p.Engagement, tag)
		if err != nil {
			log.Debug().Int("line", line).Str("post_id", p.ID).Str("reason", err.Error()).Msg("Dropping invalid post")
			if tag != "" {
				group(tag).CollectDropped++
			} else {
				dropped++
			}
			continue
		}
		g := group(tag)
		g.Posts = append(g.Posts, post)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read posts at line %d: %w", line+1, err)
	}
	if dropped > 0 {
		log.Warn().Int("dropped", dropped).Msg("Dropped lines without a usable hashtag")
	}
	return inputs, nil
}
