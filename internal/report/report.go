package report

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/domain"
)

// HashtagSummary is one row of the run summary
type HashtagSummary struct {
	Hashtag       string         `json:"hashtag"`
	Outcome       string         `json:"outcome"`
	Reason        string         `json:"reason,omitempty"`
	Error         string         `json:"error,omitempty"` // already redacted
	Raw           int            `json:"raw_posts"`
	Kept          int            `json:"kept_posts"`
	Dropped       map[string]int `json:"dropped,omitempty"`
	RateLimitHits int            `json:"rate_limit_hits"`
	Signal        *domain.Signal `json:"signal,omitempty"`
	Skipped       string         `json:"signal_skipped,omitempty"` // why no signal was built
}

// DroppedTotal sums drops over every reason
func (h HashtagSummary) DroppedTotal() int {
	n := 0
	for _, c := range h.Dropped {
		n += c
	}
	return n
}

// Report is everything a run hands to its reporters
type Report struct {
	RunID      string           `json:"run_id"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt time.Time        `json:"finished_at"`
	Hashtags   []HashtagSummary `json:"hashtags"`
	Stats      Stats            `json:"stats"`
}

// Signals lists the emitted signals in hashtag order
func (r Report) Signals() []domain.Signal {
	var out []domain.Signal
	for _, h := range r.Hashtags {
		if h.Signal != nil {
			out = append(out, *h.Signal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hashtag < out[j].Hashtag })
	return out
}

// Reporter turns a Report into a human-viewable artifact
type Reporter interface {
	Name() string
	Report(ctx context.Context, r Report) error
}

// Multi runs every reporter; a failing reporter is logged and skipped
type Multi []Reporter

// Report implements Reporter
func (m Multi) Report(ctx context.Context, r Report) error {
	var first error
	for _, rep := range m {
		if err := rep.Report(ctx, r); err != nil {
			log.Warn().Err(err).Str("reporter", rep.Name()).Msg("Reporter failed")
			if first == nil {
				first = fmt.Errorf("%s reporter: %w", rep.Name(), err)
			}
		}
	}
	return first
}

// Name implements Reporter
func (m Multi) Name() string { return "multi" }

// ReportStore persists a report document for a run
type ReportStore interface {
	WriteReport(runID string, v interface{}) (string, error)
}

// JSON writes report.json through a ReportStore
type JSON struct {
	Store ReportStore
}

func (j JSON) Name() string { return "json" }

func (j JSON) Report(_ context.Context, r Report) error {
	path, err := j.Store.WriteReport(r.RunID, r)
	if err != nil {
		return err
	}
	log.Info().Str("run_id", r.RunID).Str("path", path).Msg("Report written")
	return nil
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#3B82F6")).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	outcomeColors = map[string]lipgloss.Color{
		"success":   lipgloss.Color("#10B981"),
		"exhausted": lipgloss.Color("#F59E0B"),
		"failed":    lipgloss.Color("#EF4444"),
	}
)

// Console prints the summary table and statistics
type Console struct {
	W io.Writer
}

func (c Console) Name() string { return "console" }

func (c Console) Report(_ context.Context, r Report) error {
	_, err := io.WriteString(c.W, Render(r))
	return err
}

// Render formats the report for a terminal
func Render(r Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("hashsignal run " + r.RunID))
	b.WriteString("\n")
	if !r.StartedAt.IsZero() && !r.FinishedAt.IsZero() {
		b.WriteString(labelStyle.Render(fmt.Sprintf("%s  (%s)",
			r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.Sub(r.StartedAt).Round(time.Second))))
		b.WriteString("\n")
	}

	rows := make([][]string, len(r.Hashtags))
	for i, h := range r.Hashtags {
		value, conf, label := "-", "-", "no signal"
		if h.Signal != nil {
			value = fmt.Sprintf("%+.3f", h.Signal.Value)
			conf = fmt.Sprintf("%.2f", h.Signal.Confidence)
			label = fmt.Sprintf("%s/%s", h.Signal.Direction, h.Signal.Strength)
		} else if h.Skipped != "" {
			label = "no signal: " + h.Skipped
		}
		outcome := h.Outcome
		if h.Reason != "" {
			outcome += " (" + h.Reason + ")"
		}
		rows[i] = []string{
			"#" + h.Hashtag, outcome,
			strconv.Itoa(h.Raw), strconv.Itoa(h.Kept), strconv.Itoa(h.DroppedTotal()),
			strconv.Itoa(h.RateLimitHits), value, conf, label,
		}
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		Headers("HASHTAG", "OUTCOME", "RAW", "KEPT", "DROPPED", "RATE LIMITS", "VALUE", "CONF", "LABEL").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(r.Hashtags) {
				if color, ok := outcomeColors[r.Hashtags[row].Outcome]; ok {
					return cellStyle.Foreground(color)
				}
			}
			return cellStyle
		})
	b.WriteString(t.Render())
	b.WriteString("\n")

	st := r.Stats
	fmt.Fprintf(&b, "%s %d posts, %d authors, mean engagement %.1f, mean polarity %+.3f\n",
		labelStyle.Render("corpus:"), st.TotalPosts, st.UniqueAuthors, st.MeanEngagement, st.MeanPolarity)
	fmt.Fprintf(&b, "%s %d positive, %d neutral, %d negative\n",
		labelStyle.Render("sentiment:"), st.Sentiment.Positive, st.Sentiment.Neutral, st.Sentiment.Negative)
	fmt.Fprintf(&b, "%s engagement~polarity %s, engagement~contribution %s\n",
		labelStyle.Render("correlation:"), formatCorr(st.EngagementPolarityCorr), formatCorr(st.EngagementContributionCorr))
	if len(st.TopTerms) > 0 {
		terms := make([]string, len(st.TopTerms))
		for i, tw := range st.TopTerms {
			terms[i] = tw.Term
		}
		fmt.Fprintf(&b, "%s %s\n", labelStyle.Render("top terms:"), strings.Join(terms, ", "))
	}
	return b.String()
}

func formatCorr(r *float64) string {
	if r == nil {
		return "n/a"
	}
	return fmt.Sprintf("%+.3f", *r)
}
