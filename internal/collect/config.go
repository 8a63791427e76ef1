package collect

import (
	"fmt"
	"strings"
	"time"

	"github.com/sawpanic/hashsignal/internal/browser"
)

// Selectors locates the login form fields and feed items
type Selectors struct {
	EmailInput    string              `yaml:"email_input"`
	UsernameInput string              `yaml:"username_input"` // shown when the host challenges the email
	PasswordInput string              `yaml:"password_input"`
	NextButton    string              `yaml:"next_button"`
	LoginButton   string              `yaml:"login_button"`
	Authenticated string              `yaml:"authenticated"` // present only once logged in
	Posts         browser.SelectorSet `yaml:"posts"`
}

// Config drives one collection session
type Config struct {
	LoginURL         string         `yaml:"login_url"`
	SearchURL        string         `yaml:"search_url"` // {hashtag} is replaced, without '#'
	Selectors        Selectors      `yaml:"selectors"`
	RateLimitMarkers []string       `yaml:"rate_limit_markers"`
	Target           int            `yaml:"target"`          // posts per hashtag
	Timeout          time.Duration  `yaml:"timeout"`         // wall clock per hashtag
	StepRetries      int            `yaml:"step_retries"`    // 3 - unexpected observations per login state
	NetworkRetries   int            `yaml:"network_retries"` // 5
	MaxCooldowns     int            `yaml:"max_cooldowns"`   // 5 - consecutive rate-limit hits tolerated
	MaxScrolls       int            `yaml:"max_scrolls"`     // 500
	NetworkBackoff   Backoff        `yaml:"network_backoff"`
	Cooldown         Backoff        `yaml:"cooldown"`
	Pacing           Pacing         `yaml:"pacing"`
	Patience         []PatienceTier `yaml:"patience"`
}

// DefaultConfig targets the public search timeline
func DefaultConfig() Config {
	return Config{
		LoginURL:  "https://twitter.com/i/flow/login",
		SearchURL: "https://twitter.com/search?q=%23{hashtag}&src=typed_query&f=live",
		Selectors: Selectors{
			EmailInput:    `input[autocomplete="username"]`,
			UsernameInput: `input[data-testid="ocfEnterTextTextInput"]`,
			PasswordInput: `input[name="password"]`,
			NextButton:    `[role="button"]:has(span:contains("Next"))`,
			LoginButton:   `[data-testid="LoginForm_Login_Button"]`,
			Authenticated: `[data-testid="AppTabBar_Home_Link"]`,
			Posts: browser.SelectorSet{
				Item: `[data-testid="tweet"]`,
				Fields: map[string]string{
					FieldID:        `a[href*="/status/"]@href`,
					FieldAuthor:    `[data-testid="User-Name"] a@href`,
					FieldTimestamp: `time@datetime`,
					FieldText:      `[data-testid="tweetText"]`,
					FieldLikes:     `[data-testid="like"]`,
					FieldReposts:   `[data-testid="retweet"]`,
					FieldReplies:   `[data-testid="reply"]`,
				},
			},
		},
		RateLimitMarkers: []string{"rate limit", "too many requests", "try again later", "requests are coming in too fast"},
		Target:           1000,
		Timeout:          30 * time.Minute,
		StepRetries:      3,
		NetworkRetries:   5,
		MaxCooldowns:     5,
		MaxScrolls:       500,
		NetworkBackoff:   DefaultBackoff(),
		Cooldown:         Backoff{Base: 30 * time.Second, Multiplier: 2.0, Max: 15 * time.Minute},
		Pacing:           DefaultPacing(),
		Patience:         DefaultPatienceTiers(),
	}
}

// Validate ensures the configuration is usable
func (c Config) Validate() error {
	if c.LoginURL == "" {
		return fmt.Errorf("login_url is required")
	}
	if !strings.Contains(c.SearchURL, "{hashtag}") {
		return fmt.Errorf("search_url must contain {hashtag}, got %q", c.SearchURL)
	}
	s := c.Selectors
	for name, v := range map[string]string{
		"email_input":    s.EmailInput,
		"password_input": s.PasswordInput,
		"next_button":    s.NextButton,
		"login_button":   s.LoginButton,
		"authenticated":  s.Authenticated,
		"posts.item":     s.Posts.Item,
	} {
		if v == "" {
			return fmt.Errorf("selectors.%s is required", name)
		}
	}
	if _, ok := s.Posts.Fields[FieldID]; !ok {
		return fmt.Errorf("selectors.posts.fields.%s is required", FieldID)
	}
	if _, ok := s.Posts.Fields[FieldText]; !ok {
		return fmt.Errorf("selectors.posts.fields.%s is required", FieldText)
	}
	if c.Target <= 0 {
		return fmt.Errorf("target must be positive, got %d", c.Target)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	if c.StepRetries < 0 || c.NetworkRetries < 0 || c.MaxCooldowns < 0 {
		return fmt.Errorf("retry budgets must be non-negative")
	}
	if c.MaxScrolls <= 0 {
		return fmt.Errorf("max_scrolls must be positive, got %d", c.MaxScrolls)
	}
	if err := c.NetworkBackoff.Validate(); err != nil {
		return fmt.Errorf("network_backoff: %w", err)
	}
	if err := c.Cooldown.Validate(); err != nil {
		return fmt.Errorf("cooldown: %w", err)
	}
	if err := c.Pacing.Validate(); err != nil {
		return fmt.Errorf("pacing: %w", err)
	}
	if err := ValidatePatienceTiers(c.Patience); err != nil {
		return fmt.Errorf("patience: %w", err)
	}
	return nil
}

// SearchURLFor fills the hashtag into the search template
func (c Config) SearchURLFor(hashtag string) string {
	return strings.ReplaceAll(c.SearchURL, "{hashtag}", hashtag)
}
