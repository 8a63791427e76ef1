package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/hashsignal/internal/browser/htmldriver"
	"github.com/sawpanic/hashsignal/internal/collect"
	"github.com/sawpanic/hashsignal/internal/dedup"
	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/features"
	"github.com/sawpanic/hashsignal/internal/secrets"
	"github.com/sawpanic/hashsignal/internal/signal"
	"github.com/sawpanic/hashsignal/internal/signalcache"
	"github.com/sawpanic/hashsignal/internal/store/postgres"
)

// DefaultPath is where the CLI looks when --config is not given
const DefaultPath = "config/hashsignal.yaml"

// Fit scopes for the feature model
const (
	FitRun     = "run"     // one model over every hashtag of the run
	FitHashtag = "hashtag" // one model per hashtag
)

// Config represents the complete hashsignal configuration
type Config struct {
	Run         RunConfig          `yaml:"run"`
	Session     collect.Config     `yaml:"session"`
	Driver      htmldriver.Config  `yaml:"driver"`
	Dedup       dedup.Config       `yaml:"dedup"`
	Sentiment   SentimentConfig    `yaml:"sentiment"`
	Features    features.Config    `yaml:"features"`
	Signal      signal.Config      `yaml:"signal"`
	Store       StoreConfig        `yaml:"store"`
	Cache       signalcache.Config `yaml:"cache"`
	Metrics     MetricsConfig      `yaml:"metrics"`
	Credentials CredentialsConfig  `yaml:"credentials"`
}

// RunConfig is what one invocation collects
type RunConfig struct {
	Hashtags []string      `yaml:"hashtags"`
	Target   int           `yaml:"target_per_hashtag"` // overrides session.target
	Timeout  time.Duration `yaml:"hashtag_timeout"`    // overrides session.timeout
	Workers  int           `yaml:"workers"`            // concurrent sessions
	FitScope string        `yaml:"fit_scope"`          // run | hashtag
	TopTerms int           `yaml:"top_terms"`          // terms listed in the report
}

// SentimentConfig selects the lexicon
type SentimentConfig struct {
	Lexicon string `yaml:"lexicon"` // YAML lexicon path; empty uses the embedded one
}

// StoreConfig configures the append-only sinks
type StoreConfig struct {
	Dir      string          `yaml:"dir"` // file sink root, always enabled
	Postgres postgres.Config `yaml:"postgres"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables /metrics
}

// CredentialsConfig says where login secrets come from. Values never live
// in this file.
type CredentialsConfig struct {
	EnvPrefix  string   `yaml:"env_prefix"`  // TWITTER -> TWITTER_EMAIL, ...
	DotEnv     []string `yaml:"dotenv"`      // optional .env files
	SecretsDir string   `yaml:"secrets_dir"` // optional mounted secret files

	RedactPatterns []string `yaml:"redact_patterns"` // extra regexes scrubbed from logs and reports
}

// Default returns the production configuration
func Default() Config {
	session := collect.DefaultConfig()
	return Config{
		Run: RunConfig{
			Target:   session.Target,
			Timeout:  session.Timeout,
			Workers:  1,
			FitScope: FitRun,
			TopTerms: 15,
		},
		Session:  session,
		Driver:   htmldriver.DefaultConfig(),
		Dedup:    dedup.DefaultConfig(),
		Features: features.DefaultConfig(),
		Signal:   signal.DefaultConfig(),
		Store: StoreConfig{
			Dir:      "out/hashsignal",
			Postgres: postgres.DefaultConfig(),
		},
		Cache: signalcache.DefaultConfig(),
		Credentials: CredentialsConfig{
			EnvPrefix: "TWITTER",
			DotEnv:    []string{".env"},
		},
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
// A missing file returns an error matching os.ErrNotExist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// SessionConfig is the session section with the run overrides applied
func (c *Config) SessionConfig() collect.Config {
	s := c.Session
	if c.Run.Target > 0 {
		s.Target = c.Run.Target
	}
	if c.Run.Timeout > 0 {
		s.Timeout = c.Run.Timeout
	}
	return s
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if err := c.Run.Validate(); err != nil {
		return fmt.Errorf("run: %w", err)
	}
	if err := c.SessionConfig().Validate(); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if err := c.Driver.Validate(); err != nil {
		return fmt.Errorf("driver: %w", err)
	}
	if err := c.Dedup.Validate(); err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if err := c.Features.Validate(); err != nil {
		return fmt.Errorf("features: %w", err)
	}
	if err := c.Signal.Validate(); err != nil {
		return fmt.Errorf("signal: %w", err)
	}
	if c.Store.Dir == "" {
		return fmt.Errorf("store: dir is required")
	}
	if err := c.Store.Postgres.Validate(); err != nil {
		return fmt.Errorf("store.postgres: %w", err)
	}
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.Credentials.EnvPrefix == "" {
		return fmt.Errorf("credentials: env_prefix is required")
	}
	for _, p := range c.Credentials.RedactPatterns {
		if err := secrets.NewRedactor().AddPattern(p); err != nil {
			return fmt.Errorf("credentials.redact_patterns: %w", err)
		}
	}
	return nil
}

// Validate checks run settings; hashtags may still come from flags
func (r RunConfig) Validate() error {
	if r.Target <= 0 {
		return fmt.Errorf("target_per_hashtag must be positive, got %d", r.Target)
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("hashtag_timeout must be positive, got %s", r.Timeout)
	}
	if r.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", r.Workers)
	}
	if r.FitScope != FitRun && r.FitScope != FitHashtag {
		return fmt.Errorf("fit_scope must be %q or %q, got %q", FitRun, FitHashtag, r.FitScope)
	}
	if r.TopTerms < 0 {
		return fmt.Errorf("top_terms must be non-negative, got %d", r.TopTerms)
	}
	return nil
}

// NormalizedHashtags lowercases, strips '#' and drops blanks and repeats,
// keeping first-seen order. At least one hashtag is required.
func (r RunConfig) NormalizedHashtags() ([]string, error) {
	seen := make(map[string]bool, len(r.Hashtags))
	var out []string
	for _, h := range r.Hashtags {
		tag := domain.NormalizeHashtag(h)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one hashtag is required")
	}
	return out, nil
}
