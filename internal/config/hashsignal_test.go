package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, FitRun, cfg.Run.FitScope)
	assert.Equal(t, "TWITTER", cfg.Credentials.EnvPrefix)
	assert.False(t, cfg.Store.Postgres.Enabled)
	assert.Equal(t, 1, cfg.Run.Workers, "hashtags run one session at a time unless asked")
}

func TestLoad_ShippedFile(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", DefaultPath))
	require.NoError(t, err)

	tags, err := cfg.Run.NormalizedHashtags()
	require.NoError(t, err)
	assert.Equal(t, []string{"nifty50", "sensex", "banknifty"}, tags)
	assert.Equal(t, 30*time.Minute, cfg.SessionConfig().Timeout)
	assert.Equal(t, 2*time.Second, cfg.Session.NetworkBackoff.Base)
	assert.Len(t, cfg.Session.Patience, 4)
	assert.Equal(t, int64(150), cfg.Driver.WindowRequests)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, 1, cfg.Run.Workers)
	assert.Equal(t, 30*time.Second, cfg.Session.Cooldown.Base)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
run:
  hashtags: ["#Nifty50", "nifty50", " ", "SENSEX"]
  target_per_hashtag: 200
  hashtag_timeout: 5m
  fit_scope: hashtag
cache:
  backend: redis
  addr: cache:6379
`))
	require.NoError(t, err)

	tags, err := cfg.Run.NormalizedHashtags()
	require.NoError(t, err)
	assert.Equal(t, []string{"nifty50", "sensex"}, tags)

	session := cfg.SessionConfig()
	assert.Equal(t, 200, session.Target)
	assert.Equal(t, 5*time.Minute, session.Timeout)
	assert.Equal(t, 1000, cfg.Session.Target, "section itself is untouched")
	assert.Equal(t, FitHashtag, cfg.Run.FitScope)
	assert.Equal(t, "cache:6379", cfg.Cache.Addr)
	assert.Equal(t, 1, cfg.Run.Workers, "unset keys keep defaults")
	assert.NotEmpty(t, cfg.Session.Selectors.Posts.Fields)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default().Run, cfg.Run)
}

func TestParse_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown key":      "run:\n  hashtagz: [a]\n",
		"bad fit scope":    "run:\n  fit_scope: global\n",
		"zero workers":     "run:\n  workers: 0\n",
		"weights sum":      "signal:\n  weights: {textual: 0.9, sentiment: 0.3, engagement: 0.1}\n",
		"postgres no dsn":  "store:\n  postgres: {enabled: true}\n",
		"bad cache":        "cache:\n  backend: memcached\n",
		"empty store dir":  "store:\n  dir: \"\"\n",
		"malformed yaml":   "run: [\n",
		"no env prefix":    "credentials:\n  env_prefix: \"\"\n",
		"negative timeout": "run:\n  hashtag_timeout: -1s\n",
		"bad redact regex": "credentials:\n  redact_patterns: [\"(unclosed\"]\n",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestNormalizedHashtags_RequiresOne(t *testing.T) {
	_, err := RunConfig{Hashtags: []string{"#", "  "}}.NormalizedHashtags()
	assert.Error(t, err)
}
