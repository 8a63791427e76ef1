package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/hashsignal/internal/browser/htmldriver"
	"github.com/sawpanic/hashsignal/internal/collect"
	"github.com/sawpanic/hashsignal/internal/pipeline"
	"github.com/sawpanic/hashsignal/internal/secrets"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Collect hashtags and emit signals",
		Long: `Logs in, collects up to --target posts per hashtag and runs the full
pipeline. Exits 0 when at least one hashtag did not fail, 1 when every
hashtag failed and 2 when output could not be stored.`,
		RunE: runCollect,
	}
	cmd.Flags().StringSlice("hashtags", nil, "Hashtags to collect (overrides run.hashtags)")
	cmd.Flags().Int("target", 0, "Posts per hashtag (overrides run.target_per_hashtag)")
	cmd.Flags().Int("workers", 0, "Concurrent sessions (overrides run.workers)")
	cmd.Flags().String("run-id", "", "Run identifier (default: random UUID)")
	return cmd
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if tags, _ := cmd.Flags().GetStringSlice("hashtags"); len(tags) > 0 {
		cfg.Run.Hashtags = tags
	}
	if target, _ := cmd.Flags().GetInt("target"); target > 0 {
		cfg.Run.Target = target
	}
	if workers, _ := cmd.Flags().GetInt("workers"); workers > 0 {
		cfg.Run.Workers = workers
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	hashtags, err := cfg.Run.NormalizedHashtags()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := secrets.LoadDotEnv(cfg.Credentials.DotEnv...); err != nil {
		return err
	}
	provider := secrets.Chain{secrets.NewEnvProvider(cfg.Credentials.EnvPrefix)}
	if cfg.Credentials.SecretsDir != "" {
		provider = append(provider, secrets.NewFileProvider(cfg.Credentials.SecretsDir))
	}
	creds, err := secrets.Load(ctx, provider)
	if err != nil {
		return err
	}
	creds.Patterns = cfg.Credentials.RedactPatterns

	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runID := runIDFlag(cmd)
	log.Info().Str("run_id", runID).Strs("hashtags", hashtags).Int("target", cfg.Run.Target).
		Int("workers", cfg.Run.Workers).Object("credentials", creds).Msg("Starting run")

	pipe, err := a.pipeline(pipeline.WithRedactor(creds.Redactor()))
	if err != nil {
		return err
	}
	collector := collect.NewCollector(cfg.SessionConfig(), htmldriver.Factory(cfg.Driver), creds,
		cfg.Run.Workers, collect.WithObserver(a.metrics))

	rep, err := pipe.Run(ctx, runID, collector, hashtags)
	return finish(runID, rep, err)
}

func runIDFlag(cmd *cobra.Command) string {
	if id, _ := cmd.Flags().GetString("run-id"); id != "" {
		return id
	}
	return uuid.NewString()
}
