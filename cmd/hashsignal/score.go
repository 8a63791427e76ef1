package main

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/hashsignal/internal/pipeline"
)

func newScoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score recorded posts without collecting",
		Long: `Runs dedup, sentiment, features and signal composition over RawPosts
stored as JSON lines (one post per line, "-" reads stdin).`,
		RunE: runScore,
	}
	cmd.Flags().String("input", "", "JSON lines file of raw posts (required)")
	cmd.Flags().String("run-id", "", "Run identifier (default: random UUID)")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	input, _ := cmd.Flags().GetString("input")
	f, err := stdinOrFile(input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	inputs, err := pipeline.ReadRawPosts(f)
	f.Close()
	if err != nil {
		return err
	}
	if len(inputs) == 0 {
		return fmt.Errorf("no usable posts in %s", input)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cmd, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	pipe, err := a.pipeline()
	if err != nil {
		return err
	}
	runID := runIDFlag(cmd)
	log.Info().Str("run_id", runID).Str("input", input).Int("hashtags", len(inputs)).Msg("Scoring recorded posts")

	rep, err := pipe.Process(ctx, runID, inputs)
	return finish(runID, rep, err)
}
