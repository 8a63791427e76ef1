package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sawpanic/hashsignal/internal/domain"
	"github.com/sawpanic/hashsignal/internal/secrets"
	"github.com/sawpanic/hashsignal/internal/signalcache"
	"github.com/sawpanic/hashsignal/internal/store/postgres"
)

func newLatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <hashtag>",
		Short: "Print the most recent signal for a hashtag",
		Long:  "Reads the signal cache first and falls back to PostgreSQL when it is enabled.",
		Args:  cobra.ExactArgs(1),
		RunE:  runLatest,
	}
}

func runLatest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	tag := domain.NormalizeHashtag(args[0])

	cache := signalcache.New(cfg.Cache, cachePassword(ctx))
	defer cache.Close()
	sig, err := cache.Latest(ctx, tag)
	if err != nil {
		return err
	}

	if sig == nil && cfg.Store.Postgres.Enabled {
		pg, err := postgres.Open(ctx, cfg.Store.Postgres)
		if err != nil {
			return fmt.Errorf("postgres: %s", secrets.NewRedactor().RedactError(err))
		}
		defer pg.Close()
		if sig, err = pg.LatestSignal(ctx, tag); err != nil {
			return err
		}
	}
	if sig == nil {
		return fmt.Errorf("no signal recorded for #%s", tag)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(sig)
}
