package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/hashsignal/internal/config"
	"github.com/sawpanic/hashsignal/internal/metrics"
	"github.com/sawpanic/hashsignal/internal/pipeline"
	"github.com/sawpanic/hashsignal/internal/report"
	"github.com/sawpanic/hashsignal/internal/secrets"
	"github.com/sawpanic/hashsignal/internal/signalcache"
	"github.com/sawpanic/hashsignal/internal/store"
	"github.com/sawpanic/hashsignal/internal/store/filestore"
	"github.com/sawpanic/hashsignal/internal/store/postgres"
)

// app holds the long-lived dependencies shared by run and score
type app struct {
	cfg      *config.Config
	sink     store.Fanout
	cache    signalcache.Cache
	metrics  *metrics.Registry
	reporter report.Reporter
}

func newApp(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewRegistry()}

	fs, err := filestore.New(cfg.Store.Dir)
	if err != nil {
		return nil, err
	}
	a.sink = store.Fanout{fs}

	if cfg.Store.Postgres.Enabled {
		pg, err := postgres.Open(ctx, cfg.Store.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres sink: %s", secrets.NewRedactor().RedactError(err))
		}
		a.sink = append(a.sink, pg)
	}

	a.cache = signalcache.New(cfg.Cache, cachePassword(ctx))
	a.reporter = report.Multi{
		report.Console{W: cmd.OutOrStdout()},
		report.JSON{Store: fs},
	}

	if addr, _ := cmd.Flags().GetString("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := a.metrics.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}
	return a, nil
}

// cachePassword is read from HASHSIGNAL_REDIS_PASSWORD when set
func cachePassword(ctx context.Context) string {
	v, err := secrets.NewEnvProvider(appName).Lookup(ctx, "redis_password")
	if err != nil {
		return ""
	}
	return v
}

func (a *app) pipeline(opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	base := []pipeline.Option{
		pipeline.WithSink(a.sink),
		pipeline.WithCache(a.cache),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithReporter(a.reporter),
	}
	return pipeline.New(*a.cfg, append(base, opts...)...)
}

func (a *app) Close() {
	if err := a.sink.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close sinks")
	}
	if err := a.cache.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close cache")
	}
}

// finish logs the outcome and converts it to an exit status
func finish(runID string, rep report.Report, err error) error {
	code := pipeline.ExitCode(rep, err)
	ev := log.Info()
	if code != pipeline.ExitOK {
		ev = log.Error()
	}
	if err != nil {
		ev = ev.Str("error", secrets.NewRedactor().RedactError(err))
	}
	ev.Str("run_id", runID).Int("signals", len(rep.Signals())).Int("exit_code", code).Msg("Run finished")
	if code != pipeline.ExitOK {
		return &exitError{code: code}
	}
	return nil
}

func stdinOrFile(path string) (*os.File, error) {
	if path == "-" {
		return os.Stdin, nil
	}
	return os.Open(path)
}
