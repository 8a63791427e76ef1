// Package metrics exposes Prometheus collectors for collection sessions, the
// post-collection pipeline and emitted signals.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/hashsignal/internal/collect"
	"github.com/sawpanic/hashsignal/internal/domain"
)

// Registry holds all Prometheus metrics for hashsignal
type Registry struct {
	reg *prometheus.Registry

	// Collection metrics
	PostsCollected   *prometheus.CounterVec
	RecordsDropped   *prometheus.CounterVec
	RateLimitHits    *prometheus.CounterVec
	CooldownSeconds  prometheus.Histogram
	StateTransitions *prometheus.CounterVec
	Sessions         *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec

	// Pipeline metrics
	StepDuration   *prometheus.HistogramVec
	PipelineErrors *prometheus.CounterVec

	// Signal metrics
	SignalValue      *prometheus.GaugeVec
	SignalConfidence *prometheus.GaugeVec
	SignalPosts      *prometheus.GaugeVec
}

// NewRegistry creates and registers every collector on a private registry
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		PostsCollected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashsignal_posts_collected_total",
				Help: "Posts harvested by collection sessions",
			},
			[]string{"hashtag"},
		),

		RecordsDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashsignal_records_dropped_total",
				Help: "Records discarded, by stage and reason",
			},
			[]string{"stage", "reason"},
		),

		RateLimitHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashsignal_rate_limit_hits_total",
				Help: "Rate-limit and anti-bot challenges observed",
			},
			[]string{"hashtag"},
		),

		CooldownSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hashsignal_cooldown_seconds",
				Help:    "Cooldown waited after each rate-limit hit",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
			},
		),

		StateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashsignal_state_transitions_total",
				Help: "Session state machine transitions",
			},
			[]string{"from", "to"},
		),

		Sessions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashsignal_sessions_total",
				Help: "Finished collection sessions by outcome",
			},
			[]string{"outcome"},
		),

		SessionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hashsignal_session_duration_seconds",
				Help:    "Wall time of collection sessions",
				Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			},
			[]string{"outcome"},
		),

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hashsignal_step_duration_seconds",
				Help:    "Duration of each pipeline step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),

		PipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hashsignal_pipeline_errors_total",
				Help: "Pipeline errors by step",
			},
			[]string{"step", "error_type"},
		),

		SignalValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hashsignal_signal_value",
				Help: "Latest composite signal value (-1 to 1)",
			},
			[]string{"hashtag"},
		),

		SignalConfidence: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hashsignal_signal_confidence",
				Help: "Latest signal confidence (0 to 1)",
			},
			[]string{"hashtag"},
		),

		SignalPosts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hashsignal_signal_posts",
				Help: "Posts behind the latest signal",
			},
			[]string{"hashtag"},
		),
	}

	r.reg.MustRegister(
		r.PostsCollected,
		r.RecordsDropped,
		r.RateLimitHits,
		r.CooldownSeconds,
		r.StateTransitions,
		r.Sessions,
		r.SessionDuration,
		r.StepDuration,
		r.PipelineErrors,
		r.SignalValue,
		r.SignalConfidence,
		r.SignalPosts,
	)
	return r
}

// Gatherer exposes the underlying registry
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// StateChanged implements collect.Observer
func (r *Registry) StateChanged(_ string, from, to collect.State) {
	r.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
}

// PostCollected implements collect.Observer
func (r *Registry) PostCollected(hashtag string) {
	r.PostsCollected.WithLabelValues(hashtag).Inc()
}

// RecordDropped implements collect.Observer
func (r *Registry) RecordDropped(_, reason string) {
	r.RecordsDropped.WithLabelValues("collect", reason).Inc()
}

// RateLimited implements collect.Observer
func (r *Registry) RateLimited(hashtag string, cooldown time.Duration) {
	r.RateLimitHits.WithLabelValues(hashtag).Inc()
	r.CooldownSeconds.Observe(cooldown.Seconds())
}

// SessionFinished implements collect.Observer
func (r *Registry) SessionFinished(_ string, outcome collect.Outcome, elapsed time.Duration) {
	r.Sessions.WithLabelValues(string(outcome)).Inc()
	r.SessionDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// Dropped counts records discarded by a pipeline stage
func (r *Registry) Dropped(stage, reason string, n int) {
	if n > 0 {
		r.RecordsDropped.WithLabelValues(stage, reason).Add(float64(n))
	}
}

// RecordSignal updates the per-hashtag signal gauges
func (r *Registry) RecordSignal(sig domain.Signal) {
	r.SignalValue.WithLabelValues(sig.Hashtag).Set(sig.Value)
	r.SignalConfidence.WithLabelValues(sig.Hashtag).Set(sig.Confidence)
	r.SignalPosts.WithLabelValues(sig.Hashtag).Set(float64(sig.PostCount))
}

// RecordPipelineError records a pipeline error
func (r *Registry) RecordPipelineError(step, errorType string) {
	r.PipelineErrors.WithLabelValues(step, errorType).Inc()
	log.Warn().
		Str("step", step).
		Str("error_type", errorType).
		Msg("Pipeline error recorded")
}

// StepTimer tracks execution time for pipeline steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{
		metrics: r,
		step:    step,
		start:   time.Now(),
	}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline step completed")
}

// Handler serves the registry in the Prometheus text format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (r *Registry) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("Metrics server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

var _ collect.Observer = (*Registry)(nil)
