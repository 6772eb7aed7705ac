// edged estimates options-implied probabilities for Polymarket price-threshold
// markets and reports the edge against the market's quoted price.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/phenomenon0/polymarket-options-edge/pkg/config"
	"github.com/phenomenon0/polymarket-options-edge/pkg/deribit"
	"github.com/phenomenon0/polymarket-options-edge/pkg/logger"
	"github.com/phenomenon0/polymarket-options-edge/pkg/market"
	"github.com/phenomenon0/polymarket-options-edge/pkg/metrics"
	"github.com/phenomenon0/polymarket-options-edge/pkg/orchestrator"
	"github.com/phenomenon0/polymarket-options-edge/pkg/polymarket/gamma"
	"github.com/phenomenon0/polymarket-options-edge/pkg/probability"
	"github.com/phenomenon0/polymarket-options-edge/pkg/session"
	"github.com/phenomenon0/polymarket-options-edge/pkg/streaming"
)

var (
	// Flags
	configPath = flag.String("config", "", "Path to YAML config file")
	httpAddr   = flag.String("http", "", "HTTP server address (overrides config)")
	verbose    = flag.Bool("verbose", false, "Verbose logging")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "edged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *verbose {
		cfg.Logging.Level = "debug"
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	log.Info().Str("currency", cfg.Deribit.Currency).Int("targets", len(cfg.Targets)).Msg("starting edged")

	// Context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := newDaemon(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	go d.hub.Run(ctx)

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      d.api.routes(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	if err := d.orch.Start(ctx); err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	log.Info().Str("ws", "ws://"+cfg.HTTP.Addr+"/ws").Msg("edged running")

	go func() {
		ticker := time.NewTicker(cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.hub.BroadcastStatus(d.orch.GetStatus())
			}
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	log.Info().Msg("shutting down")
	d.orch.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown")
	}

	status := d.orch.GetStatus()
	log.Info().Int("sessions", status.Sessions).Interface("states", status.States).Msg("goodbye")
	return nil
}

type daemon struct {
	orch *orchestrator.Orchestrator
	hub  *streaming.Hub
	api  *api
}

func newDaemon(cfg *config.Config, log zerolog.Logger) (*daemon, error) {
	m := metrics.Default()
	hub := streaming.NewHub(streaming.WithLogger(log))

	deribitClient := deribit.NewClient(
		deribit.WithBaseURL(cfg.Deribit.BaseURL),
		deribit.WithRateLimit(cfg.Deribit.RateLimit, cfg.Deribit.Burst),
	)
	gammaClient := gamma.NewClient(
		gamma.WithBaseURL(cfg.Gamma.BaseURL),
		gamma.WithRateLimit(cfg.Gamma.RateLimit, cfg.Gamma.Burst),
	)

	rate := cfg.Estimator.Rate()
	estimator := probability.NewEstimator(
		probability.NewClosedForm(rate),
		probability.NewSimulation(&probability.SimulationConfig{
			RiskFreeRate: rate,
			Iterations:   cfg.Estimator.Iterations,
			Workers:      cfg.Estimator.Workers,
			Seed:         cfg.Estimator.Seed,
		}),
	)

	policy := session.NewPolicy(
		market.NewTouchPolicy(cfg.Touch.Keywords),
		cfg.Estimator.Model(),
		cfg.Estimator.VolMultiplier,
	)

	targets, err := orchestratorTargets(cfg.Targets)
	if err != nil {
		return nil, err
	}

	orch := orchestrator.NewOrchestrator(
		&orchestrator.Config{
			Currency:        cfg.Deribit.Currency,
			RefreshInterval: cfg.RefreshInterval,
			Targets:         targets,
		},
		gammaClient,
		deribitClient,
		policy,
		estimator,
		m,
		log,
	)

	orch.OnAnalysis(func(a *session.Analysis) {
		hub.BroadcastAnalysis(a, a.Available)
	})
	orch.OnError(func(err error) {
		hub.BroadcastError(err, "orchestrator")
	})

	return &daemon{
		orch: orch,
		hub:  hub,
		api: &api{
			orch:      orch,
			estimator: estimator,
			metrics:   m,
			hub:       hub,
			log:       log.With().Str("component", "http").Logger(),
		},
	}, nil
}

func orchestratorTargets(in []config.Target) ([]orchestrator.Target, error) {
	out := make([]orchestrator.Target, 0, len(in))
	for _, t := range in {
		model, err := probability.ParseModel(t.Model)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.EventSlug, err)
		}
		out = append(out, orchestrator.Target{
			EventSlug: t.EventSlug,
			Markets:   t.Markets,
			Overrides: session.Overrides{
				Threshold:     t.Threshold,
				Model:         model,
				VolMultiplier: t.VolMultiplier,
			},
		})
	}
	return out, nil
}
