package server

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/answerhive/answerhive/config"
	"github.com/answerhive/answerhive/internal/credstore"
	"github.com/answerhive/answerhive/internal/driver/apicall"
	"github.com/answerhive/answerhive/internal/driver/browser"
	"github.com/answerhive/answerhive/internal/driver/simulated"
	"github.com/answerhive/answerhive/internal/integrate"
	"github.com/answerhive/answerhive/internal/registry"
	"github.com/answerhive/answerhive/internal/search"
	"github.com/answerhive/answerhive/internal/telemetry"
)

// App bundles the wired engine so both the HTTP server and the CLI can run
// searches through the same instance.
type App struct {
	Config       *config.Config
	Orchestrator *search.Orchestrator
	Registry     search.Registry
	Drivers      []search.TierDriver
	Integrator   integrate.Integrator
	Logger       *log.Logger
}

// Build performs top-level dependency injection from config: credential
// store, acquisition tiers, fallback chain, registry, metrics, orchestrator.
func Build(cfg *config.Config) *App {
	logger := log.New(log.Writer(), "[ORCH] ", log.LstdFlags)

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		metrics = telemetry.New(cfg.Telemetry.Namespace, prometheus.DefaultRegisterer)
	}

	creds := credstore.NewFileStore(cfg.Credentials.Path, cfg.Credentials.KeyEnv)

	var drivers []search.TierDriver
	if cfg.Fallback.AutomationEnabled {
		drivers = append(drivers, browser.New(cfg.Browser, cfg.Platforms))
	}
	if cfg.Fallback.CredentialEnabled {
		drivers = append(drivers, apicall.New(creds, cfg.Platforms, cfg.Search.AcquireTimeout))
	}
	if cfg.Fallback.SimulatedEnabled {
		drivers = append(drivers, simulated.New(cfg.Fallback.SimulatedDelay, cfg.Platforms))
	}

	chain := &search.FallbackChain{
		Drivers: drivers,
		Monitor: &search.StreamMonitor{
			Interval:  cfg.Search.SamplingInterval,
			Threshold: cfg.Search.StabilizationThreshold,
			Timeout:   cfg.Search.AcquireTimeout,
		},
		Logger: logger,
	}

	agg := search.Aggregator{
		Floor:       cfg.Search.ConfidenceFloor,
		Fingerprint: search.PrefixFingerprint(cfg.Search.FingerprintLength),
	}

	reg := registry.FromConfig(cfg, logger)
	orch := search.NewOrchestrator(reg, chain, agg,
		cfg.Search.MaxWorkers, cfg.Search.SessionTimeout, logger, metrics)

	var integrator integrate.Integrator
	if c := integrate.FromConfig(cfg.Integrate); c != nil {
		integrator = c
	}

	return &App{
		Config:       cfg,
		Orchestrator: orch,
		Registry:     reg,
		Drivers:      drivers,
		Integrator:   integrator,
		Logger:       logger,
	}
}

// Close flushes background session runs and releases the registry.
func (a *App) Close() error {
	a.Orchestrator.Wait()
	return a.Registry.Close()
}
