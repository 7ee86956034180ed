package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dexguard/internal/detector"
	"github.com/alanyoungcy/dexguard/internal/engine"
	"github.com/alanyoungcy/dexguard/internal/executor"
	"github.com/alanyoungcy/dexguard/internal/feed"
	"github.com/alanyoungcy/dexguard/internal/observability"
	"github.com/alanyoungcy/dexguard/internal/server"
	"github.com/alanyoungcy/dexguard/internal/server/handler"
	"github.com/alanyoungcy/dexguard/internal/server/ws"
	"github.com/alanyoungcy/dexguard/internal/service"
)

// archiveLockKey guards the archive sweep so exactly one instance runs it.
const archiveLockKey = "archive_sweep"

// core bundles the risk pipeline components shared by the running modes.
type core struct {
	engine     *engine.Engine
	metrics    *observability.Metrics
	registry   *detector.Registry
	dispatcher *feed.Dispatcher
	decisions  *service.DecisionService
	startedAt  time.Time
}

// buildCore constructs the engine, metrics, detector registry, dispatcher,
// and decision service, and subscribes the service to the engine.
func (a *App) buildCore(deps *Dependencies) (*core, error) {
	engCfg := a.engineConfig()
	eng, err := engine.New(engCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	metrics := observability.New(eng.PoolCount, deps.Budget.Remaining)

	var notifier service.Notifier
	if deps.Notifier != nil {
		notifier = deps.Notifier
	}
	svc := service.NewDecisionService(
		deps.DecisionStore,
		deps.DecisionCache,
		deps.SignalBus,
		deps.AuditStore,
		notifier,
		metrics,
		a.logger,
	)
	eng.Subscribe(svc)

	registry := detector.NewRegistry()
	dispatcher := feed.NewDispatcher(registry, eng, metrics, a.logger)

	return &core{
		engine:     eng,
		metrics:    metrics,
		registry:   registry,
		dispatcher: dispatcher,
		decisions:  svc,
		startedAt:  time.Now().UTC(),
	}, nil
}

// engineConfig maps the file configuration onto the engine defaults. Zero
// values leave the defaults untouched.
func (a *App) engineConfig() engine.Config {
	cfg := engine.DefaultConfig()
	ec := a.cfg.Engine

	if ec.Window.Duration > 0 {
		cfg.CorrelationWindow = ec.Window.Duration
	}
	if ec.Alpha > 0 {
		cfg.Alpha = ec.Alpha
	}
	if ec.ElevatedUp > 0 {
		cfg.Elevated = engine.EdgeThresholds{Up: ec.ElevatedUp, Down: ec.ElevatedDown}
	}
	if ec.CriticalUp > 0 {
		cfg.Critical = engine.EdgeThresholds{Up: ec.CriticalUp, Down: ec.CriticalDown}
	}
	cfg.RefreshSustained = ec.RefreshSustained
	if ec.IdleTTL.Duration > 0 {
		cfg.IdleTTL = ec.IdleTTL.Duration
	}
	return cfg
}

// registerDetectors builds the configured detectors, registers them, and
// returns the background runners some of them need (the gas tracker polls).
// The gas tracker is instantiated once per chain that has an RPC endpoint;
// withChain disables it in modes that must not open chain connections.
func (a *App) registerDetectors(ctx context.Context, deps *Dependencies, c *core, withChain bool) ([]func(context.Context) error, error) {
	var runners []func(context.Context) error

	for _, dc := range a.cfg.Detectors {
		cfg := detector.Config{Name: dc.Name, Params: dc.Params}

		switch dc.Name {
		case "large_swap":
			c.registry.Register(dc.Name, detector.NewLargeSwap(cfg, a.logger))
		case "flash_loan":
			c.registry.Register(dc.Name, detector.NewFlashLoan(cfg, a.logger))
		case "mempool_cluster":
			c.registry.Register(dc.Name, detector.NewMempoolCluster(cfg, a.logger))
		case "sandwich":
			c.registry.Register(dc.Name, detector.NewSandwich(cfg, a.logger))
		case "oracle_checker":
			c.registry.Register(dc.Name, detector.NewOracleChecker(cfg, a.logger))
		case "cross_chain":
			c.registry.Register(dc.Name, detector.NewCrossChain(cfg, a.logger))
		case "gas_tracker":
			if !withChain {
				continue
			}
			for _, chain := range a.cfg.Chains {
				if chain.RPCURL == "" {
					continue
				}
				source, err := detector.DialGasSource(ctx, chain.RPCURL)
				if err != nil {
					a.logger.WarnContext(ctx, "gas tracker disabled for chain",
						slog.String("chain", chain.Name),
						slog.String("error", err.Error()),
					)
					continue
				}
				gt := detector.NewGasTracker(cfg, source, deps.Budget, chain.Name, a.logger)
				c.registry.Register(fmt.Sprintf("%s_%s", dc.Name, chain.Name), gt)
				runners = append(runners, gt.Run)
			}
		default:
			return nil, fmt.Errorf("unknown detector %q", dc.Name)
		}
	}

	for _, d := range c.registry.All() {
		if err := d.Init(ctx); err != nil {
			return nil, fmt.Errorf("init detector %s: %w", d.Name(), err)
		}
	}

	return runners, nil
}

// startEngine starts ingestion and the idle sweep, and stops the engine when
// the group winds down.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, c *core) {
	c.engine.Start()
	g.Go(func() error {
		defer c.engine.Stop()
		return c.engine.Run(ctx)
	})
}

// startExecutor consumes the decision service's action channel and applies
// protective actions. Only the dry-run applier is shipped; actuation against
// live pool contracts is the responsibility of downstream agents.
func (a *App) startExecutor(ctx context.Context, g *errgroup.Group, c *core) {
	if !a.cfg.Executor.Enabled {
		return
	}
	if !a.cfg.Executor.DryRun {
		a.logger.WarnContext(ctx, "executor: dry_run disabled but no live applier is configured, running dry")
	}

	applier := executor.NewDryRunApplier(a.logger)
	exec := executor.NewExecutor(c.decisions.Actions(), applier, a.logger)
	if ttl := a.cfg.Executor.DedupTTL.Duration; ttl > 0 {
		exec.SetDedupTTL(ttl)
	}
	g.Go(func() error {
		return exec.Run(ctx)
	})
}

// startFeeds connects the chain WebSocket feeds and the bus feeder, routing
// every event through the dispatcher.
func (a *App) startFeeds(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core, withWS bool) {
	if withWS {
		for _, chain := range a.cfg.Chains {
			if chain.WSURL == "" || len(chain.Pools) == 0 {
				continue
			}
			wsFeed := feed.NewChainWSFeed(chain.WSURL, chain.Pools, c.dispatcher, a.logger)
			g.Go(func() error {
				defer wsFeed.Close()
				return wsFeed.Run(ctx)
			})
		}
	}

	// Out-of-band events (replays, backfills, sibling agents) arrive over
	// the bus in every mode.
	busFeeder := feed.NewBusFeeder(deps.SignalBus, c.dispatcher, a.logger)
	g.Go(func() error {
		return busFeeder.Run(ctx)
	})
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: c.startedAt,
		PoolCount: c.engine.PoolCount,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, c.startedAt, c.engine.PoolCount, deps.Budget.Remaining),
		Decisions: handler.NewDecisionHandler(c.decisions, a.logger),
		Pools:     handler.NewPoolHandler(c.engine, a.logger),
		Detectors: handler.NewDetectorHandler(c.registry),
		Metrics:   c.metrics.Handler(),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop periodically moves aged decision and audit history to
// object storage. The distributed lock ensures only one instance sweeps.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		// One sweep at startup, then on the ticker.
		a.archiveSweep(ctx, deps, retention)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				a.archiveSweep(ctx, deps, retention)
			}
		}
	})
}

// archiveSweep runs one archival pass under the distributed lock. Failures
// are logged, not fatal; the next tick retries.
func (a *App) archiveSweep(ctx context.Context, deps *Dependencies, retention time.Duration) {
	unlock, err := deps.LockManager.Acquire(ctx, archiveLockKey, 10*time.Minute)
	if err != nil {
		a.logger.InfoContext(ctx, "archive sweep skipped",
			slog.String("reason", err.Error()),
		)
		return
	}
	defer unlock()

	cutoff := time.Now().UTC().Add(-retention)

	count, err := deps.Archiver.ArchiveDecisions(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive decisions failed",
			slog.String("error", err.Error()),
		)
	} else if count > 0 {
		a.logger.InfoContext(ctx, "archived decisions",
			slog.Int64("count", count),
			slog.Time("cutoff", cutoff),
		)
	}

	count, err = deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive audit failed",
			slog.String("error", err.Error()),
		)
	} else if count > 0 {
		a.logger.InfoContext(ctx, "archived audit entries",
			slog.Int64("count", count),
			slog.Time("cutoff", cutoff),
		)
	}
}

// MonitorMode runs the headless detection pipeline: chain feeds, detectors,
// the risk engine, and the executor, with no API surface.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	runners, err := a.registerDetectors(ctx, deps, c, true)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	for _, run := range runners {
		g.Go(func() error { return run(ctx) })
	}

	a.startEngine(ctx, g, c)
	a.startExecutor(ctx, g, c)
	a.startFeeds(ctx, g, deps, c, true)

	return g.Wait()
}

// ServeMode runs the API server over the stored history plus a live engine
// fed from the signal bus. No direct chain connections are made; events
// arrive from monitor instances via Redis.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	runners, err := a.registerDetectors(ctx, deps, c, false)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}
	for _, run := range runners {
		g.Go(func() error { return run(ctx) })
	}

	a.startEngine(ctx, g, c)
	a.startExecutor(ctx, g, c)
	a.startFeeds(ctx, g, deps, c, false)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}

	return g.Wait()
}

// ArchiveMode runs only the periodic cold-storage sweep.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archive.enabled must be true")
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: the detection pipeline, the executor, the API
// server, and the archive sweep when enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	c, err := a.buildCore(deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	runners, err := a.registerDetectors(ctx, deps, c, true)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	for _, run := range runners {
		g.Go(func() error { return run(ctx) })
	}

	a.startEngine(ctx, g, c)
	a.startExecutor(ctx, g, c)
	a.startFeeds(ctx, g, deps, c, true)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, c)
	}
	if a.cfg.Archive.Enabled {
		a.startArchiveLoop(ctx, g, deps)
	}

	return g.Wait()
}
