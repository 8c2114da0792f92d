package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"iotc-agent/internal/agent"
	"iotc-agent/internal/command"
	"iotc-agent/internal/config"
	"iotc-agent/internal/db"
	"iotc-agent/internal/monitor"
	"iotc-agent/internal/pipe"
	"iotc-agent/internal/realtime"
	"iotc-agent/internal/service"
)

// App owns every long-running part of the agent process.
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	Agent     *agent.Agent
	Remote    *service.RemoteService
	Worker    *command.Worker
	Whitelist *command.Whitelist
	Metrics   *monitor.Metrics

	pipeBuf  *agent.PipeBuffer
	consumer *pipe.Consumer
	hub      *realtime.Hub
	mirror   *service.KafkaMirror
	dbMgr    *db.DBManager
	journal  *db.Journal
	server   *http.Server
}

// New builds the agent and its optional parts from cfg. Nothing is started.
func New(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	descriptors, err := agent.DescriptorsFromConfig(cfg.Device)
	if err != nil {
		return nil, err
	}

	a.Whitelist, err = command.Snapshot(cfg.Device.Device.CommandsListPath)
	if err != nil {
		return nil, fmt.Errorf("scan scripts: %w", err)
	}
	logger.Infow("script whitelist loaded", "dir", a.Whitelist.Dir(), "scripts", a.Whitelist.Names())

	a.Remote = service.NewRemoteService(cfg, logger)
	executor := command.NewExecutor(a.Whitelist, a.Remote, logger)
	a.Worker = command.NewWorker(executor, cfg.CommandQueueSize, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.Metrics = monitor.NewMetrics(reg)
	a.Worker.OnResult(a.Metrics.CommandFinished)

	a.pipeBuf = agent.NewPipeBuffer(agent.DefaultPipeBufferSize, a.Metrics, logger)
	a.consumer = pipe.NewConsumer(cfg.PipeEndpoint, logger)

	opts := []agent.Option{
		agent.WithObserver(a.Metrics),
		agent.WithPipeBuffer(a.pipeBuf),
	}
	monOpts := monitor.Options{
		Remote:   a.Remote,
		Gatherer: reg,
	}

	a.hub = realtime.NewHub(logger)
	if cfg.LocalFeedSecret != "" {
		opts = append(opts, agent.WithMirrors(a.hub))
		a.Worker.OnResult(a.hub.PublishCommandResult)
		monOpts.Feed = realtime.Handler(a.hub, []byte(cfg.LocalFeedSecret))
		logger.Info("local live feed enabled on /ws")
	}

	if cfg.KafkaEnabled() {
		a.mirror, err = service.NewKafkaMirror(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("kafka mirror: %w", err)
		}
		opts = append(opts, agent.WithMirrors(a.mirror))
	}

	if cfg.JournalDBURL != "" {
		a.dbMgr, err = db.NewDBManager(ctx, cfg.JournalDBURL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("command journal: %w", err)
		}
		a.journal = db.NewJournal(a.dbMgr, cfg.Device.DUID, logger)
		if err := a.journal.Init(ctx); err != nil {
			// the table may be created later by an operator; inserts will log
			logger.Warnw("failed to prepare command journal", "error", err)
		}
		a.Worker.OnResult(a.journal.Record)
		monOpts.Database = a.dbMgr
		monOpts.Journal = a.journal
	}

	a.Agent = agent.New(cfg, descriptors, a.Remote, a.Worker, logger, opts...)
	a.Remote.Bind(a.Agent)
	a.server = monitor.NewServer(cfg.MonitorAddr, monOpts, logger)
	return a, nil
}

// Run starts every task and blocks until ctx is done or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.Worker.Run(gctx) })
	g.Go(func() error { return a.Agent.Run(gctx) })
	g.Go(func() error { return a.pipeBuf.RunConsumer(gctx, a.consumer) })
	g.Go(func() error { return a.Remote.Run(gctx) })
	g.Go(func() error { return monitor.Run(gctx, a.server, a.logger) })
	if a.journal != nil {
		a.dbMgr.StartAutoReconnect(gctx)
		g.Go(func() error { return a.journal.Run(gctx) })
	}

	err := g.Wait()
	a.Close()
	if err != nil {
		return err
	}
	a.logger.Info("agent shutdown completed")
	return nil
}

// RefreshScripts re-scans the script directory.
func (a *App) RefreshScripts() error {
	if err := a.Whitelist.Refresh(); err != nil {
		return err
	}
	a.logger.Infow("script whitelist refreshed", "scripts", a.Whitelist.Names())
	return nil
}

// Close releases the optional outputs. It is safe to call more than once.
func (a *App) Close() {
	a.hub.Shutdown()
	if a.mirror != nil {
		if err := a.mirror.Close(); err != nil {
			a.logger.Warnw("failed to close kafka writer", "error", err)
		}
		a.mirror = nil
	}
	if a.dbMgr != nil {
		a.dbMgr.Shutdown()
	}
}
