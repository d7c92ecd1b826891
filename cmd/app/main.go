package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"content_validation/pkg/audit"
	"content_validation/pkg/config"
	"content_validation/pkg/consensus"
	"content_validation/pkg/data"
	"content_validation/pkg/database"
	"content_validation/pkg/detection"
	"content_validation/pkg/p2p"
	"content_validation/pkg/reputation"
	"content_validation/pkg/scheduler"
	"content_validation/pkg/utils"
	"content_validation/pkg/validation"
)

var (
	configFile = flag.String("config", "config.yaml", "Path to configuration file")
	debug      = flag.Bool("debug", false, "Enable debug mode")
)

// App wires the validation network services together
type App struct {
	db       *database.Service
	network  *validation.Network
	notifier *p2p.PubSubNotifier
	sched    *scheduler.Scheduler
	detector *detection.Detector
	auditor  *audit.Auditor
	logger   *zap.Logger
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logCfg := utils.DefaultLogConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Debug = *debug || cfg.IsDevelopment()
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize application", zap.Error(err))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))
	app.stop()
}

func initializeApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	initCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	app := &App{logger: logger}

	// Repository: Postgres when configured, in-memory otherwise.
	var repo data.Repository
	if cfg.Database.URL != "" || cfg.Database.Embedded {
		app.db = database.NewService(&cfg.Database, logger)
		if err := app.db.Start(initCtx); err != nil {
			return nil, fmt.Errorf("starting database service: %w", err)
		}
		repo = app.db.Repository()
	} else {
		logger.Warn("No database configured, using in-memory repository")
		repo = data.NewMemoryRepository()
	}

	registry := validation.NewRegistry(repo, logger)
	if err := registry.Load(initCtx); err != nil {
		app.stop()
		return nil, fmt.Errorf("loading validator registry: %w", err)
	}

	algorithm, err := consensus.ParseAlgorithm(cfg.Network.ConsensusAlgorithm)
	if err != nil {
		app.stop()
		return nil, err
	}
	engine := consensus.NewEngine(algorithm)

	repManager := reputation.NewManager(registry, repo, &cfg.Reputation, logger)

	var notifier validation.Notifier = p2p.NopNotifier{}
	if cfg.P2P.Enabled {
		psNotifier, err := p2p.NewPubSubNotifier(ctx, &cfg.P2P, logger)
		if err != nil {
			app.stop()
			return nil, fmt.Errorf("starting notification transport: %w", err)
		}
		app.notifier = psNotifier
		notifier = psNotifier
	}

	app.network = validation.NewNetwork(registry, engine, repManager, notifier, repo, &cfg.Network, logger)
	if err := app.network.Start(ctx); err != nil {
		app.stop()
		return nil, fmt.Errorf("starting validation network: %w", err)
	}

	app.detector = detection.NewDetector(&cfg.Detection, logger)
	app.auditor = audit.NewAuditor(logger)

	app.sched = scheduler.NewScheduler(&cfg.Scheduler, logger)
	err = app.sched.ScheduleTask(&scheduler.Task{
		ID:         "coordination-scan",
		Name:       "Coordination scan over completed sessions",
		Schedule:   cfg.Scheduler.CoordinationSchedule,
		MaxRetries: cfg.Scheduler.RetryAttempts,
		Run: func(ctx context.Context) error {
			for _, session := range app.network.Sessions(data.SessionStatusCompleted) {
				app.detector.DetectCoordination(session)
			}
			return nil
		},
	})
	if err != nil {
		app.stop()
		return nil, fmt.Errorf("scheduling coordination scan: %w", err)
	}
	app.sched.Start()

	logger.Info("Content validation network ready",
		zap.String("algorithm", algorithm.String()),
		zap.Int("minValidators", cfg.Network.MinValidators))

	return app, nil
}

func (a *App) stop() {
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.network != nil {
		a.network.Stop()
	}
	if a.notifier != nil {
		if err := a.notifier.Close(); err != nil {
			a.logger.Warn("Closing notifier failed", zap.Error(err))
		}
	}
	if a.db != nil {
		if err := a.db.Stop(); err != nil {
			a.logger.Warn("Stopping database failed", zap.Error(err))
		}
	}
}
