package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/torvus-security/torvus-console/internal/api/http"
	"github.com/torvus-security/torvus-console/internal/api/http/handlers"
	"github.com/torvus-security/torvus-console/internal/auth"
	"github.com/torvus-security/torvus-console/internal/cache"
	"github.com/torvus-security/torvus-console/internal/config"
	"github.com/torvus-security/torvus-console/internal/events"
	"github.com/torvus-security/torvus-console/internal/observability"
	"github.com/torvus-security/torvus-console/internal/persistence"
	"github.com/torvus-security/torvus-console/internal/repository"
	"github.com/torvus-security/torvus-console/internal/service"
	"github.com/torvus-security/torvus-console/internal/worker"
	"github.com/torvus-security/torvus-console/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if pg.Configured() && cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), migrations.Files, logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger.Named("events"))

	stores := buildStores(pg, logger)
	gateCache := cache.NewGateCache(ctx, redis.Handle(), cfg.Gate.CacheTTL(), logger.Named("gate-cache"))

	gateService := service.NewAccessGateService(service.AccessGateDependencies{
		Directory: stores.directory,
		Cache:     gateCache,
		Config:    cfg.Gate,
		Metrics:   metrics,
		Logger:    logger.Named("access-gate"),
	})
	readOnlyService := service.NewReadOnlyService(service.ReadOnlyDependencies{
		Repo:       stores.settings,
		Config:     cfg.ReadOnly,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     logger.Named("read-only"),
	})
	dualControlService := service.NewDualControlService(service.DualControlDependencies{
		Repo:       stores.dualControl,
		Dispatcher: dispatcher,
		Config:     cfg.DualControl,
		Metrics:    metrics,
		Logger:     logger.Named("dual-control"),
	})
	service.RegisterRoleGrantActions(dualControlService, service.RoleGrantActionDependencies{
		Grants:        stores.grants,
		Directory:     stores.directory,
		Invalidator:   gateService,
		Dispatcher:    dispatcher,
		BreakGlassMax: cfg.DualControl.BreakGlassMax(),
	})
	auditService := service.NewAuditService(stores.audit, dispatcher, logger.Named("audit"))
	worker.StartAuditWorker(auditService)
	sweeperDone := worker.StartExpirySweeper(ctx, dualControlService, cfg.DualControl.SweepInterval(), logger.Named("sweeper"))

	sessions, err := auth.NewSessionManager(cfg.Auth, cfg.App.IsProduction())
	if err != nil {
		logger.Fatal("failed to init sessions", zap.Error(err))
	}
	perimeter := auth.NewPerimeterVerifier(cfg.Perimeter)
	if !perimeter.Enabled() {
		logger.Warn("PERIMETER_JWT_SECRET not set; perimeter identities disabled")
	}
	gate := auth.NewRequestGate(auth.RequestGateDependencies{
		Perimeter:  perimeter,
		Sessions:   sessions,
		Gate:       gateService,
		ReadOnly:   readOnlyService,
		Dispatcher: dispatcher,
		Logger:     logger.Named("request-gate"),
	})

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:      handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Session:     handlers.NewSessionHandler(sessions),
		Access:      handlers.NewAccessHandler(),
		DualControl: handlers.NewDualControlHandler(dualControlService),
		Settings:    handlers.NewSettingsHandler(readOnlyService),
		Audit:       handlers.NewAuditHandler(auditService),
		Gate:        gate,
		Metrics:     metrics,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	cancel()
	<-sweeperDone
	_ = app.Shutdown()
}

type storeSet struct {
	directory   repository.StaffDirectory
	grants      repository.RoleGrantRepository
	dualControl repository.DualControlRepository
	settings    repository.SettingsRepository
	audit       repository.AuditRepository
}

// buildStores uses Postgres when configured. Without it the staff directory
// stays unset, so the access gate reports ConfigurationMissing, while the
// workflow, settings and audit stores run in memory.
func buildStores(pg *persistence.Postgres, logger *zap.Logger) storeSet {
	if pg.Configured() {
		pool := pg.PoolHandle()
		staff := repository.NewStaffRepository(pool)
		return storeSet{
			directory:   staff,
			grants:      staff,
			dualControl: repository.NewDualControlRepository(pool),
			settings:    repository.NewSettingsRepository(pool),
			audit:       repository.NewAuditRepository(pool),
		}
	}
	logger.Warn("running with in-memory stores; state is lost on restart")
	return storeSet{
		dualControl: repository.NewMemoryDualControlRepository(),
		settings:    repository.NewMemorySettingsRepository(),
		audit:       repository.NewMemoryAuditRepository(0),
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
