package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/db"
	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	apphttp "github.com/yungbote/lifeprint-backend/internal/http"
	"github.com/yungbote/lifeprint-backend/internal/observability"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// Role selects which long-running parts an App starts.
type Role string

const (
	// RoleServe runs the HTTP API, the queue worker and the monthly scheduler.
	RoleServe Role = "serve"
	// RoleWorker runs only the queue worker.
	RoleWorker Role = "worker"
	// RoleCLI runs jobs synchronously in the calling process.
	RoleCLI Role = "cli"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Cfg      Config
	Role     Role
	Repos    repos.Set
	Clients  *Clients
	Services Services
	Server   *apphttp.Server

	dbService    *db.Service
	otelShutdown func(context.Context) error
}

func newLogger(cfg Config) (*logger.Logger, error) {
	mode := cfg.LogMode
	if mode == "" {
		mode = "development"
	}
	log, err := logger.New(mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return log, nil
}

func openDB(log *logger.Logger, cfg Config) (*db.Service, error) {
	switch cfg.DBDriver {
	case DBDriverSQLite:
		return db.NewSQLiteService(log, cfg.SQLitePath)
	case "", DBDriverPostgres:
		return db.NewPostgresService(log, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown DB_DRIVER %q", cfg.DBDriver)
	}
}

// Migrate opens the configured database and brings its schema up to date.
func Migrate() error {
	cfg := LoadConfig()
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()
	svc, err := openDB(log, cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	if err := db.AutoMigrateAll(svc.DB()); err != nil {
		return fmt.Errorf("automigrate: %w", err)
	}
	log.Info("Schema migrated", "driver", svc.Driver())
	return nil
}

func New(ctx context.Context, role Role) (*App, error) {
	cfg := LoadConfig()
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	log = log.With("role", string(role))

	otelCfg := observability.OtelConfigFromEnv()
	otelShutdown := observability.InitOTel(ctx, log, otelCfg)

	a := &App{Log: log, Cfg: cfg, Role: role, otelShutdown: otelShutdown}
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}

	svc, err := openDB(log, cfg)
	if err != nil {
		return fail(err)
	}
	a.dbService = svc
	a.DB = svc.DB()
	if err := db.AutoMigrateAll(a.DB); err != nil {
		return fail(fmt.Errorf("automigrate: %w", err))
	}

	a.Repos = repos.NewSet(a.DB, log)

	clients, err := wireClients(log, cfg)
	if err != nil {
		return fail(err)
	}
	a.Clients = clients

	svcs, err := wireServices(a.DB, log, cfg, role, a.Repos, clients)
	if err != nil {
		return fail(err)
	}
	a.Services = svcs

	if role == RoleServe {
		serviceName := ""
		if otelCfg.Enabled {
			serviceName = otelCfg.ServiceName
		}
		a.Server = apphttp.NewServer(cfg.Address(), wireRouter(log, cfg, serviceName, a.DB, clients.Redis, svcs))
	}
	return a, nil
}

// Run starts the role's background loops and the HTTP server, then blocks until ctx is
// canceled or the server fails. Everything started here is stopped before it returns.
func (a *App) Run(ctx context.Context) error {
	if a == nil {
		return fmt.Errorf("app not initialized")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if w := a.Services.Worker; w != nil {
		wait := w.Start(runCtx)
		wg.Add(1)
		go func() {
			defer wg.Done()
			wait()
		}()
	}
	if r := a.Services.Temporal; r != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				a.Log.Error("Temporal worker stopped", "error", err)
			}
		}()
	}
	if s := a.Services.Scheduler; s != nil {
		s.Start()
		defer s.Stop()
	}

	var serveErr error
	if a.Server != nil {
		errCh := make(chan error, 1)
		go func() { errCh <- a.Server.Run() }()
		a.Log.Info("HTTP server listening", "address", a.Cfg.Address())
		select {
		case <-ctx.Done():
		case serveErr = <-errCh:
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("HTTP server shutdown", "error", err)
		}
		stop()
	} else {
		<-ctx.Done()
	}

	cancel()
	wg.Wait()
	if a.Services.Inline != nil {
		a.Services.Inline.Wait()
	}
	return serveErr
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if tc := a.Services.temporalClient; tc != nil {
		tc.Close()
		a.Services.temporalClient = nil
	}
	a.Clients.Close()
	if a.dbService != nil {
		_ = a.dbService.Close()
		a.dbService = nil
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
		a.otelShutdown = nil
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
