package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/inkpress-backend/internal/data/db"
	"github.com/yungbote/inkpress-backend/internal/http"
	"github.com/yungbote/inkpress-backend/internal/observability"
	"github.com/yungbote/inkpress-backend/internal/pipeline"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Server   *http.Server
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services
	Metrics  *observability.Metrics

	otelShutdown func(context.Context) error
	cancel       context.CancelFunc
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "inkpress-backend",
		Environment: logMode,
	})

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	theDB := pg.DB()
	if err := db.AutoMigrateAll(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}

	clientset, err := wireClients(log, cfg)
	if err != nil {
		log.Sync()
		return nil, err
	}

	reposet := wireRepos(theDB, log)

	serviceset, err := wireServices(log, cfg, reposet, clientset)
	if err != nil {
		clientset.Close()
		log.Sync()
		return nil, err
	}

	var srv *http.Server
	if cfg.RunsIngress() {
		handlerset := wireHandlers(log, cfg, theDB, clientset, reposet, serviceset)
		middleware := wireMiddleware(log, cfg, serviceset)
		srv = wireRouter(log, cfg, metrics, handlerset, middleware, serviceset)
	}

	return &App{
		Log:          log,
		DB:           theDB,
		Server:       srv,
		Cfg:          cfg,
		Clients:      clientset,
		Repos:        reposet,
		Services:     serviceset,
		Metrics:      metrics,
		otelShutdown: otelShutdown,
	}, nil
}

// Start launches the background half: the worker pool when this role runs
// one, plus the metric collectors. Safe to call once; Run still serves HTTP
// on the ingress role.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Services.Worker != nil {
		a.Services.Worker.Start(ctx)
	}

	if a.Metrics != nil {
		a.Metrics.StartQueueCollector(ctx, a.Log, a.Services.Queue, pipeline.QueueAnalysis)
		a.Metrics.StartRedisCollector(ctx, a.Log, a.Clients.Redis)
		if a.Cfg.MetricsAddr != "" {
			a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		}
	}
}

func (a *App) Run(addr string) error {
	if a == nil || a.Server == nil {
		return fmt.Errorf("app not initialized for ingress")
	}
	return a.Server.Run(addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Worker != nil {
		a.Services.Worker.Wait()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	a.Clients.Close()
	if a.Log != nil {
		a.Log.Sync()
	}
}
