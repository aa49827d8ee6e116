package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/lumenchat/lumen-backend/internal/data/db"
	"github.com/lumenchat/lumen-backend/internal/observability"
	"github.com/lumenchat/lumen-backend/internal/platform/logger"
	"github.com/lumenchat/lumen-backend/internal/realtime"
	"github.com/lumenchat/lumen-backend/internal/temporalx"
	"github.com/lumenchat/lumen-backend/internal/temporalx/temporalworker"
)

const closeTimeout = 5 * time.Second

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Repos    Repos
	Services Services
	SSEHub   *realtime.SSEHub
	Metrics  *observability.Metrics

	temporal     temporalsdkclient.Client
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

	log.Info("Loading config...")
	cfg, err := LoadConfig()
	if err != nil {
		log.Sync()
		return nil, err
	}

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
	if err := db.EnsureStreamIndexes(theDB); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres stream indexes: %w", err)
	}

	metrics := observability.Init(log)
	sseHub := realtime.NewSSEHub(log)

	reposet := wireRepos(theDB, log)
	serviceset, err := wireServices(theDB, log, cfg, reposet, sseHub)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, serviceset, sseHub)
	middleware := wireMiddleware(log, serviceset)
	router := wireRouter(log, metrics, handlerset, middleware)

	return &App{
		Log:      log,
		DB:       theDB,
		Router:   router,
		Cfg:      cfg,
		Repos:    reposet,
		Services: serviceset,
		SSEHub:   sseHub,
		Metrics:  metrics,
	}, nil
}

// Start launches the background pieces: metrics server and collectors,
// tracing, the cross-instance SSE forwarder, and the expiry sweep. The
// sweep runs on Temporal when TEMPORAL_ADDRESS is set so exactly one
// instance drives it; otherwise every instance runs the in-process
// ticker and the idempotent status guard absorbs the overlap.
func (a *App) Start() {
	if a == nil || a.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	if a.Metrics != nil {
		a.Metrics.StartServer(ctx, a.Log, a.Cfg.MetricsAddr)
		a.Metrics.StartPostgresCollector(ctx, a.Log, a.DB)
		a.Metrics.StartStreamDepthCollector(ctx, a.Log, a.DB)
		if addr := strings.TrimSpace(os.Getenv("REDIS_ADDR")); addr != "" {
			a.Metrics.StartRedisCollector(ctx, a.Log, addr)
		}
	}

	a.otelShutdown = observability.InitOTel(ctx, a.Log, observability.OtelConfig{
		ServiceName: "lumen-backend",
		Environment: a.Cfg.Env,
	})

	if a.Services.Bus != nil {
		if err := a.Services.Bus.StartForwarder(ctx, a.SSEHub.Broadcast); err != nil {
			a.Log.Warn("SSE bus forwarder failed to start", "error", err)
		}
	}

	if strings.TrimSpace(os.Getenv("TEMPORAL_ADDRESS")) != "" {
		a.startTemporalSweep(ctx)
		return
	}
	a.Services.Sweeper.Start(ctx)
}

func (a *App) startTemporalSweep(ctx context.Context) {
	tc, err := temporalx.NewClient(a.Log)
	if err != nil || tc == nil {
		a.Log.Warn("Temporal unavailable, falling back to in-process sweeper", "error", err)
		a.Services.Sweeper.Start(ctx)
		return
	}
	a.temporal = tc

	runner, err := temporalworker.NewRunner(a.Log, tc, a.Services.Sweeper)
	if err != nil {
		a.Log.Warn("Temporal worker init failed, falling back to in-process sweeper", "error", err)
		a.Services.Sweeper.Start(ctx)
		return
	}
	go func() {
		if err := runner.Start(ctx); err != nil {
			a.Log.Error("Temporal worker stopped", "error", err)
		}
	}()
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "addr", a.Cfg.Addr)
	return a.Router.Run(a.Cfg.Addr)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	if a.Services.Bus != nil {
		_ = a.Services.Bus.Close()
	}
	if a.temporal != nil {
		a.temporal.Close()
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		_ = a.otelShutdown(ctx)
		cancel()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
