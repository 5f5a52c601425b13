package app

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/myaview/backend/internal/data/db"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/platform/telemetry"
)

type App struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Router   *gin.Engine
	Cfg      Config
	Clients  Clients
	Repos    Repos
	Services Services

	telemetryShutdown func(context.Context) error
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

	shutdownTelemetry, err := telemetry.Setup(log)
	if err != nil {
		log.Warn("Telemetry init failed, continuing without", "error", err)
	}

	pg, err := db.NewPostgresService(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		log.Sync()
		return nil, fmt.Errorf("postgres automigrate: %w", err)
	}
	theDB := pg.DB()

	clients, err := wireClients(log)
	if err != nil {
		log.Sync()
		return nil, err
	}

	repos := wireRepos(theDB, clients.Neo4j, cfg, log)

	svcs, err := wireServices(theDB, log, cfg, clients, repos)
	if err != nil {
		log.Sync()
		return nil, err
	}

	handlerset := wireHandlers(log, svcs)
	router := wireRouter(handlerset)

	return &App{
		Log:               log,
		DB:                theDB,
		Router:            router,
		Cfg:               cfg,
		Clients:           clients,
		Repos:             repos,
		Services:          svcs,
		telemetryShutdown: shutdownTelemetry,
	}, nil
}

func (a *App) Run() error {
	if a == nil || a.Router == nil {
		return fmt.Errorf("app not initialized")
	}
	a.Log.Info("Server listening", "port", a.Cfg.Port)
	return a.Router.Run(":" + a.Cfg.Port)
}

func (a *App) Close() {
	if a == nil {
		return
	}
	ctx := context.Background()
	if a.telemetryShutdown != nil {
		_ = a.telemetryShutdown(ctx)
	}
	if a.Clients.Neo4j != nil {
		_ = a.Clients.Neo4j.Close(ctx)
	}
	if a.Clients.Cache != nil {
		_ = a.Clients.Cache.Close()
	}
	if a.Log != nil {
		a.Log.Sync()
	}
}
