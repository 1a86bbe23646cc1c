package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/notebook-gateway/backend/api/handlers"
	"github.com/notebook-gateway/backend/internal/config"
	"github.com/notebook-gateway/backend/internal/kernel"
	"github.com/notebook-gateway/backend/internal/logging"
	"github.com/notebook-gateway/backend/internal/monitoring"
	"github.com/notebook-gateway/backend/internal/session"
	"github.com/notebook-gateway/backend/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		logger.Fatal("failed to create database directory", zap.Error(err))
	}

	store, err := storage.OpenSQLite(cfg.Storage.DBPath)
	if err != nil {
		logger.Fatal("failed to open notebook store", zap.Error(err))
	}
	defer store.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.New(registry)

	kernels := kernel.NewInprocManager()
	defer kernels.Close()

	manager := session.NewManager(session.ManagerConfig{
		Kernels:             kernels,
		Store:               store,
		Logger:              logger,
		Metrics:             metrics,
		MaxInflightRequests: cfg.Session.MaxInflightRequests,
		EventLogDir:         cfg.Session.EventLogDir,
	})
	manager.Use(
		session.NewLoggingProcessor(logger),
		session.NewRenameProcessor(manager, logger),
		session.NewRecordingProcessor(logger),
	)
	defer manager.Close()

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "sessions": len(manager.List())})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	sessionHandler := handlers.NewSessionHandler(manager, logger)
	wsHandler := handlers.NewWebSocketHandler(manager, logger)

	api := r.Group("/api")
	{
		sessionHandler.RegisterRoutes(api)
		wsHandler.RegisterRoutes(api)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		manager.Close()
		kernels.Close()
		store.Close()
		logger.Sync()
		os.Exit(0)
	}()

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	logger.Info("starting server", zap.String("addr", addr))
	if err := r.Run(addr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
