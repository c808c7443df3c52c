// Package main is the entry point for the open-sc API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dougwmorrow/open-sc/internal/config"
	"github.com/dougwmorrow/open-sc/internal/domain/auth"
	"github.com/dougwmorrow/open-sc/internal/domain/engine"
	v1 "github.com/dougwmorrow/open-sc/internal/infrastructure/http/v1"
	"github.com/dougwmorrow/open-sc/internal/infrastructure/storage/postgres"
	"github.com/dougwmorrow/open-sc/pkg/logger"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Format == "console",
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting open-sc server")

	if cfg.Database.Migrate {
		if err := postgres.RunMigrations(ctx, cfg.Database.DSN); err != nil {
			log.Fatalw("failed to run migrations", "error", err)
		}
	}

	poolCfg := postgres.DefaultPoolConfig(cfg.Database.DSN)
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}
	if cfg.Database.MinConns > 0 {
		poolCfg.MinConns = cfg.Database.MinConns
	}

	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	txm := postgres.NewTxManager(pool)
	versionRepo := postgres.NewVersionRepo(txm)
	checkpointRepo := postgres.NewCheckpointRepo(txm)
	blockRepo := postgres.NewBlockRepo(txm)
	locker := postgres.NewScopeLocker(pool)

	archiveRepo, err := postgres.NewArchiveRepo(txm)
	if err != nil {
		log.Fatalw("failed to initialize batch archive", "error", err)
	}

	eng, err := engine.New(cfg.EngineConfig(), txm, versionRepo, checkpointRepo, locker, blockRepo, archiveRepo)
	if err != nil {
		log.Fatalw("failed to initialize engine", "error", err)
	}

	if cfg.Auth.JWTSecret == "" {
		log.Fatalw("auth.jwt_secret is required", "hint", "set SCD_AUTH_JWT_SECRET")
	}

	authCfg := auth.DefaultConfig(cfg.Auth.JWTSecret)
	if cfg.Auth.TokenTTL > 0 {
		authCfg.TokenTTL = cfg.Auth.TokenTTL
	}
	authService := auth.NewService(authCfg, postgres.NewClientRepo(txm))

	router := v1.NewRouter(v1.RouterConfig{
		Pool:        pool,
		Logger:      log,
		Engine:      eng,
		AuthService: authService,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Infow("server starting", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
