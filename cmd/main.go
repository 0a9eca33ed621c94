package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sirenlink/internal/config"
	"sirenlink/internal/handlers"
	"sirenlink/internal/logger"
	"sirenlink/internal/realtime"
	"sirenlink/internal/repository"
	"sirenlink/internal/repository/db"
	"sirenlink/internal/server"
	"sirenlink/internal/service"
	"sirenlink/internal/transport"

	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

// @title                       sirenlink API
// @version                     1.0
// @description                 Command and telemetry bridge for networked community sirens.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	// load configs/config.yml (+ SIRENLINK_* env overrides)
	cfg, err := config.Load("configs")
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}

	// init logger
	log := logger.Get(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	// open DB
	sqlDB, err := openDB(cfg.DB.Path, log)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// optional redis mirror of device state
	cache, closeCache := openStateCache(cfg.Redis, log)
	defer closeCache()

	// broker connection; keeps retrying in the background if the first attempt fails
	mq, err := transport.NewMQTT(cfg.MQTT, log.With("component", "mqtt"))
	if err != nil {
		log.Fatalw("failed to create mqtt client", "err", err)
	}
	defer mq.Close()

	hub := realtime.NewHub(log.With("component", "ws"))
	go hub.Run()
	defer hub.Stop()

	// wire dependencies
	repos := repository.NewRepository(sqlDB, cache)
	services := service.NewService(service.Deps{
		Repos:    repos,
		Client:   mq,
		Events:   hub,
		Commands: cfg.Commands,
		Auth:     cfg.Auth,
		Log:      log,
	})
	bootstrapAdmin(services, cfg.Auth, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := services.Bridge.Start(ctx); err != nil {
		log.Fatalw("failed to start device bridge", "err", err)
	}
	defer services.Bridge.Stop()

	apiHandler := handlers.NewHandler(services, hub, cfg.WS.AllowedOrigins, log)

	// start HTTP server
	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	// graceful shutdown
	waitForShutdown(cancel, srv, log)
}

// openDB initializes the SQLite database using configuration.
func openDB(path string, log *logger.Logger) (*sql.DB, error) {
	if path == "" {
		log.Infow("db.path not set in config; using default file", "default", "sirenlink.db")
		path = "sirenlink.db"
	}
	return db.InitDB(path)
}

// openStateCache returns a nil cache when redis is not configured or unreachable.
func openStateCache(cfg config.RedisConfig, log *logger.Logger) (repository.StateCache, func()) {
	if !cfg.Enabled() {
		log.Infow("redis disabled; device state is not mirrored")
		return nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	cache := repository.NewStateCacheRedis(rdb, cfg.StateTTL)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := cache.Ping(ctx); err != nil {
		log.Warnw("redis unreachable; device state is not mirrored", "addr", cfg.Addr, "err", err)
		_ = rdb.Close()
		return nil, func() {}
	}
	log.Infow("redis state mirror enabled", "addr", cfg.Addr)
	return cache, func() { _ = rdb.Close() }
}

// bootstrapAdmin makes sure the configured SUPERADMIN exists.
func bootstrapAdmin(services *service.Service, cfg config.AuthConfig, log *logger.Logger) {
	auth, ok := services.Authorization.(*service.AuthService)
	if !ok {
		return
	}
	created, err := auth.EnsureBootstrap(cfg.BootstrapUsername, cfg.BootstrapPassword)
	if err != nil {
		log.Fatalw("failed to bootstrap superadmin", "err", err)
	}
	if created {
		log.Infow("superadmin bootstrapped", "username", cfg.BootstrapUsername)
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		log.Infow("http server listening", "port", port)
		if err := srv.Run(port, handler.InitRoutes()); err != nil {
			log.Fatalw("error starting server", "err", err)
		}
	}()
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// stop background goroutines
	cancel()

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}
}
