package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pairchat/internal/api"
	"pairchat/internal/auth"
	"pairchat/internal/config"
	"pairchat/internal/db"
	"pairchat/internal/websocket"
)

func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named("server"), nil
}

func main() {
	isLoadTest := pflag.Bool("loadtest", false, "Run server with load testing configuration")
	addr := pflag.String("addr", "", "Listen address, overrides SERVER_ADDRESS")
	pflag.Parse()

	cfg := config.Load()
	if *addr != "" {
		cfg.ServerAddress = *addr
	}

	logger, err := setupLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	logger.Info("starting server")

	// Load tests get their own sqlite database next to the regular one.
	if *isLoadTest {
		cwd, err := os.Getwd()
		if err != nil {
			logger.Fatal("failed to get working directory", zap.Error(err))
		}
		loadTestDir := filepath.Join(cwd, "loadtest")
		if err := os.MkdirAll(loadTestDir, 0o755); err != nil {
			logger.Fatal("failed to create loadtest directory", zap.Error(err))
		}
		loadTestPath := filepath.Join(loadTestDir, "loadtest.db")
		cfg.StoreDriver = config.DriverSQLite
		cfg.UpdateDatabasePath(loadTestPath)
		logger.Info("using load testing database", zap.String("path", loadTestPath))
	}

	logger.Info("loaded configuration",
		zap.String("address", cfg.ServerAddress),
		zap.String("store", cfg.StoreDriver),
		zap.String("client_url", cfg.ClientURL),
		zap.String("upload_dir", cfg.UploadDir),
		zap.String("env", cfg.Env),
	)

	if cfg.StoreDriver == config.DriverSQLite || cfg.StoreDriver == "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CleanDatabasePath()), 0o755); err != nil {
			logger.Fatal("failed to create database directory", zap.Error(err))
		}
	}

	openCtx, cancelOpen := context.WithTimeout(context.Background(), 15*time.Second)
	store, err := db.Open(openCtx, cfg, logger)
	cancelOpen()
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer store.Close()
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(store, logger)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	authenticator := auth.NewAuthenticator(auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL), store)
	handlers := api.NewHandlers(cfg, store, hub, authenticator, logger)

	server := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           handlers.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("address", cfg.ServerAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("received signal", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	// Hijacked websocket connections outlive Shutdown; the hub closes them.
	stopHub()
	<-hubDone
	logger.Info("server stopped")
}
