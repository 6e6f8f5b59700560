package main

import (
	"context"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blockadesystems/acmeforge/internal/account"
	"github.com/blockadesystems/acmeforge/internal/authz"
	"github.com/blockadesystems/acmeforge/internal/config"
	"github.com/blockadesystems/acmeforge/internal/nonce"
	"github.com/blockadesystems/acmeforge/internal/order"
	"github.com/blockadesystems/acmeforge/internal/server"
	"github.com/blockadesystems/acmeforge/internal/storage"
)

var logger *zap.Logger

func init() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	logger = l.With(zap.String("package", "main"))
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("ACME Forge starting...", zap.Any("configuration", cfg))

	store, err := storage.NewStorage(
		cfg.StorageType,
		cfg.DBHost,
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBName,
		cfg.DBPort,
		cfg.DBSSLMode,
	)
	if err != nil {
		logger.Fatal("failed to initialize storage", zap.Error(err), zap.String("storage_type", cfg.StorageType))
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("storage initialized")

	nonces := nonce.NewService(store,
		time.Duration(cfg.NonceMaxAge)*time.Second,
		cfg.NonceMaxCount)
	nonces.StartJanitor(context.Background(), 5*time.Minute)

	base := cfg.ACMEBaseURL()
	accounts := account.NewRegistry(store)
	authzs := authz.NewEngine(store, base, time.Duration(cfg.AuthzTTLHours)*time.Hour)
	orders := order.NewEngine(store, authzs, base, time.Duration(cfg.OrderTTLHours)*time.Hour, cfg.MaxIdentifiers)

	e := echo.New()
	server.ApplyCommonMiddleware(e, server.Deps{
		Store:    store,
		Cfg:      cfg,
		Nonces:   nonces,
		Accounts: accounts,
		Orders:   orders,
		Authzs:   authzs,
		Logger:   logger,
	})
	server.SetupRouter(e)

	logger.Info("listening on address", zap.String("address", cfg.Address))
	if err := e.Start(cfg.Address); err != nil {
		logger.Fatal("error starting server", zap.Error(err), zap.String("address", cfg.Address))
		os.Exit(1)
	}
}
