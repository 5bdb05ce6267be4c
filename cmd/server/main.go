package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/OpenFeederCore/internal/config"
	"github.com/KevinKickass/OpenFeederCore/internal/i2c"
	"github.com/KevinKickass/OpenFeederCore/internal/storage"
	"github.com/KevinKickass/OpenFeederCore/internal/system"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// version wird beim Bau über -ldflags gesetzt
var version = "dev"

func main() {
	// Logger initialisieren
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Config laden
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	logger.Info("Config loaded successfully")

	// I2C-Bus öffnen
	bus, err := i2c.Open(cfg.I2C.Bus, logger.Named("i2c"))
	if err != nil {
		logger.Fatal("Failed to open I2C bus", zap.Error(err))
	}
	defer bus.Close()

	// Feeder-Konfigurationen öffnen
	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	// Lifecycle Manager
	lifecycle := system.NewLifecycleManager(system.Options{
		Config:  cfg,
		Bus:     bus,
		Store:   store,
		Clock:   clock.New(),
		Logger:  logger,
		Version: version,
	})

	// System starten
	if err := lifecycle.Start(context.Background()); err != nil {
		logger.Error("Failed to start system", zap.Error(err))

		// Halb hochgefahrene Hardware trotzdem abschalten
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		if err := lifecycle.Shutdown(ctx); err != nil {
			logger.Error("Emergency shutdown failed", zap.Error(err))
		}
		cancel()
		os.Exit(1)
	}

	// Graceful Shutdown auf Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := lifecycle.Shutdown(ctx); err != nil {
		logger.Error("Shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("OpenFeederCore stopped successfully")
}
