// Command migrate_data copies a SQLite database into the configured
// PostgreSQL database, keeping ids.
package main

import (
	"context"
	"log"

	"landflow/internal/config"
	"landflow/internal/database"
	"landflow/internal/logging"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	cfg := config.LoadConfig()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	// 1. Connect to SQLite (Source)
	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to SQLite", zap.Error(err))
	}
	logger.Info("Connected to SQLite", zap.String("path", cfg.DBPath))

	// 2. Connect to PostgreSQL (Destination)
	cfg.DBDriver = "postgres"
	pgDB, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	if err := database.Migrate(pgDB); err != nil {
		logger.Fatal("Failed to migrate PostgreSQL", zap.Error(err))
	}

	ctx := context.Background()
	logger.Info("Starting data migration...")
	if failed := database.CopyAll(ctx, sqliteDB, pgDB, logger); failed > 0 {
		logger.Warn("Some tables were not migrated", zap.Int("failed", failed))
	}

	// rows were inserted with explicit ids
	if err := database.SyncSequences(ctx, pgDB, logger); err != nil {
		logger.Error("Sequence sync incomplete", zap.Error(err))
	}
	logger.Info("Migration completed!")
}
