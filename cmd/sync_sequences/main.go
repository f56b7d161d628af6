// Command sync_sequences resets PostgreSQL id sequences after a manual
// data load.
package main

import (
	"context"
	"log"

	"landflow/internal/config"
	"landflow/internal/database"
	"landflow/internal/logging"

	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadConfig()
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	cfg.DBDriver = "postgres"
	db, err := database.Open(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}

	logger.Info("Syncing PostgreSQL sequences...")
	if err := database.SyncSequences(context.Background(), db, logger); err != nil {
		logger.Fatal("Sequence sync failed", zap.Error(err))
	}
	logger.Info("DONE!")
}
