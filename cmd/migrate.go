package main

import (
	"fmt"

	"github.com/cartpulse/cartpulse/internal/config"
	"github.com/cartpulse/cartpulse/internal/domain"
	"github.com/cartpulse/cartpulse/pkg/database"
	"github.com/cartpulse/cartpulse/pkg/log"
)

// runMigrate creates every table this service reads or writes. In production
// the catalog tables belong to the CRUD service; this is for local setups.
func runMigrate() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, ServiceName: "cartpulse"})
	logger := log.L()

	db, err := database.New(&cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db, logger)

	models := append([]interface{}{&domain.ChatMessage{}}, domain.ReadModels()...)
	if err := database.AutoMigrate(db, models...); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	logger.Info().Int("tables", len(models)).Msg("migration complete")
	return nil
}
