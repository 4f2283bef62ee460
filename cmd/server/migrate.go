package main

import (
	"github.com/spf13/cobra"
	"github.com/vedran77/orderchat/internal/config"
	"github.com/vedran77/orderchat/internal/database"
	"github.com/vedran77/orderchat/internal/logger"
)

func runMigrate(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logger.New(cfg.Env)

	if err := database.RunMigrations(cfg.PostgresDSN(), cfg.MigrationsPath); err != nil {
		return err
	}
	log.Info().Str("source", cfg.MigrationsPath).Msg("migrations applied")
	return nil
}
