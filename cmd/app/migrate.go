package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/goinginblind/support-ticket-bot/internal/config"
	"github.com/goinginblind/support-ticket-bot/internal/database"
	"github.com/goinginblind/support-ticket-bot/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Миграции базы",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Применить все миграции",
	RunE:  runMigrateUp,
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.ValidateDB(); err != nil {
		return err
	}
	zl, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer zl.Sync()
	log := zl.Sugar()

	if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	log.Infow("migrate up: ok")
	return nil
}
