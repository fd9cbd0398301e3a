package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kiranshivaraju/modeltrain/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(*cobra.Command, []string) error {
		if err := cfg.RequireDatabase(); err != nil {
			return err
		}

		version, err := store.RunMigrations(cfg.Database.URL)
		if err != nil {
			return err
		}

		zap.S().Infow("migrations applied", "version", version)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
