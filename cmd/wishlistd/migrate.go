package main

import (
	"fmt"
	"os"

	"github.com/Kerhoff/wishlist/internal/config"
	"github.com/Kerhoff/wishlist/pkg/logger"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:          "up",
		Short:        "Apply all pending migrations",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.Migrate()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:          "down",
		Short:        "Roll back every migration",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			return db.MigrateDown()
		},
	})
	return cmd
}

// openDatabase only needs DATABASE_URL, so it skips the full config.
func openDatabase() (*config.Database, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	l := logger.New(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
	return config.NewDatabase(url, l)
}
