// Command migrate applies the embedded SQL migrations to the configured database.
package main

import (
	"os"
	"strconv"

	"github.com/influence20/bluerocksite-sub000/pkg/config"
	"github.com/influence20/bluerocksite-sub000/pkg/db/migrate"
	"github.com/influence20/bluerocksite-sub000/pkg/logx"
	"github.com/spf13/cobra"
)

func main() {
	var databaseURL string

	resolveURL := func() (string, error) {
		if databaseURL != "" {
			return databaseURL, nil
		}
		cfg, err := config.Load()
		if err != nil {
			return "", err
		}
		return cfg.Database.URL(), nil
	}

	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the Bluerock database schema",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"),
		"postgres:// URL; defaults to the DB_* settings")

	root.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveURL()
			if err != nil {
				return err
			}
			if err := migrate.Run(url, migrate.Up); err != nil {
				return err
			}
			logx.Info("Migrations applied")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back every migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveURL()
			if err != nil {
				return err
			}
			if err := migrate.Run(url, migrate.Down); err != nil {
				return err
			}
			logx.Info("Migrations rolled back")
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "steps N",
		Short: "Move N migrations forward, or back when N is negative",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			url, err := resolveURL()
			if err != nil {
				return err
			}
			if err := migrate.Steps(url, n); err != nil {
				return err
			}
			logx.Infof("Moved %d step(s)", n)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			url, err := resolveURL()
			if err != nil {
				return err
			}
			v, dirty, err := migrate.Version(url)
			if err != nil {
				return err
			}
			logx.WithFields(logx.Fields{"version": v, "dirty": dirty}).Info("Schema version")
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		logx.Errorf("migrate: %v", err)
		logx.Sync()
		os.Exit(1)
	}
	logx.Sync()
}
