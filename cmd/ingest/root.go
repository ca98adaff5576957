package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/library-events-service/internal/config"
	"github.com/couchcryptid/library-events-service/internal/observability"
)

// env is the configuration shared by every subcommand, loaded once before
// the subcommand runs.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCommand() *cobra.Command {
	e := &env{}
	var envFile string

	cmd := &cobra.Command{
		Use:          "ingest",
		Short:        "Scrape library calendars into the event log",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			e.cfg = cfg
			e.logger = observability.NewLogger(cfg)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")

	cmd.AddCommand(newRunCommand(e))
	cmd.AddCommand(newStatusCommand(e))
	return cmd
}
