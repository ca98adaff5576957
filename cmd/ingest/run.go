package main

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/library-events-service/internal/adapter/csvfile"
	"github.com/couchcryptid/library-events-service/internal/app"
	"github.com/couchcryptid/library-events-service/internal/observability"
	"github.com/couchcryptid/library-events-service/internal/pipeline"
)

func newRunCommand(e *env) *cobra.Command {
	var opts pipeline.RunOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape every pending library once",
		Long: `Scrape every pending library on the roster, appending captured events
to the event log. An interrupted run resumes where it stopped. Once every
library has been visited, the next run starts a fresh pass over the roster.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics := observability.NewMetrics()
			eventLog := csvfile.NewEventLog(e.cfg.EventLogPath, e.logger)
			in, err := app.NewIngestion(ctx, e.cfg, eventLog, metrics, e.logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := in.Close(); err != nil {
					e.logger.Error("ingestion close error", "error", err)
				}
			}()

			sum, err := in.Ingestor.Run(ctx, opts)
			printSummary(cmd, sum)
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.RetryFailed, "retry-failed", false, "move failed libraries back to pending first")
	return cmd
}

func printSummary(cmd *cobra.Command, sum pipeline.RunSummary) {
	if sum.RunID == "" {
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "run %s finished in %s\n", sum.RunID, sum.Duration.Round(time.Millisecond))
	writeTable(w, []string{"Outcome", "Libraries"}, [][]string{
		{"captured", fmt.Sprint(sum.Done)},
		{"no events", fmt.Sprint(sum.Empty)},
		{"no calendar", fmt.Sprint(sum.NoCalendar)},
		{"failed", fmt.Sprint(sum.Failed)},
		{"recovered", fmt.Sprint(sum.Recovered)},
		{"requeued", fmt.Sprint(sum.Requeued)},
		{"new pass", fmt.Sprint(sum.Cycled)},
	})
	fmt.Fprintf(w, "%d events from %d libraries\n", sum.Events, sum.Processed)
}
