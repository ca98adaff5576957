package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/library-events-service/internal/adapter/sqlite"
	"github.com/couchcryptid/library-events-service/internal/domain"
)

const maxDetailWidth = 60

func newStatusCommand(e *env) *cobra.Command {
	var status string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the work queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := domain.WorkStatus(strings.ToLower(status))
			if filter != "" && !slices.Contains(domain.WorkStatuses, filter) {
				return fmt.Errorf("invalid --status %q: must be one of %v", status, domain.WorkStatuses)
			}

			q, err := sqlite.Open(e.cfg.QueueDBPath)
			if err != nil {
				return err
			}
			defer q.Close()

			ctx := cmd.Context()
			counts, err := q.Counts(ctx)
			if err != nil {
				return err
			}
			var items []domain.WorkItem
			if filter == "" {
				items, err = q.List(ctx)
			} else {
				items, err = q.ListByStatus(ctx, filter)
			}
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			parts := make([]string, 0, len(domain.WorkStatuses))
			for _, s := range domain.WorkStatuses {
				parts = append(parts, fmt.Sprintf("%s=%d", s, counts[s]))
			}
			fmt.Fprintln(w, strings.Join(parts, " "))
			if len(items) == 0 {
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{
					it.Library.Name,
					string(it.Status),
					fmt.Sprint(it.EventCount),
					formatTime(it.UpdatedAt),
					truncate(it.Detail, maxDetailWidth),
				})
			}
			writeTable(w, []string{"Library", "Status", "Events", "Updated", "Detail"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "only list libraries with this status")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}
