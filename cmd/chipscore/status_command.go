package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"chipscore/internal/jobstore"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var statusFilter string
	var clear bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show classification job state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := jobstore.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if clear {
				if err := store.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "Job state cleared")
				return nil
			}

			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if len(stats) == 0 {
				fmt.Fprintln(out, "No jobs recorded; run `chipscore run` first")
				return nil
			}

			statuses := make([]string, 0, len(stats))
			for status := range stats {
				statuses = append(statuses, status)
			}
			sort.Strings(statuses)

			rows := make([][]string, 0, len(statuses))
			total := 0
			for _, status := range statuses {
				rows = append(rows, []string{status, fmt.Sprintf("%d", stats[status])})
				total += stats[status]
			}
			rows = append(rows, []string{"total", fmt.Sprintf("%d", total)})
			fmt.Fprintln(out, renderTable(
				[]string{"Status", "Jobs"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))

			if statusFilter == "" {
				statusFilter = jobstore.StatusFailed
				if stats[statusFilter] == 0 {
					return nil
				}
			}

			jobs, err := store.List(cmd.Context(), statusFilter)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintf(out, "No jobs with status %q\n", statusFilter)
				return nil
			}

			jobRows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				detail := job.Error
				if detail == "" {
					detail = job.UpdatedAt
				}
				jobRows = append(jobRows, []string{job.Key, job.Status, detail})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Key", "Status", "Detail"},
				jobRows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFilter, "jobs", "", "List jobs with the given status (defaults to failed)")
	cmd.Flags().BoolVar(&clear, "clear", false, "Forget all job state")
	return cmd
}
