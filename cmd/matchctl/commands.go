package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/oggyb/tubematch/internal/app"
	"github.com/oggyb/tubematch/internal/service/scheduler"
)

func newRootCommand(ctx *commandContext) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "matchctl",
		Short:         "Operate the tubematch prematch pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVar(&ctx.addr, "addr", "", "Scheduler gRPC address (default GRPC_HOST:GRPC_PORT)")

	rootCmd.AddCommand(newEnqueueCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newSnapshotsCommand(ctx))
	rootCmd.AddCommand(newScheduleCommand(ctx))
	return rootCmd
}

func newEnqueueCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:       "enqueue <prematch|analytics>",
		Short:     "Queue a prematch or analytics calculation",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"prematch", "analytics"},
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := ctx.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			var msg string
			switch args[0] {
			case "prematch":
				msg, err = client.CalculatePrematches(cmd.Context())
			case "analytics":
				msg, err = client.CalculateAnalytics(cmd.Context())
			default:
				return fmt.Errorf("unknown calculation %q (want prematch or analytics)", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show job counts and recent jobs of both queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeFn, err := ctx.client(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			st, err := client.QueueStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStatus(st))
			return nil
		},
	}
}

func renderStatus(st *scheduler.Status) string {
	queues := []struct {
		name string
		qs   scheduler.QueueStatus
	}{
		{app.PrematchQueue, st.Prematch},
		{app.AnalyticsQueue, st.Analytics},
	}

	counts := make([][]string, 0, len(queues))
	var jobs [][]string
	for _, q := range queues {
		counts = append(counts, []string{
			q.name,
			strconv.FormatInt(q.qs.Waiting, 10),
			strconv.FormatInt(q.qs.Active, 10),
			strconv.FormatInt(q.qs.Completed, 10),
			strconv.FormatInt(q.qs.Failed, 10),
		})
		for _, j := range q.qs.RecentJobs {
			jobs = append(jobs, []string{
				q.name,
				j.ID,
				j.Name,
				string(j.State),
				time.UnixMilli(j.Timestamp).UTC().Format(time.RFC3339),
				j.FailedReason,
			})
		}
	}

	var b strings.Builder
	b.WriteString(renderTable(
		[]string{"Queue", "Waiting", "Active", "Completed", "Failed"},
		counts,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
	))
	if len(jobs) > 0 {
		b.WriteString("\n")
		b.WriteString(renderTable(
			[]string{"Queue", "Job", "Name", "State", "Created", "Reason"},
			jobs,
			nil,
		))
	}
	return b.String()
}

const maxSnapshotLimit = 100

func newSnapshotsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var token string

	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "List analytics snapshots, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 1 || limit > maxSnapshotLimit {
				return fmt.Errorf("--limit must be between 1 and %d", maxSnapshotLimit)
			}
			store, err := ctx.openSnapshots(ctx.config())
			if err != nil {
				return err
			}

			var tok *string
			if token != "" {
				tok = &token
			}
			page, next, err := store.List(cmd.Context(), tok, limit)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(page))
			for _, s := range page {
				rows = append(rows, []string{
					s.Timestamp.UTC().Format(time.RFC3339),
					strconv.FormatInt(s.TotalUsers, 10),
					strconv.FormatInt(s.TotalPrematches, 10),
					strconv.FormatFloat(s.AvgRelevancyScore, 'f', 2, 64),
					strconv.FormatFloat(s.CacheHitRatio, 'f', 2, 64),
					strconv.FormatInt(s.QueueLength, 10),
					strconv.FormatInt(s.SuccessfulMatches24h, 10),
					strconv.FormatFloat(s.SkipRatio24h, 'f', 2, 64),
				})
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"Timestamp", "Users", "Prematches", "Avg score", "Cache hit", "Queue", "Matches 24h", "Skip 24h"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
			))
			if next != nil {
				fmt.Fprintf(out, "next page: --token %s\n", *next)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "Snapshots per page")
	cmd.Flags().StringVar(&token, "token", "", "Pagination token from a previous page")
	return cmd
}

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage the recurring prematch calculation",
	}

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "set <cron>",
		Short: "Register the recurring prematch calculation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue(ctx.config())
			if err != nil {
				return err
			}
			job, err := scheduler.NewService(q, nil, nil, nil, nil).RegisterSchedule(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if job == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "scheduled %q\n", args[0])
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "scheduled %q, next run %s\n",
				args[0], job.Timestamp.Add(job.Delay).UTC().Format(time.RFC3339))
			return nil
		},
	})

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List registered schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue(ctx.config())
			if err != nil {
				return err
			}
			keys, err := q.Repeatables(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				name, pattern, _ := strings.Cut(k, "::")
				rows = append(rows, []string{name, pattern})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Job", "Pattern"}, rows, nil))
			return nil
		},
	})

	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "remove <cron>",
		Short: "Remove a recurring prematch calculation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := ctx.openQueue(ctx.config())
			if err != nil {
				return err
			}
			if err := q.RemoveRepeatable(cmd.Context(), app.CalculatePrematchesJob, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %q\n", args[0])
			return nil
		},
	})

	return scheduleCmd
}
