package main

import (
	"fmt"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"renderwatch/internal/daemon"
	"renderwatch/internal/ledger"
	"renderwatch/internal/notifications"
	"renderwatch/internal/scheduler"
	"renderwatch/internal/watcher"
)

const timeDisplayLayout = "2006-01-02 15:04"

func newRunCommand(ctx *commandContext) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the folder watcher daemon until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			if offline {
				if cfg, err := ctx.ensureConfig(); err == nil {
					cfg.OfflineMode = true
				}
			}
			cfg, err := ctx.requireValidConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg.StateDBPath, ledger.WithLogger(logger))
			if err != nil {
				return err
			}

			client := newClient(cfg, logger)
			sched := scheduler.New(cfg, store, logger)
			notifier := notifications.NewService(cfg)

			d, err := daemon.New(cfg, store, sched, client, notifier, logger)
			if err != nil {
				store.Close()
				return err
			}
			defer d.Close()

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := d.Start(runCtx); err != nil {
				return err
			}
			<-runCtx.Done()
			d.Stop()
			return nil
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use the offline uploader (no network)")
	return cmd
}

func newScanCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "scan",
		Short: "Process all eligible renders once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.requireValidConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger()
			if err != nil {
				return err
			}
			store, err := ledger.Open(cfg.StateDBPath, ledger.WithLogger(logger))
			if err != nil {
				return err
			}
			defer store.Close()

			client := newClient(cfg, logger)
			if err := client.Authenticate(cmd.Context()); err != nil {
				return err
			}
			if _, err := store.ResetStuckUploading(cmd.Context()); err != nil {
				return err
			}

			sched := scheduler.New(cfg, store, logger)
			notifier := notifications.NewService(cfg)

			paths := cfg.WatchPaths()
			if len(paths) == 0 {
				return fmt.Errorf("no watchable folders found under %s", cfg.ApollovaRoot)
			}

			folders := make([]string, 0, len(paths))
			for folder := range paths {
				folders = append(folders, folder)
			}
			sort.Strings(folders)

			total := 0
			for _, folder := range folders {
				w := watcher.New(cfg, folder, paths[folder], store, sched, client, notifier, logger)
				processed, err := w.ScanOnce(cmd.Context())
				if err != nil {
					return fmt.Errorf("scan %s: %w", folder, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d scheduled\n", folder, processed)
				total += processed
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total: %d scheduled\n", total)
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show ledger totals and per-account daily usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			stats, err := store.GetStats(cmd.Context())
			if err != nil {
				return err
			}

			rows := [][]string{
				{"Total records", strconv.Itoa(stats.Total)},
				{"Scheduled", strconv.Itoa(stats.Scheduled)},
				{"Offline mode", yesNo(cfg.OfflineMode)},
			}
			for _, status := range ledger.AllUploadStatuses() {
				rows = append(rows, []string{
					"Upload " + string(status),
					strconv.Itoa(stats.ByUpload[status]),
				})
			}

			accounts := make([]string, 0, len(stats.ScheduledToday))
			for account := range stats.ScheduledToday {
				accounts = append(accounts, account)
			}
			sort.Strings(accounts)
			for _, account := range accounts {
				rows = append(rows, []string{
					"Today " + account,
					fmt.Sprintf("%d / %d", stats.ScheduledToday[account], cfg.VideosPerDayPerAccount),
				})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Metric", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List ledger records",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			var statuses []ledger.UploadStatus
			if statusFlag != "" {
				status, ok := ledger.ParseUploadStatus(statusFlag)
				if !ok {
					return fmt.Errorf("unknown upload status %q", statusFlag)
				}
				statuses = append(statuses, status)
			}

			records, err := store.List(cmd.Context(), statuses...)
			if err != nil {
				return err
			}
			printRecords(cmd, records)
			return nil
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by upload status (pending, uploading, uploaded, failed)")
	return cmd
}

func newFailedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "failed",
		Short: "List failed uploads with their failure reasons",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			records, err := store.Failed(cmd.Context())
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no failed uploads")
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, record := range records {
				rows = append(rows, []string{
					strconv.FormatInt(record.ID, 10),
					filepath.Base(record.FilePath),
					record.Account,
					strconv.Itoa(record.AttemptCount),
					record.FailureReason,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "File", "Account", "Attempts", "Reason"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [id...]",
		Short: "Reset failed uploads to pending so the next scan retries them",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openLedger()
			if err != nil {
				return err
			}
			defer store.Close()

			var ids []int64
			if len(args) > 0 {
				for _, arg := range args {
					id, err := strconv.ParseInt(arg, 10, 64)
					if err != nil {
						return fmt.Errorf("invalid record id %q", arg)
					}
					ids = append(ids, id)
				}
			} else {
				records, err := store.Failed(cmd.Context())
				if err != nil {
					return err
				}
				for _, record := range records {
					ids = append(ids, record.ID)
				}
			}

			for _, id := range ids {
				if err := store.ResetFailed(cmd.Context(), id); err != nil {
					return fmt.Errorf("reset record %d: %w", id, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %d records to pending\n", len(ids))
			return nil
		},
	}
}

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification through the configured ntfy topic",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.NtfyTopic == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "ntfy topic not configured")
				return nil
			}
			notifier := notifications.NewService(cfg)
			if err := notifier.TestNotification(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "test notification sent")
			return nil
		},
	}
}

func printRecords(cmd *cobra.Command, records []*ledger.Record) {
	if len(records) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no records")
		return
	}

	rows := make([][]string, 0, len(records))
	for _, record := range records {
		scheduledAt := ""
		if record.ScheduledAt != nil {
			scheduledAt = record.ScheduledAt.Format(timeDisplayLayout)
		}
		rows = append(rows, []string{
			strconv.FormatInt(record.ID, 10),
			filepath.Base(record.FilePath),
			record.Account,
			string(record.UploadStatus),
			record.VideoID,
			scheduledAt,
		})
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"ID", "File", "Account", "Status", "Video", "Publish At"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	))
}
