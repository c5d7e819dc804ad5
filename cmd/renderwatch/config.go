package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"renderwatch/internal/config"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Manage the configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand(ctx))
	cmd.AddCommand(newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.DefaultConfigPath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.CreateSample(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote sample config to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")
	return cmd
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Show the effective configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			rows := [][]string{
				{"config file", ctx.configPath},
				{"api_base_url", cfg.APIBaseURL},
				{"offline_mode", yesNo(cfg.OfflineMode)},
				{"gate_password", maskSecret(cfg.GatePassword)},
				{"apollova_root", cfg.ApollovaRoot},
				{"renders_subfolder", cfg.RendersSubfolder},
				{"state_db_path", cfg.StateDBPath},
				{"log_dir", cfg.LogDir},
				{"videos_per_day_per_account", strconv.Itoa(cfg.VideosPerDayPerAccount)},
				{"schedule_interval_minutes", strconv.Itoa(cfg.ScheduleIntervalMinutes)},
				{"schedule_day_start_hour", strconv.Itoa(cfg.ScheduleDayStartHour)},
				{"schedule_day_end_hour", strconv.Itoa(cfg.ScheduleDayEndHour)},
				{"watch_poll_interval_seconds", strconv.Itoa(cfg.WatchPollIntervalSeconds)},
				{"max_upload_attempts", strconv.Itoa(cfg.MaxUploadAttempts)},
				{"ntfy_topic", cfg.NtfyTopic},
			}
			folders := make([]string, 0, len(cfg.FolderAccountMap))
			for folder := range cfg.FolderAccountMap {
				folders = append(folders, folder)
			}
			sort.Strings(folders)
			for _, folder := range folders {
				rows = append(rows, []string{"folder " + folder, cfg.FolderAccountMap[folder]})
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Setting", "Value"},
				rows,
				[]columnAlignment{alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Check the configuration for problems",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			problems := cfg.Problems()
			if len(problems) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "configuration ok")
				return nil
			}
			return fmt.Errorf("configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
		},
	}
}

func maskSecret(value string) string {
	if value == "" {
		return "(unset)"
	}
	return "********"
}
