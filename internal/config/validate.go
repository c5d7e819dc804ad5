package config

import (
	"fmt"
	"strings"
)

// Problems returns human-readable descriptions of configuration issues. It
// never fails; callers decide whether the reported problems warrant aborting.
// A missing gate password is the sole mandatory failure.
func (c *Config) Problems() []string {
	var problems []string

	if strings.TrimSpace(c.GatePassword) == "" {
		problems = append(problems, "gate_password is required (set GATE_PASSWORD or edit the config file)")
	}

	for key, value := range map[string]int{
		"videos_per_day_per_account":  c.VideosPerDayPerAccount,
		"schedule_interval_minutes":   c.ScheduleIntervalMinutes,
		"watch_poll_interval_seconds": c.WatchPollIntervalSeconds,
		"max_upload_attempts":         c.MaxUploadAttempts,
		"upload_timeout_seconds":      c.UploadTimeoutSeconds,
		"stale_uploading_minutes":     c.StaleUploadingMinutes,
	} {
		if value <= 0 {
			problems = append(problems, fmt.Sprintf("%s must be positive (got %d)", key, value))
		}
	}

	if c.MinFileAgeSeconds < 0 {
		problems = append(problems, fmt.Sprintf("min_file_age_seconds must be >= 0 (got %d)", c.MinFileAgeSeconds))
	}
	if c.ScheduleDayStartHour < 0 || c.ScheduleDayStartHour > 23 {
		problems = append(problems, fmt.Sprintf("schedule_day_start_hour must be between 0 and 23 (got %d)", c.ScheduleDayStartHour))
	}
	if c.ScheduleDayEndHour < 0 || c.ScheduleDayEndHour > 23 {
		problems = append(problems, fmt.Sprintf("schedule_day_end_hour must be between 0 and 23 (got %d)", c.ScheduleDayEndHour))
	}
	if c.ScheduleDayEndHour < c.ScheduleDayStartHour {
		problems = append(problems, "schedule_day_end_hour must not precede schedule_day_start_hour")
	}

	if len(c.FolderAccountMap) == 0 {
		problems = append(problems, "folder_account_map must name at least one watched folder")
	}
	for folder, account := range c.FolderAccountMap {
		if strings.TrimSpace(account) == "" {
			problems = append(problems, fmt.Sprintf("folder_account_map[%q] has an empty account", folder))
		}
	}

	if !c.OfflineMode && strings.TrimSpace(c.APIBaseURL) == "" {
		problems = append(problems, "api_base_url must be set unless offline_mode is enabled")
	}

	return problems
}
