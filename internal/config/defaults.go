package config

const (
	defaultApollovaRoot     = "~/Apollova"
	defaultRendersSubfolder = "jobs/renders"
	defaultStateDBPath      = "~/.local/share/renderwatch/state.db"
	defaultLogDir           = "~/.local/share/renderwatch/logs"
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"

	defaultVideosPerDayPerAccount  = 12
	defaultScheduleIntervalMinutes = 60
	defaultScheduleDayStartHour    = 11
	defaultScheduleDayEndHour      = 23

	defaultWatchPollIntervalSeconds = 30
	defaultMinFileAgeSeconds        = 60
	defaultMaxUploadAttempts        = 3
	defaultUploadTimeoutSeconds     = 600
	defaultStaleUploadingMinutes    = 30
	defaultNtfyRequestTimeout       = 10
)

// Default returns a Config populated with repository defaults. The folder
// map reflects the stock template layout: Aurora publishes to its own
// account while Mono and Onyx share the nova account.
func Default() Config {
	return Config{
		ApollovaRoot:     defaultApollovaRoot,
		RendersSubfolder: defaultRendersSubfolder,
		FolderAccountMap: map[string]string{
			"Apollova-Aurora": "aurora",
			"Apollova-Mono":   "nova",
			"Apollova-Onyx":   "nova",
		},
		StateDBPath: defaultStateDBPath,
		LogDir:      defaultLogDir,
		LogFormat:   defaultLogFormat,
		LogLevel:    defaultLogLevel,

		VideosPerDayPerAccount:  defaultVideosPerDayPerAccount,
		ScheduleIntervalMinutes: defaultScheduleIntervalMinutes,
		ScheduleDayStartHour:    defaultScheduleDayStartHour,
		ScheduleDayEndHour:      defaultScheduleDayEndHour,

		WatchPollIntervalSeconds: defaultWatchPollIntervalSeconds,
		MinFileAgeSeconds:        defaultMinFileAgeSeconds,
		MaxUploadAttempts:        defaultMaxUploadAttempts,
		UploadTimeoutSeconds:     defaultUploadTimeoutSeconds,
		StaleUploadingMinutes:    defaultStaleUploadingMinutes,
		NtfyRequestTimeout:       defaultNtfyRequestTimeout,
	}
}
