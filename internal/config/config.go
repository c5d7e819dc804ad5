package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Config encapsulates all configuration values for renderwatch.
//
// The folder→account map is plain mutable data loaded at startup so an
// operator can repoint a template to a new account with a one-line config
// change. Template and account are independent axes: two templates may share
// one account.
type Config struct {
	GatePassword string `toml:"gate_password"`
	APIBaseURL   string `toml:"api_base_url"`
	OfflineMode  bool   `toml:"offline_mode"`

	ApollovaRoot     string            `toml:"apollova_root"`
	RendersSubfolder string            `toml:"renders_subfolder"`
	FolderAccountMap map[string]string `toml:"folder_account_map"`

	StateDBPath string `toml:"state_db_path"`
	LogDir      string `toml:"log_dir"`
	LogFormat   string `toml:"log_format"`
	LogLevel    string `toml:"log_level"`

	VideosPerDayPerAccount  int `toml:"videos_per_day_per_account"`
	ScheduleIntervalMinutes int `toml:"schedule_interval_minutes"`
	ScheduleDayStartHour    int `toml:"schedule_day_start_hour"`
	ScheduleDayEndHour      int `toml:"schedule_day_end_hour"`

	WatchPollIntervalSeconds int `toml:"watch_poll_interval_seconds"`
	MinFileAgeSeconds        int `toml:"min_file_age_seconds"`
	MaxUploadAttempts        int `toml:"max_upload_attempts"`
	UploadTimeoutSeconds     int `toml:"upload_timeout_seconds"`
	StaleUploadingMinutes    int `toml:"stale_uploading_minutes"`

	NtfyTopic          string `toml:"ntfy_topic"`
	NtfyRequestTimeout int    `toml:"ntfy_request_timeout"`
}

// WatchPath describes one watched renders directory and its destination account.
type WatchPath struct {
	RendersPath string
	Account     string
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/renderwatch/config.toml")
}

// Load locates and parses a configuration file. The returned config has all
// path fields expanded and normalized. Validation is left to the caller via
// Problems so it can decide whether to abort.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if cfg.GatePassword == "" {
		cfg.GatePassword = os.Getenv("GATE_PASSWORD")
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("renderwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.ApollovaRoot, &c.StateDBPath, &c.LogDir} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.RendersSubfolder = filepath.FromSlash(strings.Trim(c.RendersSubfolder, "/\\"))
	return nil
}

// EnsureDirectories creates the directories required for daemon operation.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.LogDir}
	if c.StateDBPath != "" {
		dirs = append(dirs, filepath.Dir(c.StateDBPath))
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// TemplateFromPath derives the template tag by matching configured folder
// names appearing in the path. A path under Apollova-Aurora yields "aurora";
// unknown paths yield an empty string.
func (c *Config) TemplateFromPath(path string) string {
	normalized := filepath.ToSlash(path)
	for folder := range c.FolderAccountMap {
		if strings.Contains(normalized, folder) {
			return templateTag(folder)
		}
	}
	return ""
}

// templateTag reduces a watched folder name to its template identifier:
// the segment after the final dash, lowercased ("Apollova-Aurora" → "aurora").
func templateTag(folder string) string {
	if idx := strings.LastIndex(folder, "-"); idx >= 0 && idx+1 < len(folder) {
		return strings.ToLower(folder[idx+1:])
	}
	return strings.ToLower(folder)
}

// WatchPaths returns, for each configured folder that exists on disk with its
// renders subfolder present, a mapping from folder name to renders path and
// destination account. Folders without renders directories are skipped.
func (c *Config) WatchPaths() map[string]WatchPath {
	paths := make(map[string]WatchPath)
	if strings.TrimSpace(c.ApollovaRoot) == "" {
		return paths
	}
	for folder, account := range c.FolderAccountMap {
		rendersPath := filepath.Join(c.ApollovaRoot, folder, c.RendersSubfolder)
		info, err := os.Stat(rendersPath)
		if err != nil || !info.IsDir() {
			continue
		}
		paths[folder] = WatchPath{RendersPath: rendersPath, Account: account}
	}
	return paths
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
