package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	kit "reportbot/internal/transport"
	logx "reportbot/pkg/logx"
)

// EnvTelegramToken overrides telegram.token when set.
const EnvTelegramToken = "REPORTBOT_TELEGRAM_TOKEN"

// ParseDuration parses a Go duration string. Empty or zero yields def;
// negative values are rejected. path names the field in errors.
func ParseDuration(path, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}

// Default returns a config with every path set; durations stay empty so the
// consumers' defaults apply.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Storage: StorageConfig{
			TasksPath: "scheduled_tasks.json",
			History:   HistoryConfig{Driver: "file", Path: "runs.jsonl"},
		},
		Reports: ReportsConfig{
			SavedConfigsPath: "saved_configs.yaml",
			OutputDir:        "reports",
		},
		Scheduler: SchedulerConfig{PIDFile: "reportbot.pid"},
		Notifier:  NotifierConfig{ParseMode: "HTML"},
	}
}

// ApplyEnv overlays environment overrides.
func (c *Config) ApplyEnv() {
	if tok := strings.TrimSpace(os.Getenv(EnvTelegramToken)); tok != "" {
		c.Telegram.Token = tok
	}
}

// ResolvePaths makes every relative path absolute against baseDir.
func (c *Config) ResolvePaths(baseDir string) {
	if baseDir == "" {
		return
	}
	for _, p := range []*string{
		&c.Logging.File.Path,
		&c.Scheduler.PIDFile,
		&c.Storage.TasksPath,
		&c.Storage.History.Path,
		&c.Reports.SavedConfigsPath,
		&c.Reports.Datasource,
		&c.Reports.OutputDir,
	} {
		v := strings.TrimSpace(*p)
		if v != "" && !filepath.IsAbs(v) {
			*p = filepath.Join(baseDir, v)
		}
	}
}

// Validate reports every problem at once.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(path, raw string) {
		if _, err := ParseDuration(path, raw, 0); err != nil {
			errs = append(errs, err)
		}
	}
	check("telegram.timeout", c.Telegram.Timeout)
	check("scheduler.poll_interval", c.Scheduler.PollInterval)
	check("scheduler.execution_window", c.Scheduler.ExecutionWindow)
	check("scheduler.error_backoff", c.Scheduler.ErrorBackoff)
	check("engine.run_timeout", c.Engine.RunTimeout)
	check("health.overdue_after", c.Health.OverdueAfter)
	check("notifier.retry_base", c.Notifier.RetryBase)
	check("notifier.retry_max_delay", c.Notifier.RetryMaxDelay)
	check("notifier.breaker_cooldown", c.Notifier.BreakerCooldown)
	check("storage.busy_timeout", c.Storage.BusyTimeout)

	if lvl := strings.TrimSpace(c.Logging.Level); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", lvl))
	}
	if lvl := strings.TrimSpace(c.Logging.Telegram.MinLevel); lvl != "" && !logx.ValidLevel(lvl) {
		errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", lvl))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when logging.file.enabled"))
	}
	chatNames := make([]string, 0, len(c.Telegram.Chats))
	for name := range c.Telegram.Chats {
		chatNames = append(chatNames, name)
	}
	sort.Strings(chatNames)
	// Names resolve case-insensitively, so "Desk" and "desk" would collide.
	folded := make(map[string]string, len(chatNames))
	for _, name := range chatNames {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			errs = append(errs, errors.New("telegram.chats: empty chat name"))
			continue
		}
		if prev, ok := folded[key]; ok {
			errs = append(errs, fmt.Errorf("telegram.chats: %q and %q differ only in case", prev, name))
			continue
		}
		folded[key] = name
		if _, err := kit.ParseChatTarget(c.Telegram.Chats[name]); err != nil {
			errs = append(errs, fmt.Errorf("telegram.chats.%s: %w", name, err))
		}
	}
	if op := strings.TrimSpace(c.Telegram.OperatorChat); op != "" {
		if _, err := kit.ChatDirectory(c.Telegram.Chats).Resolve(op); err != nil {
			errs = append(errs, fmt.Errorf("telegram.operator_chat: %w", err))
		}
	} else if c.Logging.Telegram.Enabled {
		errs = append(errs, errors.New("telegram.operator_chat is required when logging.telegram.enabled"))
	}

	if c.Scheduler.Parallel < 0 {
		errs = append(errs, errors.New("scheduler.parallel must be >= 0"))
	}
	if tz := strings.TrimSpace(c.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	if c.Engine.HistorySize < 0 {
		errs = append(errs, errors.New("engine.history_size must be >= 0"))
	}
	if r := c.Health.MinSuccessRate; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("health.min_success_rate must be within [0,1], got %v", r))
	}
	if c.Notifier.RatePerSec < 0 || c.Notifier.RetryMax < 0 || c.Notifier.BreakerFailures < 0 {
		errs = append(errs, errors.New("notifier: rate_per_sec, retry_max and breaker_failures must be >= 0"))
	}
	switch pm := strings.ToLower(strings.TrimSpace(c.Notifier.ParseMode)); pm {
	case "", "html", "markdown", "markdownv2", "none":
	default:
		errs = append(errs, fmt.Errorf("notifier.parse_mode: unsupported %q", c.Notifier.ParseMode))
	}

	if strings.TrimSpace(c.Storage.TasksPath) == "" {
		errs = append(errs, errors.New("storage.tasks_path is required"))
	}
	switch d := strings.ToLower(strings.TrimSpace(c.Storage.History.Driver)); d {
	case "", "none":
	case "file", "sqlite", "sqlite3":
		if strings.TrimSpace(c.Storage.History.Path) == "" {
			errs = append(errs, fmt.Errorf("storage.history.path is required when driver=%s", d))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.history.driver: unknown driver %q", c.Storage.History.Driver))
	}

	if strings.TrimSpace(c.Reports.SavedConfigsPath) == "" {
		errs = append(errs, errors.New("reports.saved_configs_path is required"))
	}
	if c.Reports.PreviewRows < 0 {
		errs = append(errs, errors.New("reports.preview_rows must be >= 0"))
	}
	return errors.Join(errs...)
}
