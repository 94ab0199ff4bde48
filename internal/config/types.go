package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "5m"). Empty
// strings take the defaults documented per field. Relative paths are
// resolved against the directory of the config file.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Engine    EngineConfig    `json:"engine"`
	Health    HealthConfig    `json:"health"`
	Notifier  NotifierConfig  `json:"notifier"`
	Storage   StorageConfig   `json:"storage"`
	Reports   ReportsConfig   `json:"reports"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied via REPORTBOT_TELEGRAM_TOKEN.
	Token string `json:"token"`
	// OperatorChat receives warning logs: "<chat_id>", "<chat_id>/<thread_id>"
	// or a name from Chats.
	OperatorChat string `json:"operator_chat,omitempty"`
	// Chats names delivery targets, e.g. {"finance": "-1001234/7"}. Tasks
	// may use a name wherever a chat id is accepted.
	Chats map[string]string `json:"chats,omitempty"`
	// Timeout bounds one Bot API request (default 30s).
	Timeout string `json:"timeout,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the polling loop.
//
// Defaults: enabled=true, poll_interval=30s, execution_window=60s,
// error_backoff=60s, parallel=1, timezone=Local, pid_file=reportbot.pid.
type SchedulerConfig struct {
	// Enabled is a pointer so an omitted key means true.
	Enabled         *bool  `json:"enabled,omitempty"`
	PollInterval    string `json:"poll_interval,omitempty"`
	ExecutionWindow string `json:"execution_window,omitempty"`
	ErrorBackoff    string `json:"error_backoff,omitempty"`
	Parallel        int    `json:"parallel,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
	PIDFile         string `json:"pid_file,omitempty"`
	// SystemdUnit names the unit that runs the daemon, if any. stop-scheduler
	// and the dashboard use it when set.
	SystemdUnit string `json:"systemd_unit,omitempty"`
}

// IsEnabled reports the effective enabled flag.
func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// EngineConfig controls task execution. run_timeout "0s" (default)
// disables the per-run timeout.
type EngineConfig struct {
	RunTimeout  string `json:"run_timeout,omitempty"`
	HistorySize int    `json:"history_size,omitempty"`
}

// HealthConfig overrides the health thresholds (5m, 0.90).
type HealthConfig struct {
	OverdueAfter   string  `json:"overdue_after,omitempty"`
	MinSuccessRate float64 `json:"min_success_rate,omitempty"`
}

// NotifierConfig controls delivery retries and the circuit breaker.
type NotifierConfig struct {
	RatePerSec      int    `json:"rate_per_sec,omitempty"`
	RetryMax        int    `json:"retry_max,omitempty"`
	RetryBase       string `json:"retry_base,omitempty"`
	RetryMaxDelay   string `json:"retry_max_delay,omitempty"`
	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerCooldown string `json:"breaker_cooldown,omitempty"`
	// ParseMode for report messages; default "HTML".
	ParseMode string `json:"parse_mode,omitempty"`
}

// StorageConfig locates the task file and the optional run history.
//
// Example:
//
//	"storage": { "tasks_path": "./scheduled_tasks.json", "history": { "driver": "sqlite", "path": "./runs.db" } }
type StorageConfig struct {
	TasksPath   string        `json:"tasks_path"`
	History     HistoryConfig `json:"history"`
	BusyTimeout string        `json:"busy_timeout,omitempty"` // sqlite
}

// HistoryConfig selects the run history backend: "none", "file" or "sqlite".
type HistoryConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
}

type ReportsConfig struct {
	SavedConfigsPath string `json:"saved_configs_path"`
	Datasource       string `json:"datasource"`
	OutputDir        string `json:"output_dir"`
	PreviewRows      int    `json:"preview_rows,omitempty"`
}
