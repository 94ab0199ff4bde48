package app

import (
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"reportbot/internal/config"
	"reportbot/internal/health"
	"reportbot/internal/notifier"
	"reportbot/internal/report"
	"reportbot/internal/storage"
	"reportbot/internal/task/engine"
	"reportbot/internal/task/scheduler"
	kit "reportbot/internal/transport"
	telegram "reportbot/internal/transport/telegram/adapter"
	logx "reportbot/pkg/logx"
)

// The config has already passed config.Validate when these run, so parse
// errors are still returned but not expected.

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	if op := strings.TrimSpace(cfg.Telegram.OperatorChat); op != "" {
		if t, err := kit.ChatDirectory(cfg.Telegram.Chats).Resolve(op); err == nil {
			lc.Telegram.ChatID = t.ChatID
			lc.Telegram.ThreadID = t.ThreadID
			lc.Telegram.Enabled = cfg.Logging.Telegram.Enabled
		}
	}
	return lc
}

func mapAdapterConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDuration("telegram.timeout", cfg.Telegram.Timeout, 30*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{Token: strings.TrimSpace(cfg.Telegram.Token), Timeout: timeout}, nil
}

// telegramParseMode maps the config spelling onto Bot API parse modes.
// "none" sends plain text.
func telegramParseMode(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "html":
		return string(tele.ModeHTML)
	case "markdown":
		return string(tele.ModeMarkdown)
	case "markdownv2":
		return string(tele.ModeMarkdownV2)
	default:
		return ""
	}
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	base, err := config.ParseDuration("notifier.retry_base", n.RetryBase, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDuration("notifier.retry_max_delay", n.RetryMaxDelay, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	cooldown, err := config.ParseDuration("notifier.breaker_cooldown", n.BreakerCooldown, 0)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := n.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
		RatePerSec:      n.RatePerSec,
		RetryMax:        retryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		BreakerFailures: n.BreakerFailures,
		BreakerCooldown: cooldown,
		ParseMode:       telegramParseMode(n.ParseMode),
		Chats:           kit.ChatDirectory(cfg.Telegram.Chats),
	}, nil
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDuration("engine.run_timeout", cfg.Engine.RunTimeout, 0)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{RunTimeout: timeout, HistorySize: cfg.Engine.HistorySize}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	s := cfg.Scheduler
	poll, err := config.ParseDuration("scheduler.poll_interval", s.PollInterval, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	window, err := config.ParseDuration("scheduler.execution_window", s.ExecutionWindow, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	backoff, err := config.ParseDuration("scheduler.error_backoff", s.ErrorBackoff, 0)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:         s.IsEnabled(),
		PollInterval:    poll,
		ExecutionWindow: window,
		ErrorBackoff:    backoff,
		Parallel:        s.Parallel,
		Timezone:        strings.TrimSpace(s.Timezone),
	}, nil
}

func mapThresholds(cfg *config.Config) (health.Thresholds, error) {
	overdue, err := config.ParseDuration("health.overdue_after", cfg.Health.OverdueAfter, 0)
	if err != nil {
		return health.Thresholds{}, err
	}
	return health.Thresholds{OverdueAfter: overdue, MinSuccessRate: cfg.Health.MinSuccessRate}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		TasksPath:     cfg.Storage.TasksPath,
		HistoryDriver: strings.ToLower(strings.TrimSpace(cfg.Storage.History.Driver)),
		HistoryPath:   cfg.Storage.History.Path,
		BusyTimeout:   busy,
	}, nil
}

func mapReportOptions(cfg *config.Config, busy time.Duration) report.Options {
	return report.Options{
		SavedConfigsPath: cfg.Reports.SavedConfigsPath,
		Datasource:       cfg.Reports.Datasource,
		OutputDir:        cfg.Reports.OutputDir,
		BusyTimeout:      busy,
		PreviewRows:      cfg.Reports.PreviewRows,
	}
}
