package config

import (
	"reflect"
	"sort"
	"strings"

	logx "reportbot/pkg/logx"
)

// SummarizeConfigChange returns (1) the sections that changed, (2) safe
// structured attrs for logging (never the token) and (3) the changed
// sections that only take effect after a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	restart := make([]string, 0, 4)
	attrs := make([]logx.Field, 0, 24)

	// Telegram (never log token)
	tokenChanged := strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token)
	chatsChanged := !reflect.DeepEqual(oldCfg.Telegram.Chats, newCfg.Telegram.Chats)
	if tokenChanged || chatsChanged ||
		strings.TrimSpace(oldCfg.Telegram.OperatorChat) != strings.TrimSpace(newCfg.Telegram.OperatorChat) ||
		strings.TrimSpace(oldCfg.Telegram.Timeout) != strings.TrimSpace(newCfg.Telegram.Timeout) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_changed", tokenChanged),
			logx.Bool("telegram.operator_chat_set", strings.TrimSpace(newCfg.Telegram.OperatorChat) != ""),
			logx.String("telegram.timeout", strings.TrimSpace(newCfg.Telegram.Timeout)),
			logx.Int("telegram.chats", len(newCfg.Telegram.Chats)),
		)
		if tokenChanged || chatsChanged || strings.TrimSpace(oldCfg.Telegram.Timeout) != strings.TrimSpace(newCfg.Telegram.Timeout) {
			restart = append(restart, "telegram")
		}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
			logx.String("logging.telegram_min_level", newCfg.Logging.Telegram.MinLevel),
		)
	}

	oS, nS := oldCfg.Scheduler, newCfg.Scheduler
	if oS.IsEnabled() != nS.IsEnabled() ||
		strings.TrimSpace(oS.PollInterval) != strings.TrimSpace(nS.PollInterval) ||
		strings.TrimSpace(oS.ExecutionWindow) != strings.TrimSpace(nS.ExecutionWindow) ||
		strings.TrimSpace(oS.ErrorBackoff) != strings.TrimSpace(nS.ErrorBackoff) ||
		oS.Parallel != nS.Parallel ||
		strings.TrimSpace(oS.Timezone) != strings.TrimSpace(nS.Timezone) ||
		strings.TrimSpace(oS.PIDFile) != strings.TrimSpace(nS.PIDFile) ||
		strings.TrimSpace(oS.SystemdUnit) != strings.TrimSpace(nS.SystemdUnit) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", nS.IsEnabled()),
			logx.String("scheduler.poll_interval", strings.TrimSpace(nS.PollInterval)),
			logx.String("scheduler.execution_window", strings.TrimSpace(nS.ExecutionWindow)),
			logx.Int("scheduler.parallel", nS.Parallel),
			logx.String("scheduler.timezone", strings.TrimSpace(nS.Timezone)),
			logx.String("scheduler.systemd_unit", strings.TrimSpace(nS.SystemdUnit)),
		)
		if oS.IsEnabled() != nS.IsEnabled() || strings.TrimSpace(oS.PIDFile) != strings.TrimSpace(nS.PIDFile) {
			restart = append(restart, "scheduler")
		}
	}

	if oldCfg.Engine != newCfg.Engine {
		changed = append(changed, "engine")
		restart = append(restart, "engine")
		attrs = append(attrs,
			logx.String("engine.run_timeout", strings.TrimSpace(newCfg.Engine.RunTimeout)),
			logx.Int("engine.history_size", newCfg.Engine.HistorySize),
		)
	}

	if oldCfg.Health != newCfg.Health {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.String("health.overdue_after", strings.TrimSpace(newCfg.Health.OverdueAfter)),
			logx.Float64("health.min_success_rate", newCfg.Health.MinSuccessRate),
		)
	}

	if oldCfg.Notifier != newCfg.Notifier {
		changed = append(changed, "notifier")
		restart = append(restart, "notifier")
		attrs = append(attrs,
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.retry_max", newCfg.Notifier.RetryMax),
			logx.Int("notifier.breaker_failures", newCfg.Notifier.BreakerFailures),
			logx.String("notifier.parse_mode", newCfg.Notifier.ParseMode),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		restart = append(restart, "storage")
		attrs = append(attrs,
			logx.String("storage.tasks_path", strings.TrimSpace(newCfg.Storage.TasksPath)),
			logx.String("storage.history_driver", strings.TrimSpace(newCfg.Storage.History.Driver)),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if oldCfg.Reports != newCfg.Reports {
		changed = append(changed, "reports")
		restart = append(restart, "reports")
		attrs = append(attrs,
			logx.String("reports.saved_configs_path", strings.TrimSpace(newCfg.Reports.SavedConfigsPath)),
			logx.Bool("reports.datasource_set", strings.TrimSpace(newCfg.Reports.Datasource) != ""),
			logx.String("reports.output_dir", strings.TrimSpace(newCfg.Reports.OutputDir)),
		)
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
