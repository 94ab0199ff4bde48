package storage

import (
	"errors"
	"strings"

	logx "reportbot/pkg/logx"
)

// OpenRunLog initializes the configured run history backend.
// It returns (nil, nil) if run history is disabled.
func OpenRunLog(cfg Config, log logx.Logger) (RunLog, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.HistoryDriver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFileRunLog(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLiteRunLog(cfg, log)
	default:
		return nil, errors.New("unknown history driver: " + driver)
	}
}
