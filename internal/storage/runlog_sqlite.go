package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "reportbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Fixed width so that ORDER BY started sorts chronologically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

type sqliteRunLog struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLiteRunLog(cfg Config, log logx.Logger) (RunLog, error) {
	path := strings.TrimSpace(cfg.HistoryPath)
	if path == "" {
		return nil, errors.New("sqlite history_path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// The CLI and the daemon may both write; keep one connection per process
	// and let busy_timeout absorb the contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteRunLog{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteRunLog) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteRunLog) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteRunLog) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.Started.IsZero() {
		r.Started = time.Now()
	}
	ok := 0
	if r.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, task, trigger, started, duration_ms, ok, err) VALUES(?,?,?,?,?,?,?)`,
		r.ID, r.Task, r.Trigger, r.Started.UTC().Format(sqliteTimeFormat), r.Duration.Milliseconds(), ok, nullStr(r.Error),
	)
	return err
}

func (s *sqliteRunLog) Recent(ctx context.Context, task string, n int) ([]RunRecord, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if n <= 0 {
		return nil, nil
	}

	q := `SELECT id, task, trigger, started, duration_ms, ok, err FROM runs`
	args := []any{}
	if task != "" {
		q += ` WHERE task = ?`
		args = append(args, task)
	}
	q += ` ORDER BY started DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var (
			r       RunRecord
			started string
			durMS   int64
			ok      int
			errStr  sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Task, &r.Trigger, &started, &durMS, &ok, &errStr); err != nil {
			return nil, err
		}
		r.Started, _ = time.Parse(sqliteTimeFormat, started)
		r.Duration = time.Duration(durMS) * time.Millisecond
		r.OK = ok == 1
		r.Error = errStr.String
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
