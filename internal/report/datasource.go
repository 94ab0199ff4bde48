package report

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Table is a query result with every cell rendered as text.
type Table struct {
	Columns []string
	Rows    [][]string
	// Truncated is set when Limit cut the result short.
	Truncated bool
}

// queryTable opens path in query-only mode, runs query and renders up to limit rows
// (0 means no limit).
func queryTable(ctx context.Context, path, query string, limit int, busy time.Duration) (Table, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Table{}, ErrNoDatasource
	}
	if busy <= 0 {
		busy = 5 * time.Second
	}
	if _, err := os.Stat(path); err != nil {
		return Table{}, fmt.Errorf("datasource: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Table{}, err
	}
	defer db.Close()
	// One connection so the pragmas below apply to the query.
	db.SetMaxOpenConns(1)
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA query_only = 1")

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return Table{}, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Table{}, err
	}
	out := Table{Columns: cols}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if limit > 0 && len(out.Rows) >= limit {
			out.Truncated = true
			break
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Table{}, err
		}
		row := make([]string, len(cols))
		for i, v := range vals {
			row[i] = cellText(v)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Table{}, err
	}
	return out, nil
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}
