package logsink

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Lllllllleong/documentocr/internal/models"
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Dialect captures the differences between the SQL engines the log table can
// live in.
type Dialect struct {
	Name        string
	placeholder func(n int) string
	timeType    string
	floatType   string
	boolType    string
}

var (
	Postgres = Dialect{
		Name:        "postgres",
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		timeType:    "TIMESTAMPTZ",
		floatType:   "DOUBLE PRECISION",
		boolType:    "BOOLEAN",
	}
	SQLite = Dialect{
		Name:        "sqlite",
		placeholder: func(int) string { return "?" },
		timeType:    "DATETIME",
		floatType:   "REAL",
		boolType:    "BOOLEAN",
	}
)

// columns lists the log table in positional order.
var columns = []string{
	"run_timestamp",
	"customer_id",
	"file_name",
	"page_count",
	"start_time",
	"duration_seconds",
	"success",
	"message",
	"retry",
}

// SQL writes log records to a relational table with one positional INSERT
// per record. The table must tolerate concurrent inserts; rows are never
// updated.
type SQL struct {
	db      *sql.DB
	table   string
	dialect Dialect
	closeFn func()
}

// NewSQL wraps an open database. The table name is validated because it is
// interpolated into the statements.
func NewSQL(db *sql.DB, dialect Dialect, table string) (*SQL, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid log table name %q", table)
	}
	return &SQL{db: db, table: table, dialect: dialect}, nil
}

// EnsureSchema creates the log table if it does not exist.
func (s *SQL) EnsureSchema(ctx context.Context) error {
	d := s.dialect
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	run_timestamp %s NOT NULL,
	customer_id TEXT NOT NULL,
	file_name TEXT NOT NULL,
	page_count INTEGER NOT NULL,
	start_time %s NOT NULL,
	duration_seconds %s NOT NULL,
	success %s NOT NULL,
	message TEXT NOT NULL,
	retry %s NOT NULL
)`, s.table, d.timeType, d.timeType, d.floatType, d.boolType, d.boolType)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create log table %s: %w", s.table, err)
	}
	return nil
}

// Append inserts one row.
func (s *SQL) Append(ctx context.Context, rec models.LogRecord) error {
	marks := make([]string, len(columns))
	for i := range marks {
		marks[i] = s.dialect.placeholder(i + 1)
	}
	stmt := fmt.Sprintf("INSERT INTO %s VALUES (%s)", s.table, strings.Join(marks, ","))

	_, err := s.db.ExecContext(ctx, stmt,
		rec.RunTimestamp.UTC(),
		rec.CustomerID,
		rec.FileName,
		rec.PageCount,
		rec.StartTime.UTC(),
		rec.DurationSeconds,
		rec.Success,
		rec.Message,
		rec.Retry,
	)
	if err != nil {
		return fmt.Errorf("failed to insert log row into %s: %w", s.table, err)
	}
	return nil
}

// Filter narrows List.
type Filter struct {
	CustomerID    string
	Since         time.Time
	FailuresOnly  bool
	RetryableOnly bool
	Limit         int
}

// List returns log rows, newest first.
func (s *SQL) List(ctx context.Context, f Filter) ([]models.LogRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, s.dialect.placeholder(len(args))))
	}
	if f.CustomerID != "" {
		add("customer_id = %s", f.CustomerID)
	}
	if !f.Since.IsZero() {
		add("run_timestamp >= %s", f.Since.UTC())
	}
	if f.FailuresOnly || f.RetryableOnly {
		add("success = %s", false)
	}
	if f.RetryableOnly {
		add("retry = %s", true)
	}

	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(columns, ", "), s.table)
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY run_timestamp DESC"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query log table %s: %w", s.table, err)
	}
	defer rows.Close()

	var out []models.LogRecord
	for rows.Next() {
		var (
			rec          models.LogRecord
			runTs, start sqlTime
		)
		if err := rows.Scan(&runTs, &rec.CustomerID, &rec.FileName, &rec.PageCount, &start,
			&rec.DurationSeconds, &rec.Success, &rec.Message, &rec.Retry); err != nil {
			return nil, fmt.Errorf("failed to scan log row: %w", err)
		}
		rec.RunTimestamp = runTs.Time
		rec.StartTime = start.Time
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Ping checks the connection.
func (s *SQL) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database and any pool behind it.
func (s *SQL) Close() error {
	err := s.db.Close()
	if s.closeFn != nil {
		s.closeFn()
	}
	return err
}

// sqlTime scans timestamps from drivers that return them either as time.Time
// or as text.
type sqlTime struct {
	time.Time
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("cannot scan %T into a timestamp", src)
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
