package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

// Entry — одна постановка задачи и её итог. Пока задача не
// завершена, Outcome пуст, а CompletedAt равен nil.
type Entry struct {
	TaskID      string
	ScriptID    string
	ScriptName  string
	CompanyID   string
	EndpointIDs []string
	SubmittedAt time.Time
	CompletedAt *time.Time
	Outcome     string
	Total       *time.Duration
}

// Store — локальный журнал постановок задач в SQLite.
type Store struct {
	db *sql.DB
}

// Open открывает (при необходимости создаёт) базу журнала и
// применяет схему.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("chmod history path: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("apply history schema: %w", err)
	}
	return &Store{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS task_runs (
	task_id TEXT PRIMARY KEY,
	script_id TEXT NOT NULL,
	script_name TEXT NOT NULL DEFAULT '',
	company_id TEXT NOT NULL DEFAULT '',
	endpoint_ids TEXT NOT NULL DEFAULT '[]',
	submitted_at TEXT NOT NULL,
	completed_at TEXT,
	outcome TEXT NOT NULL DEFAULT '',
	total_ms INTEGER
);

CREATE INDEX IF NOT EXISTS task_runs_submitted_at
ON task_runs(submitted_at DESC);
`

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordSubmission пишет факт постановки задачи. Повторная запись
// с тем же task_id перетирает предыдущую.
func (s *Store) RecordSubmission(ctx context.Context, entry Entry) error {
	if strings.TrimSpace(entry.TaskID) == "" {
		return fmt.Errorf("task_id is required")
	}
	if entry.SubmittedAt.IsZero() {
		entry.SubmittedAt = time.Now().UTC()
	}
	endpoints, err := marshalEndpoints(entry.EndpointIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO task_runs(task_id, script_id, script_name, company_id, endpoint_ids, submitted_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(task_id) DO UPDATE SET
	script_id=excluded.script_id,
	script_name=excluded.script_name,
	company_id=excluded.company_id,
	endpoint_ids=excluded.endpoint_ids,
	submitted_at=excluded.submitted_at
`, entry.TaskID, entry.ScriptID, entry.ScriptName, entry.CompanyID, endpoints, ts(entry.SubmittedAt))
	if err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// RecordOutcome дописывает итог наблюдения к существующей записи.
// total равен nil, когда суммарное время неизвестно.
func (s *Store) RecordOutcome(ctx context.Context, taskID, outcome string, completedAt time.Time, total *time.Duration) error {
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	var totalMS any
	if total != nil {
		totalMS = total.Milliseconds()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE task_runs
SET outcome = ?, completed_at = ?, total_ms = ?
WHERE task_id = ?
`, outcome, ts(completedAt), totalMS, taskID)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Recent возвращает последние записи журнала, свежие первыми.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT task_id, script_id, script_name, company_id, endpoint_ids, submitted_at, completed_at, outcome, total_ms
FROM task_runs
ORDER BY submitted_at DESC, task_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent runs: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter recent runs: %w", err)
	}
	return out, nil
}

// Get возвращает запись по id задачи.
func (s *Store) Get(ctx context.Context, taskID string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT task_id, script_id, script_name, company_id, endpoint_ids, submitted_at, completed_at, outcome, total_ms
FROM task_runs
WHERE task_id = ?
`, taskID)
	return scanEntry(row)
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		entry       Entry
		endpoints   string
		submittedAt string
		completedAt sql.NullString
		totalMS     sql.NullInt64
	)
	if err := scanner.Scan(&entry.TaskID, &entry.ScriptID, &entry.ScriptName, &entry.CompanyID, &endpoints, &submittedAt, &completedAt, &entry.Outcome, &totalMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("scan task run: %w", err)
	}
	var err error
	entry.EndpointIDs, err = unmarshalEndpoints(endpoints)
	if err != nil {
		return Entry{}, err
	}
	entry.SubmittedAt, err = parseTS(submittedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse submitted_at: %w", err)
	}
	if completedAt.Valid {
		v, parseErr := parseTS(completedAt.String)
		if parseErr != nil {
			return Entry{}, fmt.Errorf("parse completed_at: %w", parseErr)
		}
		entry.CompletedAt = &v
	}
	if totalMS.Valid {
		v := time.Duration(totalMS.Int64) * time.Millisecond
		entry.Total = &v
	}
	return entry, nil
}

func marshalEndpoints(ids []string) (string, error) {
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		if v := strings.TrimSpace(id); v != "" {
			normalized = append(normalized, v)
		}
	}
	buf, err := json.Marshal(normalized)
	if err != nil {
		return "", fmt.Errorf("marshal endpoint ids: %w", err)
	}
	return string(buf), nil
}

func unmarshalEndpoints(raw string) ([]string, error) {
	text := strings.TrimSpace(raw)
	if text == "" || text == "[]" {
		return nil, nil
	}
	var values []string
	if err := json.Unmarshal([]byte(text), &values); err != nil {
		return nil, fmt.Errorf("unmarshal endpoint ids: %w", err)
	}
	return values, nil
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
