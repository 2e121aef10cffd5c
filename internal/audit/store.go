// Package audit persists a record of every operation the dispatcher ran or
// refused, backed by a single SQLite file.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/perimeterd/perimeterd/internal/access"
	sqlitemigrate "github.com/perimeterd/perimeterd/internal/platform/storage/sqlitemigrate"

	"github.com/perimeterd/perimeterd/internal/audit/migrations"
)

// Outcome classifies how an operation ended.
type Outcome string

const (
	OutcomeOK     Outcome = "ok"
	OutcomeDenied Outcome = "denied"
	OutcomeError  Outcome = "error"
)

// Entry is one audit record.
type Entry struct {
	ID        string
	Operation string
	Caller    string
	Level     access.Level
	Arguments map[string]any
	Outcome   Outcome
	Detail    string
	CreatedAt time.Time
}

// Filter narrows a List call. Zero values are ignored.
type Filter struct {
	Operation string
	Caller    string
	Outcome   Outcome
	Since     time.Time
	Limit     int
}

// toMillis normalizes timestamps into millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store implements audit persistence over SQLite.
type Store struct {
	sqlDB *sql.DB

	// now is swapped in tests for deterministic timestamps.
	now func() time.Time
}

// Open opens an audit SQLite store and applies bundled migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB, now: time.Now}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return store, nil
}

// Close releases the underlying SQLite database.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Record persists one entry. A zero ID gets a generated UUID and a zero
// CreatedAt gets the current time; the stored entry is returned.
func (s *Store) Record(ctx context.Context, entry Entry) (Entry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	if entry.Arguments == nil {
		entry.Arguments = map[string]any{}
	}
	args, err := json.Marshal(entry.Arguments)
	if err != nil {
		return Entry{}, fmt.Errorf("encode arguments: %w", err)
	}

	const query = `
INSERT INTO audit_entries (id, operation, caller, level, arguments, outcome, detail, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err = s.sqlDB.ExecContext(ctx, query,
		entry.ID,
		entry.Operation,
		entry.Caller,
		entry.Level.String(),
		string(args),
		string(entry.Outcome),
		entry.Detail,
		toMillis(entry.CreatedAt),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("insert audit entry: %w", err)
	}
	entry.CreatedAt = fromMillis(toMillis(entry.CreatedAt))
	return entry, nil
}

// List returns entries matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
SELECT id, operation, caller, level, arguments, outcome, detail, created_at
FROM audit_entries
WHERE 1=1`
	var args []any
	if filter.Operation != "" {
		query += " AND operation = ?"
		args = append(args, filter.Operation)
	}
	if filter.Caller != "" {
		query += " AND caller = ?"
		args = append(args, filter.Caller)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, toMillis(filter.Since))
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry     Entry
			level     string
			arguments string
			outcome   string
			createdAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Operation, &entry.Caller, &level, &arguments, &outcome, &entry.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if parsed, err := access.ParseLevel(level); err == nil {
			entry.Level = parsed
		}
		if err := json.Unmarshal([]byte(arguments), &entry.Arguments); err != nil {
			entry.Arguments = map[string]any{}
		}
		entry.Outcome = Outcome(outcome)
		entry.CreatedAt = fromMillis(createdAt)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
