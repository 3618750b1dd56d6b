// Package audit keeps an append-only journal of routed events. The router
// only ever writes to it; reading is for operators (hookrouter audit list).
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// HandlerRecord summarizes one handler run inside an Entry.
type HandlerRecord struct {
	Handler    string `json:"handler"`
	Mode       string `json:"mode"`
	ExitCode   int    `json:"exitCode"`
	Outcome    string `json:"outcome"`
	DurationMs int64  `json:"durationMs"`
}

// Entry is one routed event.
type Entry struct {
	ID         string          `json:"id"`
	Client     string          `json:"client"`
	Event      string          `json:"event"`
	Variant    string          `json:"variant,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	ExitCode   int             `json:"exitCode"`
	Reply      string          `json:"reply"`
	Handlers   []HandlerRecord `json:"handlers,omitempty"`
	DurationMs int64           `json:"durationMs"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Journal wraps the SQL database entries are written to.
type Journal struct {
	db     *sql.DB
	driver string
}

// Open initializes the journal. driver is "sqlite" (dsn is a file path) or
// "postgres" (dsn is a libpq/pgx connection string).
func Open(ctx context.Context, dsn, driver string) (*Journal, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("audit DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create audit directory: %w", err)
		}
		conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
		db, err = sql.Open("sqlite", conn)
	case "postgres":
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported audit driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s audit journal: %w", driver, err)
	}

	j := &Journal{db: db, driver: driver}
	if err := j.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema(ctx context.Context) error {
	stmt := `CREATE TABLE IF NOT EXISTS invocations (
		id TEXT PRIMARY KEY,
		client TEXT NOT NULL,
		event TEXT NOT NULL,
		variant TEXT,
		session_id TEXT,
		exit_code INTEGER NOT NULL,
		reply TEXT NOT NULL,
		handlers TEXT,
		duration_ms BIGINT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);`
	if _, err := j.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("schema apply failed: %w", err)
	}
	if _, err := j.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at);`); err != nil {
		return fmt.Errorf("schema apply failed: %w", err)
	}
	return nil
}

// Close shuts down the journal.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes an entry. CreatedAt is stamped when zero.
func (j *Journal) Append(ctx context.Context, e *Entry) error {
	if e.ID == "" {
		return errors.New("audit entry id required")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	handlers, err := json.Marshal(e.Handlers)
	if err != nil {
		return err
	}
	_, err = j.db.ExecContext(ctx, j.rebind(`INSERT INTO invocations
		(id, client, event, variant, session_id, exit_code, reply, handlers, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.Client, e.Event, e.Variant, e.SessionID, e.ExitCode, e.Reply, string(handlers), e.DurationMs, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// List returns the newest entries, optionally restricted to one event.
func (j *Journal) List(ctx context.Context, event string, limit int) ([]Entry, error) {
	query := `SELECT id, client, event, variant, session_id, exit_code, reply, handlers, duration_ms, created_at FROM invocations`
	var args []interface{}
	if event != "" {
		query += ` WHERE event = ?`
		args = append(args, event)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := j.db.QueryContext(ctx, j.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                          Entry
			variant, session, handlers sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Client, &e.Event, &variant, &session, &e.ExitCode, &e.Reply, &handlers, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Variant = variant.String
		e.SessionID = session.String
		if handlers.Valid {
			_ = json.Unmarshal([]byte(handlers.String), &e.Handlers)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// rebind rewrites ? placeholders to $n for postgres.
func (j *Journal) rebind(query string) string {
	if j.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
