package audit

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/tabula/internal/db"
)

const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
	entry_id TEXT PRIMARY KEY,
	timestamp INTEGER NOT NULL,
	action TEXT NOT NULL,
	transport TEXT NOT NULL DEFAULT 'stdio',
	user_id TEXT,
	request_id TEXT,
	parameters TEXT,
	result TEXT,
	error_message TEXT,
	duration_ms INTEGER,
	status TEXT NOT NULL DEFAULT 'success'
);
CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_action ON audit_log(action);
CREATE INDEX IF NOT EXISTS idx_audit_log_request ON audit_log(request_id);
CREATE INDEX IF NOT EXISTS idx_audit_log_status ON audit_log(status) WHERE status != 'success';
`

const (
	bufferSize    = 256
	batchSize     = 32
	flushInterval = 500 * time.Millisecond

	// DefaultRecentLimit bounds Recent when the filter sets no limit.
	DefaultRecentLimit = 50
)

// SQLiteLogger writes audit entries to the audit_log table of the journal.
// LogAsync queues entries for a background flush loop; entries that do not
// fit the buffer are dropped with a warning rather than slowing tool calls.
type SQLiteLogger struct {
	db   *sql.DB
	ch   chan *Entry
	done chan struct{}
	once sync.Once
}

func NewSQLiteLogger(sqlDB *sql.DB) *SQLiteLogger {
	l := &SQLiteLogger{
		db:   sqlDB,
		ch:   make(chan *Entry, bufferSize),
		done: make(chan struct{}),
	}
	go l.flushLoop()
	return l
}

// Log writes entry synchronously.
func (l *SQLiteLogger) Log(ctx context.Context, entry *Entry) error {
	fillDefaults(entry)
	_, err := l.db.ExecContext(ctx, insertSQL, entryArgs(entry)...)
	return err
}

func (l *SQLiteLogger) LogAsync(entry *Entry) {
	fillDefaults(entry)
	select {
	case l.ch <- entry:
	default:
		slog.Warn("audit buffer full, dropping entry", "action", entry.Action, "request_id", entry.RequestID)
	}
}

// Close drains pending entries. It must not race with LogAsync.
func (l *SQLiteLogger) Close() error {
	l.once.Do(func() {
		close(l.ch)
		<-l.done
	})
	return nil
}

func fillDefaults(e *Entry) {
	if e.EntryID == "" {
		e.EntryID = "aud_" + db.NewID()
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().Unix()
	}
	if e.Status == "" {
		if e.Error != "" {
			e.Status = StatusError
		} else {
			e.Status = StatusSuccess
		}
	}
	if e.Transport == "" {
		e.Transport = "stdio"
	}
}

func (l *SQLiteLogger) flushLoop() {
	defer close(l.done)
	batch := make([]*Entry, 0, batchSize)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case entry, ok := <-l.ch:
			if !ok {
				l.flush(batch)
				return
			}
			batch = append(batch, entry)
			if len(batch) >= batchSize {
				l.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

const insertSQL = `INSERT INTO audit_log (entry_id, timestamp, action, transport, user_id, request_id,
	parameters, result, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?,?)`

func entryArgs(e *Entry) []any {
	return []any{
		e.EntryID, e.Timestamp, e.Action, e.Transport, e.UserID, e.RequestID,
		e.Parameters, e.Result, e.Error, e.DurationMs, e.Status,
	}
}

// flush writes a batch in one transaction; a failed row is logged and skipped.
func (l *SQLiteLogger) flush(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := l.db.Begin()
	if err != nil {
		slog.Error("audit: begin tx", "error", err)
		return
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		slog.Error("audit: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(entryArgs(e)...); err != nil {
			slog.Error("audit write failed", "error", err, "action", e.Action)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("audit: commit", "error", err)
	}
}

// Filter selects journal entries for Recent. Empty fields match everything.
type Filter struct {
	Action string
	Status string
	UserID string
	Limit  int
}

// Recent returns the newest entries matching f, newest first.
func Recent(ctx context.Context, sqlDB *sql.DB, f Filter) ([]*Entry, error) {
	var (
		where []string
		args  []any
	)
	for _, c := range []struct{ col, val string }{
		{"action", f.Action},
		{"status", f.Status},
		{"user_id", f.UserID},
	} {
		if c.val != "" {
			where = append(where, c.col+" = ?")
			args = append(args, c.val)
		}
	}
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	query := `SELECT entry_id, timestamp, action, transport, COALESCE(user_id, ''), COALESCE(request_id, ''),
		COALESCE(parameters, ''), COALESCE(result, ''), COALESCE(error_message, ''), COALESCE(duration_ms, 0), status
		FROM audit_log`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, rowid DESC LIMIT ?"
	args = append(args, limit)

	rows, err := sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e := &Entry{}
		if err := rows.Scan(&e.EntryID, &e.Timestamp, &e.Action, &e.Transport, &e.UserID, &e.RequestID,
			&e.Parameters, &e.Result, &e.Error, &e.DurationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("reading audit log: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
