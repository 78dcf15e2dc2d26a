// Package trace records the statements a session runs for each tool call:
// which operation issued them, the table they touched, how many rows came
// back or changed, and how long they took. Every record is logged through
// slog; with a journal attached it is also kept in sql_traces.
//
// Usage:
//
//	store := trace.NewStore(journal.DB)
//	defer store.Close()
//	sess, _ := session.Open(session.Options{Tracer: store})
package trace

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/tabula/pkg/kit"
)

// Statement is what the session reports for one executed statement.
type Statement struct {
	// Op is the session operation: load_csv, list_tables, get_schema,
	// sample_rows or run_sql.
	Op    string
	Table string
	SQL   string
	// Rows counts rows inserted by a load, returned by a read or changed by
	// a write.
	Rows     int64
	ReadOnly bool
	Duration time.Duration
	Err      error
}

// Entry is a persisted trace row.
type Entry struct {
	TraceID    string
	Op         string
	Table      string
	Query      string
	Rows       int64
	ReadOnly   bool
	DurationUs int64
	Error      string
	Timestamp  int64 // unix microseconds
}

const Schema = `
CREATE TABLE IF NOT EXISTS sql_traces (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT,
	op TEXT NOT NULL,
	table_name TEXT,
	query TEXT NOT NULL,
	row_count INTEGER NOT NULL DEFAULT 0,
	readonly INTEGER NOT NULL DEFAULT 0,
	duration_us INTEGER NOT NULL,
	error TEXT,
	timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_traces_ts ON sql_traces(timestamp);
CREATE INDEX IF NOT EXISTS idx_sql_traces_table ON sql_traces(table_name) WHERE table_name != '';
CREATE INDEX IF NOT EXISTS idx_sql_traces_slow ON sql_traces(duration_us) WHERE duration_us > 100000;
`

const (
	// DefaultSlowThreshold promotes a statement's log line to warn.
	DefaultSlowThreshold = 100 * time.Millisecond
	maxQueryBytes        = 4096
	batchSize            = 64
)

// Store persists trace entries asynchronously. A nil *sql.DB keeps the slog
// output only.
type Store struct {
	db      *sql.DB
	ch      chan *Entry
	done    chan struct{}
	once    sync.Once
	dropped atomic.Int64
	slow    time.Duration
}

func NewStore(db *sql.DB) *Store {
	s := &Store{
		db:   db,
		ch:   make(chan *Entry, 1024),
		done: make(chan struct{}),
		slow: DefaultSlowThreshold,
	}
	go s.flushLoop()
	return s
}

// Record logs st and queues it for the journal.
func (s *Store) Record(ctx context.Context, st Statement) {
	traceID := kit.GetTraceID(ctx)
	query := clip(st.SQL)

	level := slog.LevelDebug
	if st.Err != nil || st.Duration > s.slow {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("component", "sql"),
		slog.String("op", st.Op),
		slog.String("query", query),
		slog.Int64("rows", st.Rows),
		slog.Duration("duration", st.Duration),
	}
	if st.Table != "" {
		attrs = append(attrs, slog.String("table", st.Table))
	}
	if st.ReadOnly {
		attrs = append(attrs, slog.Bool("readonly", true))
	}
	if traceID != "" {
		attrs = append(attrs, slog.String("trace_id", traceID))
	}
	errMsg := ""
	if st.Err != nil {
		errMsg = st.Err.Error()
		attrs = append(attrs, slog.String("error", errMsg))
	}
	slog.LogAttrs(ctx, level, "SQL", attrs...)

	if s.db == nil {
		return
	}
	s.enqueue(&Entry{
		TraceID:    traceID,
		Op:         st.Op,
		Table:      st.Table,
		Query:      query,
		Rows:       st.Rows,
		ReadOnly:   st.ReadOnly,
		DurationUs: st.Duration.Microseconds(),
		Error:      errMsg,
		Timestamp:  time.Now().UnixMicro(),
	})
}

func (s *Store) enqueue(e *Entry) {
	select {
	case s.ch <- e:
	default:
		// full buffer: drop rather than stall the session
		s.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded on a full buffer.
func (s *Store) Dropped() int64 { return s.dropped.Load() }

// Close flushes queued entries and stops the flush loop.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.ch)
		<-s.done
		if n := s.dropped.Load(); n > 0 {
			slog.Warn("trace store dropped entries", "count", n)
		}
	})
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)
	batch := make([]*Entry, 0, batchSize)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-s.ch:
			if !ok {
				s.flush(batch)
				return
			}
			batch = append(batch, e)
			if len(batch) >= batchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		}
	}
}

const insertSQL = `INSERT INTO sql_traces
	(trace_id, op, table_name, query, row_count, readonly, duration_us, error, timestamp)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) flush(batch []*Entry) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		slog.Error("trace store: begin tx", "error", err)
		return
	}
	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		tx.Rollback()
		slog.Error("trace store: prepare", "error", err)
		return
	}
	defer stmt.Close()

	for _, e := range batch {
		if _, err := stmt.Exec(e.TraceID, e.Op, e.Table, e.Query, e.Rows, e.ReadOnly, e.DurationUs, e.Error, e.Timestamp); err != nil {
			slog.Error("trace store: insert", "op", e.Op, "error", err)
		}
	}
	if err := tx.Commit(); err != nil {
		slog.Error("trace store: commit", "error", err)
	}
}

// clip bounds stored query text on a rune boundary; loads can carry very
// long statements.
func clip(q string) string {
	if len(q) <= maxQueryBytes {
		return q
	}
	cut := maxQueryBytes
	for cut > 0 && !utf8.RuneStart(q[cut]) {
		cut--
	}
	return q[:cut]
}
