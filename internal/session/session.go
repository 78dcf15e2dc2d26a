// Package session owns the in-memory SQLite database behind the tool surface:
// CSV ingestion, schema introspection, row sampling and guarded ad-hoc SQL.
//
// A Session is safe for concurrent use; operations are serialised internally
// because the database lives on a single pinned connection.
package session

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/tabula/pkg/trace"
)

// memoryDSN opens a private in-memory database. The pragmas are applied by
// the driver on every new connection.
const memoryDSN = ":memory:" +
	"?_pragma=journal_mode(WAL)" +
	"&_pragma=temp_store(MEMORY)" +
	"&_pragma=synchronous(NORMAL)" +
	"&_pragma=foreign_keys(1)"

const (
	DefaultBatchSize   = 1000
	DefaultSampleLimit = 10
	DefaultTimeout     = 10 * time.Second
)

// Tracer receives one record per statement the session executes.
// *trace.Store satisfies it.
type Tracer interface {
	Record(ctx context.Context, st trace.Statement)
}

// Options configures a Session. Zero values select the defaults.
type Options struct {
	BatchSize   int
	SampleLimit int
	Timeout     time.Duration
	Logger      *slog.Logger
	Tracer      Tracer
}

// Session is one agent's database.
type Session struct {
	db     *sql.DB
	mu     sync.Mutex
	opts   Options
	logger *slog.Logger
}

// Open creates an empty in-memory database.
func Open(opts Options) (*Session, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	sqlDB, err := sql.Open("sqlite", memoryDSN)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every connection would get its own empty :memory: database, so the pool
	// is pinned to one connection that is never recycled.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	sqlDB.SetConnMaxIdleTime(0)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &Session{
		db:     sqlDB,
		opts:   opts,
		logger: logger.With("component", "session"),
	}, nil
}

// Close discards the database and everything loaded into it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

func (s *Session) trace(ctx context.Context, st trace.Statement, start time.Time, err error) {
	if s.opts.Tracer == nil {
		return
	}
	st.Duration = time.Since(start)
	st.Err = err
	s.opts.Tracer.Record(ctx, st)
}
