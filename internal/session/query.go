package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/hazyhaar/tabula/internal/sanitize"
	"github.com/hazyhaar/tabula/pkg/trace"
)

// QueryOptions describes one ad-hoc statement.
type QueryOptions struct {
	SQL string
	// Args are bound positionally; the SQL text itself is never rewritten.
	Args     []any
	ReadOnly bool
	// Timeout overrides the session default when positive.
	Timeout time.Duration
}

// Result is the outcome of Query.
type Result struct {
	Columns  []string         `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int64            `json:"rowcount"`
}

// mutatingKeywords are refused in read-only mode when they open a statement.
var mutatingKeywords = []string{
	"insert", "update", "delete", "drop", "create",
	"alter", "replace", "truncate", "attach", "vacuum", "reindex",
}

// txKeywords open or close a transaction on the shared connection.
var txKeywords = []string{"begin", "commit", "end", "rollback", "savepoint", "release"}

// IsMutating reports whether stmt opens with a mutating keyword once leading
// whitespace, comments and opening parentheses are skipped. The keyword must
// be followed by whitespace, so "updated_at" is not mistaken for "update".
// Statements that set the query_only pragma count as mutating: read-only
// execution relies on it.
func IsMutating(stmt string) bool {
	norm := skipLeadingNoise(strings.ToLower(sanitize.Text(stmt)))
	if opensWith(norm, mutatingKeywords, false) {
		return true
	}
	return strings.Contains(norm, "pragma") && strings.Contains(norm, "query_only")
}

// IsTxControl reports whether stmt opens with a transaction control keyword.
func IsTxControl(stmt string) bool {
	norm := skipLeadingNoise(strings.ToLower(sanitize.Text(stmt)))
	return opensWith(norm, txKeywords, true)
}

// opensWith reports whether norm starts with one of kws followed by
// whitespace. With bare set, a keyword ending the text or followed by ";"
// also counts.
func opensWith(norm string, kws []string, bare bool) bool {
	for _, kw := range kws {
		rest, ok := strings.CutPrefix(norm, kw)
		if !ok {
			continue
		}
		if rest == "" {
			if bare {
				return true
			}
			continue
		}
		r, _ := utf8.DecodeRuneInString(rest)
		if unicode.IsSpace(r) || (bare && r == ';') {
			return true
		}
	}
	return false
}

// skipLeadingNoise drops whitespace, "--" and "/* */" comments and "(" from
// the start of s.
func skipLeadingNoise(s string) string {
	for {
		s = strings.TrimLeftFunc(s, func(r rune) bool { return r == '(' || unicode.IsSpace(r) })
		switch {
		case strings.HasPrefix(s, "--"):
			i := strings.IndexByte(s, '\n')
			if i < 0 {
				return ""
			}
			s = s[i+1:]
		case strings.HasPrefix(s, "/*"):
			i := strings.Index(s[2:], "*/")
			if i < 0 {
				return ""
			}
			s = s[i+4:]
		default:
			return s
		}
	}
}

type queryOutcome struct {
	res *Result
	err error
}

// Query executes q under a per-call deadline.
//
// In read-only mode statements that classify as mutating are refused before
// execution, and the statement runs with PRAGMA query_only enabled so that
// writes the prefix check cannot see are refused by the engine.
//
// The statement runs on a worker goroutine that holds the session until the
// engine lets go of it. When the deadline passes first, Query returns
// ErrTimeout at once; the driver interrupts the statement and the next
// operation waits for the worker to finish.
func (s *Session) Query(ctx context.Context, q QueryOptions) (*Result, error) {
	if q.ReadOnly && IsMutating(q.SQL) {
		return nil, fmt.Errorf("%w: mutating SQL is not allowed (readonly=true)", ErrPermissionDenied)
	}
	if q.ReadOnly && IsTxControl(q.SQL) {
		return nil, fmt.Errorf("%w: transaction control is not allowed (readonly=true)", ErrPermissionDenied)
	}
	timeout := q.Timeout
	if timeout <= 0 {
		timeout = s.opts.Timeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan queryOutcome, 1)
	go func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		res, err := s.runQuery(ctx, q)
		done <- queryOutcome{res: res, err: err}
	}()

	var out queryOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		select {
		case out = <-done:
		default:
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				s.logger.Warn("query timed out", "timeout", timeout)
				return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return nil, ctx.Err()
		}
	}
	if out.err != nil {
		err := classify(ctx, "run_sql", out.err)
		if errors.Is(err, ErrTimeout) {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}
		return nil, err
	}
	return out.res, nil
}

func (s *Session) runQuery(ctx context.Context, q QueryOptions) (res *Result, err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if q.ReadOnly {
		if _, err := conn.ExecContext(ctx, "PRAGMA query_only = ON"); err != nil {
			return nil, err
		}
		defer func() {
			if _, rerr := conn.ExecContext(context.Background(), "PRAGMA query_only = OFF"); rerr != nil {
				s.logger.Error("resetting query_only", "error", rerr)
			}
		}()
	}

	defer s.rollbackOpenTx(conn)

	var before int64
	if err := conn.QueryRowContext(ctx, "SELECT total_changes()").Scan(&before); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		st := trace.Statement{Op: "run_sql", SQL: q.SQL, ReadOnly: q.ReadOnly}
		if res != nil {
			st.Rows = res.RowCount
		}
		s.trace(ctx, st, start, err)
	}()

	rows, err := conn.QueryContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, err
	}
	cols, data, err := scanRows(ctx, rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	if len(cols) == 0 {
		var after int64
		if err := conn.QueryRowContext(ctx, "SELECT total_changes()").Scan(&after); err != nil {
			return nil, err
		}
		return &Result{Columns: []string{}, Rows: []map[string]any{}, RowCount: after - before}, nil
	}

	return &Result{
		Columns:  sanitize.Strings(cols),
		Rows:     sanitize.Deep(data).([]map[string]any),
		RowCount: int64(len(data)),
	}, nil
}

// rollbackOpenTx ends any transaction the statement left open. LoadCSV starts
// its own transaction on the same connection, so none may outlive a call.
// BEGIN only succeeds when no transaction is active.
func (s *Session) rollbackOpenTx(conn *sql.Conn) {
	ctx := context.Background()
	if _, err := conn.ExecContext(ctx, "BEGIN"); err == nil {
		if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
			s.logger.Error("closing transaction check", "error", err)
		}
		return
	}
	if _, err := conn.ExecContext(ctx, "ROLLBACK"); err != nil {
		s.logger.Error("rolling back open transaction", "error", err)
		return
	}
	s.logger.Warn("rolled back transaction left open by run_sql")
}
