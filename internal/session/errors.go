package session

import (
	"context"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/hazyhaar/tabula/internal/sanitize"
)

var (
	// ErrPermissionDenied is returned when a read-only query would mutate
	// the database.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrTimeout is returned when a query outlives its deadline.
	ErrTimeout = errors.New("query timed out")
)

// EngineError carries a database failure. Msg is the sanitized engine message.
type EngineError struct {
	Op  string
	Msg string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *EngineError) Unwrap() error { return e.Err }

func engineError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &EngineError{Op: op, Msg: sanitize.Text(err.Error()), Err: err}
}

// classify maps a failure from a guarded query onto the error taxonomy.
// ctx is the per-call deadline context.
func classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	if isReadOnlyViolation(err) {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, sanitize.Text(err.Error()))
	}
	return engineError(op, err)
}

func isReadOnlyViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_READONLY
}
