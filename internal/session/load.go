package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/tabula/internal/sanitize"
	"github.com/hazyhaar/tabula/pkg/trace"
)

// LoadOptions describes one CSV ingestion.
type LoadOptions struct {
	Content string
	// Table is derived from the first header when empty.
	Table string
	// HasHeader is auto-detected when nil.
	HasHeader *bool
	// BatchSize overrides the session default when positive.
	BatchSize int
}

// LoadResult reports what LoadCSV stored.
type LoadResult struct {
	Table      string   `json:"table"`
	RowsLoaded int      `json:"rows_loaded"`
	Columns    []string `json:"columns"`
}

// LoadCSV parses content and appends its rows to a TEXT-only table, creating
// the table when needed. The whole load runs in one transaction: on error
// nothing is stored.
//
// Input without any record creates (or reuses) a table with the single
// column col_1 and loads zero rows.
func (s *Session) LoadCSV(ctx context.Context, opts LoadOptions) (*LoadResult, error) {
	text := sanitize.Text(opts.Content)
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = s.opts.BatchSize
	}

	sample := sampleLines(text, sniffLines)
	dialect, err := SniffDialect(sample)
	if err != nil {
		s.logger.Debug("dialect sniffing failed, using comma", "error", err)
		dialect = DefaultDialect
	}
	hasHeader := true
	if opts.HasHeader != nil {
		hasHeader = *opts.HasHeader
	} else if detected, err := DetectHeader(sample, dialect); err != nil {
		s.logger.Debug("header detection failed, assuming header", "error", err)
	} else {
		hasHeader = detected
	}

	reader := newReader(strings.NewReader(text), dialect)
	first, err := reader.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("load_csv: reading first record: %w", err)
	}

	var headers []string
	var pending []string
	switch {
	case first == nil:
		headers = []string{"col_1"}
	case hasHeader:
		headers = normalizeHeaders(first)
	default:
		headers = syntheticHeaders(len(first))
		pending = first
	}

	table := sanitize.Text(opts.Table)
	if table == "" {
		base := fallbackTableBase
		switch {
		case first == nil:
		case hasHeader:
			base = sanitize.Text(first[0])
		default:
			base = headers[0]
		}
		table = DeriveTableName(base)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, engineError("load_csv", err)
	}
	defer tx.Rollback()

	if err := s.createTable(ctx, tx, table, headers); err != nil {
		return nil, err
	}

	quoted := QuoteIdent(table)
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoted,
		strings.Join(quoteIdents(headers), ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(headers)), ", "))
	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return nil, engineError("load_csv", err)
	}
	defer stmt.Close()

	start := time.Now()
	total, batches := 0, 0
	batch := make([][]any, 0, batchSize)
	flush := func() error {
		for _, row := range batch {
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return engineError("load_csv", err)
			}
		}
		total += len(batch)
		batches++
		s.logger.Debug("batch inserted", "table", table, "rows", len(batch), "total", total)
		batch = batch[:0]
		return nil
	}

	if pending != nil {
		batch = append(batch, fitRow(pending, len(headers)))
	}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("load_csv: reading record %d: %w", total+len(batch)+1, err)
		}
		batch = append(batch, fitRow(record, len(headers)))
		if len(batch) >= batchSize {
			if err := flush(); err != nil {
				s.trace(ctx, insertTrace(table, insertSQL, total), start, err)
				return nil, err
			}
		}
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			s.trace(ctx, insertTrace(table, insertSQL, total), start, err)
			return nil, err
		}
	}
	s.trace(ctx, insertTrace(table, insertSQL, total), start, nil)

	if err := tx.Commit(); err != nil {
		return nil, engineError("load_csv", err)
	}

	s.logger.Info("csv loaded",
		"table", table,
		"rows", total,
		"columns", len(headers),
		"batches", batches,
		"delimiter", string(dialect.Delimiter),
		"header", hasHeader,
	)
	return &LoadResult{Table: table, RowsLoaded: total, Columns: headers}, nil
}

func insertTrace(table, insertSQL string, rows int) trace.Statement {
	return trace.Statement{Op: "load_csv", Table: table, SQL: insertSQL, Rows: int64(rows)}
}

func (s *Session) createTable(ctx context.Context, tx *sql.Tx, table string, headers []string) error {
	defs := make([]string, len(headers))
	for i, h := range headers {
		defs[i] = QuoteIdent(h) + " TEXT"
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", QuoteIdent(table), strings.Join(defs, ", "))
	start := time.Now()
	_, err := tx.ExecContext(ctx, ddl)
	s.trace(ctx, trace.Statement{Op: "load_csv", Table: table, SQL: ddl}, start, err)
	if err != nil {
		return engineError("load_csv", err)
	}
	return nil
}

// fitRow pads with empty strings or truncates so the row has exactly width
// cells, sanitizing each one.
func fitRow(record []string, width int) []any {
	row := make([]any, width)
	for i := range row {
		if i < len(record) {
			row[i] = sanitize.Text(record[i])
		} else {
			row[i] = ""
		}
	}
	return row
}

func syntheticHeaders(n int) []string {
	headers := make([]string, n)
	for i := range headers {
		headers[i] = "col_" + strconv.Itoa(i+1)
	}
	return headers
}

// normalizeHeaders names blank header cells col_N and suffixes repeated names,
// compared case-insensitively as SQLite does, with _2, _3 and so on.
func normalizeHeaders(record []string) []string {
	headers := make([]string, len(record))
	seen := make(map[string]bool, len(record))
	for i, h := range record {
		h = sanitize.Text(h)
		if strings.TrimSpace(h) == "" {
			h = "col_" + strconv.Itoa(i+1)
		}
		name := h
		for n := 2; seen[strings.ToLower(name)]; n++ {
			name = h + "_" + strconv.Itoa(n)
		}
		seen[strings.ToLower(name)] = true
		headers[i] = name
	}
	return headers
}
