package session

import (
	"context"
	"database/sql"
	"time"

	"github.com/hazyhaar/tabula/internal/sanitize"
	"github.com/hazyhaar/tabula/pkg/trace"
)

// Column describes one column as reported by PRAGMA table_info.
type Column struct {
	CID     int     `json:"cid"`
	Name    string  `json:"name"`
	Type    string  `json:"type"`
	NotNull bool    `json:"notnull"`
	Default *string `json:"dflt"`
	PK      bool    `json:"pk"`
}

// Dataset summarises everything loaded in the session.
type Dataset struct {
	Tables  []string            `json:"tables"`
	Schemas map[string][]Column `json:"schemas"`
}

const listTablesSQL = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`

// ListTables returns the user tables in alphabetical order.
func (s *Session) ListTables(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listTables(ctx)
}

func (s *Session) listTables(ctx context.Context) ([]string, error) {
	start := time.Now()
	tables := []string{}
	rows, err := s.db.QueryContext(ctx, listTablesSQL)
	defer func() {
		s.trace(ctx, trace.Statement{Op: "list_tables", SQL: listTablesSQL, Rows: int64(len(tables))}, start, err)
	}()
	if err != nil {
		return nil, engineError("list_tables", err)
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, engineError("list_tables", err)
		}
		tables = append(tables, sanitize.Text(name))
	}
	if err = rows.Err(); err != nil {
		return nil, engineError("list_tables", err)
	}
	return tables, nil
}

// Schema returns the live column list of table. A table that does not exist
// yields an empty slice and no error.
func (s *Session) Schema(ctx context.Context, table string) ([]Column, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema(ctx, table)
}

func (s *Session) schema(ctx context.Context, table string) ([]Column, error) {
	query := "PRAGMA table_info(" + QuoteIdent(table) + ")"
	start := time.Now()
	cols := []Column{}
	rows, err := s.db.QueryContext(ctx, query)
	defer func() {
		s.trace(ctx, trace.Statement{Op: "get_schema", Table: table, SQL: query, Rows: int64(len(cols))}, start, err)
	}()
	if err != nil {
		return nil, engineError("get_schema", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c       Column
			notNull int
			pk      int
			dflt    sql.NullString
		)
		if err = rows.Scan(&c.CID, &c.Name, &c.Type, &notNull, &dflt, &pk); err != nil {
			return nil, engineError("get_schema", err)
		}
		c.Name = sanitize.Text(c.Name)
		c.Type = sanitize.Text(c.Type)
		c.NotNull = notNull != 0
		c.PK = pk != 0
		if dflt.Valid {
			v := sanitize.Text(dflt.String)
			c.Default = &v
		}
		cols = append(cols, c)
	}
	if err = rows.Err(); err != nil {
		return nil, engineError("get_schema", err)
	}
	return cols, nil
}

// Describe lists every table with its schema.
func (s *Session) Describe(ctx context.Context) (*Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables, err := s.listTables(ctx)
	if err != nil {
		return nil, err
	}
	ds := &Dataset{Tables: tables, Schemas: make(map[string][]Column, len(tables))}
	for _, t := range tables {
		cols, err := s.schema(ctx, t)
		if err != nil {
			return nil, err
		}
		ds.Schemas[t] = cols
	}
	return ds, nil
}

// Sample returns up to limit rows of table in the engine's scan order.
// A non-positive limit selects the configured default.
func (s *Session) Sample(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = s.opts.SampleLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "SELECT * FROM " + QuoteIdent(table) + " LIMIT ?"
	start := time.Now()
	var out []map[string]any
	rows, err := s.db.QueryContext(ctx, query, limit)
	defer func() {
		s.trace(ctx, trace.Statement{Op: "sample_rows", Table: table, SQL: query, Rows: int64(len(out))}, start, err)
	}()
	if err != nil {
		return nil, engineError("sample_rows", err)
	}
	defer rows.Close()

	_, out, err = scanRows(ctx, rows)
	if err != nil {
		return nil, engineError("sample_rows", err)
	}
	return sanitize.Deep(out).([]map[string]any), nil
}

// scanRows drains rows into column-keyed maps. Byte slices become strings.
func scanRows(ctx context.Context, rows *sql.Rows) ([]string, []map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	out := []map[string]any{}
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}
