// Package mcp registers the tabula tools on an MCP server: CSV loading,
// dataset description, row sampling, ad-hoc SQL and any saved queries.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hazyhaar/tabula/internal/config"
	"github.com/hazyhaar/tabula/internal/session"
	"github.com/hazyhaar/tabula/pkg/audit"
	"github.com/hazyhaar/tabula/pkg/kit"
	"github.com/hazyhaar/tabula/pkg/mcprt"
)

const (
	ToolLoadCSV         = "load_csv"
	ToolDescribeDataset = "describe_dataset"
	ToolSampleRows      = "sample_rows"
	ToolRunSQL          = "run_sql"
)

// BuiltinTools lists the names saved queries may not take.
var BuiltinTools = []string{ToolLoadCSV, ToolDescribeDataset, ToolSampleRows, ToolRunSQL}

const instructions = `Load CSV text with load_csv, inspect it with describe_dataset and sample_rows, then query it with run_sql. All columns are stored as TEXT; cast in SQL when comparing numbers. run_sql is read-only unless readonly=false is passed.`

type tools struct {
	sess     *session.Session
	auditLog audit.Logger
}

// NewServer creates an MCPServer with the built-in tools and every saved
// query of reg registered. auditLog and reg may be nil.
func NewServer(sess *session.Session, auditLog audit.Logger, reg *mcprt.Registry, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"tabula",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	t := &tools{sess: sess, auditLog: auditLog}
	t.registerLoadCSV(srv)
	t.registerDescribeDataset(srv)
	t.registerSampleRows(srv)
	t.registerRunSQL(srv)

	if reg != nil {
		mcprt.Bridge(srv, reg, func(action string, ep kit.Endpoint) server.ToolHandlerFunc {
			return kit.MCPHandler(action, t.wrap(action, ep), func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
				return &kit.MCPDecodeResult{Request: req.GetArguments()}, nil
			})
		})
	}
	return srv
}

func (t *tools) wrap(action string, ep kit.Endpoint) kit.Endpoint {
	if t.auditLog == nil {
		return ep
	}
	return audit.Middleware(t.auditLog, action, auditStatus)(ep)
}

func auditStatus(err error) string {
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return audit.StatusDenied
	case errors.Is(err, session.ErrTimeout):
		return audit.StatusTimeout
	default:
		return audit.StatusError
	}
}

// --- load_csv ---

type loadCSVReq struct {
	Content   string `json:"content"`
	Table     string `json:"table,omitempty"`
	HasHeader *bool  `json:"has_header,omitempty"`
}

func (t *tools) registerLoadCSV(srv *server.MCPServer) {
	endpoint := t.wrap(ToolLoadCSV, func(ctx context.Context, request any) (any, error) {
		r := request.(*loadCSVReq)
		return t.sess.LoadCSV(ctx, session.LoadOptions{
			Content:   r.Content,
			Table:     r.Table,
			HasHeader: r.HasHeader,
		})
	})

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":    map[string]string{"type": "string", "description": "Raw CSV text"},
			"table":      map[string]string{"type": "string", "description": "Target table; derived from the first header when omitted"},
			"has_header": map[string]string{"type": "boolean", "description": "Whether the first row holds column names; detected when omitted"},
		},
		"required": []string{"content"},
	})
	tool := mcp.NewToolWithRawSchema(ToolLoadCSV,
		"Load CSV text into a table. Every column is stored as TEXT. Rows are appended when the table exists.", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &loadCSVReq{}
		var err error
		if r.Content, err = stringArg(args, "content", true, true); err != nil {
			return nil, err
		}
		if r.Table, err = stringArg(args, "table", false, false); err != nil {
			return nil, err
		}
		if v, ok := args["has_header"]; ok && v != nil {
			b, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("has_header must be a boolean")
			}
			r.HasHeader = &b
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

// --- describe_dataset ---

func (t *tools) registerDescribeDataset(srv *server.MCPServer) {
	endpoint := t.wrap(ToolDescribeDataset, func(ctx context.Context, _ any) (any, error) {
		return t.sess.Describe(ctx)
	})

	schema, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	})
	tool := mcp.NewToolWithRawSchema(ToolDescribeDataset, "List loaded tables with their columns", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		return &kit.MCPDecodeResult{}, nil
	})
}

// --- sample_rows ---

type sampleRowsReq struct {
	Table string `json:"table"`
	Limit int    `json:"limit"`
}

type sampleRowsResp struct {
	Rows []map[string]any `json:"rows"`
}

func (t *tools) registerSampleRows(srv *server.MCPServer) {
	endpoint := t.wrap(ToolSampleRows, func(ctx context.Context, request any) (any, error) {
		r := request.(*sampleRowsReq)
		rows, err := t.sess.Sample(ctx, r.Table, r.Limit)
		if err != nil {
			return nil, err
		}
		return sampleRowsResp{Rows: rows}, nil
	})

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"table": map[string]string{"type": "string", "description": "Table to sample"},
			"limit": map[string]any{
				"type": "integer", "minimum": 1, "maximum": config.MaxSampleLimit, "default": session.DefaultSampleLimit,
				"description": "Maximum number of rows",
			},
		},
		"required": []string{"table"},
	})
	tool := mcp.NewToolWithRawSchema(ToolSampleRows, "Return the first rows of a table", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &sampleRowsReq{}
		var err error
		if r.Table, err = stringArg(args, "table", true, false); err != nil {
			return nil, err
		}
		if r.Limit, err = intArg(args, "limit", 0, 1, config.MaxSampleLimit); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

// --- run_sql ---

type runSQLReq struct {
	SQL      string `json:"sql"`
	ReadOnly bool   `json:"readonly"`
	TimeoutS int    `json:"timeout_s,omitempty"`
}

func (t *tools) registerRunSQL(srv *server.MCPServer) {
	endpoint := t.wrap(ToolRunSQL, func(ctx context.Context, request any) (any, error) {
		r := request.(*runSQLReq)
		return t.sess.Query(ctx, session.QueryOptions{
			SQL:      r.SQL,
			ReadOnly: r.ReadOnly,
			Timeout:  time.Duration(r.TimeoutS) * time.Second,
		})
	})

	schema, _ := json.Marshal(map[string]any{
		"type": "object",
		"properties": map[string]any{
			"sql": map[string]string{"type": "string", "description": "SQL statement to execute"},
			"readonly": map[string]any{
				"type": "boolean", "default": true,
				"description": "Refuse statements that modify the database",
			},
			"timeout_s": map[string]any{
				"type": "integer", "minimum": 1, "maximum": config.MaxQueryTimeout, "default": 10,
				"description": "Seconds before the query is aborted",
			},
		},
		"required": []string{"sql"},
	})
	tool := mcp.NewToolWithRawSchema(ToolRunSQL,
		"Execute SQL against the loaded tables and return {columns, rows, rowcount}", schema)

	kit.RegisterMCPTool(srv, tool, endpoint, func(req mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		args := req.GetArguments()
		r := &runSQLReq{}
		var err error
		if r.SQL, err = stringArg(args, "sql", true, false); err != nil {
			return nil, err
		}
		if r.ReadOnly, err = boolArg(args, "readonly", true); err != nil {
			return nil, err
		}
		if r.TimeoutS, err = intArg(args, "timeout_s", 0, 1, config.MaxQueryTimeout); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: r}, nil
	})
}

// --- argument helpers ---

// stringArg reads a string argument. With required set the key must be
// present; allowEmpty decides whether "" counts as present.
func stringArg(args map[string]any, key string, required, allowEmpty bool) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		if required {
			return "", fmt.Errorf("%s is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	if required && !allowEmpty && s == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

// intArg reads an integer argument in [lo, hi], returning def when absent.
func intArg(args map[string]any, key string, def, lo, hi int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	var n int
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || x < float64(lo) || x > float64(hi) {
			return 0, fmt.Errorf("%s must be an integer between %d and %d", key, lo, hi)
		}
		n = int(x)
	case int:
		n = x
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func boolArg(args map[string]any, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
