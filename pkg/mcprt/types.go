// Package mcprt exposes saved, parameterised read-only queries as MCP tools.
package mcprt

import (
	"context"
	"sync"
	"time"

	"github.com/hazyhaar/tabula/internal/session"
)

// SavedQuery is a named SQL statement declared in configuration.
type SavedQuery struct {
	Name        string
	Description string
	SQL         string
	// Params bind positionally to the "?" placeholders of SQL.
	Params  []Param
	Timeout time.Duration
}

type Param struct {
	Name        string
	Type        string // string, integer, number or boolean
	Description string
	Required    bool
}

// Querier runs a statement against the loaded data. *session.Session
// satisfies it.
type Querier interface {
	Query(ctx context.Context, q session.QueryOptions) (*session.Result, error)
}

// Registry holds the saved queries in registration order.
type Registry struct {
	q        Querier
	reserved map[string]bool
	tools    map[string]*SavedQuery
	order    []string
	mu       sync.RWMutex
}

const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
)
