package mcprt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"

	"github.com/hazyhaar/tabula/internal/config"
	"github.com/hazyhaar/tabula/internal/session"
)

var toolNameRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

var (
	ErrUnknownTool  = errors.New("unknown saved query")
	ErrMissingParam = errors.New("missing required param")
	ErrBadParam     = errors.New("bad param")
)

// NewRegistry returns an empty registry executing through q. Names in
// reserved (the built-in tools) cannot be registered.
func NewRegistry(q Querier, reserved ...string) *Registry {
	r := &Registry{
		q:        q,
		reserved: make(map[string]bool, len(reserved)),
		tools:    make(map[string]*SavedQuery),
	}
	for _, name := range reserved {
		r.reserved[name] = true
	}
	return r
}

// FromConfig converts the [[queries]] tables of cfg.
func FromConfig(qs []config.QueryConfig) []*SavedQuery {
	out := make([]*SavedQuery, 0, len(qs))
	for _, qc := range qs {
		sq := &SavedQuery{
			Name:        qc.Name,
			Description: qc.Description,
			SQL:         qc.SQL,
			Timeout:     time.Duration(qc.TimeoutS) * time.Second,
		}
		for _, p := range qc.Params {
			typ := p.Type
			if typ == "" {
				typ = TypeString
			}
			sq.Params = append(sq.Params, Param{
				Name:        p.Name,
				Type:        typ,
				Description: p.Description,
				Required:    p.Required,
			})
		}
		out = append(out, sq)
	}
	return out
}

// Register validates sq and adds it. Saved queries must be read-only and
// declare one param per placeholder.
func (r *Registry) Register(sq *SavedQuery) error {
	if !toolNameRe.MatchString(sq.Name) {
		return fmt.Errorf("saved query %q: invalid tool name", sq.Name)
	}
	if r.reserved[sq.Name] {
		return fmt.Errorf("saved query %q: name is taken by a built-in tool", sq.Name)
	}
	if session.IsMutating(sq.SQL) {
		return fmt.Errorf("saved query %q: SQL must be read-only", sq.Name)
	}
	if n := countPlaceholders(sq.SQL); n != len(sq.Params) {
		return fmt.Errorf("saved query %q: %d placeholders but %d params", sq.Name, n, len(sq.Params))
	}
	seen := make(map[string]bool, len(sq.Params))
	for _, p := range sq.Params {
		if seen[p.Name] {
			return fmt.Errorf("saved query %q: duplicate param %q", sq.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case TypeString, TypeInteger, TypeNumber, TypeBoolean:
		default:
			return fmt.Errorf("saved query %q: param %q has unsupported type %q", sq.Name, p.Name, p.Type)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.tools[sq.Name]; dup {
		return fmt.Errorf("saved query %q: already registered", sq.Name)
	}
	r.tools[sq.Name] = sq
	r.order = append(r.order, sq.Name)
	return nil
}

// Load registers every query, stopping at the first invalid one.
func (r *Registry) Load(qs []*SavedQuery) error {
	for _, sq := range qs {
		if err := r.Register(sq); err != nil {
			return err
		}
	}
	slog.Info("saved queries loaded", "count", len(qs))
	return nil
}

func (r *Registry) ListTools() []*SavedQuery {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*SavedQuery, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

func (r *Registry) GetTool(name string) (*SavedQuery, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ExecuteTool binds params and runs the saved query read-only.
func (r *Registry) ExecuteTool(ctx context.Context, name string, params map[string]any) (*session.Result, error) {
	sq, ok := r.GetTool(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	args, err := resolveParams(sq.Params, params)
	if err != nil {
		return nil, err
	}
	return r.q.Query(ctx, session.QueryOptions{
		SQL:      sq.SQL,
		Args:     args,
		ReadOnly: true,
		Timeout:  sq.Timeout,
	})
}

// InputSchema renders the JSON schema advertised for sq.
func InputSchema(sq *SavedQuery) json.RawMessage {
	props := make(map[string]any, len(sq.Params))
	required := []string{}
	for _, p := range sq.Params {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
	b, _ := json.Marshal(schema)
	return b
}

// resolveParams orders the call's arguments by declaration and checks them
// against the declared types. Absent optional params bind as NULL.
func resolveParams(decl []Param, params map[string]any) ([]any, error) {
	args := make([]any, 0, len(decl))
	for _, p := range decl {
		val, exists := params[p.Name]
		if !exists || val == nil {
			if p.Required {
				return nil, fmt.Errorf("%w: %s", ErrMissingParam, p.Name)
			}
			args = append(args, nil)
			continue
		}
		v, err := coerce(p, val)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

// coerce maps JSON-decoded values onto driver values. JSON numbers arrive
// as float64.
func coerce(p Param, val any) (any, error) {
	switch p.Type {
	case TypeString:
		if s, ok := val.(string); ok {
			return s, nil
		}
	case TypeInteger:
		if f, ok := val.(float64); ok && f == math.Trunc(f) {
			return int64(f), nil
		}
		if i, ok := val.(int64); ok {
			return i, nil
		}
		if i, ok := val.(int); ok {
			return int64(i), nil
		}
	case TypeNumber:
		if f, ok := val.(float64); ok {
			return f, nil
		}
	case TypeBoolean:
		if b, ok := val.(bool); ok {
			return b, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be %s, got %T", ErrBadParam, p.Name, p.Type, val)
}

// countPlaceholders counts "?" outside string literals, quoted identifiers
// and comments.
func countPlaceholders(sql string) int {
	n := 0
	var quote byte
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := len(sql)
			for j := i + 2; j+1 < len(sql); j++ {
				if sql[j] == '*' && sql[j+1] == '/' {
					end = j + 1
					break
				}
			}
			i = end
		case c == '?':
			n++
		}
	}
	return n
}
