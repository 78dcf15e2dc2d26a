// Package kit holds the transport-agnostic endpoint type shared by the MCP tool
// layer and its middlewares, plus the request-scoped values they exchange.
package kit

import (
	"context"

	"github.com/google/uuid"
)

// Endpoint handles one decoded request.
type Endpoint func(ctx context.Context, request any) (any, error)

// Middleware decorates an Endpoint.
type Middleware func(Endpoint) Endpoint

// Chain applies mws so that the first one is the outermost.
func Chain(e Endpoint, mws ...Middleware) Endpoint {
	for i := len(mws) - 1; i >= 0; i-- {
		e = mws[i](e)
	}
	return e
}

type ctxKey int

const (
	transportKey ctxKey = iota
	userIDKey
	requestIDKey
	traceIDKey
)

func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

func GetTransport(ctx context.Context) string {
	v, _ := ctx.Value(transportKey).(string)
	return v
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// WithTraceID stores the id used to correlate SQL traces with a tool call.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}

// NewRequestContext tags ctx with a fresh request id, reused as the trace id.
func NewRequestContext(ctx context.Context) context.Context {
	id := uuid.NewString()
	return WithTraceID(WithRequestID(ctx, id), id)
}
