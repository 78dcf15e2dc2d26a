package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hazyhaar/tabula/pkg/kit"
)

// Middleware journals each call of the wrapped tool endpoint under action.
// Calls arriving without a request id get one, so that the entry and the SQL
// traces of the call share it. classify decides the status of failed calls;
// nil records every failure as StatusError.
func Middleware(logger Logger, action string, classify Classifier) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			if kit.GetRequestID(ctx) == "" {
				ctx = kit.NewRequestContext(ctx)
			}
			start := time.Now()
			resp, err := next(ctx, request)

			entry := &Entry{
				Action:     action,
				Transport:  kit.GetTransport(ctx),
				UserID:     kit.GetUserID(ctx),
				RequestID:  kit.GetRequestID(ctx),
				DurationMs: time.Since(start).Milliseconds(),
				Parameters: marshalField(request),
				Status:     StatusSuccess,
			}
			if err != nil {
				entry.Error = err.Error()
				entry.Status = StatusError
				if classify != nil {
					entry.Status = classify(err)
				}
			} else {
				entry.Result = marshalField(resp)
			}

			level := slog.LevelDebug
			if entry.Status == StatusDenied {
				level = slog.LevelInfo
			}
			slog.Log(ctx, level, "tool call",
				"action", action,
				"request_id", entry.RequestID,
				"user", entry.UserID,
				"status", entry.Status,
				"duration_ms", entry.DurationMs,
			)
			logger.LogAsync(entry)
			return resp, err
		}
	}
}

func marshalField(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return Truncate(string(b))
}
