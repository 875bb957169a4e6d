package httpapi

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const contextKeyRequestID contextKey = iota

// WithRequestID returns a new context carrying a request id, grounded on
// the teacher's api/context.go SetRequestID/RequestIDFromContext pair.
func WithRequestID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext extracts the request id set by middleware, or the
// empty string if none was attached.
func RequestIDFromContext(ctx context.Context) string {
	id, ok := ctx.Value(contextKeyRequestID).(uuid.UUID)
	if !ok {
		return ""
	}
	return id.String()
}
