package logtrace

import (
	"context"
)

// RequestIdFromContext extracts the request ID from the context.
// Returns an empty string if none is set.
func RequestIdFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	r, ok := ctx.Value("requestId").(string)
	if !ok {
		return ""
	}
	return r
}
