// Package correlation ties together every log line, audit row and span
// produced by one unit of work: an HTTP request, a webhook delivery or a
// scheduler run.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

// Header carries a caller supplied correlation id.
const Header = "X-Correlation-Id"

type ctxKey struct{}

// ExtractCorrelationID returns the id on ctx or "".
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ContextWithCorrelationID stores id on ctx. Blank ids are ignored.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id = strings.TrimSpace(id); id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// EnsureCorrelationID keeps an existing id or mints a ULID, so ids sort by
// creation time.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return context.WithValue(ctx, ctxKey{}, id), id
}
