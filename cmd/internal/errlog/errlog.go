// Package errlog logs failures that reach an HTTP or websocket boundary.
package errlog

import (
	"log/slog"

	"github.com/samber/oops"
)

// LogError logs err at error level. oops errors contribute their code and
// context as separate attributes; plain errors are logged as a string. attrs
// are appended as-is.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	if oopsErr, ok := oops.AsOops(err); ok {
		out := []any{"error", oopsErr.Error()}
		if code := oopsErr.Code(); code != nil {
			out = append(out, "code", code)
		}
		if domain := oopsErr.Domain(); domain != "" {
			out = append(out, "domain", domain)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			out = append(out, "context", ctx)
		}
		logger.Error(msg, append(out, attrs...)...)
		return
	}
	logger.Error(msg, append([]any{"error", err}, attrs...)...)
}
