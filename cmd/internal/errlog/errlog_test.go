package errlog_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"instant/cmd/internal/errlog"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.In("identity").
		Code("STORE_QUERY_FAILED").
		With("op", "identity.Insert").
		Wrap(errors.New("connection reset"))

	errlog.LogError(logger, "auth.register.fail", err, "path", "/auth/register")

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "auth.register.fail", entry["msg"])
	assert.Equal(t, "STORE_QUERY_FAILED", entry["code"])
	assert.Equal(t, "identity", entry["domain"])
	assert.Equal(t, "/auth/register", entry["path"])
	assert.Contains(t, entry["error"], "connection reset")
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errlog.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}
