package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := Get()
	Set(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { Set(old) })
	return &buf
}

func TestInfofFormats(t *testing.T) {
	buf := capture(t)

	Infof("loaded %d handlers for %s", 3, "tenant-a.example.com")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "loaded 3 handlers for tenant-a.example.com", entry["msg"])
}

func TestWarnwEmitsKeyValues(t *testing.T) {
	buf := capture(t)

	Warnw("skipping source", "source_id", "abc", "reason", "invalid metadata")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "abc", entry["source_id"])
	assert.Equal(t, "invalid metadata", entry["reason"])
}

func TestUnstructuredLogsDefaultsToJSON(t *testing.T) {
	cases := []struct {
		name  string
		value string
		want  bool
	}{
		{name: "unset", value: "", want: false},
		{name: "true", value: "true", want: true},
		{name: "false", value: "false", want: false},
		{name: "garbage", value: "garbage", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("UNSTRUCTURED_LOGS", tc.value)
			assert.Equal(t, tc.want, unstructuredLogs())
		})
	}
}

func TestDebugSuppressedAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	old := Get()
	Set(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	t.Cleanup(func() { Set(old) })

	Debug("should not appear")
	assert.Zero(t, buf.Len())
}
