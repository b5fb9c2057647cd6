package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/d9705996/ama/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		format    string
		wantDebug bool
		wantWarn  bool
	}{
		{name: "Debug", level: "debug", format: "json", wantDebug: true, wantWarn: true},
		{name: "UpperCaseWarn", level: "WARN", format: "json", wantWarn: true},
		{name: "ErrorHidesWarn", level: "error", format: "text"},
		{name: "UnknownIsInfo", level: "chatty", format: "json", wantWarn: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log := observability.NewLogger(&bytes.Buffer{}, tc.level, tc.format)
			ctx := context.Background()
			assert.Equal(t, tc.wantDebug, log.Enabled(ctx, slog.LevelDebug))
			assert.Equal(t, tc.wantWarn, log.Enabled(ctx, slog.LevelWarn))
		})
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	observability.NewLogger(&buf, "info", "json").Info("hello", "event_id", "e1")
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "e1", line["event_id"])

	buf.Reset()
	observability.NewLogger(&buf, "info", "text").Info("hello", "event_id", "e1")
	assert.Contains(t, buf.String(), "event_id=e1")
}
