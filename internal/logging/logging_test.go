package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		" error ": slog.LevelError,
		"verbose": slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), "level %q", in)
	}
}

func TestNewTo_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewTo(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("swap expired", "swap_id", "0x01")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "swap expired", line["msg"])
	assert.Equal(t, "0x01", line["swap_id"])
}

func TestNewTo_Text(t *testing.T) {
	var buf bytes.Buffer
	NewTo(&buf, "info", "text").Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello k=v")
}

func TestL_DefaultsWithoutLogger(t *testing.T) {
	assert.Same(t, slog.Default(), L(context.Background()))
}

func TestWith_AccumulatesAttributes(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewTo(&buf, "info", "json"))
	ctx = With(ctx, "request_id", "req-1")
	ctx = With(ctx, "caller", "0xabc")

	L(ctx).Info("claimed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "req-1", line["request_id"])
	assert.Equal(t, "0xabc", line["caller"])
}
