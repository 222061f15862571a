package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Format: FormatJSON, Output: &buf})

	log.Debug("chunk flushed", TestID("t1"), Chunk(2), Err(errors.New("boom")))

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "chunk flushed", rec["msg"])
	assert.Equal(t, "t1", rec["test_id"])
	assert.Equal(t, float64(2), rec["chunk"])
	assert.Equal(t, "boom", rec["error"])
}

func TestNew_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Format: FormatText, Output: &buf})

	log.Info("hidden")
	assert.Empty(t, buf.String())

	log.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}

func TestContext(t *testing.T) {
	l := Discard()
	ctx := WithContext(context.Background(), l)
	assert.Same(t, l, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}
