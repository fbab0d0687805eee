package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_AddsKnownKeys(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "json")
	t.Cleanup(func() { defaultLogger = nil })

	ctx := WithContext(context.Background(), SessionIDKey, "sess-1")
	ctx = WithContext(ctx, EntityTypeKey, "posts")
	Error(ctx, "revision failed", errors.New("boom"), "lineage_id", 7)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "sess-1", line["session_id"])
	assert.Equal(t, "posts", line["entity_type"])
	assert.Equal(t, "boom", line["error"])
	assert.Equal(t, float64(7), line["lineage_id"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("debug").String())
	assert.Equal(t, "WARN", parseLevel("warning").String())
	assert.Equal(t, "INFO", parseLevel("nonsense").String())
}
