package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONIncludesSessionFields(t *testing.T) {
	var buf bytes.Buffer
	log := ForSession(New(&buf, "debug", "json"), "exam-1", "sess-1")

	log.Info().Str("stage", "Reading").Msg("Stage changed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "exam-1", line["exam_id"])
	assert.Equal(t, "sess-1", line["session_id"])
	assert.Equal(t, "Reading", line["stage"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	_ = New(&buf, "chatty", "json")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
