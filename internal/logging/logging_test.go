package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	log, err := New("warn", "json")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.WarnLevel))
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.ErrorContains(t, err, "invalid log level")
}

func TestJSONEncoderFields(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(newEncoder("json"), zapcore.AddSync(&buf), zapcore.InfoLevel)
	zap.New(core).Info("reminder missed", zap.String("patient_id", "p1"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "reminder missed", entry["msg"])
	assert.Equal(t, "p1", entry["patient_id"])
	assert.Contains(t, entry, "ts")
}

func TestConsoleEncoder(t *testing.T) {
	var buf bytes.Buffer
	core := zapcore.NewCore(newEncoder("console"), zapcore.AddSync(&buf), zapcore.InfoLevel)
	zap.New(core).Info("hello")
	assert.Contains(t, buf.String(), "hello")
	assert.NotContains(t, buf.String(), "{\"")
}
